// Package registration runs the human-in-the-loop teach-a-button workflow:
// capture a clean screenshot, let the user scribble on it, extract the
// marked point, test-click it, and persist the confirmed coordinate under a
// user-chosen name.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velvetkey/winpilot/internal/buttons"
	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
	"github.com/velvetkey/winpilot/internal/transport"
	"github.com/velvetkey/winpilot/internal/vision"
)

// Stage is the workflow position for one session.
type Stage string

const (
	// StageAwaitingMark waits for the annotated screenshot.
	StageAwaitingMark Stage = "awaiting_mark"
	// StageAwaitingConfirm waits for the user's verdict on the test click.
	StageAwaitingConfirm Stage = "awaiting_confirm"
	// StageAwaitingName waits for the button name.
	StageAwaitingName Stage = "awaiting_name"
)

var (
	// ErrAlreadyActive indicates a registration is already running for
	// the session.
	ErrAlreadyActive = errors.New("a button registration is already in progress")
	// ErrNotActive indicates no registration exists for the session.
	ErrNotActive = errors.New("no button registration in progress")
	// ErrBusy indicates a previous step's platform call is still running.
	ErrBusy = errors.New("previous registration step still in progress")
)

// Reply is what the workflow wants said back to the conversation.
type Reply struct {
	Text      string
	ImagePath string
}

// Options configures a Manager.
type Options struct {
	TempDir         string
	Timeout         time.Duration
	ScreenshotDelay time.Duration
	InputMethod     native.InputMethod
	ImageFormat     string
	MaxNameLength   int
	AllowOverwrite  bool

	// OnTimeout is invoked (on a timer goroutine) after a registration is
	// destroyed by timeout, so the initiator can be notified.
	OnTimeout func(sessionKey string)
}

// state is one in-flight registration. It owns every temp file it created
// and deletes them all on any exit path. All fields are guarded by the
// Manager mutex; busy marks a step mid-flight so inputs never interleave.
type state struct {
	stage       Stage
	initiatorID string
	windowTitle string

	cleanPath     string
	annotatedPath string
	size          vision.Size
	ratio         coords.Ratio

	timer    *time.Timer
	timerGen uint64
	busy     bool

	tempPaths []string
}

// Manager owns all registration state, keyed by session.
type Manager struct {
	tr        transport.Transport
	extractor *vision.Extractor
	store     *buttons.Store
	opts      Options

	mu     sync.Mutex
	states map[string]*state
}

// NewManager wires the workflow to its collaborators.
func NewManager(tr transport.Transport, extractor *vision.Extractor, store *buttons.Store, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = 32
	}
	if opts.ImageFormat == "" {
		opts.ImageFormat = "png"
	}
	return &Manager{
		tr:        tr,
		extractor: extractor,
		store:     store,
		opts:      opts,
		states:    make(map[string]*state),
	}
}

// Active reports whether a registration is running for the session.
func (m *Manager) Active(sessionKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[sessionKey] != nil
}

// InitiatorID returns the user who started the registration, if any.
func (m *Manager) InitiatorID(sessionKey string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionKey]
	if !ok {
		return "", false
	}
	return st.initiatorID, true
}

// Begin captures a clean screenshot and opens a registration in
// awaiting_mark. The returned reply carries the screenshot to annotate.
func (m *Manager) Begin(ctx context.Context, sessionKey, initiatorID, windowTitle string) (Reply, error) {
	m.mu.Lock()
	if m.states[sessionKey] != nil {
		m.mu.Unlock()
		return Reply{}, ErrAlreadyActive
	}
	// Reserve the slot before the blocking capture so two concurrent
	// begins cannot both proceed.
	st := &state{stage: StageAwaitingMark, initiatorID: initiatorID, windowTitle: windowTitle, busy: true}
	m.states[sessionKey] = st
	m.mu.Unlock()

	frame, err := m.tr.Screenshot(ctx, sessionKey, 0)
	if err != nil {
		m.destroy(sessionKey, st)
		return Reply{}, fmt.Errorf("capture screenshot: %w", err)
	}
	cleanPath, err := m.writeTemp(sessionKey, "orig", frame)
	if err != nil {
		m.destroy(sessionKey, st)
		return Reply{}, err
	}

	m.mu.Lock()
	if m.states[sessionKey] != st {
		m.mu.Unlock()
		cleanupTemps(sessionKey, []string{cleanPath})
		return Reply{}, ErrNotActive
	}
	st.busy = false
	st.cleanPath = cleanPath
	st.tempPaths = append(st.tempPaths, cleanPath)
	m.scheduleTimeoutLocked(sessionKey, st)
	m.mu.Unlock()

	slog.Info("Button registration started", "session", sessionKey, "window", windowTitle, "initiator", initiatorID)
	return Reply{
		Text:      fmt.Sprintf("Mark the button on this screenshot and send it back within %d seconds.", int(m.opts.Timeout.Seconds())),
		ImagePath: cleanPath,
	}, nil
}

// HandleImage processes an annotated screenshot in awaiting_mark: extract
// the marked point, test-click it, capture the result, and advance to
// awaiting_confirm. Extraction failures keep the stage for a retry.
func (m *Manager) HandleImage(ctx context.Context, sessionKey, senderID, imagePath string) (Reply, error) {
	st, err := m.checkIn(sessionKey, senderID, StageAwaitingMark)
	if err != nil {
		return m.rejectionReply(err)
	}
	defer m.checkOut(sessionKey, st)

	annotatedPath, err := m.copyTemp(sessionKey, "annotated", imagePath)
	if err != nil {
		return Reply{}, err
	}
	if !m.trackTemp(sessionKey, st, annotatedPath) {
		return Reply{}, ErrNotActive
	}

	m.mu.Lock()
	cleanPath := st.cleanPath
	m.mu.Unlock()

	point, size, err := m.extractor.ExtractFiles(cleanPath, annotatedPath)
	if err != nil {
		m.removeTemp(st, annotatedPath)
		return Reply{
			Text: fmt.Sprintf("Could not read the annotation: %v. Use a clearly visible color or thicker strokes and send the image again.", err),
		}, nil
	}

	ratio := coords.FromPixels(point.X, point.Y, size.Width, size.Height)

	m.mu.Lock()
	st.annotatedPath = annotatedPath
	st.ratio = ratio
	st.size = size
	m.mu.Unlock()

	if err := m.tr.Click(ctx, sessionKey, ratio, m.opts.InputMethod); err != nil {
		// A failed test click aborts the flow; the session itself stays
		// usable.
		m.destroy(sessionKey, st)
		return Reply{}, fmt.Errorf("test click failed: %w", err)
	}

	frame, err := m.tr.Screenshot(ctx, sessionKey, m.opts.ScreenshotDelay)
	if err != nil {
		m.destroy(sessionKey, st)
		return Reply{}, fmt.Errorf("capture after test click: %w", err)
	}
	afterPath, err := m.writeTemp(sessionKey, "after", frame)
	if err != nil {
		m.destroy(sessionKey, st)
		return Reply{}, err
	}
	if !m.trackTemp(sessionKey, st, afterPath) {
		return Reply{}, ErrNotActive
	}

	if !m.transition(sessionKey, st, StageAwaitingConfirm) {
		return Reply{}, ErrNotActive
	}
	return Reply{
		Text:      "Clicked the marked point. Reply 1 if it worked, 2 if it did not.",
		ImagePath: afterPath,
	}, nil
}

// HandleText processes confirmation and naming input. The boolean reports
// whether the input was consumed by an active registration.
func (m *Manager) HandleText(ctx context.Context, sessionKey, senderID, text string) (Reply, bool, error) {
	st, stage, err := m.acquire(sessionKey, senderID)
	if err != nil {
		if errors.Is(err, ErrNotActive) {
			return Reply{}, false, nil
		}
		reply, rerr := m.rejectionReply(err)
		return reply, true, rerr
	}
	defer m.checkOut(sessionKey, st)

	if normalizeConfirmation(text) == "cancel" {
		m.destroy(sessionKey, st)
		return Reply{Text: "Button registration cancelled."}, true, nil
	}

	switch stage {
	case StageAwaitingMark:
		return Reply{Text: "Send the annotated screenshot to continue, or say cancel."}, true, nil

	case StageAwaitingConfirm:
		return m.handleConfirm(ctx, sessionKey, st, normalizeConfirmation(text))

	case StageAwaitingName:
		return m.handleName(sessionKey, st, text)
	}
	return Reply{}, false, nil
}

func (m *Manager) handleConfirm(ctx context.Context, sessionKey string, st *state, verdict string) (Reply, bool, error) {
	switch verdict {
	case "1":
		if !m.transition(sessionKey, st, StageAwaitingName) {
			return Reply{}, true, ErrNotActive
		}
		return Reply{Text: fmt.Sprintf("Great. Send a name for the button (at most %d characters, no spaces).", m.opts.MaxNameLength)}, true, nil

	case "2":
		// The click missed: discard the annotation, recapture a clean
		// frame, and go back to marking.
		m.mu.Lock()
		annotated := st.annotatedPath
		oldClean := st.cleanPath
		st.annotatedPath = ""
		st.ratio = coords.Ratio{}
		st.size = vision.Size{}
		m.mu.Unlock()
		if annotated != "" {
			m.removeTemp(st, annotated)
		}

		frame, err := m.tr.Screenshot(ctx, sessionKey, 0)
		if err != nil {
			m.destroy(sessionKey, st)
			return Reply{}, true, fmt.Errorf("recapture screenshot: %w", err)
		}
		cleanPath, err := m.writeTemp(sessionKey, "orig", frame)
		if err != nil {
			m.destroy(sessionKey, st)
			return Reply{}, true, err
		}
		m.removeTemp(st, oldClean)

		m.mu.Lock()
		if m.states[sessionKey] != st {
			m.mu.Unlock()
			cleanupTemps(sessionKey, []string{cleanPath})
			return Reply{}, true, ErrNotActive
		}
		st.cleanPath = cleanPath
		st.tempPaths = append(st.tempPaths, cleanPath)
		m.mu.Unlock()

		if !m.transition(sessionKey, st, StageAwaitingMark) {
			return Reply{}, true, ErrNotActive
		}
		return Reply{
			Text:      "Mark the target on this fresh screenshot and send it back.",
			ImagePath: cleanPath,
		}, true, nil

	default:
		return Reply{Text: "Reply 1 for success or 2 for failure."}, true, nil
	}
}

func (m *Manager) handleName(sessionKey string, st *state, text string) (Reply, bool, error) {
	m.mu.Lock()
	windowTitle := st.windowTitle
	ratio := st.ratio
	m.mu.Unlock()

	name := strings.TrimSpace(text)
	if name == "" {
		return Reply{Text: "The button name cannot be empty. Try again."}, true, nil
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r == ' ' || r == '\t' }) {
		return Reply{Text: "The button name cannot contain spaces. Try again."}, true, nil
	}
	if len([]rune(name)) > m.opts.MaxNameLength {
		return Reply{Text: fmt.Sprintf("The button name is too long; keep it within %d characters.", m.opts.MaxNameLength)}, true, nil
	}
	if !ratio.Valid() {
		m.destroy(sessionKey, st)
		return Reply{Text: "The coordinate was lost; start the registration again."}, true, nil
	}
	if !m.opts.AllowOverwrite && m.store.Has(windowTitle, name) {
		return Reply{Text: fmt.Sprintf("A button named %q already exists for this window. Pick another name.", name)}, true, nil
	}

	err := m.store.Put(windowTitle, name, buttons.Record{Ratio: ratio})
	m.destroy(sessionKey, st)
	if err != nil {
		slog.Error("Failed to persist button store", "error", err, "session", sessionKey, "button", name)
		return Reply{Text: fmt.Sprintf("Button %q is registered for this run, but saving it to disk failed; it may be gone after a restart.", name)}, true, nil
	}
	slog.Info("Button registered", "session", sessionKey, "window", windowTitle, "button", name,
		"x_ratio", ratio.X, "y_ratio", ratio.Y)
	return Reply{Text: fmt.Sprintf("Button %q registered. Click it any time with the click command.", name)}, true, nil
}

// Cancel destroys the registration and all its temp files. Safe to call
// when nothing is active.
func (m *Manager) Cancel(sessionKey string) {
	m.mu.Lock()
	st := m.states[sessionKey]
	m.mu.Unlock()
	if st != nil {
		m.destroy(sessionKey, st)
	}
}

// CancelAll destroys every active registration; used at shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	keys := make([]string, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.Cancel(k)
	}
}

// acquire validates the sender and atomically marks the state busy, so two
// inputs can never run a step concurrently. The stage timer is stopped for
// the duration of the step; checkOut re-arms it.
func (m *Manager) acquire(sessionKey, senderID string) (*state, Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionKey]
	if !ok {
		return nil, "", ErrNotActive
	}
	if st.initiatorID != senderID {
		return nil, "", errOtherInitiator
	}
	if st.busy {
		return nil, "", ErrBusy
	}
	st.busy = true
	if st.timer != nil {
		st.timer.Stop()
	}
	return st, st.stage, nil
}

// checkIn is acquire plus a stage requirement.
func (m *Manager) checkIn(sessionKey, senderID string, want Stage) (*state, error) {
	st, stage, err := m.acquire(sessionKey, senderID)
	if err != nil {
		return nil, err
	}
	if stage != want {
		m.checkOut(sessionKey, st)
		return nil, fmt.Errorf("%w: stage is %s", errWrongStage, stage)
	}
	return st, nil
}

// checkOut clears busy and re-arms the stage timer, so every accepted
// input slides the timeout window. A destroyed state is left alone.
func (m *Manager) checkOut(sessionKey string, st *state) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[sessionKey] != st {
		return
	}
	st.busy = false
	m.scheduleTimeoutLocked(sessionKey, st)
}

var (
	errOtherInitiator = errors.New("registration owned by another user")
	errWrongStage     = errors.New("input does not match the current stage")
)

func (m *Manager) rejectionReply(err error) (Reply, error) {
	switch {
	case errors.Is(err, ErrNotActive):
		return Reply{}, err
	case errors.Is(err, errOtherInitiator):
		return Reply{Text: "Another user is registering a button in this session. Please wait for them to finish."}, nil
	case errors.Is(err, ErrBusy):
		return Reply{Text: "Still working on the previous step, one moment."}, nil
	case errors.Is(err, errWrongStage):
		return Reply{Text: "An image is not expected right now; follow the current prompt."}, nil
	}
	return Reply{}, err
}

// transition moves to the next stage and re-arms the timeout. It reports
// whether the state was still current.
func (m *Manager) transition(sessionKey string, st *state, next Stage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[sessionKey] != st {
		return false
	}
	st.stage = next
	m.scheduleTimeoutLocked(sessionKey, st)
	return true
}

// scheduleTimeoutLocked arms the stage timer. The generation counter makes
// a stale timer provably inert: the firing closure re-checks the state
// identity and the generation under the same mutex that guards scheduling.
// A firing that finds a step mid-flight re-arms instead of destroying,
// because input inside the window is being processed, not absent.
func (m *Manager) scheduleTimeoutLocked(sessionKey string, st *state) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timerGen++
	gen := st.timerGen
	st.timer = time.AfterFunc(m.opts.Timeout, func() {
		m.mu.Lock()
		current, ok := m.states[sessionKey]
		if !ok || current != st || st.timerGen != gen {
			m.mu.Unlock()
			return
		}
		if st.busy {
			m.scheduleTimeoutLocked(sessionKey, st)
			m.mu.Unlock()
			return
		}
		delete(m.states, sessionKey)
		temps := append([]string(nil), st.tempPaths...)
		m.mu.Unlock()

		cleanupTemps(sessionKey, temps)
		slog.Info("Button registration timed out", "session", sessionKey)
		if m.opts.OnTimeout != nil {
			m.opts.OnTimeout(sessionKey)
		}
	})
}

// destroy removes the state, cancels its timer, and deletes every temp
// file it ever created.
func (m *Manager) destroy(sessionKey string, st *state) {
	m.mu.Lock()
	if m.states[sessionKey] != st {
		m.mu.Unlock()
		return
	}
	delete(m.states, sessionKey)
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timerGen++ // invalidate any in-flight firing
	temps := st.tempPaths
	st.tempPaths = nil
	m.mu.Unlock()

	cleanupTemps(sessionKey, temps)
}

func cleanupTemps(sessionKey string, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to delete registration temp file", "session", sessionKey, "path", p, "error", err)
		}
	}
}

// trackTemp records a temp file on a live state. When the state has been
// destroyed while the file was being produced, the file is deleted instead
// and false is returned; nothing may ever be tracked on a dead state.
func (m *Manager) trackTemp(sessionKey string, st *state, path string) bool {
	m.mu.Lock()
	if m.states[sessionKey] == st {
		st.tempPaths = append(st.tempPaths, path)
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()
	cleanupTemps(sessionKey, []string{path})
	return false
}

func (m *Manager) removeTemp(st *state, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("Failed to delete temp file", "path", path, "error", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range st.tempPaths {
		if p == path {
			st.tempPaths = append(st.tempPaths[:i], st.tempPaths[i+1:]...)
			break
		}
	}
}

func (m *Manager) writeTemp(sessionKey, suffix string, data []byte) (string, error) {
	if err := os.MkdirAll(m.opts.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp directory: %w", err)
	}
	ext := "png"
	if m.opts.ImageFormat == "jpeg" {
		ext = "jpg"
	}
	path := filepath.Join(m.opts.TempDir, fmt.Sprintf("%s_%s_%s.%s", sanitizeKey(sessionKey), suffix, uuid.NewString(), ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp image: %w", err)
	}
	return path, nil
}

func (m *Manager) copyTemp(sessionKey, suffix, source string) (string, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("read user image: %w", err)
	}
	return m.writeTemp(sessionKey, suffix, data)
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, key)
}

// normalizeConfirmation folds full-width digits and known cancel words
// into the closed confirmation vocabulary.
func normalizeConfirmation(text string) string {
	t := strings.TrimSpace(strings.ToLower(text))
	t = strings.ReplaceAll(t, "１", "1")
	t = strings.ReplaceAll(t, "２", "2")
	if t == "cancel" || t == "取消" {
		return "cancel"
	}
	return t
}
