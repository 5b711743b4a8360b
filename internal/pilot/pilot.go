// Package pilot implements the user-facing automation operations: driving a
// window session, clicking registered buttons, pressing keys, and running
// the teach-a-button workflow. It is the choke point where cooldown, action
// history, and screenshot-on-action policy are applied.
package pilot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/velvetkey/winpilot/internal/buttons"
	"github.com/velvetkey/winpilot/internal/detect"
	"github.com/velvetkey/winpilot/internal/history"
	"github.com/velvetkey/winpilot/internal/native"
	"github.com/velvetkey/winpilot/internal/registration"
	"github.com/velvetkey/winpilot/internal/session"
	"github.com/velvetkey/winpilot/internal/transport"
	"github.com/velvetkey/winpilot/internal/vision"
)

// Reply is one message for the conversation that triggered an operation.
type Reply struct {
	Text      string
	ImagePath string
}

// ErrNoSession indicates the conversation has not started a session.
var ErrNoSession = errors.New("no active session; start one first")

// ErrCooldown indicates the action was rejected by the cooldown policy.
var ErrCooldown = errors.New("action rejected by cooldown")

// Options configures a Pilot.
type Options struct {
	TempDir             string
	Cooldown            time.Duration
	ScreenshotDelay     time.Duration
	RegistrationTimeout time.Duration
	InputMethod         native.InputMethod
	QuickAdvanceKey     string
	ScreenshotOnClick   bool
	ScreenshotOnType    bool
	MaxButtonNameLength int
	AllowOverwrite      bool

	// OnTimeout receives the session key of a registration destroyed by
	// inactivity, so the host can tell the user.
	OnTimeout func(sessionKey string)
}

// Pilot routes user operations to the transport and owns the supporting
// session, button, and registration state.
type Pilot struct {
	tr       transport.Transport
	sessions *session.Registry
	store    *buttons.Store
	reg      *registration.Manager
	recorder history.Recorder
	detector detect.Detector
	opts     Options

	now func() time.Time
}

// New wires a Pilot. recorder and detector may be nil; they default to the
// no-op implementations.
func New(tr transport.Transport, store *buttons.Store, recorder history.Recorder, detector detect.Detector, opts Options) *Pilot {
	if opts.QuickAdvanceKey == "" {
		opts.QuickAdvanceKey = "space"
	}
	if recorder == nil {
		recorder = history.Nop{}
	}
	if detector == nil {
		detector = detect.None{}
	}
	p := &Pilot{
		tr:       tr,
		sessions: session.NewRegistry(),
		store:    store,
		recorder: recorder,
		detector: detector,
		opts:     opts,
		now:      time.Now,
	}
	p.reg = registration.NewManager(tr, vision.NewExtractor(), store, registration.Options{
		TempDir:         opts.TempDir,
		Timeout:         opts.RegistrationTimeout,
		ScreenshotDelay: opts.ScreenshotDelay,
		InputMethod:     opts.InputMethod,
		ImageFormat:     tr.ImageFormat(),
		MaxNameLength:   opts.MaxButtonNameLength,
		AllowOverwrite:  opts.AllowOverwrite,
		OnTimeout:       opts.OnTimeout,
	})
	return p
}

// Sessions exposes active session keys for the status API.
func (p *Pilot) Sessions() []string { return p.sessions.Keys() }

// Buttons lists registered button names for a window title.
func (p *Pilot) Buttons(window string) []string { return p.store.List(window) }

// Shutdown cancels in-flight registrations and their temp files.
func (p *Pilot) Shutdown() { p.reg.CancelAll() }

// Start binds a window to the conversation and returns the first frame.
func (p *Pilot) Start(ctx context.Context, sessionKey, windowTitle string) (Reply, error) {
	title := strings.TrimSpace(windowTitle)
	if title == "" {
		return Reply{}, errors.New("window title cannot be empty")
	}

	s, created := p.sessions.GetOrCreate(sessionKey)
	if err := p.tr.StartSession(ctx, sessionKey, title); err != nil {
		if created {
			p.sessions.Remove(sessionKey)
		}
		p.record(ctx, sessionKey, title, "startSession", "", "error: "+err.Error())
		return Reply{}, fmt.Errorf("start session: %w", err)
	}
	s.WindowTitle = title
	s.SavePath = p.savePath(sessionKey)

	path, err := p.capture(ctx, s, 0)
	if err != nil {
		p.record(ctx, sessionKey, title, "startSession", "", "error: "+err.Error())
		return Reply{}, err
	}
	p.record(ctx, sessionKey, title, "startSession", "", "ok")
	return Reply{
		Text:      fmt.Sprintf("Driving window %q. Send g to advance, or use the button commands.", title),
		ImagePath: path,
	}, nil
}

// Stop releases the session and every resource it owns.
func (p *Pilot) Stop(ctx context.Context, sessionKey string) (Reply, error) {
	s := p.sessions.Get(sessionKey)
	if s == nil {
		return Reply{}, ErrNoSession
	}
	p.reg.Cancel(sessionKey)
	if err := p.tr.StopSession(ctx, sessionKey); err != nil {
		slog.Warn("Stop session transport call failed", "session", sessionKey, "error", err)
	}
	if s.SavePath != "" {
		if err := os.Remove(s.SavePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to delete session capture", "session", sessionKey, "error", err)
		}
	}
	p.sessions.Remove(sessionKey)
	p.record(ctx, sessionKey, s.WindowTitle, "stopSession", "", "ok")
	return Reply{Text: "Session stopped."}, nil
}

// Resend re-captures the current frame without sending any input. It is
// read-only and therefore not subject to the cooldown.
func (p *Pilot) Resend(ctx context.Context, sessionKey string) (Reply, error) {
	s := p.sessions.Get(sessionKey)
	if s == nil {
		return Reply{}, ErrNoSession
	}
	path, err := p.capture(ctx, s, 0)
	if err != nil {
		return Reply{}, err
	}
	reply := Reply{ImagePath: path}
	reply.Text = p.describeFrame(ctx, path)
	return reply, nil
}

// QuickAdvance presses the configured advance key and returns a fresh frame.
func (p *Pilot) QuickAdvance(ctx context.Context, sessionKey string) (Reply, error) {
	return p.PressKey(ctx, sessionKey, p.opts.QuickAdvanceKey)
}

// PressKey resolves the key alias and delivers the press.
func (p *Pilot) PressKey(ctx context.Context, sessionKey, key string) (Reply, error) {
	s := p.sessions.Get(sessionKey)
	if s == nil {
		return Reply{}, ErrNoSession
	}
	resolved, ok := ResolveKey(key)
	if !ok {
		return Reply{Text: fmt.Sprintf("Unknown key %q. Known keys: %s.", key, strings.Join(KnownKeys(), ", "))}, nil
	}
	if !p.sessions.TryTrigger(sessionKey, p.now(), p.opts.Cooldown) {
		return Reply{}, ErrCooldown
	}

	if err := p.tr.PressKey(ctx, sessionKey, resolved, p.opts.InputMethod); err != nil {
		p.record(ctx, sessionKey, s.WindowTitle, "pressKey", resolved, "error: "+err.Error())
		return Reply{}, fmt.Errorf("press key %q: %w", resolved, err)
	}
	p.record(ctx, sessionKey, s.WindowTitle, "pressKey", resolved, "ok")

	if !p.opts.ScreenshotOnType {
		return Reply{Text: fmt.Sprintf("Pressed %s.", resolved)}, nil
	}
	path, err := p.capture(ctx, s, p.opts.ScreenshotDelay)
	if err != nil {
		return Reply{Text: fmt.Sprintf("Pressed %s, but the follow-up capture failed: %v", resolved, err)}, nil
	}
	return Reply{ImagePath: path}, nil
}

// ClickButton clicks a previously registered button by name.
func (p *Pilot) ClickButton(ctx context.Context, sessionKey, name string) (Reply, error) {
	s := p.sessions.Get(sessionKey)
	if s == nil {
		return Reply{}, ErrNoSession
	}
	rec, ok := p.store.Get(s.WindowTitle, name)
	if !ok {
		known := p.store.List(s.WindowTitle)
		if len(known) == 0 {
			return Reply{Text: fmt.Sprintf("No button named %q; none are registered for this window yet.", name)}, nil
		}
		return Reply{Text: fmt.Sprintf("No button named %q. Registered: %s.", name, strings.Join(known, ", "))}, nil
	}
	if !p.sessions.TryTrigger(sessionKey, p.now(), p.opts.Cooldown) {
		return Reply{}, ErrCooldown
	}

	if err := p.tr.Click(ctx, sessionKey, rec.Ratio, p.opts.InputMethod); err != nil {
		p.record(ctx, sessionKey, s.WindowTitle, "click", name, "error: "+err.Error())
		return Reply{}, fmt.Errorf("click button %q: %w", name, err)
	}
	p.record(ctx, sessionKey, s.WindowTitle, "click", name, "ok")

	if !p.opts.ScreenshotOnClick {
		return Reply{Text: fmt.Sprintf("Clicked %s.", name)}, nil
	}
	path, err := p.capture(ctx, s, p.opts.ScreenshotDelay)
	if err != nil {
		return Reply{Text: fmt.Sprintf("Clicked %s, but the follow-up capture failed: %v", name, err)}, nil
	}
	return Reply{ImagePath: path}, nil
}

// RegisterButton begins the teach-a-button workflow.
func (p *Pilot) RegisterButton(ctx context.Context, sessionKey, initiatorID string) (Reply, error) {
	s := p.sessions.Get(sessionKey)
	if s == nil {
		return Reply{}, ErrNoSession
	}
	r, err := p.reg.Begin(ctx, sessionKey, initiatorID, s.WindowTitle)
	if err != nil {
		return Reply{}, err
	}
	p.record(ctx, sessionKey, s.WindowTitle, "registerButton", "begin", "ok")
	return Reply{Text: r.Text, ImagePath: r.ImagePath}, nil
}

// RegistrationActive reports whether the session is mid-registration.
func (p *Pilot) RegistrationActive(sessionKey string) bool {
	return p.reg.Active(sessionKey)
}

// HandleImage feeds a user-supplied image into an active registration. The
// boolean reports whether the image was consumed.
func (p *Pilot) HandleImage(ctx context.Context, sessionKey, senderID, imagePath string) (Reply, bool, error) {
	if !p.reg.Active(sessionKey) {
		return Reply{}, false, nil
	}
	r, err := p.reg.HandleImage(ctx, sessionKey, senderID, imagePath)
	if err != nil {
		if errors.Is(err, registration.ErrNotActive) {
			return Reply{}, false, nil
		}
		return Reply{}, true, err
	}
	return Reply{Text: r.Text, ImagePath: r.ImagePath}, true, nil
}

// HandleText feeds user text into an active registration. The boolean
// reports whether the text was consumed.
func (p *Pilot) HandleText(ctx context.Context, sessionKey, senderID, text string) (Reply, bool, error) {
	r, handled, err := p.reg.HandleText(ctx, sessionKey, senderID, text)
	if err != nil || !handled {
		return Reply{}, handled, err
	}
	return Reply{Text: r.Text, ImagePath: r.ImagePath}, true, nil
}

// ListButtons lists the registered buttons for the session's window.
func (p *Pilot) ListButtons(ctx context.Context, sessionKey string) (Reply, error) {
	s := p.sessions.Get(sessionKey)
	if s == nil {
		return Reply{}, ErrNoSession
	}
	names := p.store.List(s.WindowTitle)
	if len(names) == 0 {
		return Reply{Text: "No buttons registered for this window yet."}, nil
	}
	return Reply{Text: "Registered buttons: " + strings.Join(names, ", ")}, nil
}

// RemoveButton deletes a registered button.
func (p *Pilot) RemoveButton(ctx context.Context, sessionKey, name string) (Reply, error) {
	s := p.sessions.Get(sessionKey)
	if s == nil {
		return Reply{}, ErrNoSession
	}
	if err := p.store.Delete(s.WindowTitle, name); err != nil {
		if errors.Is(err, buttons.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("No button named %q for this window.", name)}, nil
		}
		return Reply{}, fmt.Errorf("remove button %q: %w", name, err)
	}
	p.record(ctx, sessionKey, s.WindowTitle, "removeButton", name, "ok")
	return Reply{Text: fmt.Sprintf("Button %q removed.", name)}, nil
}

// Help summarizes the available operations.
func (p *Pilot) Help() Reply {
	var b strings.Builder
	b.WriteString("Window automation commands:\n")
	b.WriteString("  start <window title>  bind a window and show its frame\n")
	b.WriteString("  stop                  release the session\n")
	b.WriteString("  g                     press " + p.opts.QuickAdvanceKey + " and show a fresh frame\n")
	b.WriteString("  key <name>            press a key (" + strings.Join(KnownKeys(), ", ") + ")\n")
	b.WriteString("  click <button>        click a registered button\n")
	b.WriteString("  register              teach a new button from an annotated screenshot\n")
	b.WriteString("  buttons               list registered buttons\n")
	b.WriteString("  remove <button>       delete a registered button\n")
	b.WriteString("  resend                resend the current frame")
	return Reply{Text: b.String()}
}

// capture grabs a frame, writes it to the session save path, and returns
// the path.
func (p *Pilot) capture(ctx context.Context, s *session.Session, delay time.Duration) (string, error) {
	frame, err := p.tr.Screenshot(ctx, s.Key, delay)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.SavePath), 0o755); err != nil {
		return "", fmt.Errorf("create capture directory: %w", err)
	}
	if err := os.WriteFile(s.SavePath, frame, 0o644); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}
	return s.SavePath, nil
}

// describeFrame runs the detector over a saved frame and renders its
// candidates, if any.
func (p *Pilot) describeFrame(ctx context.Context, path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	cands, err := p.detector.Detect(ctx, img)
	if err != nil {
		slog.Warn("Detector failed", "error", err)
		return ""
	}
	if len(cands) == 0 {
		return ""
	}
	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = fmt.Sprintf("%s (%.2f, %.2f)", c.Label, c.At.X, c.At.Y)
	}
	return "Detected: " + strings.Join(parts, "; ")
}

// record writes an action history entry; failures are logged, never
// surfaced.
func (p *Pilot) record(ctx context.Context, sessionKey, window, action, detail, outcome string) {
	err := p.recorder.Record(ctx, history.Entry{
		SessionKey: sessionKey,
		Window:     window,
		Action:     action,
		Detail:     detail,
		Outcome:    outcome,
	})
	if err != nil {
		slog.Warn("Failed to record action history", "session", sessionKey, "action", action, "error", err)
	}
}

func (p *Pilot) savePath(sessionKey string) string {
	ext := "png"
	if p.tr.ImageFormat() == "jpeg" {
		ext = "jpg"
	}
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, sessionKey)
	return filepath.Join(p.opts.TempDir, safe+"_screen."+ext)
}
