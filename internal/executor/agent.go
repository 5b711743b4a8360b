// Package executor implements the agent that runs next to the target
// windows: it dials the command channel, authenticates, and executes
// capture/click/keypress commands against the platform driver.
package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/velvetkey/winpilot/internal/channel"
	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
)

const (
	maxMessageSize = 10 * 1024 * 1024
	redialDelay    = 5 * time.Second
	jpegQuality    = 85
)

// Agent maintains one connection to the server and a session → window
// table for every session it claims.
type Agent struct {
	url    string
	token  string
	driver native.Driver

	mu      sync.Mutex
	windows map[string]native.WindowHandle
}

// New creates an agent that will connect to url using token and execute
// commands through driver.
func New(url, token string, driver native.Driver) *Agent {
	return &Agent{
		url:     url,
		token:   token,
		driver:  driver,
		windows: make(map[string]native.WindowHandle),
	}
}

// Run connects and serves commands, redialing with a fixed delay until ctx
// is cancelled. The session table is cleared on every disconnect; the
// server re-issues startSession when it needs the window again.
func (a *Agent) Run(ctx context.Context) error {
	for {
		err := a.runOnce(ctx)
		a.clearSessions()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("Channel connection lost, retrying", "error", err, "delay", redialDelay)
		select {
		case <-time.After(redialDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Agent) runOnce(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.url, err)
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "agent stopping") }()
	ws.SetReadLimit(maxMessageSize)

	if err := a.handshake(ctx, ws); err != nil {
		return err
	}
	slog.Info("Connected to command channel", "url", a.url)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("read command: %w", err)
		}
		var cmd channel.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Error("Unparseable command dropped", "error", err)
			continue
		}
		// Commands run off the read loop so a slow capture cannot stall
		// other sessions multiplexed on this connection.
		go a.handle(ctx, ws, cmd)
	}
}

func (a *Agent) handshake(ctx context.Context, ws *websocket.Conn) error {
	auth, _ := json.Marshal(channel.AuthMessage{Type: "auth", Token: a.token})
	if err := ws.Write(ctx, websocket.MessageText, auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(rctx)
	if err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	var reply channel.AuthReply
	if err := json.Unmarshal(data, &reply); err != nil || reply.Status != channel.AuthAccepted {
		return errors.New("server rejected authentication, check the shared token")
	}
	return nil
}

func (a *Agent) handle(ctx context.Context, ws *websocket.Conn, cmd channel.Command) {
	if cmd.SessionID == "" {
		slog.Warn("Command without session id dropped", "action", cmd.Action)
		return
	}
	slog.Info("Executing command", "action", cmd.Action, "session", cmd.SessionID)

	result, err := a.execute(ctx, cmd)
	if cmd.RequestID == "" {
		if err != nil {
			slog.Error("Command failed", "action", cmd.Action, "session", cmd.SessionID, "error", err)
		}
		return
	}

	resp := channel.Response{RequestID: cmd.RequestID, Status: channel.StatusSuccess}
	if err != nil {
		resp.Status = channel.StatusError
		resp.Error = err.Error()
	} else if result != nil {
		resp.ImageData = base64.StdEncoding.EncodeToString(result)
	}
	data, _ := json.Marshal(resp)
	if werr := ws.Write(ctx, websocket.MessageText, data); werr != nil {
		slog.Error("Failed to send response", "request_id", cmd.RequestID, "error", werr)
	}
}

// execute runs one command. The returned bytes are non-nil only for
// screenshot, which produces the correlated payload.
func (a *Agent) execute(ctx context.Context, cmd channel.Command) ([]byte, error) {
	switch cmd.Action {
	case channel.ActionStartSession:
		h, err := a.driver.FindWindow(ctx, cmd.Title)
		if err != nil {
			a.dropSession(cmd.SessionID)
			return nil, fmt.Errorf("find window %q: %w", cmd.Title, err)
		}
		a.mu.Lock()
		a.windows[cmd.SessionID] = h
		a.mu.Unlock()
		slog.Info("Window bound to session", "session", cmd.SessionID, "window", h.Title)
		return nil, nil

	case channel.ActionStopSession:
		a.dropSession(cmd.SessionID)
		return nil, nil
	}

	a.mu.Lock()
	h, ok := a.windows[cmd.SessionID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no window bound to session %s", cmd.SessionID)
	}

	switch cmd.Action {
	case channel.ActionClick:
		if cmd.XRatio == nil || cmd.YRatio == nil {
			return nil, errors.New("click command missing coordinates")
		}
		at := coords.Ratio{X: *cmd.XRatio, Y: *cmd.YRatio}.Clamp()
		return nil, a.driver.Click(ctx, h, at, native.ParseInputMethod(cmd.Method))

	case channel.ActionPressKey:
		if cmd.Key == "" {
			return nil, errors.New("pressKey command missing key")
		}
		return nil, a.driver.PressKey(ctx, h, cmd.Key, native.ParseInputMethod(cmd.Method))

	case channel.ActionScreenshot:
		if cmd.DelayMS > 0 {
			select {
			case <-time.After(time.Duration(cmd.DelayMS) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		data, err := a.driver.Capture(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		return encodeAs(cmd.Format, data)

	default:
		return nil, fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func (a *Agent) dropSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.windows[sessionID]; ok {
		delete(a.windows, sessionID)
		slog.Info("Session released", "session", sessionID)
	}
}

func (a *Agent) clearSessions() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.windows)
}

// encodeAs transcodes the driver's PNG capture when the server asked for
// JPEG (smaller payloads over slow links). Any other format passes through.
func encodeAs(format string, pngData []byte) ([]byte, error) {
	if format != "jpeg" && format != "jpg" {
		return pngData, nil
	}
	img, _, err := image.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("decode capture for transcoding: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
