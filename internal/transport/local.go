package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
)

// Local executes operations directly through the platform driver. It keeps
// its own session → window table, mirroring what a remote executor does on
// its side of the channel.
type Local struct {
	driver native.Driver

	mu      sync.Mutex
	windows map[string]native.WindowHandle
}

// NewLocal creates a local transport over driver.
func NewLocal(driver native.Driver) *Local {
	return &Local{
		driver:  driver,
		windows: make(map[string]native.WindowHandle),
	}
}

func (l *Local) StartSession(ctx context.Context, sessionKey, windowTitle string) error {
	h, err := l.driver.FindWindow(ctx, windowTitle)
	if err != nil {
		return fmt.Errorf("find window %q: %w", windowTitle, err)
	}
	l.mu.Lock()
	l.windows[sessionKey] = h
	l.mu.Unlock()
	slog.Info("Window bound to session", "session", sessionKey, "window", h.Title)
	return nil
}

func (l *Local) StopSession(_ context.Context, sessionKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, sessionKey)
	return nil
}

func (l *Local) Screenshot(ctx context.Context, sessionKey string, delay time.Duration) ([]byte, error) {
	h, err := l.handle(sessionKey)
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.driver.Capture(ctx, h)
}

func (l *Local) Click(ctx context.Context, sessionKey string, at coords.Ratio, method native.InputMethod) error {
	h, err := l.handle(sessionKey)
	if err != nil {
		return err
	}
	return l.driver.Click(ctx, h, at.Clamp(), method)
}

func (l *Local) PressKey(ctx context.Context, sessionKey, key string, method native.InputMethod) error {
	h, err := l.handle(sessionKey)
	if err != nil {
		return err
	}
	return l.driver.PressKey(ctx, h, key, method)
}

func (l *Local) ImageFormat() string { return "png" }

func (l *Local) handle(sessionKey string) (native.WindowHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.windows[sessionKey]
	if !ok {
		return native.WindowHandle{}, fmt.Errorf("%w: %s", ErrNoSession, sessionKey)
	}
	return h, nil
}
