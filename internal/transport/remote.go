package transport

import (
	"context"
	"time"

	"github.com/velvetkey/winpilot/internal/channel"
	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
)

// Remote executes operations through the command channel server. The
// executor on the far side owns the actual window handles.
type Remote struct {
	server *channel.Server
	format string
}

// NewRemote wraps a channel server. format selects the screenshot encoding
// requested from executors ("png" or "jpeg").
func NewRemote(server *channel.Server, format string) *Remote {
	if format != "jpeg" {
		format = "png"
	}
	return &Remote{server: server, format: format}
}

func (r *Remote) StartSession(ctx context.Context, sessionKey, windowTitle string) error {
	return r.server.StartSession(ctx, sessionKey, windowTitle)
}

func (r *Remote) StopSession(ctx context.Context, sessionKey string) error {
	return r.server.StopSession(ctx, sessionKey)
}

func (r *Remote) Screenshot(ctx context.Context, sessionKey string, delay time.Duration) ([]byte, error) {
	return r.server.Screenshot(ctx, sessionKey, delay, r.format)
}

func (r *Remote) Click(ctx context.Context, sessionKey string, at coords.Ratio, method native.InputMethod) error {
	return r.server.Click(ctx, sessionKey, at, method)
}

func (r *Remote) PressKey(ctx context.Context, sessionKey, key string, method native.InputMethod) error {
	return r.server.PressKey(ctx, sessionKey, key, method)
}

func (r *Remote) ImageFormat() string { return r.format }
