// Package transport abstracts "execute this automation action for session S"
// over either a direct in-process driver call (local mode) or a correlated
// exchange with a remote executor (remote mode).
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
)

// ErrNoSession indicates no window is bound to the session key.
var ErrNoSession = errors.New("no window bound to session")

// Transport executes automation operations for a session. Implementations
// must never let a failing call corrupt session state; errors surface to
// the caller and the session stays usable.
type Transport interface {
	// StartSession binds the window identified by title to the session key.
	StartSession(ctx context.Context, sessionKey, windowTitle string) error

	// StopSession releases whatever the session key is bound to.
	StopSession(ctx context.Context, sessionKey string) error

	// Screenshot captures the session's window after an optional settle
	// delay and returns encoded image bytes.
	Screenshot(ctx context.Context, sessionKey string, delay time.Duration) ([]byte, error)

	// Click delivers a left click at the ratio position.
	Click(ctx context.Context, sessionKey string, at coords.Ratio, method native.InputMethod) error

	// PressKey delivers a key press.
	PressKey(ctx context.Context, sessionKey, key string, method native.InputMethod) error

	// ImageFormat reports the capture encoding ("png" or "jpeg"), which
	// determines the session save-path extension.
	ImageFormat() string
}
