// Package native defines the contract with the platform layer that owns
// window lookup, pixel capture, and input synthesis. The implementations
// live outside this module; everything here is interface and value types.
package native

import (
	"context"
	"errors"

	"github.com/velvetkey/winpilot/internal/coords"
)

// ErrWindowNotFound is returned by FindWindow when no window matches.
var ErrWindowNotFound = errors.New("window not found")

// InputMethod selects how synthesized input is delivered to a window.
type InputMethod string

const (
	// InputPostMessage posts events directly to the window's message queue.
	// Works without focus but some applications ignore posted input.
	InputPostMessage InputMethod = "PostMessage"
	// InputSendInput synthesizes hardware-level input. Requires the window
	// to be foreground; broadly compatible.
	InputSendInput InputMethod = "SendInput"
)

// ParseInputMethod maps a configured string onto a known method,
// defaulting to PostMessage.
func ParseInputMethod(s string) InputMethod {
	if InputMethod(s) == InputSendInput {
		return InputSendInput
	}
	return InputPostMessage
}

// WindowHandle is an opaque reference to a native window. The core never
// inspects it; only the driver that produced it can interpret it.
type WindowHandle struct {
	ID    uintptr
	Title string
}

// Metrics describes a window's geometry as reported by the platform.
// Border insets separate the outer window rectangle from the client area.
type Metrics struct {
	Width        int
	Height       int
	BorderLeft   int
	BorderTop    int
	ClientWidth  int
	ClientHeight int
	ScreenLeft   int
	ScreenTop    int
}

// ErrNoDriver is returned by NewDriver when no platform layer registered
// itself for this build.
var ErrNoDriver = errors.New("no platform driver available in this build")

var driverFactory func() (Driver, error)

// RegisterDriver installs the platform layer's driver constructor. Platform
// packages call this from an init function.
func RegisterDriver(f func() (Driver, error)) {
	driverFactory = f
}

// NewDriver builds the registered platform driver.
func NewDriver() (Driver, error) {
	if driverFactory == nil {
		return nil, ErrNoDriver
	}
	return driverFactory()
}

// Driver is the platform collaborator for local mode. All calls may block
// on platform APIs and must honor ctx cancellation where possible.
type Driver interface {
	// FindWindow locates a visible window whose title matches.
	FindWindow(ctx context.Context, title string) (WindowHandle, error)

	// Capture grabs the window contents as encoded image bytes (PNG).
	Capture(ctx context.Context, h WindowHandle) ([]byte, error)

	// Click delivers a left click at the ratio position within the window.
	Click(ctx context.Context, h WindowHandle, at coords.Ratio, method InputMethod) error

	// PressKey delivers a key press identified by a lowercase key name.
	PressKey(ctx context.Context, h WindowHandle, key string, method InputMethod) error

	// WindowMetrics reports current geometry for the window.
	WindowMetrics(ctx context.Context, h WindowHandle) (Metrics, error)
}
