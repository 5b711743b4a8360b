// Package nativetest provides a scriptable in-memory Driver for tests.
package nativetest

import (
	"context"
	"sync"

	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
)

// Driver implements native.Driver against in-memory state. Configure the
// error and capture fields up front; inspect the recorded actions after.
type Driver struct {
	mu sync.Mutex

	FindErr    error
	CaptureErr error
	ClickErr   error
	PressErr   error

	CaptureData []byte
	MetricsData native.Metrics

	clicks []coords.Ratio
	keys   []string
	finds  []string
}

func (d *Driver) FindWindow(_ context.Context, title string) (native.WindowHandle, error) {
	d.mu.Lock()
	d.finds = append(d.finds, title)
	d.mu.Unlock()
	if d.FindErr != nil {
		return native.WindowHandle{}, d.FindErr
	}
	return native.WindowHandle{ID: 1, Title: title}, nil
}

func (d *Driver) Capture(context.Context, native.WindowHandle) ([]byte, error) {
	if d.CaptureErr != nil {
		return nil, d.CaptureErr
	}
	return d.CaptureData, nil
}

func (d *Driver) Click(_ context.Context, _ native.WindowHandle, at coords.Ratio, _ native.InputMethod) error {
	if d.ClickErr != nil {
		return d.ClickErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, at)
	return nil
}

func (d *Driver) PressKey(_ context.Context, _ native.WindowHandle, key string, _ native.InputMethod) error {
	if d.PressErr != nil {
		return d.PressErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	return nil
}

func (d *Driver) WindowMetrics(context.Context, native.WindowHandle) (native.Metrics, error) {
	return d.MetricsData, nil
}

// Clicks returns a copy of the recorded click positions.
func (d *Driver) Clicks() []coords.Ratio {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]coords.Ratio, len(d.clicks))
	copy(out, d.clicks)
	return out
}

// Keys returns a copy of the recorded key presses.
func (d *Driver) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Finds returns a copy of the window titles looked up.
func (d *Driver) Finds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.finds))
	copy(out, d.finds)
	return out
}
