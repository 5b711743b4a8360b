package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
	"github.com/velvetkey/winpilot/internal/native/nativetest"
)

func TestLocalStartAndScreenshot(t *testing.T) {
	driver := &nativetest.Driver{CaptureData: []byte("frame")}
	l := NewLocal(driver)
	ctx := context.Background()

	if err := l.StartSession(ctx, "group_1", "Game"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	data, err := l.Screenshot(ctx, "group_1", 0)
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if string(data) != "frame" {
		t.Errorf("screenshot = %q, want %q", data, "frame")
	}
}

func TestLocalStartPropagatesNotFound(t *testing.T) {
	driver := &nativetest.Driver{FindErr: native.ErrWindowNotFound}
	l := NewLocal(driver)

	err := l.StartSession(context.Background(), "group_1", "Nowhere")
	if !errors.Is(err, native.ErrWindowNotFound) {
		t.Errorf("expected ErrWindowNotFound, got %v", err)
	}
}

func TestLocalUnboundSession(t *testing.T) {
	l := NewLocal(&nativetest.Driver{})
	ctx := context.Background()

	if _, err := l.Screenshot(ctx, "nope", 0); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if err := l.Click(ctx, "nope", coords.Ratio{X: 0.5, Y: 0.5}, native.InputPostMessage); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestLocalStopUnbindsWindow(t *testing.T) {
	driver := &nativetest.Driver{CaptureData: []byte("frame")}
	l := NewLocal(driver)
	ctx := context.Background()

	if err := l.StartSession(ctx, "group_1", "Game"); err != nil {
		t.Fatal(err)
	}
	if err := l.StopSession(ctx, "group_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Screenshot(ctx, "group_1", 0); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after stop, got %v", err)
	}
}

func TestLocalClickClamps(t *testing.T) {
	driver := &nativetest.Driver{}
	l := NewLocal(driver)
	ctx := context.Background()

	if err := l.StartSession(ctx, "group_1", "Game"); err != nil {
		t.Fatal(err)
	}
	if err := l.Click(ctx, "group_1", coords.Ratio{X: 2, Y: -1}, native.InputSendInput); err != nil {
		t.Fatalf("Click failed: %v", err)
	}
	clicks := driver.Clicks()
	if len(clicks) != 1 || clicks[0] != (coords.Ratio{X: 1, Y: 0}) {
		t.Errorf("clicks = %v, want one clamped click at (1,0)", clicks)
	}
}
