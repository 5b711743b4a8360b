package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODE", "local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cooldown != 3*time.Second {
		t.Errorf("Cooldown = %s, want 3s", cfg.Cooldown)
	}
	if cfg.ScreenshotTimeout != 15*time.Second {
		t.Errorf("ScreenshotTimeout = %s, want 15s", cfg.ScreenshotTimeout)
	}
	if cfg.MaxButtonNameLength != 32 {
		t.Errorf("MaxButtonNameLength = %d, want 32", cfg.MaxButtonNameLength)
	}
	if cfg.ImageFormat() != "png" {
		t.Errorf("ImageFormat = %q, want png", cfg.ImageFormat())
	}
}

func TestLoadRemoteRequiresToken(t *testing.T) {
	t.Setenv("MODE", "remote")
	t.Setenv("REMOTE_SECRET_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Error("expected error for remote mode without token")
	}
}

func TestRegistrationTimeoutFloor(t *testing.T) {
	t.Setenv("MODE", "local")
	t.Setenv("REGISTRATION_TIMEOUT_SECONDS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RegistrationTimeout != 10*time.Second {
		t.Errorf("RegistrationTimeout = %s, want floor of 10s", cfg.RegistrationTimeout)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("MODE", "hybrid")
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestJPEGFormat(t *testing.T) {
	t.Setenv("MODE", "local")
	t.Setenv("REMOTE_USE_JPEG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ImageFormat() != "jpeg" {
		t.Errorf("ImageFormat = %q, want jpeg", cfg.ImageFormat())
	}
}
