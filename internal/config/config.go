// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/velvetkey/winpilot/internal/native"
)

// Mode selects how automation commands are executed.
type Mode string

const (
	// ModeLocal drives windows through the in-process platform driver.
	ModeLocal Mode = "local"
	// ModeRemote drives windows through connected remote executors.
	ModeRemote Mode = "remote"
)

// Config holds all application configuration.
type Config struct {
	ListenAddr  string
	Mode        Mode
	RemoteToken string

	DataDir       string
	TempDir       string
	HistoryDBPath string // empty disables the action history

	Cooldown            time.Duration
	RegistrationTimeout time.Duration
	ScreenshotTimeout   time.Duration
	ScreenshotDelay     time.Duration

	InputMethod       native.InputMethod
	RemoteUseJPEG     bool
	ScreenshotOnClick bool
	ScreenshotOnType  bool
	QuickAdvanceKey   string

	MaxButtonNameLength  int
	AllowButtonOverwrite bool
	Detector             string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8765"),
		Mode:                 Mode(strings.ToLower(getEnv("MODE", "remote"))),
		RemoteToken:          getEnv("REMOTE_SECRET_TOKEN", ""),
		DataDir:              getEnv("DATA_DIR", "./data"),
		TempDir:              getEnv("TEMP_DIR", "./data/tmp"),
		HistoryDBPath:        getEnv("HISTORY_DB_PATH", "./data/history.db"),
		Cooldown:             getEnvSeconds("COOLDOWN_SECONDS", 3*time.Second),
		RegistrationTimeout:  getEnvSeconds("REGISTRATION_TIMEOUT_SECONDS", 60*time.Second),
		ScreenshotTimeout:    getEnvSeconds("SCREENSHOT_TIMEOUT_SECONDS", 15*time.Second),
		ScreenshotDelay:      time.Duration(getEnvInt("SCREENSHOT_DELAY_MS", 500)) * time.Millisecond,
		InputMethod:          native.ParseInputMethod(getEnv("INPUT_METHOD", "PostMessage")),
		RemoteUseJPEG:        getEnvBool("REMOTE_USE_JPEG", false),
		ScreenshotOnClick:    getEnvBool("SCREENSHOT_ON_CLICK", true),
		ScreenshotOnType:     getEnvBool("SCREENSHOT_ON_TYPE", true),
		QuickAdvanceKey:      getEnv("QUICK_ADVANCE_KEY", "space"),
		MaxButtonNameLength:  getEnvInt("MAX_BUTTON_NAME_LENGTH", 32),
		AllowButtonOverwrite: getEnvBool("ALLOW_BUTTON_OVERWRITE", false),
		Detector:             getEnv("DETECTOR", "none"),
	}

	// Registration flows involve a human; never time out faster than 10s.
	if cfg.RegistrationTimeout < 10*time.Second {
		cfg.RegistrationTimeout = 10 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR cannot be empty")
	}
	if c.Mode != ModeLocal && c.Mode != ModeRemote {
		return fmt.Errorf("MODE must be %q or %q, got %q", ModeLocal, ModeRemote, c.Mode)
	}
	if c.Mode == ModeRemote && c.RemoteToken == "" {
		return fmt.Errorf("REMOTE_SECRET_TOKEN is required in remote mode")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	if c.TempDir == "" {
		return fmt.Errorf("TEMP_DIR cannot be empty")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("COOLDOWN_SECONDS cannot be negative")
	}
	if c.ScreenshotTimeout <= 0 {
		return fmt.Errorf("SCREENSHOT_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxButtonNameLength <= 0 {
		return fmt.Errorf("MAX_BUTTON_NAME_LENGTH must be > 0")
	}
	return nil
}

// ButtonsPath is the location of the persisted button store.
func (c *Config) ButtonsPath() string {
	return filepath.Join(c.DataDir, "buttons.json")
}

// ImageFormat is the capture encoding used for remote screenshots.
func (c *Config) ImageFormat() string {
	if c.RemoteUseJPEG {
		return "jpeg"
	}
	return "png"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n * float64(time.Second))
}
