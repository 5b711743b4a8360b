// winpilot - remote window automation server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/velvetkey/winpilot/internal/buttons"
	"github.com/velvetkey/winpilot/internal/channel"
	"github.com/velvetkey/winpilot/internal/config"
	"github.com/velvetkey/winpilot/internal/detect"
	"github.com/velvetkey/winpilot/internal/history"
	"github.com/velvetkey/winpilot/internal/native"
	"github.com/velvetkey/winpilot/internal/pilot"
	"github.com/velvetkey/winpilot/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "addr", cfg.ListenAddr, "mode", cfg.Mode)

	// Initialize dependencies.
	store, err := buttons.Open(cfg.ButtonsPath())
	if err != nil {
		slog.Error("Failed to open button store", "error", err, "path", cfg.ButtonsPath())
		os.Exit(1)
	}

	var recorder history.Recorder = history.Nop{}
	if cfg.HistoryDBPath != "" {
		sqlite, err := history.Open(cfg.HistoryDBPath)
		if err != nil {
			slog.Error("Failed to open action history", "error", err, "path", cfg.HistoryDBPath)
			os.Exit(1)
		}
		recorder = sqlite
		slog.Info("Action history connected", "path", cfg.HistoryDBPath)
	}
	defer func() {
		if closeErr := recorder.Close(); closeErr != nil {
			slog.Error("Failed to close action history", "error", closeErr)
		}
	}()

	detector, err := detect.New(cfg.Detector)
	if err != nil {
		slog.Error("Failed to build detector", "error", err)
		os.Exit(1)
	}

	// Pick the transport for the configured mode.
	var (
		tr      transport.Transport
		chanSrv *channel.Server
	)
	switch cfg.Mode {
	case config.ModeRemote:
		chanSrv = channel.NewServer(cfg.RemoteToken, cfg.ScreenshotTimeout)
		tr = transport.NewRemote(chanSrv, cfg.ImageFormat())
		slog.Info("Remote transport ready, waiting for executors")
	case config.ModeLocal:
		driver, err := native.NewDriver()
		if err != nil {
			slog.Error("Local mode requires a platform driver", "error", err)
			os.Exit(1)
		}
		tr = transport.NewLocal(driver)
		slog.Info("Local transport ready")
	}

	p := pilot.New(tr, store, recorder, detector, pilot.Options{
		TempDir:             cfg.TempDir,
		Cooldown:            cfg.Cooldown,
		ScreenshotDelay:     cfg.ScreenshotDelay,
		RegistrationTimeout: cfg.RegistrationTimeout,
		InputMethod:         cfg.InputMethod,
		QuickAdvanceKey:     cfg.QuickAdvanceKey,
		ScreenshotOnClick:   cfg.ScreenshotOnClick,
		ScreenshotOnType:    cfg.ScreenshotOnType,
		MaxButtonNameLength: cfg.MaxButtonNameLength,
		AllowOverwrite:      cfg.AllowButtonOverwrite,
		OnTimeout: func(sessionKey string) {
			slog.Info("Button registration timed out", "session", sessionKey)
		},
	})
	defer p.Shutdown()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	if chanSrv != nil {
		r.Get("/ws/executor", chanSrv.ServeHTTP)
	}

	r.Get("/api/status", statusHandler(cfg, p, chanSrv))
	r.Get("/api/buttons/{window}", buttonsHandler(p))
	r.Get("/api/history/{session}", historyHandler(recorder))
	r.Post("/api/message", messageHandler(p))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // operations block on remote executors
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func statusHandler(cfg *config.Config, p *pilot.Pilot, chanSrv *channel.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"mode":     cfg.Mode,
			"sessions": p.Sessions(),
		}
		if chanSrv != nil {
			status["executors"] = chanSrv.ExecutorCount()
			status["pendingRequests"] = chanSrv.PendingCount()
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func buttonsHandler(p *pilot.Pilot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := chi.URLParam(r, "window")
		writeJSON(w, http.StatusOK, map[string]any{
			"window":  window,
			"buttons": p.Buttons(window),
		})
	}
}

func historyHandler(recorder history.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionKey := chi.URLParam(r, "session")
		entries, err := recorder.Recent(r.Context(), sessionKey, 50)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": sessionKey,
			"entries": entries,
		})
	}
}

// messageHandler lets a chat bridge forward conversation events; replies
// reference local file paths the bridge uploads itself.
func messageHandler(p *pilot.Pilot) http.HandlerFunc {
	type request struct {
		SessionKey string `json:"sessionKey"`
		SenderID   string `json:"senderId"`
		Text       string `json:"text"`
		ImagePath  string `json:"imagePath"`
	}
	type reply struct {
		Text      string `json:"text,omitempty"`
		ImagePath string `json:"imagePath,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if req.SessionKey == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionKey is required"})
			return
		}
		replies, err := p.Dispatch(r.Context(), pilot.Event{
			SessionKey: req.SessionKey,
			SenderID:   req.SenderID,
			Text:       req.Text,
			ImagePath:  req.ImagePath,
		})
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		out := make([]reply, 0, len(replies))
		for _, rep := range replies {
			out = append(out, reply{Text: rep.Text, ImagePath: rep.ImagePath})
		}
		writeJSON(w, http.StatusOK, map[string]any{"replies": out})
	}
}
