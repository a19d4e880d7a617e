// Package bootstrap builds the pieces both binaries share: the logger, the
// Gemini transport, the pipeline and the idle-session pruner.
package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"product-script-studio/internal/config"
	"product-script-studio/internal/gemini"
	"product-script-studio/internal/metrics"
	"product-script-studio/internal/pipeline"
	"product-script-studio/internal/removebg"
	"product-script-studio/internal/session"
)

func NewLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewProvider picks the Gemini transport named by GEMINI_TRANSPORT.
func NewProvider(cfg config.Config, httpClient *http.Client, logger *slog.Logger) gemini.Provider {
	opts := gemini.Options{
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	}
	if cfg.GeminiTransport == config.TransportSDK {
		return gemini.NewSDK(opts)
	}
	return gemini.New(opts)
}

func NewPipeline(cfg config.Config, httpClient *http.Client, sessions *session.Store, logger *slog.Logger) *pipeline.Service {
	return pipeline.New(pipeline.Options{
		Provider: NewProvider(cfg, httpClient, logger),
		Remover: removebg.New(removebg.Options{
			Endpoint:   cfg.RemoveBGURL,
			HTTPClient: httpClient,
			Logger:     logger,
		}),
		Sessions: sessions,
		Logger:   logger,
	})
}

// PruneSessions drops sessions idle for longer than maxIdle until ctx is
// done, keeping the active-sessions gauge current from the first call.
func PruneSessions(ctx context.Context, sessions *session.Store, maxIdle time.Duration, logger *slog.Logger) {
	metrics.ActiveSessions.Set(float64(sessions.Len()))

	ticker := time.NewTicker(maxIdle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := sessions.Prune(maxIdle)
			metrics.ActiveSessions.Set(float64(sessions.Len()))
			if n > 0 {
				logger.Info("sessions pruned", "count", n, "active", sessions.Len())
			}
		}
	}
}
