package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-script-studio/internal/config"
	"product-script-studio/internal/gemini"
	"product-script-studio/internal/metrics"
	"product-script-studio/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()

	assert.False(t, NewLogger(config.Config{LogLevel: "info"}).Enabled(ctx, slog.LevelDebug))
	assert.True(t, NewLogger(config.Config{LogLevel: "debug"}).Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger(config.Config{LogLevel: "warn"}).Enabled(ctx, slog.LevelInfo))
	assert.False(t, NewLogger(config.Config{LogLevel: "error"}).Enabled(ctx, slog.LevelWarn))
	assert.True(t, NewLogger(config.Config{LogLevel: "bogus"}).Enabled(ctx, slog.LevelInfo))
}

func TestNewProviderPicksTransport(t *testing.T) {
	rest := NewProvider(config.Config{GeminiTransport: config.TransportREST}, http.DefaultClient, discardLogger())
	assert.IsType(t, &gemini.Client{}, rest)

	sdk := NewProvider(config.Config{GeminiTransport: config.TransportSDK}, http.DefaultClient, discardLogger())
	assert.IsType(t, &gemini.SDKClient{}, sdk)
}

func TestNewPipeline(t *testing.T) {
	svc := NewPipeline(config.Config{}, http.DefaultClient, session.NewStore(session.Options{}), discardLogger())
	require.NotNil(t, svc)
	assert.False(t, svc.View("a").HasCredentials)
}

func TestPruneSessionsSetsGaugeBeforeFirstTick(t *testing.T) {
	sessions := session.NewStore(session.Options{})
	sessions.Snapshot("a")
	sessions.Snapshot("b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	PruneSessions(ctx, sessions, time.Hour, discardLogger())

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ActiveSessions))
}

func TestPruneSessionsDropsIdle(t *testing.T) {
	sessions := session.NewStore(session.Options{})
	sessions.Snapshot("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		PruneSessions(ctx, sessions, 20*time.Millisecond, discardLogger())
	}()

	assert.Eventually(t, func() bool {
		return sessions.Len() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActiveSessions))
}
