package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"product-script-studio/internal/gemini"
	"product-script-studio/internal/session"
)

const (
	fastModelMarker         = "flash"
	experimentalModelMarker = "exp"
)

// CheckCredentials is the gate in front of every network call.
func CheckCredentials(c session.Credentials) (session.Credentials, error) {
	c.GeminiKey = strings.TrimSpace(c.GeminiKey)
	c.RemoveBGKey = strings.TrimSpace(c.RemoveBGKey)

	var missing []string
	if c.GeminiKey == "" {
		missing = append(missing, "Google API key")
	}
	if c.RemoveBGKey == "" {
		missing = append(missing, "remove.bg API key")
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return c, nil
}

// Directory lists the models a key may use for image+text generation.
type Directory struct {
	provider gemini.Provider
	logger   *slog.Logger
}

func NewDirectory(provider gemini.Provider, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Directory{provider: provider, logger: logger}
}

// Fetch never fails: any provider error is logged and yields an empty list.
func (d *Directory) Fetch(ctx context.Context, apiKey string) []string {
	models, err := d.provider.ListModels(ctx, apiKey)
	if err != nil {
		d.logger.Warn("model directory fetch failed", "err", err)
		return []string{}
	}

	out := make([]string, 0, len(models))
	for _, m := range models {
		if m.Supports(gemini.MethodGenerateContent) {
			out = append(out, m.Name)
		}
	}
	return out
}

// DefaultModelIndex picks the first fast, non-experimental model, or 0.
func DefaultModelIndex(models []string) int {
	for i, name := range models {
		if strings.Contains(name, fastModelMarker) && !strings.Contains(name, experimentalModelMarker) {
			return i
		}
	}
	return 0
}
