package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MethodGenerateContent is the generation method a model must advertise to
// accept a prompt plus an image.
const MethodGenerateContent = "generateContent"

type Model struct {
	Name             string
	DisplayName      string
	SupportedMethods []string
}

func (m Model) Supports(method string) bool {
	for _, s := range m.SupportedMethods {
		if s == method {
			return true
		}
	}
	return false
}

type ImageInput struct {
	Data     []byte
	MimeType string
}

// Provider is implemented by both the REST Client and the SDKClient. The API
// key is passed per call because every user session brings its own.
type Provider interface {
	ListModels(ctx context.Context, apiKey string) ([]Model, error)
	GenerateContent(ctx context.Context, apiKey, model, prompt string, image ImageInput) (string, error)
}

type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API %s: %s", e.Status, e.Body)
}

var quotaMarkers = []string{"429", "resource_exhausted", "resourceexhausted", "quota exceeded", "exceeded your current quota"}

// IsQuotaExceeded reports whether err is the provider's rate-limit signal.
// The SDK only exposes it through the error text, so the text is checked too.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func modelPath(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}
