package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// SDKClient is the google.golang.org/genai transport, selected with
// GEMINI_TRANSPORT=sdk. A genai.Client is built per call since the key
// belongs to the calling session.
type SDKClient struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Provider = (*SDKClient)(nil)

func NewSDK(opts Options) *SDKClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &SDKClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiVersion: strings.TrimSpace(opts.APIVersion),
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

func (c *SDKClient) newClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions.BaseURL = c.baseURL + "/"
	}
	if c.apiVersion != "" {
		cfg.HTTPOptions.APIVersion = c.apiVersion
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

func (c *SDKClient) ListModels(ctx context.Context, apiKey string) ([]Model, error) {
	client, err := c.newClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	var out []Model
	page, err := client.Models.List(ctx, &genai.ListModelsConfig{PageSize: listPageSize})
	for {
		if errors.Is(err, genai.ErrPageDone) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}

		for _, m := range page.Items {
			if m == nil {
				continue
			}
			out = append(out, Model{
				Name:             m.Name,
				DisplayName:      m.DisplayName,
				SupportedMethods: m.SupportedActions,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		page, err = page.Next(ctx)
	}

	c.logger.Debug("models listed", "count", len(out), "transport", "sdk")
	return out, nil
}

func (c *SDKClient) GenerateContent(ctx context.Context, apiKey, model, prompt string, image ImageInput) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("model is empty")
	}

	client, err := c.newClient(ctx, apiKey)
	if err != nil {
		return "", err
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if len(image.Data) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: image.MimeType, Data: image.Data}})
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		text.WriteString(p.Text)
	}
	return text.String(), nil
}
