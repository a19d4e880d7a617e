package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const listPageSize = 1000

type Options struct {
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the Generative Language REST API directly.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Provider = (*Client)(nil)

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

// ListModels returns every model visible to apiKey in provider order,
// following page tokens until the listing is exhausted.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]Model, error) {
	var out []Model
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("pageSize", fmt.Sprint(listPageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		endpoint := fmt.Sprintf("%s/%s/models?%s", c.baseURL, c.apiVersion, q.Encode())

		var page listModelsResponse
		if err := c.do(ctx, http.MethodGet, endpoint, apiKey, nil, &page); err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}

		for _, m := range page.Models {
			out = append(out, Model{
				Name:             m.Name,
				DisplayName:      m.DisplayName,
				SupportedMethods: m.SupportedGenerationMethods,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.Debug("models listed", "count", len(out))
	return out, nil
}

// GenerateContent sends prompt and image as one user turn and returns the
// concatenated text parts of the first candidate.
func (c *Client) GenerateContent(ctx context.Context, apiKey, model, prompt string, image ImageInput) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("model is empty")
	}

	parts := []part{{Text: prompt}}
	if len(image.Data) > 0 {
		parts = append(parts, part{InlineData: &blob{
			Data:     base64.StdEncoding.EncodeToString(image.Data),
			MimeType: image.MimeType,
		}})
	}

	req := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, url.PathEscape(modelPath(model)))

	var decoded generateContentResponse
	if err := c.do(ctx, http.MethodPost, endpoint, apiKey, req, &decoded); err != nil {
		return "", err
	}

	if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", decoded.PromptFeedback.BlockReason)
	}

	return extractText(decoded), nil
}

func (c *Client) do(ctx context.Context, method, endpoint, apiKey string, payload any, out any) error {
	if c.httpClient == nil {
		return errors.New("http client is nil")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("content-type", "application/json")
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return &APIError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
			Body:       strings.TrimSpace(string(rawBody)),
		}
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractText(resp generateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}

	var textBuilder strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Thought {
			continue
		}
		textBuilder.WriteString(p.Text)
	}
	return textBuilder.String()
}

type listModelsResponse struct {
	Models        []modelRecord `json:"models"`
	NextPageToken string        `json:"nextPageToken"`
}

type modelRecord struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
	Thought    bool   `json:"thought,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content content `json:"content"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}
