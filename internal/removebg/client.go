// Package removebg calls the remove.bg background-removal endpoint.
package removebg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"product-script-studio/internal/photo"
)

const DefaultEndpoint = "https://api.remove.bg/v1.0/removebg"

// StatusError is returned for any non-200 reply. remove.bg error bodies are
// not relied on; only the code is reported.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remove.bg error code %d", e.Code)
}

type Options struct {
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

// Remove uploads the complete image with size=auto and decodes the cut-out.
func (c *Client) Remove(ctx context.Context, apiKey string, data []byte) (*photo.Processed, error) {
	if c.httpClient == nil {
		return nil, errors.New("http client is nil")
	}
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image_file", "image")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.WriteField("size", "auto"); err != nil {
		return nil, fmt.Errorf("write size field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Api-Key", apiKey)

	c.logger.Debug("remove.bg request", "bytes", len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return photo.DecodeProcessed(body)
}
