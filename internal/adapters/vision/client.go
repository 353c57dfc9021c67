// Package vision implements the image-classification port against an HTTP
// inference service. The service accepts a multipart image upload and
// returns ranked condition labels with confidences.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/verdanthq/cropsense/internal/core"
)

const defaultTimeout = 30 * time.Second

// Client calls a remote inference endpoint for per-image predictions.
type Client struct {
	endpoint   string
	apiKey     string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Client during construction.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(cl *Client) { cl.apiKey = key }
}

// WithProviderName overrides the provider identifier reported in results.
func WithProviderName(name string) Option {
	return func(cl *Client) { cl.name = name }
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a Client for the given inference endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, core.ErrValidation("MISSING_ENDPOINT", "vision inference endpoint is required")
	}
	c := &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		name:       "inference",
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "vision")
	return c, nil
}

// Name implements core.VisionModel.
func (c *Client) Name() string { return c.name }

// inferenceResponse is the service's ranked prediction list. The first
// entry is the top label.
type inferenceResponse struct {
	Predictions []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"predictions"`
}

// Predict implements core.VisionModel by uploading the image and mapping
// the ranked response onto a primary prediction plus alternatives.
func (c *Client) Predict(ctx context.Context, img core.ProcessedImage) (*core.Prediction, error) {
	if len(img.Ref.Data) == 0 {
		return nil, core.ErrValidation("EMPTY_IMAGE", "image has no data").WithDetail("image", img.Ref.Name)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", img.Ref.Name)
	if err != nil {
		return nil, core.ErrInternal("building inference upload failed").WithCause(err)
	}
	if _, err := io.Copy(part, bytes.NewReader(img.Ref.Data)); err != nil {
		return nil, core.ErrInternal("building inference upload failed").WithCause(err)
	}
	if err := w.Close(); err != nil {
		return nil, core.ErrInternal("building inference upload failed").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict", &buf)
	if err != nil {
		return nil, core.ErrInternal("building inference request failed").WithCause(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.DebugContext(ctx, "running inference", "image", img.Ref.Name, "bytes", len(img.Ref.Data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrTimeout("inference call cancelled").WithCause(err)
		}
		return nil, core.ErrNetwork("inference call failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.ErrProvider(c.name, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithDetail("body", strings.TrimSpace(string(body)))
	}

	var payload inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, core.ErrProvider(c.name, "decoding inference response failed").WithCause(err)
	}
	if len(payload.Predictions) == 0 {
		return nil, core.ErrProvider(c.name, "inference returned no predictions")
	}

	top := payload.Predictions[0]
	pred := &core.Prediction{
		Label:      top.Label,
		Confidence: top.Confidence,
	}
	for _, alt := range payload.Predictions[1:] {
		pred.Alternatives = append(pred.Alternatives, core.Alternative{
			Label:      alt.Label,
			Confidence: alt.Confidence,
		})
	}
	return pred, nil
}
