// Package anthropic implements the language-model port on the Anthropic
// Messages API. A single client serves both analysis tiers by mapping the
// requested tier onto a fast or slow model name.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/verdanthq/cropsense/internal/core"
)

const (
	defaultFastModel = "claude-3-5-haiku-latest"
	defaultSlowModel = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

// Config holds the credentials and model selection for the adapter.
type Config struct {
	APIKey    string
	FastModel string
	SlowModel string
	MaxTokens int
}

// Client calls the Anthropic Messages API and normalizes responses into
// core.LLMResult values.
type Client struct {
	client    sdk.Client
	fastModel string
	slowModel string
	maxTokens int
	logger    *slog.Logger
}

// New builds a Client from cfg. The API key is required; model names and the
// token ceiling fall back to defaults when unset.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, core.ErrValidation("MISSING_API_KEY", "anthropic api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		client:    sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		fastModel: cfg.FastModel,
		slowModel: cfg.SlowModel,
		maxTokens: cfg.MaxTokens,
		logger:    logger.With("component", "anthropic"),
	}
	if c.fastModel == "" {
		c.fastModel = defaultFastModel
	}
	if c.slowModel == "" {
		c.slowModel = defaultSlowModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

// Name implements core.LanguageModel.
func (c *Client) Name() string { return "anthropic" }

// Analyze implements core.LanguageModel. The tier picks the model; an
// attached image is sent as a base64 content block ahead of the prompt text.
func (c *Client) Analyze(ctx context.Context, req core.LLMRequest) (*core.LLMResult, error) {
	model := c.modelFor(req.Tier)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	blocks := make([]sdk.ContentBlockParamUnion, 0, 2)
	if req.Image != nil && len(req.Image.Ref.Data) > 0 {
		data := req.Image.Ref.Data
		mediaType := http.DetectContentType(data)
		blocks = append(blocks, sdk.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(data)))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	c.logger.Debug("calling messages api", "model", model, "tier", req.Tier, "has_image", req.Image != nil)

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrTimeout("anthropic call cancelled").WithCause(err)
		}
		return nil, core.ErrProvider("anthropic", "messages api call failed").WithCause(err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, core.ErrProvider("anthropic", "empty response from model")
	}

	result := &core.LLMResult{Content: content}
	if parsed, ok := ExtractJSON(content); ok {
		result.ParsedJSON = parsed
		if conf, ok := parsed["confidence"].(float64); ok {
			result.Confidence = &conf
		}
	}
	return result, nil
}

func (c *Client) modelFor(tier core.LLMTier) string {
	if tier == core.TierSlow {
		return c.slowModel
	}
	return c.fastModel
}

// ExtractJSON pulls a JSON object out of a model response. It tolerates
// markdown code fences and leading prose before the object.
func ExtractJSON(content string) (map[string]interface{}, bool) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}
