package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdanthq/cropsense/internal/core"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, core.ErrCatValidation, core.GetCategory(err))
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(Config{APIKey: "test-key"}, nil)
	require.NoError(t, err)

	assert.Equal(t, defaultFastModel, c.fastModel)
	assert.Equal(t, defaultSlowModel, c.slowModel)
	assert.Equal(t, defaultMaxTokens, c.maxTokens)
	assert.Equal(t, "anthropic", c.Name())
}

func TestModelFor(t *testing.T) {
	c, err := New(Config{
		APIKey:    "test-key",
		FastModel: "fast-model",
		SlowModel: "slow-model",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "fast-model", c.modelFor(core.TierFast))
	assert.Equal(t, "slow-model", c.modelFor(core.TierSlow))
	assert.Equal(t, "fast-model", c.modelFor(core.LLMTier("")), "unknown tier falls back to fast")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantOK  bool
		wantKey string
	}{
		{
			name:    "bare object",
			content: `{"condition": "late_blight", "confidence": 0.8}`,
			wantOK:  true,
			wantKey: "condition",
		},
		{
			name:    "json fence",
			content: "```json\n{\"condition\": \"aphids\"}\n```",
			wantOK:  true,
			wantKey: "condition",
		},
		{
			name:    "plain fence",
			content: "```\n{\"severity\": 40}\n```",
			wantOK:  true,
			wantKey: "severity",
		},
		{
			name:    "prose before object",
			content: "Here is my assessment:\n{\"condition\": \"healthy\"}",
			wantOK:  true,
			wantKey: "condition",
		},
		{
			name:    "no object",
			content: "the plant looks healthy to me",
			wantOK:  false,
		},
		{
			name:    "malformed object",
			content: `{"condition": late_blight}`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := ExtractJSON(tt.content)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Contains(t, parsed, tt.wantKey)
			}
		})
	}
}

func TestExtractJSONConfidence(t *testing.T) {
	parsed, ok := ExtractJSON(`{"condition": "late_blight", "confidence": 0.85}`)
	require.True(t, ok)
	assert.InDelta(t, 0.85, parsed["confidence"], 1e-9)
}
