package core

import (
	"context"
	"time"
)

// VisionModel is the per-image prediction capability.
type VisionModel interface {
	// Name returns the provider identifier (e.g. "plantnet", "stub").
	Name() string

	// Predict classifies a single processed image.
	Predict(ctx context.Context, img ProcessedImage) (*Prediction, error)
}

// Prediction is the raw per-image output of a vision model.
type Prediction struct {
	Label        string
	Confidence   float64
	Alternatives []Alternative
}

// LanguageModel is the text/vision LLM capability used by the secondary
// analysis passes. Normal API failures are reported via the error return,
// never via panic.
type LanguageModel interface {
	Name() string

	// Analyze runs a prompt (optionally with an attached image) and returns
	// the raw content plus any JSON block the model emitted.
	Analyze(ctx context.Context, req LLMRequest) (*LLMResult, error)
}

// LLMTier selects the fast (SLM) or slow (LLM) pass model.
type LLMTier string

const (
	TierFast LLMTier = "fast"
	TierSlow LLMTier = "slow"
)

// LLMRequest configures one language-model call.
type LLMRequest struct {
	Tier      LLMTier
	Prompt    string
	System    string
	Image     *ProcessedImage
	MaxTokens int
}

// LLMResult is one language-model response.
type LLMResult struct {
	Content    string
	ParsedJSON map[string]interface{}
	Confidence *float64
}

// WeatherService fetches weather context for the risk assessor.
type WeatherService interface {
	Name() string

	// Historical returns daily observations for the range ending now.
	Historical(ctx context.Context, loc Coordinates, days int) ([]DailyWeather, error)

	// Forecast returns daily forecasts starting tomorrow.
	Forecast(ctx context.Context, loc Coordinates, days int) ([]DailyWeather, error)
}

// DailyWeather is one day of observed or forecast weather.
type DailyWeather struct {
	Date              time.Time
	TempMinC          float64
	TempMaxC          float64
	HumidityPct       float64
	RainfallMM        float64
	WindMaxKmh        float64
	HighHumidityHours float64
}

// MeanTempC returns the midpoint of the daily min/max temperature.
func (d DailyWeather) MeanTempC() float64 {
	return (d.TempMinC + d.TempMaxC) / 2
}
