// Package testutil provides deterministic collaborator stubs for pipeline
// tests. Each stub replays canned responses in call order, so re-running a
// pipeline over identical inputs yields identical output.
package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/verdanthq/cropsense/internal/core"
)

// StubVision replays one prediction per image name, or a fixed sequence.
type StubVision struct {
	mu          sync.Mutex
	ByImage     map[string]*core.Prediction
	Sequence    []*core.Prediction
	Err         error
	ErrForNames map[string]error
	calls       int
}

// Name implements core.VisionModel.
func (s *StubVision) Name() string { return "stub-vision" }

// Predict implements core.VisionModel.
func (s *StubVision) Predict(_ context.Context, img core.ProcessedImage) (*core.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	if err, ok := s.ErrForNames[img.Ref.Name]; ok {
		return nil, err
	}
	if p, ok := s.ByImage[img.Ref.Name]; ok {
		return p, nil
	}
	if s.calls < len(s.Sequence) {
		p := s.Sequence[s.calls]
		s.calls++
		return p, nil
	}
	return &core.Prediction{Label: core.HealthyLabel, Confidence: 0.9}, nil
}

// StubLLM replays canned analysis results in call order.
type StubLLM struct {
	mu      sync.Mutex
	Results []*core.LLMResult
	Errs    []error
	calls   int

	// Requests records every request for assertion.
	Requests []core.LLMRequest
}

// Name implements core.LanguageModel.
func (s *StubLLM) Name() string { return "stub-llm" }

// Analyze implements core.LanguageModel.
func (s *StubLLM) Analyze(_ context.Context, req core.LLMRequest) (*core.LLMResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	i := s.calls
	s.calls++

	if i < len(s.Errs) && s.Errs[i] != nil {
		return nil, s.Errs[i]
	}
	if i < len(s.Results) {
		return s.Results[i], nil
	}
	return &core.LLMResult{
		Content: `{"diagnosis": "healthy", "confidence": 0.8, "severity": 5}`,
		ParsedJSON: map[string]interface{}{
			"diagnosis": "healthy", "confidence": 0.8, "severity": 5.0,
		},
	}, nil
}

// OpinionResult builds an LLMResult carrying a structured opinion.
func OpinionResult(label string, confidence float64, severity int, reasoning string) *core.LLMResult {
	return &core.LLMResult{
		ParsedJSON: map[string]interface{}{
			"diagnosis":  label,
			"confidence": confidence,
			"severity":   float64(severity),
			"reasoning":  reasoning,
		},
	}
}

// StubWeather replays canned daily observations.
type StubWeather struct {
	HistoricalDays []core.DailyWeather
	ForecastDays   []core.DailyWeather
	Err            error
}

// Name implements core.WeatherService.
func (s *StubWeather) Name() string { return "stub-weather" }

// Historical implements core.WeatherService.
func (s *StubWeather) Historical(context.Context, core.Coordinates, int) ([]core.DailyWeather, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.HistoricalDays, nil
}

// Forecast implements core.WeatherService.
func (s *StubWeather) Forecast(context.Context, core.Coordinates, int) ([]core.DailyWeather, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.ForecastDays, nil
}

// PNGImage returns a valid encoded PNG of the given size.
func PNGImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{G: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

// ImageRefs wraps encoded blobs as phone-sourced image refs.
func ImageRefs(names []string, blobs [][]byte) []core.ImageRef {
	refs := make([]core.ImageRef, len(names))
	for i, name := range names {
		refs[i] = core.ImageRef{Name: name, Source: "phone", Data: blobs[i]}
	}
	return refs
}
