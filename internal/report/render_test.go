package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdanthq/cropsense/internal/core"
)

func sampleResponse() *core.AnalysisResponse {
	area := 55.0
	return &core.AnalysisResponse{
		TraceID: core.TraceID("3f6a"),
		Diagnosis: core.Diagnosis{
			Label:               "late_blight",
			Confidence:          0.75,
			VoteRatio:           2.0 / 3.0,
			ImageCount:          3,
			AffectedAreaPercent: &area,
			Alternatives: []core.Alternative{
				{Label: "early_blight", Confidence: 0.4, Note: "(detected in 1/3 images)"},
			},
		},
		Severity: core.Severity{Score: 39, Band: core.BandModerate, Confidence: 0.8},
		WeatherRisk: core.WeatherRisk{
			RiskBand: core.RiskHigh,
			Factors:  []string{"prolonged leaf wetness"},
		},
		Decisions: []core.ThresholdDecision{
			{
				ConditionName: "late_blight",
				ResponseLevel: core.ResponseUrgent,
				Reasoning:     "severity 39 exceeds urgent threshold 9.8",
			},
		},
		OverallUrgency: core.ResponseUrgent,
		Consensus: &core.ConsensusResult{
			Diagnosis:         "late_blight",
			Confidence:        0.76,
			Sources:           []core.Opinion{{Source: core.SourceVision}, {Source: core.SourceSlowPass}},
			HumanReviewNeeded: true,
		},
		Recommendations: []string{"Apply protectant fungicide within 24 hours"},
		Rationale:       "Vision consensus on late_blight with elevated weather pressure.",
		Alert:           true,
	}
}

func TestRenderPlainContainsAllSections(t *testing.T) {
	out := NewRenderer(true).Render(sampleResponse())

	assert.Contains(t, out, "trace 3f6a")
	assert.Contains(t, out, "ACTION NEEDED")
	assert.Contains(t, out, "late_blight")
	assert.Contains(t, out, "75% (2/3 images)")
	assert.Contains(t, out, "39/100 (moderate)")
	assert.Contains(t, out, "Affected area: 55%")
	assert.Contains(t, out, "early_blight")
	assert.Contains(t, out, "(detected in 1/3 images)")
	assert.Contains(t, out, "Weather risk: high")
	assert.Contains(t, out, "prolonged leaf wetness")
	assert.Contains(t, out, "urgent")
	assert.Contains(t, out, "Consensus: late_blight at 76% across 2 sources")
	assert.Contains(t, out, "Human review recommended")
	assert.Contains(t, out, "Apply protectant fungicide")
	assert.Contains(t, out, "elevated weather pressure")
}

func TestRenderPlainHasNoANSICodes(t *testing.T) {
	out := NewRenderer(true).Render(sampleResponse())
	assert.NotContains(t, out, "\x1b[")
}

func TestRenderHealthyOmitsOptionalSections(t *testing.T) {
	resp := &core.AnalysisResponse{
		TraceID:     core.TraceID("aa"),
		Diagnosis:   core.Diagnosis{Label: core.HealthyLabel, Confidence: 0.9, VoteRatio: 1, ImageCount: 1},
		Severity:    core.Severity{Score: 5, Band: core.BandMild},
		WeatherRisk: core.WeatherRisk{RiskBand: core.RiskLow},
	}

	out := NewRenderer(true).Render(resp)
	assert.NotContains(t, out, "ACTION NEEDED")
	assert.NotContains(t, out, "Decisions")
	assert.NotContains(t, out, "Consensus:")
	assert.NotContains(t, out, "Degraded:")
	assert.Contains(t, out, core.HealthyLabel)
}

func TestRenderDegradedListsErrors(t *testing.T) {
	resp := sampleResponse()
	resp.Errors = []string{"weather data unavailable"}

	out := NewRenderer(true).Render(resp)
	require.True(t, strings.Contains(out, "Degraded:"))
	assert.Contains(t, out, "weather data unavailable")
}

func TestRenderNilResponse(t *testing.T) {
	assert.Empty(t, NewRenderer(true).Render(nil))
	assert.Empty(t, NewRenderer(false).Render(nil))
}
