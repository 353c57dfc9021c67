package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/tables"
)

// SeverityScorer maps the aggregated diagnosis plus crop, growth-stage and
// detection-count context into a calibrated 0-100 score.
type SeverityScorer struct {
	tables *tables.Store
}

// NewSeverityScorer creates the severity stage.
func NewSeverityScorer(store *tables.Store) *SeverityScorer {
	return &SeverityScorer{tables: store}
}

// Run implements StageFunc.
func (s *SeverityScorer) Run(_ context.Context, state *core.WorkflowState) (core.StageDelta, error) {
	var delta core.StageDelta

	diag := state.Diagnosis
	if diag == nil {
		d := core.UnknownDiagnosis()
		diag = &d
		delta.Errors = append(delta.Errors, "severity scoring ran without a diagnosis")
	}

	sev := s.Score(*diag, state.Request.CropType, state.Request.GrowthStage)
	delta.Severity = &sev
	return delta, nil
}

// Score computes the severity record for a diagnosis in context.
func (s *SeverityScorer) Score(diag core.Diagnosis, cropType, growthStage string) core.Severity {
	tbl := s.tables.Active()
	var factors []string

	// Base severity.
	var base float64
	if diag.IsHealthy() {
		base = math.Round(10 * (1 - diag.Confidence))
		factors = append(factors, fmt.Sprintf("healthy assessment, residual severity %.0f", base))
	} else {
		base = float64(tbl.BaseSeverity(diag.Label))
		factors = append(factors, fmt.Sprintf("base severity %.0f for %s", base, diag.Label))
	}

	// Scale by detection confidence.
	scaled := base * diag.Confidence
	factors = append(factors, fmt.Sprintf("detection confidence %.2f", diag.Confidence))

	// Affected-area modifier.
	if diag.AffectedAreaPercent != nil {
		areaMod := math.Min(1.5, 1+*diag.AffectedAreaPercent/200)
		scaled *= areaMod
		factors = append(factors, fmt.Sprintf("affected area %.0f%% (x%.2f)", *diag.AffectedAreaPercent, areaMod))
	}

	// Contextual multipliers, each defaulting to 1.0 when unmapped.
	cropMod := tbl.CropModifier(cropType)
	if cropMod != 1.0 {
		factors = append(factors, fmt.Sprintf("crop %s (x%.1f)", cropType, cropMod))
	}
	stageMod := tbl.StageModifier(growthStage)
	if stageMod != 1.0 {
		factors = append(factors, fmt.Sprintf("growth stage %s (x%.1f)", growthStage, stageMod))
	}
	detections := countDetections(diag)
	detMod := tables.DetectionCountModifier(detections)
	if detMod != 1.0 {
		factors = append(factors, fmt.Sprintf("%d detected conditions (x%.2f)", detections, detMod))
	}

	score := core.ClampScore(int(math.Round(scaled * cropMod * stageMod * detMod)))

	return core.Severity{
		Score:      score,
		Band:       core.BandForScore(score),
		Factors:    factors,
		Confidence: severityConfidence(diag),
	}
}

// countDetections counts distinct non-healthy conditions across the primary
// label and the aggregated alternatives.
func countDetections(diag core.Diagnosis) int {
	count := 0
	if !diag.IsHealthy() && !diag.IsUnknown() {
		count++
	}
	for _, alt := range diag.Alternatives {
		if alt.Label != core.HealthyLabel && alt.Label != core.UnknownLabel {
			count++
		}
	}
	return count
}

// severityConfidence blends the diagnosis confidence with a cross-image
// consistency term: agreement across images raises trust in the score.
func severityConfidence(diag core.Diagnosis) float64 {
	distinct := diag.DistinctLabels
	if distinct < 1 {
		distinct = 1
	}
	consistency := math.Max(0.5, 1-0.1*float64(distinct-1))
	return core.Clamp01((diag.Confidence + consistency) / 2)
}
