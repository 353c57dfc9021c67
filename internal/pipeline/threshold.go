package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/tables"
)

// Threshold clamps and weather-band multipliers.
const (
	actionThresholdMin = 2.0
	actionThresholdMax = 80.0
	urgentThresholdMin = 5.0
	urgentThresholdMax = 95.0

	// If clamping inverted the pair, urgent is forced this far above action.
	urgentRepairGap = 10.0

	// Severity above which the overall response is forced to urgent.
	forcedUrgentSeverity = 70
)

// weatherMultiplier lowers thresholds (acts sooner) when conditions favor
// spread, and relaxes them when the weather works against the pathogen.
func weatherMultiplier(band core.RiskBand) float64 {
	switch band {
	case core.RiskLow:
		return 1.2
	case core.RiskHigh:
		return 0.7
	default:
		return 1.0
	}
}

// ThresholdEngine evaluates severity against pest/disease-specific,
// context-adjusted thresholds to decide action and urgency.
type ThresholdEngine struct {
	tables *tables.Store
}

// NewThresholdEngine creates the decision stage.
func NewThresholdEngine(store *tables.Store) *ThresholdEngine {
	return &ThresholdEngine{tables: store}
}

// Run implements StageFunc.
func (e *ThresholdEngine) Run(_ context.Context, state *core.WorkflowState) (core.StageDelta, error) {
	var delta core.StageDelta

	if state.Diagnosis == nil || state.Severity == nil {
		delta.OverallUrgency = core.ResponseNone
		delta.Errors = append(delta.Errors, "threshold evaluation skipped: missing diagnosis or severity")
		return delta, nil
	}

	weatherBand := core.RiskMedium
	if state.Weather != nil {
		weatherBand = state.Weather.RiskBand
	}

	decisions := e.Decide(*state.Diagnosis, *state.Severity, weatherBand,
		state.Request.CropType, state.Request.GrowthStage)
	delta.Decisions = decisions
	delta.OverallUrgency = OverallUrgency(decisions, *state.Severity, weatherBand)
	return delta, nil
}

// Decide produces one decision per detected condition: the primary
// diagnosis plus every non-healthy alternative.
func (e *ThresholdEngine) Decide(diag core.Diagnosis, sev core.Severity, weather core.RiskBand, cropType, growthStage string) []core.ThresholdDecision {
	type detected struct {
		label      string
		confidence float64
	}
	var conditions []detected
	if !diag.IsHealthy() && !diag.IsUnknown() {
		conditions = append(conditions, detected{diag.Label, diag.Confidence})
	}
	for _, alt := range diag.Alternatives {
		if alt.Label != core.HealthyLabel && alt.Label != core.UnknownLabel {
			conditions = append(conditions, detected{alt.Label, alt.Confidence})
		}
	}

	tbl := e.tables.Active()
	stageMul := tbl.ThresholdStageMultiplier(growthStage)
	cropMul := tbl.ThresholdCropMultiplier(cropType)
	weatherMul := weatherMultiplier(weather)
	mul := stageMul * cropMul * weatherMul

	decisions := make([]core.ThresholdDecision, 0, len(conditions))
	for _, cond := range conditions {
		baseAction, baseUrgent := tbl.Thresholds(cond.label)

		action := clampFloat(baseAction*mul, actionThresholdMin, actionThresholdMax)
		urgent := clampFloat(baseUrgent*mul, urgentThresholdMin, urgentThresholdMax)
		if urgent <= action {
			urgent = action + urgentRepairGap
		}

		score := float64(sev.Score)
		actionRequired := score >= action
		urgentAction := score >= urgent

		level := core.ResponseNone
		switch {
		case urgentAction:
			level = core.ResponseUrgent
		case actionRequired:
			level = core.ResponseMonitor
		}

		decisions = append(decisions, core.ThresholdDecision{
			ConditionName:       cond.label,
			DetectionConfidence: cond.confidence,
			SeverityScore:       sev.Score,
			BaseThreshold:       baseAction,
			AdjustedThreshold:   action,
			UrgentThreshold:     urgent,
			ActionRequired:      actionRequired,
			UrgentAction:        urgentAction,
			ResponseLevel:       level,
			DecisionConfidence:  decisionConfidence(cond.confidence, score, action, sev.Confidence),
			Reasoning:           decisionReasoning(cond.label, sev.Score, action, urgent, level, weather),
		})
	}

	return decisions
}

// decisionConfidence blends detection confidence (40%), normalized distance
// from the action threshold capped at a 50-point span (30%), and severity
// confidence (30%).
func decisionConfidence(detection, score, actionThreshold, severityConfidence float64) float64 {
	distance := math.Min(1, math.Abs(score-actionThreshold)/50)
	return core.Clamp01(0.4*detection + 0.3*distance + 0.3*severityConfidence)
}

func decisionReasoning(label string, score int, action, urgent float64, level core.ResponseLevel, weather core.RiskBand) string {
	switch level {
	case core.ResponseUrgent:
		return fmt.Sprintf("severity %d for %s exceeds urgent threshold %.1f under %s weather risk", score, label, urgent, weather)
	case core.ResponseMonitor:
		return fmt.Sprintf("severity %d for %s exceeds action threshold %.1f, below urgent threshold %.1f", score, label, action, urgent)
	default:
		return fmt.Sprintf("severity %d for %s is below action threshold %.1f", score, label, action)
	}
}

// OverallUrgency folds the per-condition decisions into one request-level
// urgency, then applies the weather and severity escalation rules.
func OverallUrgency(decisions []core.ThresholdDecision, sev core.Severity, weather core.RiskBand) core.ResponseLevel {
	level := core.ResponseNone
	anyUrgent := false
	for _, d := range decisions {
		level = core.MaxResponseLevel(level, d.ResponseLevel)
		if d.UrgentAction {
			anyUrgent = true
		}
	}

	switch weather {
	case core.RiskHigh:
		level = core.EscalateResponseLevel(level)
	case core.RiskLow:
		if !anyUrgent {
			level = core.DeescalateResponseLevel(level)
		}
	}

	if sev.Score > forcedUrgentSeverity {
		level = core.ResponseUrgent
	}
	return level
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
