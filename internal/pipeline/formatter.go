package pipeline

import (
	"fmt"
	"strings"

	"github.com/verdanthq/cropsense/internal/core"
)

// FormatResponse assembles the final AnalysisResponse from a completed
// state. It always yields a schema-valid response, however degraded the
// trace was.
func FormatResponse(state *core.WorkflowState) *core.AnalysisResponse {
	resp := &core.AnalysisResponse{
		TraceID:         state.TraceID,
		Decisions:       state.Decisions,
		OverallUrgency:  state.OverallUrgency,
		Consensus:       state.Consensus,
		Recommendations: recommendations(state),
		Errors:          state.Errors,
		StageTimings:    state.StageTimings,
		CreatedAt:       state.CreatedAt,
	}

	if state.Diagnosis != nil {
		resp.Diagnosis = *state.Diagnosis
	} else {
		resp.Diagnosis = core.UnknownDiagnosis()
	}
	if state.Severity != nil {
		resp.Severity = *state.Severity
	} else {
		resp.Severity = core.Severity{Band: core.BandMild}
	}
	if state.Weather != nil {
		resp.WeatherRisk = *state.Weather
	} else {
		resp.WeatherRisk = core.WeatherRisk{RiskBand: core.RiskMedium}
	}
	if resp.OverallUrgency == "" {
		resp.OverallUrgency = core.ResponseNone
	}
	if resp.Decisions == nil {
		resp.Decisions = []core.ThresholdDecision{}
	}

	resp.OverallConfidence = overallConfidence(state)
	resp.Rationale = buildRationale(state)
	resp.Alert = resp.OverallUrgency == core.ResponseUrgent
	return resp
}

// FatalResponse converts an orchestrator failure into a complete response
// so the trace is never left unterminated.
func FatalResponse(id core.TraceID, state *core.WorkflowState, cause string) *core.AnalysisResponse {
	resp := &core.AnalysisResponse{
		TraceID:         id,
		Diagnosis:       core.UnknownDiagnosis(),
		Severity:        core.Severity{Band: core.BandMild},
		WeatherRisk:     core.WeatherRisk{RiskBand: core.RiskMedium},
		Decisions:       []core.ThresholdDecision{},
		OverallUrgency:  core.ResponseNone,
		Recommendations: []string{"analysis failed, retry or consult an agronomist directly"},
		Rationale:       fmt.Sprintf("analysis aborted: %s", cause),
		Alert:           true,
	}
	if state != nil {
		resp.Errors = append(state.Errors, cause)
		resp.StageTimings = state.StageTimings
		resp.CreatedAt = state.CreatedAt
	} else {
		resp.Errors = []string{cause}
	}
	return resp
}

func overallConfidence(state *core.WorkflowState) float64 {
	var parts []float64
	if state.Diagnosis != nil {
		parts = append(parts, state.Diagnosis.Confidence)
	}
	if state.Severity != nil {
		parts = append(parts, state.Severity.Confidence)
	}
	if state.Consensus != nil {
		parts = append(parts, state.Consensus.Confidence)
	}
	if len(parts) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range parts {
		sum += p
	}
	return core.Clamp01(sum / float64(len(parts)))
}

func buildRationale(state *core.WorkflowState) string {
	var sb strings.Builder

	if d := state.Diagnosis; d != nil {
		switch {
		case d.IsUnknown():
			sb.WriteString("No usable prediction could be obtained from the supplied images. ")
		case d.IsHealthy():
			sb.WriteString(fmt.Sprintf("Crop appears healthy (confidence %.2f across %d images). ",
				d.Confidence, d.ImageCount))
		default:
			sb.WriteString(fmt.Sprintf("Primary diagnosis %s with confidence %.2f, observed in %.0f%% of %d images. ",
				d.Label, d.Confidence, d.VoteRatio*100, d.ImageCount))
		}
	}

	if s := state.Severity; s != nil {
		sb.WriteString(fmt.Sprintf("Severity %d/100 (%s)", s.Score, s.Band))
		if len(s.Factors) > 0 {
			sb.WriteString(": " + strings.Join(s.Factors, "; "))
		}
		sb.WriteString(". ")
	}

	if w := state.Weather; w != nil {
		sb.WriteString(fmt.Sprintf("Weather risk %s", w.RiskBand))
		if len(w.Factors) > 0 {
			sb.WriteString(" (" + strings.Join(w.Factors, "; ") + ")")
		}
		sb.WriteString(". ")
	}

	if c := state.Consensus; c != nil {
		sb.WriteString(fmt.Sprintf("Cross-validated consensus: %s at confidence %.2f across %d sources",
			c.Diagnosis, c.Confidence, len(c.Sources)))
		if c.HumanReviewNeeded {
			sb.WriteString("; sources disagree, human review recommended")
		}
		sb.WriteString(". ")
	}

	if state.OverallUrgency != "" {
		sb.WriteString(fmt.Sprintf("Overall response level: %s.", state.OverallUrgency))
	}

	return strings.TrimSpace(sb.String())
}

// recommendations is a placeholder surface: treatment guidance is produced
// by a downstream advisory service, keyed off the response level.
func recommendations(state *core.WorkflowState) []string {
	switch state.OverallUrgency {
	case core.ResponseUrgent:
		return []string{"immediate intervention recommended, consult treatment advisory"}
	case core.ResponseMonitor:
		return []string{"monitor affected plants and re-scan within 48 hours"}
	default:
		return []string{}
	}
}
