package pipeline

import (
	"testing"

	"github.com/verdanthq/cropsense/internal/core"
)

func TestFormatResponse_EmptyStateIsSchemaValid(t *testing.T) {
	resp := FormatResponse(newTestState(t, 1))

	if !resp.Diagnosis.IsUnknown() {
		t.Errorf("diagnosis = %+v", resp.Diagnosis)
	}
	if resp.Severity.Band != core.BandMild {
		t.Errorf("severity band = %q", resp.Severity.Band)
	}
	if resp.WeatherRisk.RiskBand != core.RiskMedium {
		t.Errorf("weather band = %q", resp.WeatherRisk.RiskBand)
	}
	if resp.Decisions == nil {
		t.Error("decisions must be an empty list, not null")
	}
	if resp.OverallUrgency != core.ResponseNone {
		t.Errorf("urgency = %q", resp.OverallUrgency)
	}
}

func TestFormatResponse_AlertTracksUrgency(t *testing.T) {
	state := newTestState(t, 1)
	state.OverallUrgency = core.ResponseUrgent

	resp := FormatResponse(state)
	if !resp.Alert {
		t.Error("urgent response must set the alert flag")
	}
	if len(resp.Recommendations) == 0 {
		t.Error("urgent response must carry recommendations")
	}
}

func TestFatalResponse_NilState(t *testing.T) {
	resp := FatalResponse("trace-1", nil, "graph exploded")

	if resp.TraceID != "trace-1" {
		t.Errorf("trace id = %q", resp.TraceID)
	}
	if !resp.Alert || !resp.Diagnosis.IsUnknown() {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0] != "graph exploded" {
		t.Errorf("errors = %v", resp.Errors)
	}
}
