package core

import "testing"

func TestBandForScore(t *testing.T) {
	tests := []struct {
		score int
		want  SeverityBand
	}{
		{0, BandMild},
		{10, BandMild},
		{30, BandMild},
		{31, BandModerate},
		{45, BandModerate},
		{60, BandModerate},
		{61, BandSevere},
		{100, BandSevere},
	}

	for _, tt := range tests {
		if got := BandForScore(tt.score); got != tt.want {
			t.Errorf("BandForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestBandForScore_BoundaryProperty(t *testing.T) {
	for s := 0; s <= 100; s++ {
		band := BandForScore(s)
		switch {
		case s <= 30 && band != BandMild:
			t.Errorf("score %d: got %s, want mild", s, band)
		case s > 30 && s <= 60 && band != BandModerate:
			t.Errorf("score %d: got %s, want moderate", s, band)
		case s > 60 && band != BandSevere:
			t.Errorf("score %d: got %s, want severe", s, band)
		}
	}
}

func TestClamp01(t *testing.T) {
	if got := Clamp01(-0.5); got != 0 {
		t.Errorf("Clamp01(-0.5) = %v, want 0", got)
	}
	if got := Clamp01(1.5); got != 1 {
		t.Errorf("Clamp01(1.5) = %v, want 1", got)
	}
	if got := Clamp01(0.42); got != 0.42 {
		t.Errorf("Clamp01(0.42) = %v, want 0.42", got)
	}
}

func TestClampScore(t *testing.T) {
	if got := ClampScore(-3); got != 0 {
		t.Errorf("ClampScore(-3) = %d, want 0", got)
	}
	if got := ClampScore(140); got != 100 {
		t.Errorf("ClampScore(140) = %d, want 100", got)
	}
	if got := ClampScore(55); got != 55 {
		t.Errorf("ClampScore(55) = %d, want 55", got)
	}
}

func TestResponseLevelOrdering(t *testing.T) {
	if got := MaxResponseLevel(ResponseNone, ResponseMonitor); got != ResponseMonitor {
		t.Errorf("MaxResponseLevel(none, monitor) = %s", got)
	}
	if got := MaxResponseLevel(ResponseUrgent, ResponseMonitor); got != ResponseUrgent {
		t.Errorf("MaxResponseLevel(urgent, monitor) = %s", got)
	}
	if got := EscalateResponseLevel(ResponseNone); got != ResponseMonitor {
		t.Errorf("EscalateResponseLevel(none) = %s", got)
	}
	if got := EscalateResponseLevel(ResponseUrgent); got != ResponseUrgent {
		t.Errorf("EscalateResponseLevel(urgent) = %s, want urgent", got)
	}
	if got := DeescalateResponseLevel(ResponseUrgent); got != ResponseMonitor {
		t.Errorf("DeescalateResponseLevel(urgent) = %s", got)
	}
	if got := DeescalateResponseLevel(ResponseNone); got != ResponseNone {
		t.Errorf("DeescalateResponseLevel(none) = %s, want none", got)
	}
}

func TestUnknownDiagnosis(t *testing.T) {
	d := UnknownDiagnosis()
	if !d.IsUnknown() {
		t.Error("UnknownDiagnosis().IsUnknown() = false")
	}
	if d.Confidence != 0 {
		t.Errorf("unknown diagnosis confidence = %v, want 0", d.Confidence)
	}
}
