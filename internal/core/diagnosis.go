package core

// HealthyLabel is the label used when no pest or disease is detected.
const HealthyLabel = "healthy"

// UnknownLabel is the label used when aggregation produced no usable prediction.
const UnknownLabel = "unknown"

// Alternative is a non-primary candidate condition observed during aggregation.
type Alternative struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Note       string  `json:"note,omitempty"`
}

// Diagnosis is the aggregated per-request diagnosis produced by the vision
// stage. It is immutable once written into the workflow state.
type Diagnosis struct {
	Label               string        `json:"label"`
	Confidence          float64       `json:"confidence"`
	Alternatives        []Alternative `json:"alternatives,omitempty"`
	AffectedAreaPercent *float64      `json:"affected_area_percent,omitempty"`
	VoteRatio           float64       `json:"vote_ratio"`
	ImageCount          int           `json:"image_count"`
	DistinctLabels      int           `json:"distinct_labels"`
}

// IsHealthy reports whether the primary label is the healthy label.
func (d Diagnosis) IsHealthy() bool {
	return d.Label == HealthyLabel
}

// IsUnknown reports whether aggregation degraded to an unknown diagnosis.
func (d Diagnosis) IsUnknown() bool {
	return d.Label == UnknownLabel
}

// UnknownDiagnosis returns the degraded diagnosis used when zero images
// yielded a prediction. Downstream stages must treat it as valid input.
func UnknownDiagnosis() Diagnosis {
	return Diagnosis{Label: UnknownLabel, Confidence: 0.0}
}

// SeverityBand classifies a severity score.
type SeverityBand string

const (
	BandMild     SeverityBand = "mild"
	BandModerate SeverityBand = "moderate"
	BandSevere   SeverityBand = "severe"
)

// BandForScore derives the band from a 0-100 severity score.
// mild <=30, moderate <=60, severe >60.
func BandForScore(score int) SeverityBand {
	switch {
	case score <= 30:
		return BandMild
	case score <= 60:
		return BandModerate
	default:
		return BandSevere
	}
}

// Severity is the calibrated 0-100 severity assessment.
type Severity struct {
	Score      int          `json:"score"`
	Band       SeverityBand `json:"band"`
	Factors    []string     `json:"factors,omitempty"`
	Confidence float64      `json:"confidence"`
}

// RiskBand classifies weather-driven disease/pest pressure.
type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// WeatherIndices are the derived weather signals feeding the risk score.
type WeatherIndices struct {
	HighHumidityHours  float64 `json:"high_humidity_hours"`
	ConsecutiveWetDays int     `json:"consecutive_wet_days"`
	TemperatureStress  bool    `json:"temperature_stress"`
	WindRisk           bool    `json:"wind_risk"`
	DegreeDays         float64 `json:"degree_days"`
}

// WeatherRisk bundles the weather indices with a banded assessment.
type WeatherRisk struct {
	Indices  WeatherIndices `json:"indices"`
	RiskBand RiskBand       `json:"risk_band"`
	Factors  []string       `json:"factors,omitempty"`
}

// ResponseLevel orders the possible per-condition responses.
type ResponseLevel string

const (
	ResponseNone    ResponseLevel = "none"
	ResponseMonitor ResponseLevel = "monitor"
	ResponseUrgent  ResponseLevel = "urgent"
)

// responseRank orders levels for escalation comparisons.
func responseRank(l ResponseLevel) int {
	switch l {
	case ResponseUrgent:
		return 2
	case ResponseMonitor:
		return 1
	default:
		return 0
	}
}

// MaxResponseLevel returns the higher-priority of two levels.
func MaxResponseLevel(a, b ResponseLevel) ResponseLevel {
	if responseRank(b) > responseRank(a) {
		return b
	}
	return a
}

// EscalateResponseLevel moves a level one step up, saturating at urgent.
func EscalateResponseLevel(l ResponseLevel) ResponseLevel {
	switch l {
	case ResponseNone:
		return ResponseMonitor
	default:
		return ResponseUrgent
	}
}

// DeescalateResponseLevel moves a level one step down, saturating at none.
func DeescalateResponseLevel(l ResponseLevel) ResponseLevel {
	switch l {
	case ResponseUrgent:
		return ResponseMonitor
	default:
		return ResponseNone
	}
}

// ThresholdDecision is the per-condition action determination.
type ThresholdDecision struct {
	ConditionName       string        `json:"condition_name"`
	DetectionConfidence float64       `json:"detection_confidence"`
	SeverityScore       int           `json:"severity_score"`
	BaseThreshold       float64       `json:"base_threshold"`
	AdjustedThreshold   float64       `json:"adjusted_threshold"`
	UrgentThreshold     float64       `json:"urgent_threshold"`
	ActionRequired      bool          `json:"action_required"`
	UrgentAction        bool          `json:"urgent_action"`
	ResponseLevel       ResponseLevel `json:"response_level"`
	DecisionConfidence  float64       `json:"decision_confidence"`
	Reasoning           string        `json:"reasoning"`
}

// AnalysisSource identifies an independent opinion source.
type AnalysisSource string

const (
	SourceVision    AnalysisSource = "cv"
	SourceFastPass  AnalysisSource = "slm"
	SourceSlowPass  AnalysisSource = "llm"
	SourceVisionLLM AnalysisSource = "llm_vision"
)

// Opinion is one independent structured analysis of the evidence.
type Opinion struct {
	Source           AnalysisSource `json:"source"`
	Label            string         `json:"label"`
	Confidence       float64        `json:"confidence"`
	SeverityEstimate int            `json:"severity_estimate"`
	Reasoning        string         `json:"reasoning,omitempty"`
}

// ConsensusResult is the reconciled opinion across available sources.
// It is owned by the cross-validation stage and read-only downstream.
type ConsensusResult struct {
	Diagnosis         string                     `json:"consensus_diagnosis"`
	Confidence        float64                    `json:"consensus_confidence"`
	Severity          int                        `json:"consensus_severity"`
	SourceWeights     map[AnalysisSource]float64 `json:"source_weights"`
	Sources           []Opinion                  `json:"sources"`
	HumanReviewNeeded bool                       `json:"human_review_needed"`
}

// Clamp01 clamps a confidence value into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampScore clamps a severity score into [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
