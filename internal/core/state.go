package core

import (
	"time"
)

// TraceID uniquely identifies one analysis run.
type TraceID string

// TraceStatus reports where a trace is in its lifecycle.
type TraceStatus string

const (
	TraceStatusRunning   TraceStatus = "running"
	TraceStatusCompleted TraceStatus = "completed"
	TraceStatusError     TraceStatus = "error"
)

// ImageRef is one input image plus its source tag.
type ImageRef struct {
	Name   string `json:"name"`
	Source string `json:"source"` // phone, drone
	Data   []byte `json:"-"`
}

// ProcessedImage is an image after preprocessing, ready for inference.
type ProcessedImage struct {
	Ref              ImageRef `json:"ref"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	MetadataStripped bool     `json:"metadata_stripped"`
	Tiles            int      `json:"tiles"`
}

// WorkflowState is the single mutable record threaded through the pipeline
// for one request. Stages never write it directly; each stage returns a
// StageDelta and the orchestrator performs the merge, so no two stages ever
// race on the same state. A state is owned by exactly one trace.
type WorkflowState struct {
	TraceID TraceID          `json:"trace_id"`
	Request *AnalysisRequest `json:"-"`

	RawImages       []ImageRef       `json:"-"`
	ProcessedImages []ProcessedImage `json:"processed_images,omitempty"`

	Diagnosis      *Diagnosis          `json:"diagnosis,omitempty"`
	Severity       *Severity           `json:"severity,omitempty"`
	Weather        *WeatherRisk        `json:"weather,omitempty"`
	Opinions       []Opinion           `json:"opinions,omitempty"`
	Consensus      *ConsensusResult    `json:"consensus,omitempty"`
	Decisions      []ThresholdDecision `json:"decisions,omitempty"`
	OverallUrgency ResponseLevel       `json:"overall_urgency,omitempty"`

	Errors         []string                 `json:"errors,omitempty"`
	StageTimings   map[string]time.Duration `json:"stage_timings,omitempty"`
	ExecutionOrder []string                 `json:"execution_order,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewWorkflowState creates the state for one trace.
func NewWorkflowState(id TraceID, req *AnalysisRequest) *WorkflowState {
	return &WorkflowState{
		TraceID:      id,
		Request:      req,
		RawImages:    req.Images,
		StageTimings: make(map[string]time.Duration),
		CreatedAt:    time.Now().UTC(),
	}
}

// StageDelta carries only the fields a stage changed. Nil fields are left
// untouched by the merge; Errors are appended, never replaced.
type StageDelta struct {
	ProcessedImages []ProcessedImage
	Diagnosis       *Diagnosis
	Severity        *Severity
	Weather         *WeatherRisk
	Opinions        []Opinion
	Consensus       *ConsensusResult
	Decisions       []ThresholdDecision
	OverallUrgency  ResponseLevel
	Errors          []string
}

// Merge folds a stage's delta into the state. Called only by the
// orchestrator, after the stage has returned.
func (s *WorkflowState) Merge(d StageDelta) {
	if d.ProcessedImages != nil {
		s.ProcessedImages = d.ProcessedImages
	}
	if d.Diagnosis != nil {
		s.Diagnosis = d.Diagnosis
	}
	if d.Severity != nil {
		s.Severity = d.Severity
	}
	if d.Weather != nil {
		s.Weather = d.Weather
	}
	if d.Opinions != nil {
		s.Opinions = append(s.Opinions, d.Opinions...)
	}
	if d.Consensus != nil {
		s.Consensus = d.Consensus
	}
	if d.Decisions != nil {
		s.Decisions = d.Decisions
	}
	if d.OverallUrgency != "" {
		s.OverallUrgency = d.OverallUrgency
	}
	s.Errors = append(s.Errors, d.Errors...)
}

// RecordStage appends a stage to the execution log with its elapsed time.
func (s *WorkflowState) RecordStage(name string, elapsed time.Duration) {
	s.ExecutionOrder = append(s.ExecutionOrder, name)
	s.StageTimings[name] = elapsed
}
