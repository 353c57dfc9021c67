package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/logging"
	"github.com/verdanthq/cropsense/internal/tables"
)

// SecondaryConfig controls the conditional secondary-analysis branch.
type SecondaryConfig struct {
	Enabled              bool
	CrossValidation      bool
	SkipOnHighConfidence bool
	HighConfidence       float64
}

// SkipReason explains why the secondary branch was not taken.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipDisabled       SkipReason = "disabled by configuration"
	SkipRequested      SkipReason = "skip requested by caller"
	SkipHighConfidence SkipReason = "vision confidence above skip threshold"
	SkipNoImages       SkipReason = "no processed images"
)

// SecondaryAnalyzer runs the fast (SLM) and slow (LLM) language-model
// passes over the same evidence the vision stage saw.
type SecondaryAnalyzer struct {
	llm     core.LanguageModel
	cfg     SecondaryConfig
	tables  *tables.Store
	timeout time.Duration
	logger  *logging.Logger
}

// NewSecondaryAnalyzer creates the secondary analysis stage.
func NewSecondaryAnalyzer(llm core.LanguageModel, cfg SecondaryConfig, store *tables.Store, timeout time.Duration, logger *logging.Logger) *SecondaryAnalyzer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SecondaryAnalyzer{llm: llm, cfg: cfg, tables: store, timeout: timeout, logger: logger}
}

// ShouldRun decides whether the secondary branch executes for this state.
func (a *SecondaryAnalyzer) ShouldRun(state *core.WorkflowState) (bool, SkipReason) {
	if !a.cfg.Enabled || a.llm == nil {
		return false, SkipDisabled
	}
	if state.Request.SkipSecondary {
		return false, SkipRequested
	}
	if len(state.ProcessedImages) == 0 {
		return false, SkipNoImages
	}
	if a.cfg.SkipOnHighConfidence && state.Diagnosis != nil &&
		state.Diagnosis.Confidence >= a.cfg.HighConfidence {
		return false, SkipHighConfidence
	}
	return true, SkipNone
}

// CrossValidationEnabled reports whether the consensus stage should run
// after the secondary passes.
func (a *SecondaryAnalyzer) CrossValidationEnabled() bool {
	return a.cfg.CrossValidation
}

// Run implements StageFunc. The fast pass runs first; the slow pass prompt
// includes the fast pass's opinion, so the two are strictly sequential.
// Either pass failing independently leaves the other's opinion intact.
func (a *SecondaryAnalyzer) Run(ctx context.Context, state *core.WorkflowState) (core.StageDelta, error) {
	var delta core.StageDelta
	log := a.logger.WithTrace(string(state.TraceID))

	evidence := buildEvidence(state)

	fast, err := a.analyze(ctx, core.TierFast, core.SourceFastPass, evidence, nil)
	if err != nil {
		log.Warn("fast pass failed", "error", err)
		delta.Errors = append(delta.Errors, fmt.Sprintf("fast-pass analysis failed: %v", err))
	} else {
		delta.Opinions = append(delta.Opinions, *fast)
	}

	slow, err := a.analyze(ctx, core.TierSlow, core.SourceSlowPass, evidence, fast)
	if err != nil {
		log.Warn("slow pass failed", "error", err)
		delta.Errors = append(delta.Errors, fmt.Sprintf("slow-pass analysis failed: %v", err))
	} else {
		delta.Opinions = append(delta.Opinions, *slow)
	}

	return delta, nil
}

// QuickLook runs a single fast vision-capable pass over the first processed
// image. It is dispatched in parallel with the vision aggregator and its
// opinion joins cross-validation later.
func (a *SecondaryAnalyzer) QuickLook(ctx context.Context, state *core.WorkflowState) (*core.Opinion, error) {
	if a.llm == nil || len(state.ProcessedImages) == 0 {
		return nil, core.ErrExecution("QUICK_LOOK_UNAVAILABLE", "no language model or images for quick look")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	img := state.ProcessedImages[0]
	req := core.LLMRequest{
		Tier:   core.TierFast,
		System: analystSystemPrompt,
		Prompt: "Identify the most likely pest or disease visible in the attached crop image. " + opinionFormatInstruction,
		Image:  &img,
	}
	result, err := a.llm.Analyze(callCtx, req)
	if err != nil {
		return nil, err
	}
	return a.parseOpinion(core.SourceVisionLLM, result)
}

const analystSystemPrompt = "You are an agronomist reviewing evidence for a crop health diagnosis. " +
	"Answer only from the supplied evidence. Respond with a single JSON object."

const opinionFormatInstruction = `Respond with JSON: {"diagnosis": "<condition label>", ` +
	`"confidence": <0..1>, "severity": <0..100>, "reasoning": "<one or two sentences>"}`

// evidence is the shared input both passes receive.
type evidence struct {
	Diagnosis  *core.Diagnosis   `json:"diagnosis,omitempty"`
	Severity   *core.Severity    `json:"severity,omitempty"`
	Weather    *core.WeatherRisk `json:"weather,omitempty"`
	CropType   string            `json:"crop_type,omitempty"`
	Stage      string            `json:"growth_stage,omitempty"`
	FieldNotes string            `json:"field_notes,omitempty"`
}

func buildEvidence(state *core.WorkflowState) evidence {
	return evidence{
		Diagnosis:  state.Diagnosis,
		Severity:   state.Severity,
		Weather:    state.Weather,
		CropType:   state.Request.CropType,
		Stage:      state.Request.GrowthStage,
		FieldNotes: state.Request.FieldNotes,
	}
}

func (a *SecondaryAnalyzer) analyze(ctx context.Context, tier core.LLMTier, source core.AnalysisSource, ev evidence, prior *core.Opinion) (*core.Opinion, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("Review this crop diagnostic evidence and give your independent assessment.\n\n")

	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, core.ErrInternal("marshaling evidence").WithCause(err)
	}
	sb.WriteString("Evidence:\n")
	sb.Write(raw)
	sb.WriteString("\n\n")

	if prior != nil {
		sb.WriteString(fmt.Sprintf("A prior fast assessment concluded %q (confidence %.2f, severity %d): %s\n",
			prior.Label, prior.Confidence, prior.SeverityEstimate, prior.Reasoning))
		sb.WriteString("Confirm or challenge it with your own reasoning.\n\n")
	}
	sb.WriteString(opinionFormatInstruction)

	result, err := a.llm.Analyze(callCtx, core.LLMRequest{
		Tier:   tier,
		System: analystSystemPrompt,
		Prompt: sb.String(),
	})
	if err != nil {
		return nil, err
	}
	return a.parseOpinion(source, result)
}

// parseOpinion maps a model response onto a structured opinion. Labels are
// canonicalized against the agronomic tables so downstream comparison works
// across phrasing variants.
func (a *SecondaryAnalyzer) parseOpinion(source core.AnalysisSource, result *core.LLMResult) (*core.Opinion, error) {
	body := result.ParsedJSON
	if body == nil {
		return nil, core.ErrProvider(a.llm.Name(), "response contained no JSON object")
	}

	label, _ := body["diagnosis"].(string)
	if label == "" {
		label, _ = body["label"].(string)
	}
	if label == "" {
		return nil, core.ErrProvider(a.llm.Name(), "response missing diagnosis label")
	}
	if resolved, ok := a.tables.Active().ResolveCondition(label); ok {
		label = resolved
	} else {
		label = tables.Canonical(label)
	}

	confidence := numberField(body, "confidence")
	if confidence == 0 && result.Confidence != nil {
		confidence = *result.Confidence
	}
	reasoning, _ := body["reasoning"].(string)

	return &core.Opinion{
		Source:           source,
		Label:            label,
		Confidence:       core.Clamp01(confidence),
		SeverityEstimate: core.ClampScore(int(numberField(body, "severity"))),
		Reasoning:        reasoning,
	}, nil
}

func numberField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
