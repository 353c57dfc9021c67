package pipeline

import (
	"context"
	"math"

	"github.com/verdanthq/cropsense/internal/core"
)

// ConsensusWeights are the reliability weights per opinion source.
type ConsensusWeights struct {
	Vision    float64
	FastPass  float64
	SlowPass  float64
	VisionLLM float64
}

// DefaultConsensusWeights returns the default reliability weights.
func DefaultConsensusWeights() ConsensusWeights {
	return ConsensusWeights{
		Vision:    1.0,
		FastPass:  0.3,
		SlowPass:  0.7,
		VisionLLM: 0.5,
	}
}

func (w ConsensusWeights) forSource(s core.AnalysisSource) float64 {
	switch s {
	case core.SourceVision:
		return w.Vision
	case core.SourceFastPass:
		return w.FastPass
	case core.SourceSlowPass:
		return w.SlowPass
	case core.SourceVisionLLM:
		return w.VisionLLM
	default:
		return 0.5
	}
}

// confidentOpinion is the confidence floor above which a dissenting source
// triggers human review.
const confidentOpinion = 0.5

// ConsensusBuilder reconciles the CV, SLM and LLM opinions into one
// reliability-weighted result.
type ConsensusBuilder struct {
	weights        ConsensusWeights
	severityMargin float64
}

// NewConsensusBuilder creates the cross-validation stage.
func NewConsensusBuilder(weights ConsensusWeights, severityMargin float64) *ConsensusBuilder {
	return &ConsensusBuilder{weights: weights, severityMargin: severityMargin}
}

// Run implements StageFunc. The CV opinion is synthesized from the vision
// diagnosis and severity already on the state; the secondary opinions were
// appended by the fast/slow passes.
func (c *ConsensusBuilder) Run(_ context.Context, state *core.WorkflowState) (core.StageDelta, error) {
	var delta core.StageDelta

	opinions := make([]core.Opinion, 0, len(state.Opinions)+1)
	if cv := visionOpinion(state); cv != nil {
		opinions = append(opinions, *cv)
	}
	opinions = append(opinions, state.Opinions...)

	result := c.Build(opinions)
	delta.Consensus = &result
	return delta, nil
}

// visionOpinion converts the pipeline's own CV result into an opinion so
// it can be weighed against the language-model passes.
func visionOpinion(state *core.WorkflowState) *core.Opinion {
	if state.Diagnosis == nil {
		return nil
	}
	op := core.Opinion{
		Source:     core.SourceVision,
		Label:      state.Diagnosis.Label,
		Confidence: state.Diagnosis.Confidence,
	}
	if state.Severity != nil {
		op.SeverityEstimate = state.Severity.Score
	}
	return &op
}

// Build reconciles the available opinions. Sources that failed upstream are
// simply absent; partial consensus over whatever arrived is valid. Fewer
// than two sources always flags human review.
func (c *ConsensusBuilder) Build(opinions []core.Opinion) core.ConsensusResult {
	result := core.ConsensusResult{
		SourceWeights: make(map[core.AnalysisSource]float64, len(opinions)),
		Sources:       opinions,
	}
	for _, op := range opinions {
		result.SourceWeights[op.Source] = c.weights.forSource(op.Source)
	}

	if len(opinions) == 0 {
		result.Diagnosis = core.UnknownLabel
		result.HumanReviewNeeded = true
		return result
	}

	// Weighted label vote: each source contributes weight x confidence to
	// its label; first-seen order breaks ties.
	type labelVote struct {
		label string
		score float64
	}
	votes := make(map[string]*labelVote)
	order := make([]string, 0, len(opinions))
	totalWeight := 0.0
	weightedSeverity := 0.0

	for _, op := range opinions {
		w := c.weights.forSource(op.Source)
		totalWeight += w
		weightedSeverity += w * float64(op.SeverityEstimate)

		v, ok := votes[op.Label]
		if !ok {
			v = &labelVote{label: op.Label}
			votes[op.Label] = v
			order = append(order, op.Label)
		}
		v.score += w * op.Confidence
	}

	var winner *labelVote
	for _, label := range order {
		v := votes[label]
		if winner == nil || v.score > winner.score {
			winner = v
		}
	}
	result.Diagnosis = winner.label

	// Consensus confidence: share of weighted confidence carried by the
	// winning label.
	agreeingConfidence := 0.0
	for _, op := range opinions {
		w := c.weights.forSource(op.Source)
		if op.Label == winner.label {
			agreeingConfidence += w * op.Confidence
		}
	}
	if totalWeight > 0 {
		result.Confidence = core.Clamp01(agreeingConfidence / totalWeight)
		result.Severity = core.ClampScore(int(math.Round(weightedSeverity / totalWeight)))
	}

	result.HumanReviewNeeded = c.needsHumanReview(opinions, result)
	return result
}

func (c *ConsensusBuilder) needsHumanReview(opinions []core.Opinion, result core.ConsensusResult) bool {
	// A single surviving source cannot cross-validate anything.
	if len(opinions) < 2 {
		return true
	}
	for _, op := range opinions {
		// A confident dissenting diagnosis is a disagreement a human
		// should see.
		if op.Label != result.Diagnosis && op.Confidence >= confidentOpinion {
			return true
		}
		if math.Abs(float64(op.SeverityEstimate-result.Severity)) > c.severityMargin {
			return true
		}
	}
	return false
}
