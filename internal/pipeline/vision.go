package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/logging"
)

// maxAlternatives caps the alternatives list on the aggregated diagnosis.
const maxAlternatives = 4

// VisionAggregator runs the vision model once per image and folds the
// per-image predictions into a single primary diagnosis.
type VisionAggregator struct {
	model   core.VisionModel
	timeout time.Duration
	logger  *logging.Logger
}

// NewVisionAggregator creates the vision stage.
func NewVisionAggregator(model core.VisionModel, timeout time.Duration, logger *logging.Logger) *VisionAggregator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &VisionAggregator{model: model, timeout: timeout, logger: logger}
}

// Run implements StageFunc. Zero successful predictions degrades to the
// unknown diagnosis instead of failing the pipeline.
func (v *VisionAggregator) Run(ctx context.Context, state *core.WorkflowState) (core.StageDelta, error) {
	var delta core.StageDelta

	images := state.ProcessedImages
	if len(images) == 0 {
		diag := core.UnknownDiagnosis()
		delta.Diagnosis = &diag
		delta.Errors = append(delta.Errors, "vision aggregation skipped: no processed images")
		return delta, nil
	}

	// One slot per image keeps first-seen order deterministic regardless
	// of which goroutine finishes first.
	predictions := make([]*core.Prediction, len(images))
	var g errgroup.Group
	for i, img := range images {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, v.timeout)
			defer cancel()

			pred, err := v.model.Predict(callCtx, img)
			if err != nil {
				v.logger.WithTrace(string(state.TraceID)).Warn("vision predict failed",
					"image", img.Ref.Name, "provider", v.model.Name(), "error", err)
				return nil
			}
			predictions[i] = pred
			return nil
		})
	}
	// Per-image failures are swallowed above; the group never errors.
	_ = g.Wait()

	var available []*core.Prediction
	failed := 0
	for _, p := range predictions {
		if p == nil {
			failed++
			continue
		}
		available = append(available, p)
	}
	if failed > 0 {
		delta.Errors = append(delta.Errors,
			fmt.Sprintf("vision prediction failed for %d of %d images", failed, len(images)))
	}

	diag := Aggregate(available, len(images))
	delta.Diagnosis = &diag
	return delta, nil
}

// labelStats accumulates per-label evidence across images.
type labelStats struct {
	label     string
	count     int
	sumConf   float64
	firstSeen int
}

// Aggregate folds per-image predictions into one diagnosis. The primary
// label maximizes vote_ratio × avg_confidence; ties go to the label seen
// first in image order. totalImages is the full fan-out N, including images
// whose prediction failed.
func Aggregate(predictions []*core.Prediction, totalImages int) core.Diagnosis {
	if len(predictions) == 0 || totalImages == 0 {
		return core.UnknownDiagnosis()
	}

	stats := make(map[string]*labelStats)
	order := make([]string, 0, len(predictions))
	for i, p := range predictions {
		s, ok := stats[p.Label]
		if !ok {
			s = &labelStats{label: p.Label, firstSeen: i}
			stats[p.Label] = s
			order = append(order, p.Label)
		}
		s.count++
		s.sumConf += core.Clamp01(p.Confidence)
	}

	n := float64(totalImages)
	var winner *labelStats
	var winnerScore float64
	for _, label := range order {
		s := stats[label]
		score := (float64(s.count) / n) * (s.sumConf / float64(s.count))
		if winner == nil || score > winnerScore {
			winner = s
			winnerScore = score
		}
	}

	voteRatio := float64(winner.count) / n
	confidence := core.Clamp01(winner.sumConf / float64(winner.count))

	diag := core.Diagnosis{
		Label:          winner.label,
		Confidence:     confidence,
		VoteRatio:      voteRatio,
		ImageCount:     totalImages,
		DistinctLabels: len(order),
	}

	// Non-winning labels, most confident first, capped.
	var alts []core.Alternative
	for _, label := range order {
		if label == winner.label {
			continue
		}
		s := stats[label]
		alts = append(alts, core.Alternative{
			Label:      label,
			Confidence: core.Clamp01(s.sumConf / float64(s.count)),
			Note:       fmt.Sprintf("(detected in %d/%d images)", s.count, totalImages),
		})
	}
	sort.SliceStable(alts, func(i, j int) bool {
		return alts[i].Confidence > alts[j].Confidence
	})
	if len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}
	diag.Alternatives = alts

	if winner.label != core.HealthyLabel && confidence > 0.5 {
		area := math.Min(100, confidence*50+voteRatio*30)
		diag.AffectedAreaPercent = &area
	}

	return diag
}
