package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/logging"
	"github.com/verdanthq/cropsense/internal/tables"
)

// Stage names, in nominal execution order.
const (
	StagePreprocess    = "preprocess"
	StageAnalyzeImages = "analyze_images"
	StageScoreSeverity = "score_severity"
	StageAssessWeather = "assess_weather"
	StageSecondary     = "secondary_analysis"
	StageCrossValidate = "cross_validate"
	StageDecide        = "decide_thresholds"
)

// Options configures a pipeline instance. There is no process-wide
// singleton; callers build one pipeline per configuration.
type Options struct {
	ExternalCallTimeout time.Duration
	ParallelVisionPass  bool
	Secondary           SecondaryConfig
	Weights             ConsensusWeights
	SeverityMargin      float64
	HistoricalDays      int
	ForecastDays        int
}

// DefaultOptions returns the default pipeline options.
func DefaultOptions() Options {
	return Options{
		ExternalCallTimeout: 30 * time.Second,
		ParallelVisionPass:  true,
		Secondary: SecondaryConfig{
			Enabled:              true,
			CrossValidation:      true,
			SkipOnHighConfidence: true,
			HighConfidence:       0.90,
		},
		Weights:        DefaultConsensusWeights(),
		SeverityMargin: 25,
		HistoricalDays: 7,
		ForecastDays:   3,
	}
}

// Providers are the external collaborators a pipeline calls out to.
// Vision is required; LLM and Weather may be nil, which degrades the
// corresponding stages.
type Providers struct {
	Vision  core.VisionModel
	LLM     core.LanguageModel
	Weather core.WeatherService
}

// Pipeline is one configured diagnostic workflow instance. It is safe for
// concurrent use; every Analyze call owns its WorkflowState exclusively.
type Pipeline struct {
	opts      Options
	graph     *Graph
	secondary *SecondaryAnalyzer
	logger    *logging.Logger
}

// New builds a pipeline from configuration and collaborators.
func New(opts Options, providers Providers, store *tables.Store, logger *logging.Logger) (*Pipeline, error) {
	if providers.Vision == nil {
		return nil, core.ErrValidation("NO_VISION_MODEL", "a vision model is required")
	}
	if store == nil {
		return nil, core.ErrValidation("NO_TABLES", "agronomic tables are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.ExternalCallTimeout <= 0 {
		opts.ExternalCallTimeout = 30 * time.Second
	}

	preprocessor := NewPreprocessor(logger)
	vision := NewVisionAggregator(providers.Vision, opts.ExternalCallTimeout, logger)
	scorer := NewSeverityScorer(store)
	weather := NewWeatherRiskAssessor(providers.Weather, opts.ExternalCallTimeout,
		opts.HistoricalDays, opts.ForecastDays, logger)
	secondary := NewSecondaryAnalyzer(providers.LLM, opts.Secondary, store,
		opts.ExternalCallTimeout, logger)
	consensus := NewConsensusBuilder(opts.Weights, opts.SeverityMargin)
	thresholds := NewThresholdEngine(store)

	p := &Pipeline{opts: opts, secondary: secondary, logger: logger}

	stages := []Stage{
		{
			Name: StagePreprocess,
			Run:  preprocessor.Run,
			Next: routeTo(StageAnalyzeImages),
		},
		{
			Name: StageAnalyzeImages,
			Run:  p.analyzeImages(vision),
			Next: routeTo(StageScoreSeverity),
		},
		{
			Name: StageScoreSeverity,
			Run:  scorer.Run,
			Next: routeTo(StageAssessWeather),
		},
		{
			Name: StageAssessWeather,
			Run:  weather.Run,
			Next: p.routeAfterWeather,
		},
		{
			Name: StageSecondary,
			Run:  secondary.Run,
			Next: p.routeAfterSecondary,
		},
		{
			Name: StageCrossValidate,
			Run:  consensus.Run,
			Next: routeTo(StageDecide),
		},
		{
			Name: StageDecide,
			Run:  thresholds.Run,
			Next: nil,
		},
	}

	graph, err := NewGraph(StagePreprocess, stages, logger)
	if err != nil {
		return nil, err
	}
	p.graph = graph
	return p, nil
}

func routeTo(next string) RouteFunc {
	return func(*core.WorkflowState) string { return next }
}

func (p *Pipeline) routeAfterWeather(state *core.WorkflowState) string {
	run, reason := p.secondary.ShouldRun(state)
	if !run {
		p.logger.WithTrace(string(state.TraceID)).Debug("secondary analysis skipped", "reason", string(reason))
		return StageDecide
	}
	return StageSecondary
}

func (p *Pipeline) routeAfterSecondary(state *core.WorkflowState) string {
	if p.secondary.CrossValidationEnabled() {
		return StageCrossValidate
	}
	return StageDecide
}

// analyzeImages wraps the vision aggregator so the optional LLM-vision
// quick look can be dispatched alongside it and joined before severity
// scoring. Both depend only on the preprocessed images.
func (p *Pipeline) analyzeImages(vision *VisionAggregator) StageFunc {
	return func(ctx context.Context, state *core.WorkflowState) (core.StageDelta, error) {
		runQuickLook := p.opts.ParallelVisionPass && p.opts.Secondary.CrossValidation
		if run, _ := p.secondary.ShouldRun(state); !run {
			runQuickLook = false
		}

		var visionDelta core.StageDelta
		var quick *core.Opinion

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			visionDelta, err = vision.Run(gctx, state)
			return err
		})
		if runQuickLook {
			g.Go(func() error {
				op, err := p.secondary.QuickLook(gctx, state)
				if err != nil {
					p.logger.WithTrace(string(state.TraceID)).Warn("llm quick look failed", "error", err)
					return nil
				}
				quick = op
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return core.StageDelta{}, err
		}

		if quick != nil {
			visionDelta.Opinions = append(visionDelta.Opinions, *quick)
		}
		return visionDelta, nil
	}
}

// Analyze runs the full diagnostic workflow for one request. It always
// returns a complete, schema-valid response: orchestrator failures and
// panics are converted into an unknown-diagnosis response with the cause
// in the rationale.
func (p *Pipeline) Analyze(ctx context.Context, req *core.AnalysisRequest, obs Observer) (resp *core.AnalysisResponse) {
	if obs == nil {
		obs = NopObserver{}
	}

	traceID := core.TraceID(uuid.NewString())
	state := core.NewWorkflowState(traceID, req)
	log := p.logger.WithTrace(string(traceID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", "panic", r)
			resp = FatalResponse(traceID, state, fmt.Sprintf("internal failure: %v", r))
			obs.TraceFinished(traceID, core.TraceStatusError, resp.Errors)
		}
	}()

	obs.TraceStarted(traceID)
	log.Info("analysis started",
		"images", len(req.Images),
		"crop", req.CropType,
		"has_location", req.Location != nil,
	)

	start := time.Now()
	if err := p.graph.Execute(ctx, state, obs); err != nil {
		log.Error("analysis failed", "error", err)
		resp = FatalResponse(traceID, state, err.Error())
		obs.TraceFinished(traceID, core.TraceStatusError, resp.Errors)
		return resp
	}

	resp = FormatResponse(state)
	log.Info("analysis complete",
		"diagnosis", resp.Diagnosis.Label,
		"severity", resp.Severity.Score,
		"urgency", resp.OverallUrgency,
		"elapsed", time.Since(start),
		"degraded", len(resp.Errors) > 0,
	)
	obs.TraceFinished(traceID, core.TraceStatusCompleted, resp.Errors)
	return resp
}
