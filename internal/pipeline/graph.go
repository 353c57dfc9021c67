// Package pipeline implements the multi-stage diagnostic workflow: a small
// DAG of named stages with conditional routing, executed one trace at a time
// over a per-request WorkflowState.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/logging"
)

// StageFunc runs one pipeline stage. A stage never mutates the state it
// receives; it returns only the fields it changed and the orchestrator
// performs the merge. Recoverable problems are reported inside the delta's
// Errors list; a non-nil error aborts the whole pipeline.
type StageFunc func(ctx context.Context, state *core.WorkflowState) (core.StageDelta, error)

// RouteFunc selects the next stage after a stage completes. Returning the
// empty string ends the pipeline.
type RouteFunc func(state *core.WorkflowState) string

// Stage is one named node of the workflow graph.
type Stage struct {
	Name string
	Run  StageFunc
	Next RouteFunc
}

// Observer receives stage lifecycle notifications for a trace.
type Observer interface {
	TraceStarted(id core.TraceID)
	StageCompleted(id core.TraceID, stage string, errs []string)
	TraceFinished(id core.TraceID, status core.TraceStatus, errs []string)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) TraceStarted(core.TraceID)                              {}
func (NopObserver) StageCompleted(core.TraceID, string, []string)          {}
func (NopObserver) TraceFinished(core.TraceID, core.TraceStatus, []string) {}

// Graph is a validated set of stages with a start node.
type Graph struct {
	stages map[string]Stage
	start  string
	logger *logging.Logger
}

// maxStageVisits guards against routing loops; the graph has no legitimate
// path longer than the stage count.
const maxStageVisits = 16

// NewGraph builds a graph from stages. Every route target must name a
// registered stage.
func NewGraph(start string, stages []Stage, logger *logging.Logger) (*Graph, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := make(map[string]Stage, len(stages))
	for _, s := range stages {
		if s.Name == "" || s.Run == nil {
			return nil, core.ErrInternal("stage missing name or run function")
		}
		if _, dup := m[s.Name]; dup {
			return nil, core.ErrInternal(fmt.Sprintf("duplicate stage %q", s.Name))
		}
		m[s.Name] = s
	}
	if _, ok := m[start]; !ok {
		return nil, core.ErrInternal(fmt.Sprintf("start stage %q not registered", start))
	}
	return &Graph{stages: m, start: start, logger: logger}, nil
}

// Execute runs the graph over the given state, merging each stage's delta
// and recording timings and execution order. The observer is notified after
// every stage.
func (g *Graph) Execute(ctx context.Context, state *core.WorkflowState, obs Observer) error {
	if obs == nil {
		obs = NopObserver{}
	}
	log := g.logger.WithTrace(string(state.TraceID))

	current := g.start
	visits := 0
	for current != "" {
		visits++
		if visits > maxStageVisits {
			return core.ErrInternal(fmt.Sprintf("stage routing loop at %q", current))
		}

		stage, ok := g.stages[current]
		if !ok {
			return core.ErrInternal(fmt.Sprintf("route to unknown stage %q", current))
		}

		if err := ctx.Err(); err != nil {
			return core.ErrTimeout("pipeline context cancelled").WithCause(err)
		}

		start := time.Now()
		delta, err := stage.Run(ctx, state)
		elapsed := time.Since(start)

		if err != nil {
			log.Error("stage failed", "stage", stage.Name, "elapsed", elapsed, "error", err)
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		state.Merge(delta)
		state.RecordStage(stage.Name, elapsed)
		obs.StageCompleted(state.TraceID, stage.Name, delta.Errors)

		log.Debug("stage complete",
			"stage", stage.Name,
			"elapsed", elapsed,
			"degraded", len(delta.Errors) > 0,
		)

		if stage.Next == nil {
			break
		}
		current = stage.Next(state)
	}

	return nil
}

// StageNames returns the registered stage names.
func (g *Graph) StageNames() []string {
	names := make([]string, 0, len(g.stages))
	for name := range g.stages {
		names = append(names, name)
	}
	return names
}
