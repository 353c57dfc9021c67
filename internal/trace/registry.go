// Package trace tracks analysis runs: a live in-memory registry answering
// status queries, a SQLite audit store for completed traces, and atomic
// report export.
package trace

import (
	"sync"
	"time"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/logging"
)

// defaultMaxTraces bounds the in-memory registry; the oldest finished
// traces are evicted first.
const defaultMaxTraces = 1000

// Registry is the live view over running and recently finished traces.
// It implements the pipeline observer interface and is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	traces  map[core.TraceID]*core.TraceSnapshot
	order   []core.TraceID
	maxSize int
	store   *Store
	logger  *logging.Logger
}

// RegistryOption configures a registry.
type RegistryOption func(*Registry)

// WithAuditStore persists finished traces to the given store.
func WithAuditStore(store *Store) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithMaxTraces overrides the in-memory retention bound.
func WithMaxTraces(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSize = n
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		traces:  make(map[core.TraceID]*core.TraceSnapshot),
		maxSize: defaultMaxTraces,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TraceStarted registers a new running trace.
func (r *Registry) TraceStarted(id core.TraceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.traces[id] = &core.TraceSnapshot{
		TraceID:   id,
		Status:    core.TraceStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	r.order = append(r.order, id)
	r.evictLocked()
}

// StageCompleted records a finished stage for a trace.
func (r *Registry) StageCompleted(id core.TraceID, stage string, errs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, ok := r.traces[id]
	if !ok {
		return
	}
	snap.CompletedStages = append(snap.CompletedStages, stage)
	snap.Errors = append(snap.Errors, errs...)
}

// TraceFinished marks a trace terminal and hands it to the audit store.
func (r *Registry) TraceFinished(id core.TraceID, status core.TraceStatus, errs []string) {
	r.mu.Lock()
	snap, ok := r.traces[id]
	if ok {
		now := time.Now().UTC()
		snap.Status = status
		snap.FinishedAt = &now
		for _, e := range errs {
			if !containsString(snap.Errors, e) {
				snap.Errors = append(snap.Errors, e)
			}
		}
	}
	var copied core.TraceSnapshot
	if ok {
		copied = cloneSnapshot(snap)
	}
	r.mu.Unlock()

	if ok && r.store != nil {
		if err := r.store.RecordTrace(copied); err != nil {
			r.logger.WithTrace(string(id)).Warn("audit record failed", "error", err)
		}
	}
}

// Get returns a copy of the snapshot for a trace.
func (r *Registry) Get(id core.TraceID) (core.TraceSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.traces[id]
	if !ok {
		return core.TraceSnapshot{}, false
	}
	return cloneSnapshot(snap), true
}

// List returns copies of all retained snapshots, oldest first.
func (r *Registry) List() []core.TraceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.TraceSnapshot, 0, len(r.order))
	for _, id := range r.order {
		if snap, ok := r.traces[id]; ok {
			out = append(out, cloneSnapshot(snap))
		}
	}
	return out
}

// evictLocked drops the oldest finished traces once over the bound.
// Running traces are never evicted.
func (r *Registry) evictLocked() {
	for len(r.order) > r.maxSize {
		evicted := false
		for i, id := range r.order {
			snap, ok := r.traces[id]
			if !ok || snap.Status != core.TraceStatusRunning {
				delete(r.traces, id)
				r.order = append(r.order[:i], r.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func cloneSnapshot(snap *core.TraceSnapshot) core.TraceSnapshot {
	out := *snap
	out.CompletedStages = append([]string(nil), snap.CompletedStages...)
	out.Errors = append([]string(nil), snap.Errors...)
	if snap.FinishedAt != nil {
		t := *snap.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
