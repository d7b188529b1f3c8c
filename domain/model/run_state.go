package model

import (
	"context"
	"sync"
	"time"
)

// RunState is scoped to one publish call. Adapters that prepare content before posting
// record it here so a later step in the same run does not redo the work.
type RunState struct {
	mu       sync.Mutex
	prepared map[string]interface{}
}

func NewRunState() *RunState {
	return &RunState{prepared: make(map[string]interface{})}
}

// Prepared returns what was stored for key during this run.
func (r *RunState) Prepared(key string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.prepared[key]
	return v, ok
}

func (r *RunState) MarkPrepared(key string, v interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.prepared[key] = v
	r.mu.Unlock()
}

type runStateKey struct{}

func WithRunState(ctx context.Context, rs *RunState) context.Context {
	return context.WithValue(ctx, runStateKey{}, rs)
}

// RunStateFrom returns the run state carried by ctx, or nil outside a publish call.
func RunStateFrom(ctx context.Context) *RunState {
	rs, _ := ctx.Value(runStateKey{}).(*RunState)
	return rs
}

// PublishEvent is emitted after a publish call finishes.
type PublishEvent struct {
	IntegrationID string         `json:"integration_id"`
	Provider      string         `json:"provider"`
	Responses     []PostResponse `json:"responses"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// Succeeded reports whether the primary post went out.
func (e PublishEvent) Succeeded() bool {
	return len(e.Responses) > 0 && e.Responses[0].Status.Succeeded()
}
