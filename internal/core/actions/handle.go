package actions

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/entsim/internal/core/entities"
)

// Action is the unit of scheduled work. A returned error or a panic is
// recorded on the action's handle and does not affect other actions.
type Action func(ctx *Context) error

// Handle tracks a scheduled action.
type Handle struct {
	id     uuid.UUID
	seq    uint64
	action Action
	entity *entities.Entity
	period time.Duration
	engine *Engine

	// guarded by engine.mu
	nextRun time.Time
	lastDue time.Time

	cancelled atomic.Bool
	done      atomic.Bool
	runs      atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

func (h *Handle) ID() uuid.UUID {
	return h.id
}

func (h *Handle) Entity() *entities.Entity {
	return h.entity
}

// Period is the interval between runs, zero for one-shot actions.
func (h *Handle) Period() time.Duration {
	return h.period
}

func (h *Handle) IsPeriodic() bool {
	return h.period > 0
}

// Cancel unschedules the action. A run already in progress completes. It
// reports whether this call cancelled the action.
func (h *Handle) Cancel() bool {
	if !h.cancelled.CompareAndSwap(false, true) {
		return false
	}
	h.engine.unschedule(h)
	return true
}

func (h *Handle) IsCancelled() bool {
	return h.cancelled.Load()
}

// IsDone reports whether the action will never run again, because it was a
// one-shot that ran or because it was cancelled.
func (h *Handle) IsDone() bool {
	return h.done.Load()
}

// Runs counts completed executions, failed ones included.
func (h *Handle) Runs() uint64 {
	return h.runs.Load()
}

// LastError returns the failure of the most recent run, nil if it succeeded.
func (h *Handle) LastError() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.lastErr
}

func (h *Handle) record(err error) {
	h.errMu.Lock()
	h.lastErr = err
	h.errMu.Unlock()
	h.runs.Add(1)
}
