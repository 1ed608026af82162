// Package timerwheel implements the Timer Wheel: arm/cancel/list,
// recurring re-arm computed from the previous scheduled fire time (not
// wall-clock now, to avoid cumulative drift), and an optional
// storage-adapter persistence hook.
package timerwheel

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamicek/ruleengine/internal/clock"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/ruleerr"
)

// FireHandler is invoked when a timer fires. It is called on whatever
// goroutine the underlying clock runs its callback on — real deployments
// wire this to enqueue a TimerFired notification onto the engine's
// dispatch queue rather than acting on engine state directly, so the
// single-writer dispatch loop remains the only mutator of rule state.
type FireHandler func(model.Timer)

// Persister is the subset of a storage adapter the wheel needs to
// survive a restart. Wiring one is optional; a nil Persister means
// armed timers do not survive a process restart.
type Persister interface {
	SaveTimers(timers []model.Timer) error
	LoadTimers() ([]model.Timer, error)
}

type armed struct {
	timer   model.Timer
	handle  clock.Timer
}

// Wheel is the engine's Timer Wheel.
type Wheel struct {
	mu        sync.Mutex
	clk       clock.Clock
	handler   FireHandler
	persister Persister
	timers    map[string]*armed
}

// New creates a Wheel. handler must not be nil; persister may be nil.
func New(clk clock.Clock, handler FireHandler, persister Persister) *Wheel {
	return &Wheel{clk: clk, handler: handler, persister: persister, timers: make(map[string]*armed)}
}

// Start reloads any persisted armed set and re-arms each timer in the
// order LoadTimers returns them; timers whose fire time has already
// elapsed are scheduled with zero delay. The wheel's own snapshots are
// written in map order, so arming order is not preserved across a
// restart.
func (w *Wheel) Start() error {
	if w.persister == nil {
		return nil
	}
	loaded, err := w.persister.LoadTimers()
	if err != nil {
		return ruleerr.ServiceUnavailable("timer wheel: loading persisted timers", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range loaded {
		w.scheduleLocked(t, false)
	}
	return nil
}

// Arm schedules name to fire at fireAtMs. If name is already armed, the
// prior arming is cancelled and replaced.
func (w *Wheel) Arm(name string, fireAtMs int64, intervalMs int64, ruleID string, context map[string]any) error {
	if strings.TrimSpace(name) == "" {
		return ruleerr.BadRequest("timer name must not be empty", nil)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.timers[name]; ok {
		existing.handle.Stop()
		delete(w.timers, name)
	}

	t := model.Timer{Name: name, FireAt: fireAtMs, IntervalMs: intervalMs, RuleID: ruleID, Context: context}
	w.scheduleLocked(t, true)
	return nil
}

// Cancel stops a pending timer. Returns false if name was not armed.
func (w *Wheel) Cancel(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	existing, ok := w.timers[name]
	if !ok {
		return false
	}
	existing.handle.Stop()
	delete(w.timers, name)
	w.persistLocked()
	return true
}

// List returns every currently armed timer, ordered by fireAt then name.
func (w *Wheel) List() []model.Timer {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Timer, 0, len(w.timers))
	for _, a := range w.timers {
		out = append(out, a.timer)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt != out[j].FireAt {
			return out[i].FireAt < out[j].FireAt
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// scheduleLocked installs t into the wheel and arms its clock callback.
// Must be called with w.mu held.
func (w *Wheel) scheduleLocked(t model.Timer, persist bool) {
	delay := t.FireAt - w.clk.Now().UnixMilli()
	if delay < 0 {
		delay = 0
	}
	a := &armed{timer: t}
	a.handle = w.clk.AfterFunc(time.Duration(delay)*time.Millisecond, func() { w.fire(t.Name) })
	w.timers[t.Name] = a
	if persist {
		w.persistLocked()
	}
}

func (w *Wheel) fire(name string) {
	w.mu.Lock()
	a, ok := w.timers[name]
	if !ok {
		w.mu.Unlock()
		return
	}
	fired := a.timer
	delete(w.timers, name)

	if fired.IntervalMs > 0 {
		next := fired
		next.FireAt = fired.FireAt + fired.IntervalMs
		w.scheduleLocked(next, false)
	}
	w.persistLocked()
	w.mu.Unlock()

	w.handler(fired)
}

// persistLocked snapshots the armed set to the configured persister.
// Must be called with w.mu held. Failures are swallowed here since
// persistence is an optional durability aid, not correctness-critical
// for a running process; callers that need the error use Start's return
// value to detect a broken persister at startup instead.
func (w *Wheel) persistLocked() {
	if w.persister == nil {
		return
	}
	snapshot := make([]model.Timer, 0, len(w.timers))
	for _, a := range w.timers {
		snapshot = append(snapshot, a.timer)
	}
	_ = w.persister.SaveTimers(snapshot)
}
