// Package action implements the Action Executor: sequential execution
// of a rule's actions within a single firing, template expansion of
// every string field against the binding context, and webhook retry
// with exponential backoff. A failing action is captured in its result
// record; it never short-circuits the actions after it.
package action

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/hamicek/ruleengine/internal/bindctx"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/pathutil"
)

// FactWriter is the Fact Store surface setFact/deleteFact need.
type FactWriter interface {
	Set(key string, value any) (model.Fact, error)
	Delete(key string) bool
}

// EventEmitter is the Event Bus surface emitEvent needs.
type EventEmitter interface {
	EmitCorrelated(topic string, data map[string]any, correlationID, causationID string) model.Event
}

// TimerArmer is the Timer Wheel surface startTimer/cancelTimer need.
type TimerArmer interface {
	Arm(name string, fireAtMs int64, intervalMs int64, ruleID string, context map[string]any) error
	Cancel(name string) bool
}

// Logger receives log actions. Production wiring points this at the
// engine's structured logger.
type Logger interface {
	Log(level, message string)
}

// WebhookDoer performs one webhook HTTP call. The production
// implementation wraps *http.Client; tests substitute a fake.
type WebhookDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy configures callWebhook's retry behavior.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	JitterFrac  float64 // e.g. 0.25 for ±25%
}

// DefaultRetryPolicy matches the spec's stated defaults.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, Factor: 2, JitterFrac: 0.25}

// Result captures the outcome of one executed action.
type Result struct {
	Kind     model.ActionKind
	Success  bool
	Error    string
	Attempts int
}

// Executor runs a rule's actions sequentially.
type Executor struct {
	Facts   FactWriter
	Events  EventEmitter
	Timers  TimerArmer
	Log     Logger
	Webhook WebhookDoer
	Now     func() time.Time
	Retry   RetryPolicy
	Rand    *rand.Rand
}

// New builds an Executor with DefaultRetryPolicy and its own random
// source for jitter, seeded with 1.
func New(facts FactWriter, events EventEmitter, timers TimerArmer, log Logger, webhook WebhookDoer, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		Facts: facts, Events: events, Timers: timers, Log: log, Webhook: webhook,
		Now: now, Retry: DefaultRetryPolicy, Rand: rand.New(rand.NewSource(1)),
	}
}

// Run executes every action in declared order, returning one Result per
// action. ruleID and correlation/causation ids are threaded through for
// emitEvent/startTimer actions.
func (e *Executor) Run(ctx context.Context, actions []model.Action, bc bindctx.Context, ruleID, correlationID, causationID string) []Result {
	results := make([]Result, len(actions))
	for i, a := range actions {
		results[i] = e.runOne(ctx, a, bc, ruleID, correlationID, causationID)
	}
	return results
}

func (e *Executor) runOne(ctx context.Context, a model.Action, bc bindctx.Context, ruleID, correlationID, causationID string) Result {
	expanded := expandAction(a, bc)
	switch expanded.Kind {
	case model.ActionSetFact:
		if _, err := e.Facts.Set(expanded.Key, expanded.Value); err != nil {
			return fail(expanded.Kind, err)
		}
		return ok(expanded.Kind, 1)
	case model.ActionDeleteFact:
		e.Facts.Delete(expanded.Key)
		return ok(expanded.Kind, 1)
	case model.ActionEmitEvent:
		e.Events.EmitCorrelated(expanded.Topic, expanded.Data, correlationID, causationID)
		return ok(expanded.Kind, 1)
	case model.ActionStartTimer:
		fireAt := e.Now().Add(time.Duration(expanded.DurationMs) * time.Millisecond).UnixMilli()
		var interval int64
		if expanded.Recurring {
			interval = expanded.DurationMs
		}
		if err := e.Timers.Arm(expanded.Name, fireAt, interval, ruleID, bc.Bindings); err != nil {
			return fail(expanded.Kind, err)
		}
		return ok(expanded.Kind, 1)
	case model.ActionCancelTimer:
		e.Timers.Cancel(expanded.Name)
		return ok(expanded.Kind, 1)
	case model.ActionCallWebhook:
		return e.callWebhook(ctx, expanded)
	case model.ActionLog:
		if e.Log != nil {
			e.Log.Log(expanded.Level, expanded.Message)
		}
		return ok(expanded.Kind, 1)
	default:
		return fail(expanded.Kind, fmt.Errorf("unsupported action kind %q", expanded.Kind))
	}
}

func ok(kind model.ActionKind, attempts int) Result {
	return Result{Kind: kind, Success: true, Attempts: attempts}
}

func fail(kind model.ActionKind, err error) Result {
	return Result{Kind: kind, Success: false, Error: err.Error(), Attempts: 1}
}

// expandAction applies {{path}} template expansion to every string
// field an action kind uses, against bc's template root.
func expandAction(a model.Action, bc bindctx.Context) model.Action {
	root := bc.AsTemplateRoot()
	out := a
	out.Key = pathutil.Expand(a.Key, root)
	out.Topic = pathutil.Expand(a.Topic, root)
	out.Name = pathutil.Expand(a.Name, root)
	out.URL = pathutil.Expand(a.URL, root)
	out.Method = pathutil.Expand(a.Method, root)
	out.Level = pathutil.Expand(a.Level, root)
	out.Message = pathutil.Expand(a.Message, root)
	if s, isStr := a.Value.(string); isStr {
		out.Value = pathutil.Expand(s, root)
	}
	if a.Data != nil {
		out.Data = expandMap(a.Data, root)
	}
	if a.Body != nil {
		out.Body = expandMap(a.Body, root)
	}
	if a.Headers != nil {
		headers := make(map[string]string, len(a.Headers))
		for k, v := range a.Headers {
			headers[k] = pathutil.Expand(v, root)
		}
		out.Headers = headers
	}
	return out
}

func expandMap(m map[string]any, root any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = pathutil.Expand(val, root)
		case map[string]any:
			out[k] = expandMap(val, root)
		default:
			out[k] = v
		}
	}
	return out
}
