// Package engine implements the Engine Scheduler: the single logical
// dispatch queue that processes EventEmitted, FactChanged, TimerFired,
// and TemporalPatternMatched notifications strictly sequentially,
// evaluating and firing rules against them. It owns the Fact Store,
// Event Bus, Timer Wheel, Rule Registry, Pattern Index, and Temporal
// Matcher, wiring each component's notification callback onto its own
// dispatch queue rather than letting components call back into engine
// state directly — this avoids re-entrant locks (see each component's
// Dispatcher/Listener/FireHandler doc comments).
package engine

import (
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/hamicek/ruleengine/internal/action"
	"github.com/hamicek/ruleengine/internal/baseline"
	"github.com/hamicek/ruleengine/internal/bindctx"
	"github.com/hamicek/ruleengine/internal/clock"
	"github.com/hamicek/ruleengine/internal/condition"
	"github.com/hamicek/ruleengine/internal/eventbus"
	"github.com/hamicek/ruleengine/internal/factstore"
	"github.com/hamicek/ruleengine/internal/lookup"
	"github.com/hamicek/ruleengine/internal/metrics"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/patternindex"
	"github.com/hamicek/ruleengine/internal/registry"
	"github.com/hamicek/ruleengine/internal/storage"
	"github.com/hamicek/ruleengine/internal/temporal"
	"github.com/hamicek/ruleengine/internal/timerwheel"
)

// DefaultMaxCausationDepth bounds a single causal chain's nested
// notifications; exceeding it drops the offending notification rather
// than looping forever.
const DefaultMaxCausationDepth = 32

// DefaultRuleTimeout is the deadline of the context a firing's actions
// run under, inline or on the webhook pool. Condition evaluation is not
// bounded by it, and no rule.timeout metric is recorded.
const DefaultRuleTimeout = 5 * time.Second

// DefaultWebhookWorkers bounds how many callWebhook-bearing firings run
// concurrently off the main dispatch loop.
const DefaultWebhookWorkers = 8

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithName sets the engine identifier used in metrics labels.
func WithName(name string) Option { return func(e *Engine) { e.name = name } }

// WithMaxCausationDepth overrides DefaultMaxCausationDepth.
func WithMaxCausationDepth(n int) Option { return func(e *Engine) { e.maxCausationDepth = n } }

// WithDefaultRuleTimeout overrides DefaultRuleTimeout.
func WithDefaultRuleTimeout(d time.Duration) Option { return func(e *Engine) { e.ruleTimeout = d } }

// WithWebhookRetryPolicy overrides the Action Executor's webhook retry
// policy (applies to both the inline and worker-pool executors).
func WithWebhookRetryPolicy(p action.RetryPolicy) Option {
	return func(e *Engine) {
		e.inlineActions.Retry = p
		e.poolActions.Retry = p
	}
}

// WithTemporalCleanupInterval sets the period of Run's cleanup ticker.
// The ticker performs no sweep: temporal windows expire lazily when the
// rule's next event reaches the Temporal Matcher.
func WithTemporalCleanupInterval(d time.Duration) Option {
	return func(e *Engine) { e.temporalCleanupInterval = d }
}

// WithStorageAdapter sets the adapter used for rule and version-history
// persistence.
func WithStorageAdapter(a storage.Adapter) Option { return func(e *Engine) { e.ruleStorage = a } }

// WithTimerStorageAdapter sets the Timer Wheel's persister.
func WithTimerStorageAdapter(p timerwheel.Persister) Option {
	return func(e *Engine) { e.timerPersister = p }
}

// WithMetricsSink overrides the no-op default metrics sink.
func WithMetricsSink(sink metrics.Sink) Option { return func(e *Engine) { e.metrics = sink } }

// WithWebhookDoer overrides the *http.Client-backed default, for tests.
func WithWebhookDoer(doer action.WebhookDoer) Option {
	return func(e *Engine) {
		e.inlineActions.Webhook = doer
		e.poolActions.Webhook = doer
	}
}

// WithClock overrides the production wall clock, for deterministic tests.
func WithClock(clk clock.Clock) Option { return func(e *Engine) { e.clk = clk } }

// WithWebhookWorkers overrides DefaultWebhookWorkers.
func WithWebhookWorkers(n int) Option { return func(e *Engine) { e.webhookWorkers = n } }

// WithBaselineWindow overrides baseline.DefaultWindow for the engine's
// built-in baseline tracker.
func WithBaselineWindow(n int) Option { return func(e *Engine) { e.baselineWindow = n } }

// Engine is the rule engine's single-writer scheduler.
type Engine struct {
	name string
	log  *slog.Logger

	clk     clock.Clock
	metrics metrics.Sink

	facts    *factstore.Store
	events   *eventbus.Bus
	timers   *timerwheel.Wheel
	index    *patternindex.Index
	registry *registry.Registry
	temporal *temporal.Matcher

	inlineActions *action.Executor
	poolActions   *action.Executor

	lookups   *lookup.Registry
	baselines *baseline.Tracker

	compiledMu sync.Mutex
	compiled   map[string]*condition.Compiled // ruleID -> compiled conditions, keyed to version
	compiledAt map[string]int64               // ruleID -> version the cached Compiled was built from

	ruleStorage    storage.Adapter
	timerPersister timerwheel.Persister

	maxCausationDepth       int
	ruleTimeout             time.Duration
	temporalCleanupInterval time.Duration
	webhookWorkers          int
	baselineWindow          int

	q            *queue
	currentDepth int // valid only while processing a notification, single-writer

	webhookSem chan struct{}
	wg         sync.WaitGroup
}

// New builds an Engine wired from scratch: a fresh Fact Store, Event
// Bus, Timer Wheel, Pattern Index, Rule Registry, and Temporal Matcher,
// all routed through the engine's own dispatch queue.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:                     slog.Default(),
		clk:                     clock.NewReal(),
		metrics:                 metrics.NoOp{},
		maxCausationDepth:       DefaultMaxCausationDepth,
		ruleTimeout:             DefaultRuleTimeout,
		temporalCleanupInterval: time.Second,
		webhookWorkers:          DefaultWebhookWorkers,
		q:                       newQueue(),
		currentDepth:            idleDepth,
		inlineActions:           action.New(nil, nil, nil, nil, &http.Client{Timeout: 10 * time.Second}, nil),
		poolActions:             action.New(nil, nil, nil, nil, &http.Client{Timeout: 10 * time.Second}, nil),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.webhookSem = make(chan struct{}, e.webhookWorkers)
	e.compiled = make(map[string]*condition.Compiled)
	e.compiledAt = make(map[string]int64)

	now := func() time.Time { return e.clk.Now() }
	e.facts = factstore.New(now)
	e.events = eventbus.New(nil, now, nil)
	e.events.SetDispatcher(dispatcherFunc(e.onEventEmitted))
	e.timers = timerwheel.New(e.clk, e.onTimerFired, e.timerPersister)
	e.index = patternindex.New()
	e.temporal = temporal.New(e.clk, e.timers)
	e.registry = registry.New(e.index, e.temporal, now)
	e.facts.Subscribe(e.onFactChanged)

	e.lookups = lookup.New()
	e.baselines = baseline.New(e.baselineWindow)

	// The executors exist before the options run (webhook options set
	// their fields); their collaborators are wired in here.
	for _, ex := range []*action.Executor{e.inlineActions, e.poolActions} {
		ex.Facts, ex.Events, ex.Timers, ex.Log, ex.Now = e.facts, e.events, e.timers, slogLogger{e.log}, now
	}
	e.poolActions.Rand = rand.New(rand.NewSource(2))

	return e
}

// dispatcherFunc adapts a plain func to eventbus.Dispatcher.
type dispatcherFunc func(model.Event)

func (f dispatcherFunc) Dispatch(ev model.Event) { f(ev) }

// slogLogger adapts *slog.Logger to action.Logger.
type slogLogger struct{ log *slog.Logger }

func (l slogLogger) Log(level, message string) {
	switch level {
	case "debug":
		l.log.Debug(message)
	case "warn":
		l.log.Warn(message)
	case "error":
		l.log.Error(message)
	default:
		l.log.Info(message)
	}
}

// Facts returns the Fact Store, for external reads (API handlers take
// read snapshots; writes must go through a registered rule's actions
// or Submit, never this accessor directly, to preserve ordering).
func (e *Engine) Facts() *factstore.Store { return e.facts }

// Events returns the Event Bus, primarily so external ingress can call
// Emit/EmitCorrelated to submit events into the dispatch queue.
func (e *Engine) Events() *eventbus.Bus { return e.events }

// Timers returns the Timer Wheel for inspection (List) by operator tooling.
func (e *Engine) Timers() *timerwheel.Wheel { return e.timers }

// Registry returns the Rule Registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Index returns the Pattern Index, for operator inspection.
func (e *Engine) Index() *patternindex.Index { return e.index }

// Lookups returns the engine's lookup registry, so external wiring can
// register named lookup functions before rules reference them.
func (e *Engine) Lookups() *lookup.Registry { return e.lookups }

// Baselines returns the engine's baseline tracker, so external
// observers can feed metric samples via Record before rules with a
// baseline{} condition source evaluate.
func (e *Engine) Baselines() *baseline.Tracker { return e.baselines }
