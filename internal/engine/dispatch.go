package engine

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/hamicek/ruleengine/internal/action"
	"github.com/hamicek/ruleengine/internal/bindctx"
	"github.com/hamicek/ruleengine/internal/condition"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/ruleerr"
	"github.com/hamicek/ruleengine/internal/temporal"
)

// idleDepth is currentDepth's value outside of notification processing,
// so a notification produced by external ingress (Submit/Emit called
// directly, not nested inside a firing) starts its causal chain at
// depth 0 rather than inheriting a stale depth from the last
// notification processed.
const idleDepth = -1

// onEventEmitted is wired as the Event Bus's Dispatcher: every emitted
// event, whether from external ingress or a rule's emitEvent action,
// funnels through here before the bus's ordinary subscribers see it.
func (e *Engine) onEventEmitted(ev model.Event) {
	e.enqueueBounded(notification{kind: notifyEvent, event: &ev})
}

// onFactChanged is wired as the Fact Store's Listener.
func (e *Engine) onFactChanged(fc model.FactChange) {
	e.enqueueBounded(notification{kind: notifyFactChanged, factChange: &fc})
}

// onTimerFired is wired as the Timer Wheel's FireHandler.
func (e *Engine) onTimerFired(t model.Timer) {
	e.enqueueBounded(notification{kind: notifyTimerFired, timer: &t})
}

// enqueueBounded stamps n with the next causal depth and enqueues it,
// dropping it instead if doing so would exceed maxCausationDepth. This
// is the causation-depth guard: it aborts only the offending chain,
// never the firing that produced it (state mutations already applied
// by that firing's actions stand) and never the engine as a whole.
func (e *Engine) enqueueBounded(n notification) {
	n.depth = e.currentDepth + 1
	if n.depth >= e.maxCausationDepth {
		e.metrics.Counter("rule.causation.exceeded", nil)
		e.log.Error("dropping notification: causation depth exceeded",
			"kind", ruleerr.KindInternal, "depth", n.depth, "max", e.maxCausationDepth, "stack", string(debug.Stack()))
		return
	}
	e.q.enqueue(n)
}

// Run starts the single-writer dispatch loop. Blocks until ctx is
// cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.currentDepth = idleDepth
	cleanupTicker := time.NewTicker(e.temporalCleanupInterval)
	defer cleanupTicker.Stop()

	for {
		n, ok := e.q.tryDequeue()
		if ok {
			e.processNotification(ctx, n)
			e.currentDepth = idleDepth
			continue
		}

		select {
		case <-ctx.Done():
			e.q.close()
			return ctx.Err()
		case <-cleanupTicker.C:
			// no sweep runs here: count/aggregate buckets and sequence
			// instances expire lazily on the rule's next OnEvent call,
			// and absence windows end when their timer fires or is
			// cancelled.
		case _, open := <-e.q.wait():
			if !open && e.q.len() == 0 {
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine, causing Run to return once
// every already-queued notification has drained.
func (e *Engine) Stop() {
	e.q.close()
	e.wg.Wait()
}

// Drain processes every notification currently queued, synchronously
// on the calling goroutine, without requiring Run to be active. It
// exists for callers that drive the engine step by step against a
// fake clock — tests and the scenario harness — rather than running
// the production dispatch loop. Not safe to call concurrently with Run.
func (e *Engine) Drain(ctx context.Context) {
	e.currentDepth = idleDepth
	for {
		n, ok := e.q.tryDequeue()
		if !ok {
			return
		}
		e.processNotification(ctx, n)
		e.currentDepth = idleDepth
	}
}

// processNotification routes one dequeued notification to its matching
// rules, evaluates each, and fires the ones whose conditions hold.
// Called only from Run's goroutine.
func (e *Engine) processNotification(ctx context.Context, n notification) {
	e.currentDepth = n.depth

	switch n.kind {
	case notifyEvent:
		e.dispatchEvent(ctx, *n.event)
	case notifyFactChanged:
		e.dispatchFactChange(ctx, *n.factChange)
	case notifyTimerFired:
		e.dispatchTimerFired(ctx, *n.timer)
	case notifyTemporalMatched:
		e.dispatchTemporalMatch(ctx, *n.temporal)
	}
}

func (e *Engine) dispatchEvent(ctx context.Context, ev model.Event) {
	ids := e.index.MatchEvent(ev.Topic)
	rules := e.resolveCandidates(ids)

	for _, rule := range rules {
		switch rule.Trigger.Kind {
		case model.TriggerEvent:
			bc := bindctx.Context{Event: &ev, Facts: e.facts, Lookups: e.lookups, Baselines: e.baselines}
			e.evaluateAndFire(ctx, rule, bc, ev.CorrelationID, ev.ID)
		case model.TriggerTemporal:
			if rule.Trigger.Temporal == nil {
				continue
			}
			matches := e.temporal.OnEvent(rule.ID, *rule.Trigger.Temporal, ev)
			for _, m := range matches {
				e.metrics.Counter("temporal.match", map[string]string{"rule": rule.ID})
				mCopy := m
				e.enqueueBounded(notification{kind: notifyTemporalMatched, temporal: &mCopy})
			}
		}
	}
}

func (e *Engine) dispatchFactChange(ctx context.Context, fc model.FactChange) {
	ids := e.index.MatchFact(fc.Key)
	rules := e.resolveCandidates(ids)

	for _, rule := range rules {
		if rule.Trigger.Kind != model.TriggerFact {
			continue
		}
		bc := bindctx.Context{FactChange: &fc, Facts: e.facts, Lookups: e.lookups, Baselines: e.baselines}
		e.evaluateAndFire(ctx, rule, bc, "", "")
	}
}

func (e *Engine) dispatchTimerFired(ctx context.Context, t model.Timer) {
	for _, m := range e.temporal.OnTimerFired(t.Name) {
		e.metrics.Counter("temporal.match", map[string]string{"rule": m.RuleID})
		mCopy := m
		e.enqueueBounded(notification{kind: notifyTemporalMatched, temporal: &mCopy})
	}

	ids := e.index.MatchTimer(t.Name)
	rules := e.resolveCandidates(ids)
	for _, rule := range rules {
		if rule.Trigger.Kind != model.TriggerTimer {
			continue
		}
		timerCtx := map[string]any{"name": t.Name, "ruleId": t.RuleID}
		for k, v := range t.Context {
			timerCtx[k] = v
		}
		bc := bindctx.Context{TimerContext: timerCtx, Facts: e.facts, Lookups: e.lookups, Baselines: e.baselines}
		e.evaluateAndFire(ctx, rule, bc, "", "")
	}
}

func (e *Engine) dispatchTemporalMatch(ctx context.Context, m temporal.Match) {
	rule, ok := e.registry.Get(m.RuleID)
	if !ok || !rule.Enabled || !e.registry.GroupEnabled(rule) {
		return
	}
	bc := bindctx.Context{
		Ambient:   map[string]any{"group": m.Group},
		Bindings:  m.Bindings,
		Facts:     e.facts,
		Lookups:   e.lookups,
		Baselines: e.baselines,
	}
	e.evaluateAndFire(ctx, rule, bc, m.CorrelationID, m.CausationID)
}

// resolveCandidates looks up every id, drops unknown/disabled/
// group-disabled rules, and orders the survivors by priority
// descending, registration order breaking ties (earlier wins).
func (e *Engine) resolveCandidates(ids []string) []model.Rule {
	if len(ids) == 0 {
		return nil
	}
	order := e.registrationOrder()

	rules := make([]model.Rule, 0, len(ids))
	for _, id := range ids {
		rule, ok := e.registry.Get(id)
		if !ok || !rule.Enabled || !e.registry.GroupEnabled(rule) {
			continue
		}
		rules = append(rules, rule)
	}

	sortRulesByPriority(rules, order)
	return rules
}

func (e *Engine) registrationOrder() map[string]int {
	list := e.registry.List()
	order := make(map[string]int, len(list))
	for i, r := range list {
		order[r.ID] = i
	}
	return order
}

func sortRulesByPriority(rules []model.Rule, order map[string]int) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rulesLess(rules[j], rules[j-1], order); j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// rulesLess reports whether a should fire before b: higher priority
// first, registration order breaking ties.
func rulesLess(a, b model.Rule, order map[string]int) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return order[a.ID] < order[b.ID]
}

// evaluateAndFire compiles (from cache) and evaluates rule's
// conditions against bc, firing its actions if they hold. The actions
// run under a context bounded by the rule timeout; condition
// evaluation itself is not bounded.
func (e *Engine) evaluateAndFire(ctx context.Context, rule model.Rule, bc bindctx.Context, correlationID, causationID string) {
	compiled, err := e.compiledFor(rule)
	if err != nil {
		e.log.Error("condition compile failed", "rule", rule.ID, "error", err)
		return
	}

	start := e.clk.Now()
	matched, err := compiled.Eval(bc)
	e.metrics.Observe("rule.evaluation.duration", float64(e.clk.Now().Sub(start).Milliseconds()), map[string]string{"rule": rule.ID})
	if err != nil {
		e.log.Error("condition evaluation failed", "rule", rule.ID, "error", err)
		return
	}
	if !matched {
		return
	}
	e.metrics.Counter("rule.matched", map[string]string{"rule": rule.ID})

	if hasWebhook(rule.Actions) {
		e.fireOnPool(ctx, rule, bc, correlationID, causationID)
		return
	}
	e.fireInline(ctx, rule, bc, correlationID, causationID)
}

// fireInline runs rule's actions synchronously on the dispatch loop,
// bounded by its own timeout context so a stuck inline action cannot
// wedge the loop forever.
func (e *Engine) fireInline(ctx context.Context, rule model.Rule, bc bindctx.Context, correlationID, causationID string) {
	fireCtx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
	defer cancel()
	results := e.inlineActions.Run(fireCtx, rule.Actions, bc, rule.ID, correlationID, causationID)
	e.recordActionResults(rule.ID, results)
}

// fireOnPool dispatches a webhook-bearing firing's actions onto the
// bounded worker pool so the main dispatch loop never blocks on an
// outbound HTTP call. The goroutine is spawned unconditionally so the
// dispatch loop never waits here; the webhookWorkers-wide semaphore is
// acquired inside it instead, bounding how many run concurrently
// without bounding how many may be queued up waiting their turn.
// Actions still run in the rule's declared order within that one
// firing; only the firing itself runs off-loop. The timeout context is
// built inside the goroutine, not the caller, since the caller returns
// (and would otherwise cancel it) as soon as the goroutine is launched.
func (e *Engine) fireOnPool(ctx context.Context, rule model.Rule, bc bindctx.Context, correlationID, causationID string) {
	e.metrics.Counter("rule.matched.async", map[string]string{"rule": rule.ID})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case e.webhookSem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-e.webhookSem }()

		fireCtx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
		defer cancel()
		results := e.poolActions.Run(fireCtx, rule.Actions, bc, rule.ID, correlationID, causationID)
		e.recordActionResults(rule.ID, results)
	}()
}

func (e *Engine) recordActionResults(ruleID string, results []action.Result) {
	fired := true
	for _, r := range results {
		if r.Success {
			e.metrics.Counter("action.executed", map[string]string{"rule": ruleID, "action": string(r.Kind)})
		} else {
			fired = false
			e.metrics.Counter("action.failed", map[string]string{"rule": ruleID, "action": string(r.Kind)})
			e.log.Warn("action failed", "rule", ruleID, "kind", r.Kind, "error", r.Error)
		}
	}
	if fired {
		e.metrics.Counter("rule.fired", map[string]string{"rule": ruleID})
	}
}

func hasWebhook(actions []model.Action) bool {
	for _, a := range actions {
		if a.Kind == model.ActionCallWebhook {
			return true
		}
	}
	return false
}

// compiledFor returns rule's compiled condition tree, recompiling and
// refreshing the cache if the rule has been updated (its version moved
// on) since the last compile.
func (e *Engine) compiledFor(rule model.Rule) (*condition.Compiled, error) {
	e.compiledMu.Lock()
	defer e.compiledMu.Unlock()

	if c, ok := e.compiled[rule.ID]; ok && e.compiledAt[rule.ID] == rule.Version {
		return c, nil
	}

	c, err := condition.Compile(rule.Conditions)
	if err != nil {
		return nil, err
	}
	e.compiled[rule.ID] = c
	e.compiledAt[rule.ID] = rule.Version
	return c, nil
}
