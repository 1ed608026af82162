// Package harness drives complete rule-engine scenarios end to end —
// registering rules, seeding facts/lookups/baselines, driving events,
// timers, and the clock in order, then asserting on the settled fact
// store and the metrics trace. It exists so a rule's full trigger-
// through-action behavior can be exercised and golden-compared without
// a caller hand-wiring an Engine and a drain loop for every test.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/hamicek/ruleengine/internal/clock"
	"github.com/hamicek/ruleengine/internal/engine"
)

// Run executes scenario against a fresh engine and returns the
// outcome. The engine never starts its background Run loop — each
// step is applied and then drained synchronously, so execution is
// fully deterministic and requires no fake-clock polling.
func Run(scenario *Scenario) (*Result, error) {
	clk := clock.NewFake(time.Unix(0, 0))
	sink := newRecordingSink()
	e := engine.New(engine.WithClock(clk), engine.WithMetricsSink(sink), engine.WithName(scenario.Name))

	ctx := context.Background()
	for _, rule := range scenario.Rules {
		if _, err := e.RegisterRule(ctx, rule); err != nil {
			return nil, fmt.Errorf("register rule %s: %w", rule.ID, err)
		}
	}
	for key, value := range scenario.SeedFacts {
		if _, err := e.Facts().Set(key, value); err != nil {
			return nil, fmt.Errorf("seed fact %s: %w", key, err)
		}
	}
	for name, fn := range scenario.SeedLookups {
		e.Lookups().Register(name, fn)
	}
	for metric, values := range scenario.SeedBaselines {
		for _, v := range values {
			e.Baselines().Record(metric, v)
		}
	}
	e.Drain(ctx) // settle seed-time fact listeners before driving steps

	for _, step := range scenario.Steps {
		switch {
		case step.Emit != nil:
			e.Events().Emit(step.Emit.Topic, step.Emit.Data)
		case step.ArmTimer != nil:
			at := step.ArmTimer
			fireAt := clk.Now().Add(time.Duration(at.DelayMs) * time.Millisecond).UnixMilli()
			if err := e.Timers().Arm(at.Name, fireAt, at.IntervalMs, at.RuleID, at.Context); err != nil {
				return nil, fmt.Errorf("arm timer %s: %w", at.Name, err)
			}
		case step.Advance > 0:
			clk.Advance(step.Advance)
		case step.SetFact != nil:
			if _, err := e.Facts().Set(step.SetFact.Key, step.SetFact.Value); err != nil {
				return nil, fmt.Errorf("set fact %s: %w", step.SetFact.Key, err)
			}
		case step.RecordMetric != nil:
			e.Baselines().Record(step.RecordMetric.Metric, step.RecordMetric.Value)
		}
		e.Drain(ctx)
	}

	result := newResult()
	result.Trace = sink.snapshot()
	for _, f := range e.Facts().All() {
		result.Facts[f.Key] = f.Value
	}

	for _, exp := range scenario.Expect {
		applyExpectation(result, e, sink, exp)
	}
	return result, nil
}

func applyExpectation(result *Result, e *engine.Engine, sink *recordingSink, exp Expectation) {
	switch {
	case exp.FactEquals != nil:
		f, ok := e.Facts().Get(exp.FactEquals.Key)
		if !ok {
			result.fail(fmt.Sprintf("expected fact %q to be set", exp.FactEquals.Key))
			return
		}
		if !equalValue(f.Value, exp.FactEquals.Value) {
			result.fail(fmt.Sprintf("fact %q = %v, want %v", exp.FactEquals.Key, f.Value, exp.FactEquals.Value))
		}
	case exp.FactAbsent != "":
		if _, ok := e.Facts().Get(exp.FactAbsent); ok {
			result.fail(fmt.Sprintf("expected fact %q to be absent", exp.FactAbsent))
		}
	case exp.MetricAtLeast != nil:
		got := sink.count(exp.MetricAtLeast.Metric, exp.MetricAtLeast.Labels)
		if got < exp.MetricAtLeast.Count {
			result.fail(fmt.Sprintf("metric %q = %v, want at least %v", exp.MetricAtLeast.Metric, got, exp.MetricAtLeast.Count))
		}
	}
}

func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
