// Package bindctx defines the binding context the Condition Evaluator,
// Action Executor, and Temporal Matcher all read from: the triggering
// event/fact-change/timer-context, an ambient key/value scope, and
// narrow read interfaces onto the Fact Store, the lookup registry, and
// baseline statistics — narrow so this package (and its callers) never
// need to import the concrete Fact Store or registry implementations.
package bindctx

import "github.com/hamicek/ruleengine/internal/model"

// FactReader is the Fact Store surface a fact{pattern} source needs.
type FactReader interface {
	FirstMatch(pattern string) (model.Fact, bool)
}

// LookupProvider resolves a named external lookup to a result value,
// typically a map[string]any a lookup{name, field} source then indexes
// into.
type LookupProvider interface {
	Lookup(name string) (any, bool)
}

// BaselineProvider supplies rolling-baseline statistics for a metric,
// backing baseline{metric, comparison, sensitivity} sources.
type BaselineProvider interface {
	Baseline(metric string) (mean, stddev float64, ok bool)
}

// Context is the binding context a single rule evaluation and firing
// sees. At most one of Event, FactChange, TimerContext is populated,
// matching which notification triggered the rule (a temporal match
// populates none of them); Bindings accumulates
// values resolved so far in the firing (e.g. a temporal sequence's
// per-step captures) for later {ref: "..."} resolution.
type Context struct {
	Event        *model.Event
	FactChange   *model.FactChange
	TimerContext map[string]any

	Ambient  map[string]any
	Bindings map[string]any

	Facts     FactReader
	Lookups   LookupProvider
	Baselines BaselineProvider
}

// EventData returns the triggering event's data map, or nil if this
// context was not triggered by an event.
func (c Context) EventData() map[string]any {
	if c.Event == nil {
		return nil
	}
	return c.Event.Data
}

// Get resolves key against the ambient scope, falling back to bindings
// accumulated so far, for context{key} sources and {ref: key} values.
func (c Context) Get(key string) (any, bool) {
	if c.Ambient != nil {
		if v, ok := c.Ambient[key]; ok {
			return v, true
		}
	}
	if c.Bindings != nil {
		if v, ok := c.Bindings[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// AsTemplateRoot returns the value pathutil.Expand/pathutil.Get should
// walk for {{path}} templates: a synthetic tree exposing "event",
// "fact", "timer", and the ambient/bindings scope at top level.
func (c Context) AsTemplateRoot() map[string]any {
	root := make(map[string]any, len(c.Ambient)+len(c.Bindings)+3)
	for k, v := range c.Ambient {
		root[k] = v
	}
	for k, v := range c.Bindings {
		root[k] = v
	}
	if c.Event != nil {
		root["event"] = map[string]any{
			"id": c.Event.ID, "topic": c.Event.Topic, "data": c.Event.Data,
			"correlationId": c.Event.CorrelationID, "causationId": c.Event.CausationID,
		}
	}
	if c.FactChange != nil {
		root["fact"] = map[string]any{
			"key": c.FactChange.Key, "oldValue": c.FactChange.OldValue, "newValue": c.FactChange.NewValue,
		}
	}
	if c.TimerContext != nil {
		root["timer"] = c.TimerContext
	}
	return root
}
