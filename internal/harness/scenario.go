package harness

import (
	"time"

	"github.com/hamicek/ruleengine/internal/model"
)

// Scenario describes a deterministic run of the engine: rules and
// seed state to load, a sequence of steps to drive the clock and
// ingress points, and assertions to check once every step settles.
type Scenario struct {
	Name string

	Rules []model.Rule

	SeedFacts     map[string]any
	SeedLookups   map[string]func(args map[string]any) (any, error)
	SeedBaselines map[string][]float64

	Steps []Step

	Expect []Expectation
}

// Step is one driven action in a scenario, applied in order. Exactly
// one field should be set.
type Step struct {
	Emit        *EmitStep
	ArmTimer    *ArmTimerStep
	Advance     time.Duration
	SetFact     *SetFactStep
	RecordMetric *RecordMetricStep
}

type EmitStep struct {
	Topic string
	Data  map[string]any
}

type ArmTimerStep struct {
	Name       string
	DelayMs    int64
	IntervalMs int64
	RuleID     string
	Context    map[string]any
}

type SetFactStep struct {
	Key   string
	Value any
}

// RecordMetricStep feeds a baseline observation mid-scenario, so a
// rule's baseline{} condition can be exercised against values recorded
// both before and after earlier steps.
type RecordMetricStep struct {
	Metric string
	Value  float64
}

// Expectation is one post-run assertion against the settled engine.
type Expectation struct {
	FactEquals    *FactEquals
	FactAbsent    string
	MetricAtLeast *MetricAtLeast
}

type FactEquals struct {
	Key   string
	Value any
}

type MetricAtLeast struct {
	Metric string
	Labels map[string]string
	Count  float64
}
