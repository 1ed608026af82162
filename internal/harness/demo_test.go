package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamicek/ruleengine/internal/model"
)

func pingRule() model.Rule {
	return model.Rule{
		ID: "r1", Name: "r1", Enabled: true,
		Trigger: model.Trigger{Kind: model.TriggerEvent, Topic: "ping"},
		Actions: []model.Action{{Kind: model.ActionSetFact, Key: "pong", Value: true}},
	}
}

func TestScenarioEventTriggersSetFactAndRecordsTrace(t *testing.T) {
	scenario := &Scenario{
		Name:  "ping-sets-pong",
		Rules: []model.Rule{pingRule()},
		Steps: []Step{
			{Emit: &EmitStep{Topic: "ping", Data: map[string]any{}}},
		},
		Expect: []Expectation{
			{FactEquals: &FactEquals{Key: "pong", Value: true}},
			{MetricAtLeast: &MetricAtLeast{Metric: "rule.fired", Labels: map[string]string{"rule": "r1"}, Count: 1}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, true, result.Facts["pong"])
}

func TestScenarioDisabledRuleNeverFires(t *testing.T) {
	rule := pingRule()
	rule.Enabled = false
	scenario := &Scenario{
		Name:  "disabled-rule",
		Rules: []model.Rule{rule},
		Steps: []Step{
			{Emit: &EmitStep{Topic: "ping", Data: map[string]any{}}},
		},
		Expect: []Expectation{
			{FactAbsent: "pong"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestScenarioGoldenTraceForSingleFiring(t *testing.T) {
	scenario := &Scenario{
		Name:  "ping-sets-pong",
		Rules: []model.Rule{pingRule()},
		Steps: []Step{
			{Emit: &EmitStep{Topic: "ping", Data: map[string]any{}}},
		},
	}
	RunWithGolden(t, scenario)
}
