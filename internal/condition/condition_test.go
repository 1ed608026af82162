package condition

import (
	"testing"

	"github.com/hamicek/ruleengine/internal/bindctx"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lit(v any) *model.ConditionValue { return &model.ConditionValue{Literal: v} }

func eventCtx(data map[string]any) bindctx.Context {
	return bindctx.Context{Event: &model.Event{Data: data}}
}

func TestEmptyConditionListIsTrue(t *testing.T) {
	c, err := Compile(nil)
	require.NoError(t, err)
	ok, err := c.Eval(bindctx.Context{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventFieldEqOperator(t *testing.T) {
	c, err := Compile([]model.Condition{{
		Operator: model.OpEq,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "amount"},
		Value:    lit(42.0),
	}})
	require.NoError(t, err)

	ok, err := c.Eval(eventCtx(map[string]any{"amount": 42.0}))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Eval(eventCtx(map[string]any{"amount": 43.0}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStringNeverNumericallyEqualsNumber(t *testing.T) {
	c, err := Compile([]model.Condition{{
		Operator: model.OpEq,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "amount"},
		Value:    lit("42"),
	}})
	require.NoError(t, err)

	ok, err := c.Eval(eventCtx(map[string]any{"amount": 42.0}))
	require.NoError(t, err)
	assert.False(t, ok, "same-type wins: string '42' must not equal number 42")
}

func TestAbsentComparesFalseExceptVacuousOperators(t *testing.T) {
	missing := model.Condition{
		Operator: model.OpEq,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "missing"},
		Value:    lit(1.0),
	}
	c, err := Compile([]model.Condition{missing})
	require.NoError(t, err)
	ok, err := c.Eval(eventCtx(map[string]any{}))
	require.NoError(t, err)
	assert.False(t, ok)

	notExists := model.Condition{
		Operator: model.OpNotExists,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "missing"},
	}
	c2, err := Compile([]model.Condition{notExists})
	require.NoError(t, err)
	ok, err = c2.Eval(eventCtx(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, ok)

	notIn := model.Condition{
		Operator: model.OpNotIn,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "missing"},
		Value:    lit([]any{"a", "b"}),
	}
	c3, err := Compile([]model.Condition{notIn})
	require.NoError(t, err)
	ok, err = c3.Eval(eventCtx(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, ok, "notIn against an absent value is vacuously true")
}

func TestAndOrNotCombinators(t *testing.T) {
	amountGt := model.Condition{Operator: model.OpGt, Source: &model.Source{Kind: model.SourceEvent, Field: "amount"}, Value: lit(10.0)}
	amountLt := model.Condition{Operator: model.OpLt, Source: &model.Source{Kind: model.SourceEvent, Field: "amount"}, Value: lit(100.0)}

	c, err := Compile([]model.Condition{{Operator: model.OpAnd, Children: []model.Condition{amountGt, amountLt}}})
	require.NoError(t, err)

	ok, err := c.Eval(eventCtx(map[string]any{"amount": 50.0}))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Eval(eventCtx(map[string]any{"amount": 200.0}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesCompilesRegexOncePerRule(t *testing.T) {
	cond := model.Condition{
		Operator: model.OpMatches,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "email"},
		Value:    lit("^.+@example\\.com$"),
	}
	c, err := Compile([]model.Condition{cond})
	require.NoError(t, err)
	assert.Len(t, c.regexes, 1)

	ok, err := c.Eval(eventCtx(map[string]any{"email": "a@example.com"}))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Eval(eventCtx(map[string]any{"email": "a@other.com"}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidRegexFailsAtCompile(t *testing.T) {
	cond := model.Condition{
		Operator: model.OpMatches,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "x"},
		Value:    lit("(unclosed"),
	}
	_, err := Compile([]model.Condition{cond})
	assert.Error(t, err)
}

func TestBetweenInclusiveBounds(t *testing.T) {
	cond := model.Condition{
		Operator: model.OpBetween,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "amount"},
		Value:    lit([]any{10.0, 20.0}),
	}
	c, err := Compile([]model.Condition{cond})
	require.NoError(t, err)

	for _, v := range []float64{10, 15, 20} {
		ok, err := c.Eval(eventCtx(map[string]any{"amount": v}))
		require.NoError(t, err)
		assert.True(t, ok, "%v should be within [10,20]", v)
	}
	ok, err := c.Eval(eventCtx(map[string]any{"amount": 21.0}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefValueResolvesAgainstBindingContext(t *testing.T) {
	cond := model.Condition{
		Operator: model.OpEq,
		Source:   &model.Source{Kind: model.SourceEvent, Field: "amount"},
		Value:    &model.ConditionValue{IsRef: true, Ref: "threshold"},
	}
	c, err := Compile([]model.Condition{cond})
	require.NoError(t, err)

	ctx := eventCtx(map[string]any{"amount": 99.0})
	ctx.Bindings = map[string]any{"threshold": 99.0}

	ok, err := c.Eval(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

type fakeBaselines struct{ mean, stddev float64 }

func (f fakeBaselines) Baseline(metric string) (float64, float64, bool) {
	return f.mean, f.stddev, true
}

func TestBaselineDeviatesComparison(t *testing.T) {
	cond := model.Condition{
		Operator: model.OpEq,
		Source:   &model.Source{Kind: model.SourceBaseline, Metric: "latencyMs", Comparison: "deviates"},
		Value:    lit(true),
	}
	c, err := Compile([]model.Condition{cond})
	require.NoError(t, err)

	ctx := eventCtx(map[string]any{"latencyMs": 500.0})
	ctx.Baselines = fakeBaselines{mean: 100, stddev: 10}

	ok, err := c.Eval(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "500 deviates far beyond 2 stddev of mean 100")
}
