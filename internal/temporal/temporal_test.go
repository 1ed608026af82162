package temporal

import (
	"testing"
	"time"

	"github.com/hamicek/ruleengine/internal/clock"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimers struct {
	armed     map[string]int64
	cancelled map[string]bool
	fireAt    map[string]func()
	clk       *clock.Fake
}

func newFakeTimers(clk *clock.Fake) *fakeTimers {
	return &fakeTimers{armed: map[string]int64{}, cancelled: map[string]bool{}, fireAt: map[string]func(){}, clk: clk}
}

func (f *fakeTimers) Arm(name string, fireAtMs, intervalMs int64, ruleID string, ctx map[string]any) error {
	f.armed[name] = fireAtMs
	delete(f.cancelled, name)
	return nil
}

func (f *fakeTimers) Cancel(name string) bool {
	_, ok := f.armed[name]
	f.cancelled[name] = true
	delete(f.armed, name)
	return ok
}

func ev(topic string, data map[string]any) model.Event {
	return model.Event{Topic: topic, Data: data}
}

func TestSequenceFiresOnOrderedMatch(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{Kind: model.TemporalSequence, Within: time.Minute, Events: []string{"order.created", "order.paid", "order.shipped"}}

	assert.Empty(t, m.OnEvent("r1", tp, ev("order.created", nil)))
	assert.Empty(t, m.OnEvent("r1", tp, ev("order.paid", nil)))
	matches := m.OnEvent("r1", tp, ev("order.shipped", nil))
	require.Len(t, matches, 1)
	assert.Equal(t, model.TemporalSequence, matches[0].Kind)
}

func TestSequenceOutOfOrderDoesNotAdvance(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{Kind: model.TemporalSequence, Within: time.Minute, Events: []string{"a", "b"}}

	assert.Empty(t, m.OnEvent("r1", tp, ev("b", nil)))
	assert.Empty(t, m.OnEvent("r1", tp, ev("a", nil)))
	matches := m.OnEvent("r1", tp, ev("b", nil))
	require.Len(t, matches, 1)
}

func TestSequenceExpiresInstanceOutsideWindow(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{Kind: model.TemporalSequence, Within: time.Second, Events: []string{"a", "b"}}

	assert.Empty(t, m.OnEvent("r1", tp, ev("a", nil)))
	clk.Advance(2 * time.Second)
	matches := m.OnEvent("r1", tp, ev("b", nil))
	assert.Empty(t, matches, "instance should have expired before b arrived")
}

func TestSequenceAllowsConcurrentInstancesPerGroup(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{Kind: model.TemporalSequence, Within: time.Minute, Events: []string{"a", "b"}}

	assert.Empty(t, m.OnEvent("r1", tp, ev("a", nil)))
	assert.Empty(t, m.OnEvent("r1", tp, ev("a", nil))) // starts a second concurrent instance
	matches := m.OnEvent("r1", tp, ev("b", nil))
	require.Len(t, matches, 2, "each independently-started instance completes on its own matching b")
}

func TestAbsenceFiresWhenNoMatchingEventArrives(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	timers := newFakeTimers(clk)
	m := New(clk, timers)
	tp := model.TemporalPattern{Kind: model.TemporalAbsence, Within: time.Minute, Event: "heartbeat"}

	m.Arm("r1", tp)
	require.Len(t, timers.armed, 1)

	var timerName string
	for name := range timers.armed {
		timerName = name
	}
	matches := m.OnTimerFired(timerName)
	require.Len(t, matches, 1)
	assert.Equal(t, model.TemporalAbsence, matches[0].Kind)
	assert.Empty(t, matches[0].Bindings)
}

func TestAbsenceCancelledByMatchingEvent(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	timers := newFakeTimers(clk)
	m := New(clk, timers)
	tp := model.TemporalPattern{Kind: model.TemporalAbsence, Within: time.Minute, Event: "heartbeat"}

	m.Arm("r1", tp)
	require.Len(t, timers.armed, 1)

	matches := m.OnEvent("r1", tp, ev("heartbeat", nil))
	assert.Empty(t, matches)
	assert.Len(t, timers.cancelled, 1)
	assert.Empty(t, timers.armed)
}

func TestAbsenceWithAfterArmsOnlyOnArmingEvent(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	timers := newFakeTimers(clk)
	m := New(clk, timers)
	tp := model.TemporalPattern{Kind: model.TemporalAbsence, Within: time.Minute, Event: "payment.received", After: "order.placed"}

	assert.Empty(t, m.OnEvent("r1", tp, ev("order.placed", nil)))
	assert.Len(t, timers.armed, 1)
}

func TestCountFiresOnceWhenThresholdCrossedWithoutRepeat(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{Kind: model.TemporalCount, Within: time.Minute, Event: "login.failed", Threshold: 3}

	assert.Empty(t, m.OnEvent("r1", tp, ev("login.failed", nil)))
	assert.Empty(t, m.OnEvent("r1", tp, ev("login.failed", nil)))
	matches := m.OnEvent("r1", tp, ev("login.failed", nil))
	require.Len(t, matches, 1)
	assert.Equal(t, 3, matches[0].Bindings["count"])

	matches = m.OnEvent("r1", tp, ev("login.failed", nil))
	assert.Empty(t, matches, "should not re-fire without repeat")
}

func TestCountRepeatFiresEveryCrossing(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{Kind: model.TemporalCount, Within: time.Minute, Event: "login.failed", Threshold: 1, Repeat: true}

	m1 := m.OnEvent("r1", tp, ev("login.failed", nil))
	require.Len(t, m1, 1)
	m2 := m.OnEvent("r1", tp, ev("login.failed", nil))
	require.Len(t, m2, 1)
}

func TestCountWindowExpiryDropsOldEvents(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{Kind: model.TemporalCount, Within: time.Second, Event: "login.failed", Threshold: 2}

	assert.Empty(t, m.OnEvent("r1", tp, ev("login.failed", nil)))
	clk.Advance(2 * time.Second)
	matches := m.OnEvent("r1", tp, ev("login.failed", nil))
	assert.Empty(t, matches, "first event should have expired out of the window")
}

func TestAggregateSumCrossesValue(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{
		Kind: model.TemporalAggregate, Within: time.Minute, Event: "order.placed",
		Field: "amount", Aggregator: model.AggregateSum, Value: 100,
	}

	assert.Empty(t, m.OnEvent("r1", tp, ev("order.placed", map[string]any{"amount": 40.0})))
	matches := m.OnEvent("r1", tp, ev("order.placed", map[string]any{"amount": 70.0}))
	require.Len(t, matches, 1)
	assert.Equal(t, 110.0, matches[0].Bindings["value"])
}

func TestAggregateAvgComparison(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{
		Kind: model.TemporalAggregate, Within: time.Minute, Event: "sensor.reading",
		Field: "value", Aggregator: model.AggregateAvg, Op: ">", Value: 50,
	}

	assert.Empty(t, m.OnEvent("r1", tp, ev("sensor.reading", map[string]any{"value": 40.0})))
	matches := m.OnEvent("r1", tp, ev("sensor.reading", map[string]any{"value": 70.0}))
	require.Len(t, matches, 1)
	assert.Equal(t, 55.0, matches[0].Bindings["value"])
}

func TestGroupingKeepsPerGroupStateIndependent(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	m := New(clk, nil)
	tp := model.TemporalPattern{Kind: model.TemporalCount, Within: time.Minute, Event: "login.failed", Threshold: 2, Group: "userId"}

	assert.Empty(t, m.OnEvent("r1", tp, ev("login.failed", map[string]any{"userId": "alice"})))
	assert.Empty(t, m.OnEvent("r1", tp, ev("login.failed", map[string]any{"userId": "bob"})))
	matches := m.OnEvent("r1", tp, ev("login.failed", map[string]any{"userId": "alice"}))
	require.Len(t, matches, 1, "alice's second failure should cross her own threshold independent of bob")
}

func TestForgetDropsLiveStateAndCancelsTimers(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(0))
	timers := newFakeTimers(clk)
	m := New(clk, timers)
	tp := model.TemporalPattern{Kind: model.TemporalAbsence, Within: time.Minute, Event: "heartbeat"}

	m.Arm("r1", tp)
	require.Len(t, timers.armed, 1)
	m.Forget("r1")
	assert.Empty(t, timers.armed)
	assert.True(t, timers.cancelled["absence:r1|"])
}
