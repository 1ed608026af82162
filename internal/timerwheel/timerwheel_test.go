package timerwheel

import (
	"testing"
	"time"

	"github.com/hamicek/ruleengine/internal/clock"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	saved [][]model.Timer
	load  []model.Timer
}

func (p *memPersister) SaveTimers(timers []model.Timer) error {
	cp := append([]model.Timer(nil), timers...)
	p.saved = append(p.saved, cp)
	return nil
}

func (p *memPersister) LoadTimers() ([]model.Timer, error) {
	return p.load, nil
}

func TestArmFiresAtFireTime(t *testing.T) {
	start := time.UnixMilli(1000)
	fc := clock.NewFake(start)
	var fired []model.Timer
	w := New(fc, func(tm model.Timer) { fired = append(fired, tm) }, nil)

	require.NoError(t, w.Arm("reminder", 2000, 0, "rule-1", map[string]any{"orderId": "o1"}))
	fc.Advance(500 * time.Millisecond)
	assert.Empty(t, fired)

	fc.Advance(600 * time.Millisecond)
	require.Len(t, fired, 1)
	assert.Equal(t, "reminder", fired[0].Name)
	assert.Equal(t, "o1", fired[0].Context["orderId"])
}

func TestArmReplacesExistingTimerWithSameName(t *testing.T) {
	fc := clock.NewFake(time.UnixMilli(0))
	var fired []string
	w := New(fc, func(tm model.Timer) { fired = append(fired, tm.Name) }, nil)

	require.NoError(t, w.Arm("t", 1000, 0, "r", nil))
	require.NoError(t, w.Arm("t", 2000, 0, "r", nil))

	fc.Advance(1500 * time.Millisecond)
	assert.Empty(t, fired, "first arming should have been cancelled, not fired")

	fc.Advance(600 * time.Millisecond)
	assert.Equal(t, []string{"t"}, fired)
}

func TestCancelPreventsFiring(t *testing.T) {
	fc := clock.NewFake(time.UnixMilli(0))
	var fired bool
	w := New(fc, func(model.Timer) { fired = true }, nil)

	require.NoError(t, w.Arm("t", 1000, 0, "r", nil))
	assert.True(t, w.Cancel("t"))
	fc.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.False(t, w.Cancel("t"), "cancelling an absent timer reports false")
}

func TestRecurringTimerReArmsFromScheduledFireNotWallClock(t *testing.T) {
	fc := clock.NewFake(time.UnixMilli(0))
	var fireAts []int64
	w := New(fc, func(tm model.Timer) { fireAts = append(fireAts, tm.FireAt) }, nil)

	require.NoError(t, w.Arm("heartbeat", 1000, 1000, "r", nil))
	fc.Advance(3500 * time.Millisecond)

	require.Len(t, fireAts, 3)
	assert.Equal(t, []int64{1000, 2000, 3000}, fireAts)
}

func TestListOrdersByFireAtThenName(t *testing.T) {
	fc := clock.NewFake(time.UnixMilli(0))
	w := New(fc, func(model.Timer) {}, nil)
	require.NoError(t, w.Arm("b", 2000, 0, "r", nil))
	require.NoError(t, w.Arm("a", 1000, 0, "r", nil))
	require.NoError(t, w.Arm("c", 1000, 0, "r", nil))

	list := w.List()
	names := make([]string, len(list))
	for i, tm := range list {
		names[i] = tm.Name
	}
	assert.Equal(t, []string{"a", "c", "b"}, names)
}

func TestStartReArmsPersistedTimersFiringPastDueImmediately(t *testing.T) {
	fc := clock.NewFake(time.UnixMilli(5000))
	persister := &memPersister{
		load: []model.Timer{
			{Name: "past-due", FireAt: 1000, RuleID: "r"},
			{Name: "future", FireAt: 10000, RuleID: "r"},
		},
	}
	var fired []string
	w := New(fc, func(tm model.Timer) { fired = append(fired, tm.Name) }, persister)

	require.NoError(t, w.Start())
	fc.Advance(0)
	assert.Equal(t, []string{"past-due"}, fired)

	fc.Advance(6 * time.Second)
	assert.Equal(t, []string{"past-due", "future"}, fired)
}
