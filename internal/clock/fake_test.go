package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceFiresDueWaitersInOrder(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewFake(start)

	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	ch := c.After(3 * time.Second)

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)

	select {
	case <-ch:
		t.Fatal("channel fired before deadline")
	default:
	}

	c.Advance(1 * time.Second)
	select {
	case fireTime := <-ch:
		assert.Equal(t, start.Add(3*time.Second), fireTime)
	default:
		t.Fatal("channel did not fire after deadline")
	}
}

func TestFakeTimerStopPreventsFiring(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.False(t, timer.Stop(), "second Stop should report nothing was pending")
}

func TestSequenceMonotonic(t *testing.T) {
	seq := NewSequence()
	assert.Equal(t, int64(0), seq.Current())
	assert.Equal(t, int64(1), seq.Next())
	assert.Equal(t, int64(2), seq.Next())
	assert.Equal(t, int64(2), seq.Current())
}
