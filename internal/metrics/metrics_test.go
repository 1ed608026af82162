package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountingTracksCounterIncrements(t *testing.T) {
	sink := NewCounting()
	sink.Counter("rule.matched", map[string]string{"rule": "r1"})
	sink.Counter("rule.matched", map[string]string{"rule": "r1"})
	sink.Counter("rule.matched", map[string]string{"rule": "r2"})

	assert.Equal(t, float64(2), sink.Count("rule.matched", map[string]string{"rule": "r1"}))
	assert.Equal(t, float64(1), sink.Count("rule.matched", map[string]string{"rule": "r2"}))
}

func TestCountingRecordsObservationsInOrder(t *testing.T) {
	sink := NewCounting()
	sink.Observe("rule.evaluation.duration", 1.5, map[string]string{"rule": "r1"})
	sink.Observe("rule.evaluation.duration", 2.5, map[string]string{"rule": "r1"})

	assert.Equal(t, []float64{1.5, 2.5}, sink.Samples("rule.evaluation.duration", map[string]string{"rule": "r1"}))
}

func TestNoOpNeverPanics(t *testing.T) {
	var s Sink = NoOp{}
	s.Counter("x", nil)
	s.Observe("y", 1, nil)
}
