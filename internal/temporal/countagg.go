package temporal

import (
	"time"

	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/pathutil"
)

// bucketStat is one time bucket's contribution to a windowInstance's
// running aggregate.
type bucketStat struct {
	count int // every matching event in this bucket
	n     int // events in this bucket with a valid numeric field value
	sum   float64
	min   float64
	max   float64
}

// windowInstance backs both count and aggregate patterns. Rather than
// rescanning every live event on each incoming event, it keeps running
// totals (count/sum/min/max) maintained incrementally per bucket: add
// folds a new event into its bucket in O(1), and expire subtracts a
// stale bucket's totals in O(1) per expired bucket. Per-event cost
// stays independent of how many events currently sit in the window;
// only min/max recomputation scans the handful of live buckets (each a
// tenth of the window wide, so eleven or twelve at most), never
// individual events.
type windowInstance struct {
	window      time.Duration
	bucketWidth time.Duration
	buckets     map[int64]*bucketStat

	totalCount int
	totalN     int
	totalSum   float64

	fired bool
}

func newWindowInstance(window time.Duration) *windowInstance {
	bw := window / 10
	if bw <= 0 {
		bw = time.Second
	}
	return &windowInstance{window: window, bucketWidth: bw, buckets: make(map[int64]*bucketStat)}
}

func (w *windowInstance) bucketKey(t time.Time) int64 {
	return t.UnixNano() / int64(w.bucketWidth)
}

// expire drops every bucket older than the window relative to now,
// subtracting its contribution from the running totals.
func (w *windowInstance) expire(now time.Time) {
	cutoff := w.bucketKey(now.Add(-w.window))
	for k, b := range w.buckets {
		if k < cutoff {
			w.totalCount -= b.count
			w.totalN -= b.n
			w.totalSum -= b.sum
			delete(w.buckets, k)
		}
	}
}

// add expires stale buckets, then folds one event into the current
// bucket. hasValue is false for count patterns, which never read
// sum/min/max.
func (w *windowInstance) add(now time.Time, value float64, hasValue bool) {
	w.expire(now)

	key := w.bucketKey(now)
	b, ok := w.buckets[key]
	if !ok {
		b = &bucketStat{}
		w.buckets[key] = b
	}
	b.count++
	w.totalCount++

	if !hasValue {
		return
	}
	if b.n == 0 {
		b.min, b.max = value, value
	} else if value < b.min {
		b.min = value
	} else if value > b.max {
		b.max = value
	}
	b.sum += value
	b.n++
	w.totalSum += value
	w.totalN++
}

// minMax scans the live buckets (bounded by the ring's fixed bucket
// count, never by event count) for the window's running min/max.
func (w *windowInstance) minMax() (min, max float64, ok bool) {
	first := true
	for _, b := range w.buckets {
		if b.n == 0 {
			continue
		}
		if first {
			min, max, first = b.min, b.max, false
			continue
		}
		if b.min < min {
			min = b.min
		}
		if b.max > max {
			max = b.max
		}
	}
	return min, max, !first
}

func (w *windowInstance) aggregateValue(kind model.AggregatorKind) (float64, bool) {
	switch kind {
	case model.AggregateCount:
		return float64(w.totalCount), true
	case model.AggregateSum:
		if w.totalN == 0 {
			return 0, false
		}
		return w.totalSum, true
	case model.AggregateAvg:
		if w.totalN == 0 {
			return 0, false
		}
		return w.totalSum / float64(w.totalN), true
	case model.AggregateMin:
		min, _, ok := w.minMax()
		return min, ok
	case model.AggregateMax:
		_, max, ok := w.minMax()
		return max, ok
	default:
		if w.totalN == 0 {
			return 0, false
		}
		return w.totalSum, true
	}
}

func (m *Matcher) onCount(ruleID string, tp model.TemporalPattern, ev model.Event) []Match {
	if !matches(tp.Event, ev.Topic) {
		return nil
	}
	group := groupKey(tp, ev)
	key := instanceKey(ruleID, group)
	inst, ok := m.counts[key]
	if !ok {
		inst = newWindowInstance(tp.Within)
		m.counts[key] = inst
	}

	now := m.clk.Now()
	inst.add(now, 0, false)
	count := inst.totalCount

	op := tp.Op
	if op == "" {
		op = ">="
	}
	crossed := compareThreshold(op, count, tp.Threshold)
	if !crossed {
		inst.fired = false
		return nil
	}
	if inst.fired && !tp.Repeat {
		return nil
	}
	inst.fired = true
	return []Match{{
		RuleID: ruleID, Kind: model.TemporalCount, Group: group,
		Bindings: map[string]any{"count": count},
	}}
}

func compareThreshold(op string, value, threshold int) bool {
	switch op {
	case ">":
		return value > threshold
	case "==":
		return value == threshold
	case ">=":
		return value >= threshold
	default:
		return value >= threshold
	}
}

func (m *Matcher) onAggregate(ruleID string, tp model.TemporalPattern, ev model.Event) []Match {
	if !matches(tp.Event, ev.Topic) {
		return nil
	}
	group := groupKey(tp, ev)
	key := instanceKey(ruleID, group)
	inst, ok := m.aggs[key]
	if !ok {
		inst = newWindowInstance(tp.Within)
		m.aggs[key] = inst
	}

	now := m.clk.Now()
	switch {
	case tp.Aggregator == model.AggregateCount:
		inst.add(now, 0, false)
	default:
		if raw, ok := pathutil.Get(ev.Data, tp.Field); ok {
			if f, ok := toFloat(raw); ok {
				inst.add(now, f, true)
				break
			}
		}
		inst.expire(now)
	}

	value, ok := inst.aggregateValue(tp.Aggregator)
	if !ok {
		return nil
	}

	op := tp.Op
	if op == "" {
		op = ">="
	}
	crossed := compareFloat(op, value, tp.Value)
	if !crossed {
		inst.fired = false
		return nil
	}
	if inst.fired && !tp.Repeat {
		return nil
	}
	inst.fired = true
	return []Match{{
		RuleID: ruleID, Kind: model.TemporalAggregate, Group: group,
		Bindings: map[string]any{"value": value},
	}}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareFloat(op string, value, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "==":
		return value == threshold
	case "<=":
		return value <= threshold
	case ">=":
		return value >= threshold
	default:
		return value >= threshold
	}
}
