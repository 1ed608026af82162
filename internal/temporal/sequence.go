package temporal

import "github.com/hamicek/ruleengine/internal/model"

// seqInstance is one in-flight attempt at matching a sequence pattern.
// Multiple instances may be live at once for the same group: a new
// instance starts every time an event matches the first step, and an
// instance is dropped once it completes or expires; the set has no
// size cap other than the window expiry below.
type seqInstance struct {
	step      int
	startedAt int64 // unix millis
	captured  []model.Event
}

func (m *Matcher) onSequence(ruleID string, tp model.TemporalPattern, ev model.Event) []Match {
	if len(tp.Events) == 0 {
		return nil
	}
	group := groupKey(tp, ev)
	key := instanceKey(ruleID, group)
	now := m.clk.Now().UnixMilli()
	windowMs := tp.Within.Milliseconds()

	live := m.sequences[key][:0]
	for _, inst := range m.sequences[key] {
		if windowMs > 0 && now-inst.startedAt > windowMs {
			continue // expired, drop silently
		}
		live = append(live, inst)
	}
	m.sequences[key] = live

	var fired []Match
	var advanced []*seqInstance
	for _, inst := range m.sequences[key] {
		if matches(tp.Events[inst.step], ev.Topic) {
			next := &seqInstance{step: inst.step + 1, startedAt: inst.startedAt, captured: append(append([]model.Event(nil), inst.captured...), ev)}
			if next.step == len(tp.Events) {
				first := next.captured[0]
				fired = append(fired, Match{
					RuleID: ruleID, Kind: model.TemporalSequence, Group: group,
					Bindings:      map[string]any{"events": next.captured},
					CorrelationID: first.CorrelationID,
					CausationID:   first.ID,
				})
				continue // completed instance is not kept
			}
			advanced = append(advanced, next)
		} else {
			advanced = append(advanced, inst)
		}
	}
	m.sequences[key] = advanced

	if matches(tp.Events[0], ev.Topic) {
		m.sequences[key] = append(m.sequences[key], &seqInstance{
			step: 1, startedAt: now, captured: []model.Event{ev},
		})
	}

	return fired
}
