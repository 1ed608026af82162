package temporal

import "github.com/hamicek/ruleengine/internal/model"

// absenceInstance tracks one armed absence window: a deadline timer is
// running in the Timer Wheel. The arming event (nil if the window
// started at registration via Arm rather than an "after" event) is
// kept so a firing's bindings can expose it as "event", the same way
// an ordinary event trigger would.
type absenceInstance struct {
	timerName string
	armedBy   *model.Event
}

func (m *Matcher) onAbsenceEvent(ruleID string, tp model.TemporalPattern, ev model.Event) []Match {
	group := groupKey(tp, ev)

	if matches(tp.Event, ev.Topic) {
		m.cancelAbsence(ruleID, group)
		return nil
	}
	if tp.After != "" && matches(tp.After, ev.Topic) {
		evCopy := ev
		m.armAbsence(ruleID, tp, group, &evCopy)
	}
	return nil
}

// armAbsence must be called with m.mu held. armedBy is the event that
// triggered the arming ("after"), or nil when the window started at
// registration time with no arming event.
func (m *Matcher) armAbsence(ruleID string, tp model.TemporalPattern, group string, armedBy *model.Event) {
	if m.timers == nil {
		return
	}
	key := instanceKey(ruleID, group)
	m.cancelAbsence(ruleID, group)

	timerName := "absence:" + key
	fireAt := m.clk.Now().Add(tp.Within).UnixMilli()
	if err := m.timers.Arm(timerName, fireAt, 0, ruleID, map[string]any{"group": group}); err != nil {
		return
	}
	m.absences[key] = &absenceInstance{timerName: timerName, armedBy: armedBy}
	m.absenceTimers[timerName] = absenceKey{ruleID: ruleID, group: group}
}

// cancelAbsence must be called with m.mu held.
func (m *Matcher) cancelAbsence(ruleID, group string) {
	key := instanceKey(ruleID, group)
	inst, ok := m.absences[key]
	if !ok {
		return
	}
	if m.timers != nil {
		m.timers.Cancel(inst.timerName)
	}
	delete(m.absenceTimers, inst.timerName)
	delete(m.absences, key)
}
