// Package temporal implements the four windowed pattern state machines a
// temporal trigger can declare: sequence, absence, count, and aggregate.
// Count and aggregate patterns (see countagg.go) keep a running total
// per time bucket rather than rescanning every live event, so window
// expiry and per-event cost never grow with how many events currently
// sit in the window.
//
// The Event Bus/Pattern Index have no direct equivalent to windowed
// pattern matching, so this package is built fresh rather than adapted
// from an existing component; it reuses the injectable clock and
// produces Matches compatible with the binding context the Condition
// Evaluator and Action Executor already consume.
package temporal

import (
	"sync"

	"github.com/hamicek/ruleengine/internal/clock"
	"github.com/hamicek/ruleengine/internal/eventbus"
	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/pathutil"
)

// TimerArmer is the Timer Wheel surface absence patterns need to arm
// and cancel their deadline.
type TimerArmer interface {
	Arm(name string, fireAtMs int64, intervalMs int64, ruleID string, context map[string]any) error
	Cancel(name string) bool
}

// Match is produced when a temporal pattern completes. Bindings flow
// into the binding context the same way an event or fact-change
// trigger's data would.
type Match struct {
	RuleID   string
	Kind     model.TemporalKind
	Group    string
	Bindings map[string]any

	// CorrelationID/CausationID carry the identity of the event that
	// started this match's causal chain, so a firing's emitted events
	// stay in the same chain instead of starting a fresh one. A
	// sequence match sets these from its first captured event and an
	// absence match from the "after" event that armed it; count and
	// aggregate matches, and absence windows armed at registration,
	// leave them empty.
	CorrelationID string
	CausationID   string
}

// Matcher holds the live state for every rule's temporal pattern,
// keyed by ruleID and further partitioned by the pattern's grouping
// key within each rule.
type Matcher struct {
	mu     sync.Mutex
	clk    clock.Clock
	timers TimerArmer

	sequences map[string][]*seqInstance
	absences  map[string]*absenceInstance
	counts    map[string]*windowInstance
	aggs      map[string]*windowInstance

	// timerName -> (ruleID, group) so OnTimerFired can find the
	// absence instance a fired deadline timer belongs to.
	absenceTimers map[string]absenceKey
}

type absenceKey struct {
	ruleID, group string
}

// New builds a Matcher. timers may be nil if no rule in the registry
// declares an absence pattern.
func New(clk clock.Clock, timers TimerArmer) *Matcher {
	return &Matcher{
		clk:           clk,
		timers:        timers,
		sequences:     make(map[string][]*seqInstance),
		absences:      make(map[string]*absenceInstance),
		counts:        make(map[string]*windowInstance),
		aggs:          make(map[string]*windowInstance),
		absenceTimers: make(map[string]absenceKey),
	}
}

func groupKey(tp model.TemporalPattern, ev model.Event) string {
	if tp.Group == "" {
		return ""
	}
	v, ok := pathutil.Get(ev.Data, tp.Group)
	if !ok {
		return ""
	}
	return pathutil.Stringify(v)
}

func instanceKey(ruleID, group string) string {
	return ruleID + "|" + group
}

// OnEvent feeds one incoming event to a rule's temporal pattern. It
// returns zero or more Matches produced by this event.
func (m *Matcher) OnEvent(ruleID string, tp model.TemporalPattern, ev model.Event) []Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch tp.Kind {
	case model.TemporalSequence:
		return m.onSequence(ruleID, tp, ev)
	case model.TemporalAbsence:
		return m.onAbsenceEvent(ruleID, tp, ev)
	case model.TemporalCount:
		return m.onCount(ruleID, tp, ev)
	case model.TemporalAggregate:
		return m.onAggregate(ruleID, tp, ev)
	default:
		return nil
	}
}

// Arm is called once when a rule with an absence pattern that has no
// "after" is registered (or enabled): the window starts immediately
// rather than waiting for an arming event.
func (m *Matcher) Arm(ruleID string, tp model.TemporalPattern) {
	if tp.Kind != model.TemporalAbsence || tp.After != "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armAbsence(ruleID, tp, "", nil)
}

// OnTimerFired is called by the engine when a timer the Matcher armed
// fires. Only absence deadline timers are ever armed by this package.
func (m *Matcher) OnTimerFired(timerName string) []Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.absenceTimers[timerName]
	if !ok {
		return nil
	}
	delete(m.absenceTimers, timerName)

	ik := instanceKey(key.ruleID, key.group)
	inst, ok := m.absences[ik]
	if !ok || inst.timerName != timerName {
		return nil
	}
	delete(m.absences, ik)

	bindings := map[string]any{}
	correlationID, causationID := "", ""
	if inst.armedBy != nil {
		ev := inst.armedBy
		bindings["event"] = map[string]any{
			"id": ev.ID, "topic": ev.Topic, "data": ev.Data,
			"correlationId": ev.CorrelationID, "causationId": ev.CausationID,
		}
		correlationID, causationID = ev.CorrelationID, ev.ID
	}

	return []Match{{
		RuleID:        key.ruleID,
		Kind:          model.TemporalAbsence,
		Group:         key.group,
		Bindings:      bindings,
		CorrelationID: correlationID,
		CausationID:   causationID,
	}}
}

// Forget drops all live state for a rule, used when a rule is
// updated, rolled back, unregistered or disabled.
func (m *Matcher) Forget(ruleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.sequences {
		if hasPrefix(k, ruleID) {
			delete(m.sequences, k)
		}
	}
	for k, inst := range m.absences {
		if hasPrefix(k, ruleID) {
			if m.timers != nil {
				m.timers.Cancel(inst.timerName)
			}
			delete(m.absenceTimers, inst.timerName)
			delete(m.absences, k)
		}
	}
	for k := range m.counts {
		if hasPrefix(k, ruleID) {
			delete(m.counts, k)
		}
	}
	for k := range m.aggs {
		if hasPrefix(k, ruleID) {
			delete(m.aggs, k)
		}
	}
}

func hasPrefix(key, ruleID string) bool {
	return len(key) >= len(ruleID) && key[:len(ruleID)] == ruleID && (len(key) == len(ruleID) || key[len(ruleID)] == '|')
}

func matches(pattern, topic string) bool {
	return eventbus.MatchTopic(pattern, topic)
}
