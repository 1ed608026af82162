// Package eventbus implements the Event Bus: emit/emitCorrelated,
// pattern subscriptions, and correlation/causation propagation across a
// causal chain of events.
package eventbus

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hamicek/ruleengine/internal/model"
)

// Dispatcher receives every emitted event synchronously, before
// external subscribers see it. In production this is the Engine
// Scheduler's dispatch entrypoint, which only enqueues the event:
// subscribers therefore run before the event's rules are evaluated and
// do not observe the state those rules' actions produce.
type Dispatcher interface {
	Dispatch(model.Event)
}

// SubscriptionID identifies a registered subscription for Unsubscribe.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	pattern string
	handler func(model.Event)
}

// Bus is the engine's Event Bus.
type Bus struct {
	mu   sync.RWMutex
	ids  IDGenerator
	now  func() time.Time
	disp Dispatcher

	// correlation tracks the correlationId every event was published
	// under, keyed by event id, so a later emitCorrelated(causationId=X)
	// can recover X's chain.
	correlation map[string]string
	subs        []subscription
	nextSubID   int
}

// New creates a Bus. ids/now default to production generators when nil;
// disp may be nil until the engine wires itself in via SetDispatcher
// (avoids a construction cycle between Bus and the Engine Scheduler).
func New(ids IDGenerator, now func() time.Time, disp Dispatcher) *Bus {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = time.Now
	}
	return &Bus{ids: ids, now: now, disp: disp, correlation: make(map[string]string)}
}

// SetDispatcher wires the engine dispatch entrypoint after construction.
func (b *Bus) SetDispatcher(d Dispatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disp = d
}

// Emit publishes a new event, starting a fresh correlation chain rooted
// at the event's own id.
func (b *Bus) Emit(topic string, data map[string]any) model.Event {
	return b.emit(topic, data, "", "")
}

// EmitCorrelated publishes an event as part of an existing causal chain.
// If correlationID is empty and causationID references a known event,
// the causation's correlation id is propagated; otherwise a new chain
// is started rooted at this event's own id.
func (b *Bus) EmitCorrelated(topic string, data map[string]any, correlationID, causationID string) model.Event {
	return b.emit(topic, data, correlationID, causationID)
}

func (b *Bus) emit(topic string, data map[string]any, correlationID, causationID string) model.Event {
	id := b.ids.Generate()
	ts := b.now().UnixMilli()

	if correlationID == "" && causationID != "" {
		b.mu.RLock()
		if parent, ok := b.correlation[causationID]; ok {
			correlationID = parent
		}
		b.mu.RUnlock()
	}
	if correlationID == "" {
		correlationID = id
	}

	ev := model.Event{
		ID: id, Topic: topic, Data: data, Timestamp: ts,
		CorrelationID: correlationID, CausationID: causationID,
	}

	b.mu.Lock()
	b.correlation[id] = correlationID
	disp := b.disp
	b.mu.Unlock()

	if disp != nil {
		disp.Dispatch(ev)
	}

	b.deliverToSubscribers(ev)
	return ev
}

// Subscribe registers handler to be invoked synchronously from Emit,
// after the Dispatcher has received the event, for every event whose
// topic matches pattern.
func (b *Bus) Subscribe(pattern string, handler func(model.Event)) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := SubscriptionID(subscriptionIDPrefix + strconv.Itoa(b.nextSubID))
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	return id
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) deliverToSubscribers(ev model.Event) {
	b.mu.RLock()
	matched := make([]func(model.Event), 0, len(b.subs))
	for _, s := range b.subs {
		if MatchTopic(s.pattern, ev.Topic) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		h(ev)
	}
}

// MatchTopic reports whether topic matches a dot-segmented pattern
// where '*' matches exactly one segment, the same grammar factstore
// uses for colon-segmented fact keys.
func MatchTopic(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, p := range pSegs {
		if p == "*" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return true
}

const subscriptionIDPrefix = "sub-"
