// Package patternindex maintains an inverted index from trigger keys
// to rule ids, so resolving an incoming notification to candidate
// rules is sub-linear in the number of registered rules rather than a
// full scan.
//
// Patterns are bucketed by their literal prefix — the segments before
// the first wildcard segment. A lookup computes every prefix of the
// incoming key and checks each bucket, which bounds the work to the
// key's segment count rather than the rule count; each bucket hit is
// then confirmed against the rule's full pattern before being returned,
// since a shared prefix does not guarantee the remaining segments match.
package patternindex

import (
	"strings"
	"sync"

	"github.com/hamicek/ruleengine/internal/eventbus"
	"github.com/hamicek/ruleengine/internal/factstore"
	"github.com/hamicek/ruleengine/internal/model"
)

type entry struct {
	ruleID  string
	pattern string
}

// Index is safe for concurrent reads; mutations (Add/Remove/Rebuild)
// take an exclusive lock.
type Index struct {
	mu sync.RWMutex

	eventBuckets map[string][]entry // prefix -> entries, for trigger.kind==event and temporal topics
	factBuckets  map[string][]entry // prefix -> entries, for trigger.kind==fact
	timerBuckets map[string][]entry // prefix -> entries, for trigger.kind==timer
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		eventBuckets: make(map[string][]entry),
		factBuckets:  make(map[string][]entry),
		timerBuckets: make(map[string][]entry),
	}
}

// Rebuild discards the current index and re-indexes every rule. Used on
// startup; incremental mutation afterwards goes through Add/Remove.
func (ix *Index) Rebuild(rules []model.Rule) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.eventBuckets = make(map[string][]entry)
	ix.factBuckets = make(map[string][]entry)
	ix.timerBuckets = make(map[string][]entry)
	for _, r := range rules {
		ix.addLocked(r)
	}
}

// Add indexes a single rule. Safe to call for an already-indexed rule
// only after Remove — callers (the Rule Registry) remove-then-add on
// update so stale entries never linger.
func (ix *Index) Add(r model.Rule) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.addLocked(r)
}

// Remove drops every index entry for ruleID.
func (ix *Index) Remove(ruleID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	removeFrom(ix.eventBuckets, ruleID)
	removeFrom(ix.factBuckets, ruleID)
	removeFrom(ix.timerBuckets, ruleID)
}

func removeFrom(buckets map[string][]entry, ruleID string) {
	for prefix, entries := range buckets {
		filtered := entries[:0]
		for _, e := range entries {
			if e.ruleID != ruleID {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(buckets, prefix)
		} else {
			buckets[prefix] = filtered
		}
	}
}

func (ix *Index) addLocked(r model.Rule) {
	switch r.Trigger.Kind {
	case model.TriggerEvent:
		addEntry(ix.eventBuckets, r.ID, r.Trigger.Topic, ".")
	case model.TriggerFact:
		addEntry(ix.factBuckets, r.ID, r.Trigger.Pattern, ":")
	case model.TriggerTimer:
		addEntry(ix.timerBuckets, r.ID, r.Trigger.Name, ".")
	case model.TriggerTemporal:
		if r.Trigger.Temporal == nil {
			return
		}
		for _, topic := range temporalTopics(*r.Trigger.Temporal) {
			addEntry(ix.eventBuckets, r.ID, topic, ".")
		}
	}
}

// temporalTopics returns every event-pattern a temporal pattern
// references, so the Pattern Index can route incoming events to the
// temporal matcher instances watching for them.
func temporalTopics(tp model.TemporalPattern) []string {
	switch tp.Kind {
	case model.TemporalSequence:
		return tp.Events
	case model.TemporalAbsence:
		topics := []string{tp.Event}
		if tp.After != "" {
			topics = append(topics, tp.After)
		}
		return topics
	default: // count, aggregate
		return []string{tp.Event}
	}
}

func addEntry(buckets map[string][]entry, ruleID, pattern, sep string) {
	prefix := literalPrefix(pattern, sep)
	buckets[prefix] = append(buckets[prefix], entry{ruleID: ruleID, pattern: pattern})
}

// literalPrefix returns the segments of pattern before its first
// wildcard segment, joined with sep. A pattern with no wildcard
// segments returns the whole pattern.
func literalPrefix(pattern, sep string) string {
	segs := strings.Split(pattern, sep)
	for i, s := range segs {
		if s == "*" {
			return strings.Join(segs[:i], sep)
		}
	}
	return pattern
}

// MatchEvent returns the ids of rules (event-triggered or
// temporal-triggered) whose pattern matches topic.
func (ix *Index) MatchEvent(topic string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return matchPrefixes(ix.eventBuckets, topic, ".", eventbus.MatchTopic)
}

// MatchFact returns the ids of rules whose fact pattern matches key.
func (ix *Index) MatchFact(key string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return matchPrefixes(ix.factBuckets, key, ":", factstore.MatchPattern)
}

// MatchTimer returns the ids of rules whose timer trigger matches name.
func (ix *Index) MatchTimer(name string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return matchPrefixes(ix.timerBuckets, name, ".", eventbus.MatchTopic)
}

// matchPrefixes checks every prefix of key's segments against the
// bucket map, confirming each candidate entry with matcher before
// including it, and returns a deduplicated rule-id list.
func matchPrefixes(buckets map[string][]entry, key, sep string, matcher func(pattern, key string) bool) []string {
	segs := strings.Split(key, sep)
	seen := make(map[string]bool)
	var out []string
	for i := 0; i <= len(segs); i++ {
		prefix := strings.Join(segs[:i], sep)
		for _, e := range buckets[prefix] {
			if seen[e.ruleID] {
				continue
			}
			if matcher(e.pattern, key) {
				seen[e.ruleID] = true
				out = append(out, e.ruleID)
			}
		}
	}
	return out
}
