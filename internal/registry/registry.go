// Package registry implements the Rule Registry: rule lifecycle
// (register/update/unregister/enable/disable), append-only version
// history, and validate-before-commit semantics. Every successful
// mutation appends a RuleVersionEntry; register, update, rollback and
// unregister also reindex the Pattern Index (enable and disable leave
// it as is, since disabled rules stay indexed). A failed validation
// never touches state.
package registry

import (
	"sync"
	"time"

	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/ruleerr"
)

// Reindexer is the Pattern Index surface the registry keeps in sync.
// A narrow interface here, mirroring the rest of the engine's
// dependency-injection style, lets the registry be tested without a
// concrete *patternindex.Index.
type Reindexer interface {
	Add(r model.Rule)
	Remove(ruleID string)
}

// TemporalForgetter is notified when a rule is updated, rolled back,
// unregistered or disabled, so the Temporal Matcher can drop any live
// pattern-instance state for it.
type TemporalForgetter interface {
	Forget(ruleID string)
}

// Registry owns every rule's current state, its groups, and its
// version history.
type Registry struct {
	mu sync.RWMutex

	now func() time.Time

	index    Reindexer
	temporal TemporalForgetter

	rules    map[string]model.Rule
	groups   map[string]model.Group
	history  map[string][]model.RuleVersionEntry
	order    []string // registration order, for priority tie-breaks
}

// New builds a Registry. temporal may be nil if the engine has no
// temporal-triggered rules to forget.
func New(index Reindexer, temporal TemporalForgetter, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now: now, index: index, temporal: temporal,
		rules: make(map[string]model.Rule), groups: make(map[string]model.Group),
		history: make(map[string][]model.RuleVersionEntry),
	}
}

// ValidateInput runs the registry's validation rules against a
// candidate rule without mutating any state.
func (r *Registry) ValidateInput(rule model.Rule) []model.ValidationError {
	return model.Validate(rule)
}

// Register adds a new rule. ID must not already exist. On validation
// failure, no state mutates.
func (r *Registry) Register(rule model.Rule) (model.Rule, error) {
	if errs := model.Validate(rule); len(errs) > 0 {
		return model.Rule{}, validationErr(errs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID == "" {
		return model.Rule{}, ruleerr.Validation("rule id must not be empty", nil)
	}
	if _, exists := r.rules[rule.ID]; exists {
		return model.Rule{}, ruleerr.Conflict("rule already registered: "+rule.ID, nil)
	}

	now := r.now()
	rule = rule.Clone()
	rule.Version = 1
	rule.CreatedAt = now
	rule.UpdatedAt = now

	r.rules[rule.ID] = rule
	r.order = append(r.order, rule.ID)
	r.appendHistory(rule, model.ChangeRegistered, 0)
	r.index.Add(rule)

	return rule.Clone(), nil
}

// Update replaces an existing rule's definition, incrementing its
// version. On validation failure, no state mutates.
func (r *Registry) Update(id string, rule model.Rule) (model.Rule, error) {
	if errs := model.Validate(rule); len(errs) > 0 {
		return model.Rule{}, validationErr(errs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[id]
	if !ok {
		return model.Rule{}, ruleerr.NotFound("rule not found: "+id, nil)
	}

	now := r.now()
	rule = rule.Clone()
	rule.ID = id
	rule.Version = existing.Version + 1
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = now

	r.rules[id] = rule
	r.appendHistory(rule, model.ChangeUpdated, 0)
	r.index.Remove(id)
	r.index.Add(rule)
	if r.temporal != nil {
		r.temporal.Forget(id)
	}

	return rule.Clone(), nil
}

// Unregister removes a rule entirely. Unregistering an unknown id is
// an error.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return ruleerr.NotFound("rule not found: "+id, nil)
	}

	delete(r.rules, id)
	r.order = removeFromOrder(r.order, id)
	r.index.Remove(id)
	if r.temporal != nil {
		r.temporal.Forget(id)
	}

	rule.UpdatedAt = r.now()
	r.appendHistory(rule, model.ChangeUnregistered, 0)
	return nil
}

// Enable flips a rule's enabled flag on.
func (r *Registry) Enable(id string) error { return r.setEnabled(id, true) }

// Disable flips a rule's enabled flag off.
func (r *Registry) Disable(id string) error { return r.setEnabled(id, false) }

func (r *Registry) setEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return ruleerr.NotFound("rule not found: "+id, nil)
	}
	if rule.Enabled == enabled {
		return nil
	}

	rule.Enabled = enabled
	rule.Version++
	rule.UpdatedAt = r.now()
	r.rules[id] = rule

	changeType := model.ChangeDisabled
	if enabled {
		changeType = model.ChangeEnabled
	} else if r.temporal != nil {
		r.temporal.Forget(id)
	}
	r.appendHistory(rule, changeType, 0)
	return nil
}

// Get returns a copy of a rule's current definition.
func (r *Registry) Get(id string) (model.Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return model.Rule{}, false
	}
	return rule.Clone(), true
}

// List returns every rule in registration order.
func (r *Registry) List() []model.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id].Clone())
	}
	return out
}

// History returns a rule's append-only version history, oldest first.
func (r *Registry) History(id string) []model.RuleVersionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.history[id]
	out := make([]model.RuleVersionEntry, len(entries))
	copy(out, entries)
	return out
}

// Rollback loads the target version's snapshot and applies it as an
// update, appending an entry tagged rolled_back whose RolledBackFrom
// is the version being superseded (the rule's current version before
// this call), not the target snapshot version.
func (r *Registry) Rollback(id string, version int64) (model.Rule, error) {
	r.mu.Lock()
	entries := r.history[id]
	var snapshot model.Rule
	found := false
	for _, e := range entries {
		if e.Version == version {
			snapshot = e.RuleSnapshot
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return model.Rule{}, ruleerr.NotFound("rule version not found", nil)
	}
	current, ok := r.rules[id]
	if !ok {
		r.mu.Unlock()
		return model.Rule{}, ruleerr.NotFound("rule not found: "+id, nil)
	}

	now := r.now()
	rule := snapshot.Clone()
	rule.ID = id
	rule.Version = current.Version + 1
	rule.CreatedAt = current.CreatedAt
	rule.UpdatedAt = now

	r.rules[id] = rule
	r.index.Remove(id)
	r.index.Add(rule)
	if r.temporal != nil {
		r.temporal.Forget(id)
	}
	r.appendHistory(rule, model.ChangeRolledBack, current.Version)
	r.mu.Unlock()

	return rule.Clone(), nil
}

// appendHistory must be called with r.mu held for writing.
func (r *Registry) appendHistory(rule model.Rule, changeType model.ChangeType, rolledBackFrom int64) {
	entry := model.RuleVersionEntry{
		Version: rule.Version, RuleSnapshot: rule.Clone(), Timestamp: r.now(),
		ChangeType: changeType, RolledBackFrom: rolledBackFrom,
	}
	r.history[rule.ID] = append(r.history[rule.ID], entry)
}

// GroupEnabled reports whether rule's group (if any) is enabled. A
// rule with no group is always eligible on this axis.
func (r *Registry) GroupEnabled(rule model.Rule) bool {
	if rule.Group == "" {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[rule.Group]
	if !ok {
		return true
	}
	return g.Enabled
}

// SetGroupEnabled creates or updates a group's enabled flag.
func (r *Registry) SetGroupEnabled(id, name string, enabled bool) model.Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := model.Group{ID: id, Name: name, Enabled: enabled}
	r.groups[id] = g
	return g
}

func removeFromOrder(order []string, id string) []string {
	out := order[:0]
	for _, existing := range order {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func validationErr(errs []model.ValidationError) error {
	details := make(map[string]string, len(errs))
	for _, e := range errs {
		details[e.Field] = e.Message + " (" + e.Code + ")"
	}
	return ruleerr.Validation("rule failed validation", details)
}
