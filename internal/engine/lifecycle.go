package engine

import (
	"context"
	"encoding/json"

	"github.com/hamicek/ruleengine/internal/model"
)

const rulesStorageKey = "rules"

func versionsStorageKey(ruleID string) string { return "versions:" + ruleID }

// RegisterRule adds a new rule to the registry, arms its temporal
// pattern (if it declares an absence with no arming event), and
// best-effort persists the updated rule set.
func (e *Engine) RegisterRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	registered, err := e.registry.Register(rule)
	if err != nil {
		return model.Rule{}, err
	}
	e.armTemporal(registered)
	e.persistAfterMutation(ctx, registered.ID)
	return registered, nil
}

// UpdateRule replaces rule id's definition. The registry already drops
// any live temporal-pattern state on update (its trigger semantics may
// have changed); this re-arms an absence pattern with no arming event
// under the new definition.
func (e *Engine) UpdateRule(ctx context.Context, id string, rule model.Rule) (model.Rule, error) {
	updated, err := e.registry.Update(id, rule)
	if err != nil {
		return model.Rule{}, err
	}
	e.invalidateCompiled(id)
	e.armTemporal(updated)
	e.persistAfterMutation(ctx, id)
	return updated, nil
}

// UnregisterRule removes a rule entirely.
func (e *Engine) UnregisterRule(ctx context.Context, id string) error {
	if err := e.registry.Unregister(id); err != nil {
		return err
	}
	e.invalidateCompiled(id)
	e.persistAfterMutation(ctx, id)
	return nil
}

// EnableRule re-enables a previously disabled rule and re-arms its
// temporal pattern.
func (e *Engine) EnableRule(ctx context.Context, id string) error {
	if err := e.registry.Enable(id); err != nil {
		return err
	}
	if rule, ok := e.registry.Get(id); ok {
		e.armTemporal(rule)
	}
	e.persistAfterMutation(ctx, id)
	return nil
}

// DisableRule disables a rule; the registry drops its live temporal
// state as part of Disable.
func (e *Engine) DisableRule(ctx context.Context, id string) error {
	if err := e.registry.Disable(id); err != nil {
		return err
	}
	e.persistAfterMutation(ctx, id)
	return nil
}

// RollbackRule restores a prior version's snapshot as a new version.
func (e *Engine) RollbackRule(ctx context.Context, id string, version int64) (model.Rule, error) {
	restored, err := e.registry.Rollback(id, version)
	if err != nil {
		return model.Rule{}, err
	}
	e.invalidateCompiled(id)
	e.armTemporal(restored)
	e.persistAfterMutation(ctx, id)
	return restored, nil
}

// armTemporal arms rule's temporal pattern in the Matcher if it's an
// enabled absence pattern with no arming event — every other temporal
// kind (and an absence with an "after") starts its own window lazily
// the first time a matching event arrives.
func (e *Engine) armTemporal(rule model.Rule) {
	if !rule.Enabled || rule.Trigger.Kind != model.TriggerTemporal || rule.Trigger.Temporal == nil {
		return
	}
	e.temporal.Arm(rule.ID, *rule.Trigger.Temporal)
}

func (e *Engine) invalidateCompiled(ruleID string) {
	e.compiledMu.Lock()
	defer e.compiledMu.Unlock()
	delete(e.compiled, ruleID)
	delete(e.compiledAt, ruleID)
}

// persistAfterMutation snapshots the full rule set and id's version
// history to the configured storage adapter. Failures are logged and
// swallowed, mirroring the Timer Wheel's persistence policy: durability
// is a best-effort aid, not a correctness requirement for an already
// in-memory-consistent registry.
func (e *Engine) persistAfterMutation(ctx context.Context, ruleID string) {
	if e.ruleStorage == nil {
		return
	}
	if rules, err := json.Marshal(e.registry.List()); err == nil {
		if err := e.ruleStorage.Save(ctx, rulesStorageKey, rules); err != nil {
			e.log.Warn("persisting rule set failed", "error", err)
		}
	} else {
		e.log.Warn("marshaling rule set failed", "error", err)
	}

	history := e.registry.History(ruleID)
	if data, err := json.Marshal(history); err == nil {
		if err := e.ruleStorage.Save(ctx, versionsStorageKey(ruleID), data); err != nil {
			e.log.Warn("persisting rule history failed", "rule", ruleID, "error", err)
		}
	} else {
		e.log.Warn("marshaling rule history failed", "rule", ruleID, "error", err)
	}
}

// LoadRules restores every persisted rule definition into the registry
// and the Pattern Index, and arms temporal patterns — used at startup
// before Run is called. Each restored rule re-registers at version 1;
// its prior version history remains in storage under versions:<ruleId>
// for audit even though Register does not replay it into the
// registry's in-memory history.
func (e *Engine) LoadRules(ctx context.Context) error {
	if e.ruleStorage == nil {
		return nil
	}
	data, ok, err := e.ruleStorage.Load(ctx, rulesStorageKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var rules []model.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return err
	}
	for _, rule := range rules {
		registered, err := e.registry.Register(rule)
		if err != nil {
			e.log.Warn("skipping persisted rule on load", "rule", rule.ID, "error", err)
			continue
		}
		e.armTemporal(registered)
	}
	return nil
}
