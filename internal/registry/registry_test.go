package registry

import (
	"testing"
	"time"

	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/ruleerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	added   []string
	removed []string
}

func (f *fakeIndex) Add(r model.Rule)       { f.added = append(f.added, r.ID) }
func (f *fakeIndex) Remove(ruleID string)    { f.removed = append(f.removed, ruleID) }

type fakeTemporal struct{ forgotten []string }

func (f *fakeTemporal) Forget(ruleID string) { f.forgotten = append(f.forgotten, ruleID) }

func sampleRule(id string) model.Rule {
	return model.Rule{
		ID: id, Name: "r", Priority: 1, Enabled: true,
		Trigger: model.Trigger{Kind: model.TriggerEvent, Topic: "order.created"},
		Actions: []model.Action{{Kind: model.ActionLog, Message: "hi"}},
	}
}

func TestRegisterSetsVersionOneAndIndexes(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, nil, func() time.Time { return time.UnixMilli(0) })

	rule, err := reg.Register(sampleRule("r1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rule.Version)
	assert.Equal(t, []string{"r1"}, idx.added)

	hist := reg.History("r1")
	require.Len(t, hist, 1)
	assert.Equal(t, model.ChangeRegistered, hist[0].ChangeType)
}

func TestRegisterDuplicateIDConflicts(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, nil, nil)

	_, err := reg.Register(sampleRule("r1"))
	require.NoError(t, err)
	_, err = reg.Register(sampleRule("r1"))
	require.Error(t, err)
	assert.True(t, ruleerr.Is(err, ruleerr.KindConflict))
}

func TestRegisterInvalidRuleMutatesNothing(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, nil, nil)

	bad := sampleRule("r1")
	bad.Name = ""
	_, err := reg.Register(bad)
	require.Error(t, err)
	assert.True(t, ruleerr.Is(err, ruleerr.KindValidation))

	_, ok := reg.Get("r1")
	assert.False(t, ok, "a failed validation must not register the rule")
	assert.Empty(t, idx.added)
}

func TestUpdateIncrementsVersionAndReindexes(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, nil, nil)
	reg.Register(sampleRule("r1"))

	updated := sampleRule("r1")
	updated.Priority = 5
	rule, err := reg.Update("r1", updated)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rule.Version)
	assert.Equal(t, 5, rule.Priority)
	assert.Contains(t, idx.removed, "r1")
	assert.Equal(t, []string{"r1", "r1"}, idx.added, "update re-adds the rule to the index")
}

func TestUnregisterRemovesFromListAndIndex(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, nil, nil)
	reg.Register(sampleRule("r1"))
	reg.Register(sampleRule("r2"))

	require.NoError(t, reg.Unregister("r1"))
	ids := reg.List()
	require.Len(t, ids, 1)
	assert.Equal(t, "r2", ids[0].ID)
	assert.Contains(t, idx.removed, "r1")

	err := reg.Unregister("r1")
	assert.True(t, ruleerr.Is(err, ruleerr.KindNotFound))
}

func TestEnableDisableTogglesAndForgetsTemporalState(t *testing.T) {
	idx := &fakeIndex{}
	temp := &fakeTemporal{}
	reg := New(idx, temp, nil)
	reg.Register(sampleRule("r1"))

	require.NoError(t, reg.Disable("r1"))
	rule, _ := reg.Get("r1")
	assert.False(t, rule.Enabled)
	assert.Contains(t, temp.forgotten, "r1")

	require.NoError(t, reg.Enable("r1"))
	rule, _ = reg.Get("r1")
	assert.True(t, rule.Enabled)
}

func TestRollbackRestoresPriorSnapshotAsNewVersion(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, nil, nil)
	reg.Register(sampleRule("r1"))

	updated := sampleRule("r1")
	updated.Priority = 99
	reg.Update("r1", updated)

	rule, err := reg.Rollback("r1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rule.Version)
	assert.Equal(t, 1, rule.Priority, "rolled back to version 1's priority")

	hist := reg.History("r1")
	last := hist[len(hist)-1]
	assert.Equal(t, model.ChangeRolledBack, last.ChangeType)
	assert.Equal(t, int64(2), last.RolledBackFrom, "records the version being superseded, not the rollback target")
}

func TestGroupDisabledIsReadThroughGroupEnabled(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, nil, nil)
	rule := sampleRule("r1")
	rule.Group = "billing"
	reg.Register(rule)

	assert.True(t, reg.GroupEnabled(rule), "no group record yet defaults to enabled")

	reg.SetGroupEnabled("billing", "Billing", false)
	assert.False(t, reg.GroupEnabled(rule))
}
