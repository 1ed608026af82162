package factstore

import (
	"testing"
	"time"

	"github.com/hamicek/ruleengine/internal/model"
	"github.com/hamicek/ruleengine/internal/ruleerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSetStartsVersionAtOneAndIncrements(t *testing.T) {
	s := New(fixedNow(time.UnixMilli(1000)))

	f, err := s.Set("customer:1:score", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Version)
	assert.Equal(t, int64(1000), f.UpdatedAt)

	f, err = s.Set("customer:1:score", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.Version)
}

func TestDeleteThenSetRestartsVersion(t *testing.T) {
	s := New(fixedNow(time.UnixMilli(0)))
	_, err := s.Set("k", 1)
	require.NoError(t, err)
	require.True(t, s.Delete("k"))

	f, err := s.Set("k", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Version)
}

func TestSetEmptyKeyFails(t *testing.T) {
	s := New(nil)
	_, err := s.Set("  ", 1)
	require.Error(t, err)
	assert.True(t, ruleerr.Is(err, ruleerr.KindBadRequest))
}

func TestQueryWildcardMatchesSingleSegment(t *testing.T) {
	s := New(nil)
	_, _ = s.Set("customer:1:score", 1)
	_, _ = s.Set("customer:2:score", 2)
	_, _ = s.Set("customer:1:name", "a")

	got := s.Query("customer:*:score")
	assert.Len(t, got, 2)

	got = s.Query("customer:1:*")
	assert.Len(t, got, 2)
}

func TestQueryDoubleWildcardIsUndefinedNotMultiSegment(t *testing.T) {
	s := New(nil)
	_, _ = s.Set("a:b:c", 1)
	got := s.Query("a:**")
	assert.Empty(t, got, "** is not a defined multi-segment wildcard")
}

func TestFactChangedListenerFiresOnMutation(t *testing.T) {
	s := New(nil)
	var changes []model.FactChange
	s.Subscribe(func(c model.FactChange) { changes = append(changes, c) })

	_, _ = s.Set("k", "v1")
	_, _ = s.Set("k", "v2")
	s.Delete("k")

	require.Len(t, changes, 3)
	assert.Nil(t, changes[0].OldValue)
	assert.Equal(t, "v1", changes[1].OldValue)
	assert.True(t, changes[2].Deleted)
}

func TestFirstMatchExactKeyBypassesWildcardScan(t *testing.T) {
	s := New(nil)
	_, _ = s.Set("a:1", "exact")
	_, _ = s.Set("a:2", "other")

	f, ok := s.FirstMatch("a:1")
	require.True(t, ok)
	assert.Equal(t, "exact", f.Value)
}
