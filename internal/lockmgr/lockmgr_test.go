package lockmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedLocksCoexistExclusiveConflicts(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(1, "users", Shared))
	require.NoError(t, m.Acquire(2, "users", Shared))

	err := m.Acquire(3, "users", Exclusive)
	assert.Error(t, err)

	m.ReleaseAll(1)
	m.ReleaseAll(2)

	require.NoError(t, m.Acquire(3, "users", Exclusive))

	err = m.Acquire(4, "users", Shared)
	assert.Error(t, err)

	require.NoError(t, m.Acquire(4, "posts", Exclusive))
}

func TestLockHolders(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(1, "users", Shared))
	require.NoError(t, m.Acquire(2, "users", Shared))

	holders := m.Holders("users")
	assert.ElementsMatch(t, []uint64{1, 2}, holders)
	assert.True(t, m.HasLock(1, "users"))
}

func TestSameTransactionUpgradeDowngrade(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(1, "users", Shared))
	require.NoError(t, m.Acquire(1, "users", Exclusive))
	require.NoError(t, m.Acquire(1, "users", Shared))

	err := m.Acquire(2, "users", Shared)
	assert.Error(t, err)
}

func TestMixedLocksSameTransaction(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(1, "users", Exclusive))
	require.NoError(t, m.Acquire(1, "users", Shared))

	assert.Error(t, m.Acquire(2, "users", Shared))
	assert.Error(t, m.Acquire(2, "users", Exclusive))
}

// TestConflictingHoldersExcludesCompatibleSharedHolders covers the
// compatibility matrix ConflictingHolders shares with Conflicts: two
// Shared holders never conflict with a third Shared request, but both
// conflict with an Exclusive request.
func TestConflictingHoldersExcludesCompatibleSharedHolders(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(1, "users", Shared))
	require.NoError(t, m.Acquire(2, "users", Shared))

	assert.False(t, m.Conflicts(3, "users", Shared))
	assert.Empty(t, m.ConflictingHolders(3, "users", Shared))

	assert.True(t, m.Conflicts(3, "users", Exclusive))
	holders := m.ConflictingHolders(3, "users", Exclusive)
	got := make([]uint64, len(holders))
	for i, h := range holders {
		got[i] = h.Tx
	}
	assert.ElementsMatch(t, []uint64{1, 2}, got)

	// tx's own holder entry is never reported as a conflict against itself,
	// even though it is excluded before the mode check runs.
	self := m.ConflictingHolders(1, "users", Shared)
	for _, h := range self {
		assert.NotEqual(t, uint64(1), h.Tx)
	}
}
