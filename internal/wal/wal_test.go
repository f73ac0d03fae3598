package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quillsql/internal/storage"
)

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(Entry{ID: 1, Kind: KindInsert, Table: "users", Key: "r:users:0:1", Row: storage.Row{storage.Integer(1)}}))
	require.NoError(t, w.Append(Entry{ID: 2, Kind: KindCommit}))

	entries, err := w.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].ID)
	assert.Equal(t, KindInsert, entries[0].Kind)
	assert.Equal(t, int64(1), entries[0].Row[0].Int)
	assert.Equal(t, KindCommit, entries[1].Kind)
}

// TestIdempotentReplay covers invariant 6: replaying the same WAL twice
// through an apply function that tracks already-seen command ids must
// leave the resulting state unchanged on the second pass.
func TestIdempotentReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(Entry{ID: 1, Kind: KindInsert, Table: "users", Key: "r:users:0:1", Row: storage.Row{storage.Integer(42)}}))
	require.NoError(t, w.Append(Entry{ID: 2, Kind: KindUpdate, Table: "users", Key: "r:users:0:1", Row: storage.Row{storage.Integer(43)}}))

	applied := make(map[uint64]bool)
	state := make(map[string]storage.Row)
	apply := func(e Entry) error {
		if applied[e.ID] {
			return nil
		}
		applied[e.ID] = true
		switch e.Kind {
		case KindInsert, KindUpdate:
			state[e.Key] = e.Row
		case KindDelete:
			delete(state, e.Key)
		}
		return nil
	}

	require.NoError(t, w.Replay(apply))
	first := append(storage.Row(nil), state["r:users:0:1"]...)

	require.NoError(t, w.Replay(apply))
	assert.Equal(t, first, state["r:users:0:1"])
	assert.Equal(t, int64(43), state["r:users:0:1"][0].Int)
	assert.Len(t, applied, 2)
}

func TestTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(Entry{ID: 1, Kind: KindCommit}))
	require.NoError(t, w.Truncate())

	entries, err := w.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
