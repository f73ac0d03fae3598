package cmdlog

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quillsql/internal/storage"
	"github.com/quillsql/quillsql/internal/wal"
)

type countingApplier struct {
	calls int
	rows  map[string]storage.Row
}

func newCountingApplier() *countingApplier {
	return &countingApplier{rows: make(map[string]storage.Row)}
}

func (a *countingApplier) Apply(cmd Command) error {
	a.calls++
	a.rows[cmd.Key] = cmd.Row
	return nil
}

// TestIdempotentBatchApply covers invariant 7 and scenario S6: applying
// the same batch twice (as a leader re-delivery or follower replay
// would) must apply the underlying commands only once.
func TestIdempotentBatchApply(t *testing.T) {
	applier := newCountingApplier()
	sm := New(applier)

	batch := CommandBatch{
		ID: 100,
		Commands: []Command{
			{Kind: wal.KindInsert, Table: "users", Key: "r:users:0:1", Row: storage.Row{storage.Integer(1)}},
			{Kind: wal.KindInsert, Table: "users", Key: "r:users:0:2", Row: storage.Row{storage.Integer(2)}},
		},
	}

	out1 := sm.Apply(batch)
	require.Len(t, out1, 2)
	assert.True(t, out1[0].Applied)
	assert.True(t, out1[1].Applied)
	assert.Equal(t, 2, applier.calls)

	out2 := sm.Apply(batch)
	assert.Equal(t, out1, out2)
	assert.Equal(t, 2, applier.calls, "re-applying the same batch must not call Apply again")
}

func TestLastAppliedAdvances(t *testing.T) {
	applier := newCountingApplier()
	sm := New(applier)

	sm.Apply(CommandBatch{ID: 10, Commands: []Command{{Kind: wal.KindInsert, Key: "a"}}})
	first := sm.LastApplied()

	sm.Apply(CommandBatch{ID: 20, Commands: []Command{{Kind: wal.KindInsert, Key: "b"}}})
	assert.Greater(t, sm.LastApplied(), first)
}

func TestEncodeDecodeStateRoundTrip(t *testing.T) {
	applier := newCountingApplier()
	sm := New(applier)
	sm.Apply(CommandBatch{ID: 5, Commands: []Command{{Kind: wal.KindInsert, Key: "a", Row: storage.Row{storage.Integer(7)}}}})

	data, err := sm.encodeState()
	require.NoError(t, err)

	restored := New(newCountingApplier())
	require.NoError(t, restored.decodeState(data))
	assert.Equal(t, sm.LastApplied(), restored.LastApplied())

	out := restored.Apply(CommandBatch{ID: 5, Commands: []Command{{Kind: wal.KindInsert, Key: "a", Row: storage.Row{storage.Integer(999)}}}})
	assert.True(t, out[0].Applied)
	assert.Equal(t, 0, restored.applier.(*countingApplier).calls, "restored cache must suppress re-application of already-seen command ids")
}

// TestNewFSMFromStateMachineSharesInstance guards against the FSM
// driving one StateMachine while a caller's own reference (e.g. a
// snapshot.Adapter's LastApplied callback) points at a different one:
// applying through the FSM must be visible on the StateMachine the
// caller kept.
func TestNewFSMFromStateMachineSharesInstance(t *testing.T) {
	applier := newCountingApplier()
	sm := New(applier)
	fsm := NewFSMFromStateMachine(sm, nil)

	data, err := EncodeBatch(CommandBatch{ID: 42, Commands: []Command{
		{Kind: wal.KindInsert, Table: "users", Key: "r:users:0:1", Row: storage.Row{storage.Integer(1)}},
	}})
	require.NoError(t, err)

	result := fsm.Apply(&raft.Log{Data: data})
	require.NotNil(t, result)

	assert.Equal(t, sm.LastApplied(), fsm.LastApplied())
	assert.Equal(t, uint64(42), sm.LastApplied())
	assert.Equal(t, 1, applier.calls)
}

func TestEncodeBatchRoundTrip(t *testing.T) {
	batch := CommandBatch{ID: 1, Commands: []Command{{Kind: wal.KindDelete, Table: "users", Key: "r:users:0:1"}}}
	data, err := EncodeBatch(batch)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
