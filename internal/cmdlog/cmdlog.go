// Package cmdlog implements the replicated command log's state machine:
// idempotent application of CommandBatch entries keyed by a derived
// per-command id, plus a hashicorp/raft FSM adapter so the same state
// machine can sit behind single-leader replication. Grounded on
// original_source/src/state_machine.rs's CommandBatch/ReplicatedCommand/
// ApplyOutcome shapes.
package cmdlog

import (
	"bytes"
	"encoding/gob"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/quillsql/quillsql/internal/dberrors"
	"github.com/quillsql/quillsql/internal/storage"
	"github.com/quillsql/quillsql/internal/wal"
)

// Command is one replicated operation within a batch.
type Command struct {
	Kind    wal.EntryKind
	Table   string
	Key     string
	Row     storage.Row
	OldRow  storage.Row
	Columns []storage.Column
}

// CommandBatch groups the commands produced by a single committed
// transaction so they apply (and replicate) atomically.
type CommandBatch struct {
	ID       uint64
	Commands []Command
}

// ApplyOutcome records what happened when a specific command id was
// applied, cached so a replayed or re-delivered batch is a no-op.
type ApplyOutcome struct {
	CommandID uint64
	Applied   bool
	Err       string
}

// Applier performs one command against the underlying engine state. The
// state machine calls it at most once per distinct command id.
type Applier interface {
	Apply(cmd Command) error
}

// commandID derives a stable per-command id from the batch id and the
// command's position within it.
func commandID(batchID uint64, i int) uint64 {
	return batchID + uint64(i)
}

// StateMachine is the idempotent apply engine: commands already seen by
// command id are served from the outcome cache instead of re-applied.
type StateMachine struct {
	mu          sync.Mutex
	applier     Applier
	outcomes    map[uint64]ApplyOutcome
	lastApplied uint64
}

func New(applier Applier) *StateMachine {
	return &StateMachine{applier: applier, outcomes: make(map[uint64]ApplyOutcome)}
}

// Apply applies every command in batch exactly once (by derived id) and
// returns the per-command outcomes in order.
func (sm *StateMachine) Apply(batch CommandBatch) []ApplyOutcome {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	outcomes := make([]ApplyOutcome, len(batch.Commands))
	for i, cmd := range batch.Commands {
		id := commandID(batch.ID, i)
		if cached, ok := sm.outcomes[id]; ok {
			outcomes[i] = cached
			continue
		}
		var outcome ApplyOutcome
		if err := sm.applier.Apply(cmd); err != nil {
			outcome = ApplyOutcome{CommandID: id, Applied: false, Err: err.Error()}
		} else {
			outcome = ApplyOutcome{CommandID: id, Applied: true}
		}
		sm.outcomes[id] = outcome
		outcomes[i] = outcome
		if id > sm.lastApplied {
			sm.lastApplied = id
		}
	}
	return outcomes
}

func (sm *StateMachine) LastApplied() uint64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastApplied
}

type persistedState struct {
	Outcomes    map[uint64]ApplyOutcome
	LastApplied uint64
}

func (sm *StateMachine) encodeState() ([]byte, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var buf bytes.Buffer
	ps := persistedState{Outcomes: sm.outcomes, LastApplied: sm.lastApplied}
	if err := gob.NewEncoder(&buf).Encode(ps); err != nil {
		return nil, dberrors.Wrap(dberrors.Other, err, "cmdlog: encode state machine snapshot")
	}
	return buf.Bytes(), nil
}

func (sm *StateMachine) decodeState(data []byte) error {
	var ps persistedState
	if len(data) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ps); err != nil {
			return dberrors.Wrap(dberrors.Other, err, "cmdlog: decode state machine snapshot")
		}
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if ps.Outcomes == nil {
		ps.Outcomes = make(map[uint64]ApplyOutcome)
	}
	sm.outcomes = ps.Outcomes
	sm.lastApplied = ps.LastApplied
	return nil
}

// Snapshotter lets the owning engine plug in full data snapshot/restore
// (internal/snapshot) so raft snapshots capture table state. When one is
// set, FSM snapshots hold only its data, not the idempotency cache.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// FSM adapts StateMachine to hashicorp/raft's finite state machine
// interface so the same idempotent apply logic drives the replicated
// log.
type FSM struct {
	sm          *StateMachine
	snapshotter Snapshotter
}

func NewFSM(applier Applier, snapshotter Snapshotter) *FSM {
	return NewFSMFromStateMachine(New(applier), snapshotter)
}

// NewFSMFromStateMachine adapts an already-constructed StateMachine,
// letting the caller keep its own reference to sm (e.g. to wire a
// snapshot.Adapter's LastApplied callback to the very instance the FSM
// applies commands against) instead of going through a fresh Applier.
func NewFSMFromStateMachine(sm *StateMachine, snapshotter Snapshotter) *FSM {
	return &FSM{sm: sm, snapshotter: snapshotter}
}

// LastApplied exposes the underlying StateMachine's high-water mark, for
// callers (e.g. a snapshot.Adapter) that need it without holding their
// own reference to the StateMachine.
func (f *FSM) LastApplied() uint64 { return f.sm.LastApplied() }

// Apply decodes a raft log entry into a CommandBatch and applies it.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var batch CommandBatch
	if err := gob.NewDecoder(bytes.NewReader(log.Data)).Decode(&batch); err != nil {
		return dberrors.Wrap(dberrors.Other, err, "cmdlog: decode raft log entry at index %d", log.Index)
	}
	return f.sm.Apply(batch)
}

type fsmSnapshot struct {
	data []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	var data []byte
	var err error
	if f.snapshotter != nil {
		data, err = f.snapshotter.Snapshot()
	} else {
		data, err = f.sm.encodeState()
	}
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{data: data}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return dberrors.Wrap(dberrors.Other, err, "cmdlog: read restore snapshot")
	}
	if f.snapshotter != nil {
		return f.snapshotter.Restore(data)
	}
	return f.sm.decodeState(data)
}

// EncodeBatch serializes a CommandBatch for submission to raft.Apply.
func EncodeBatch(batch CommandBatch) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(batch); err != nil {
		return nil, dberrors.Wrap(dberrors.Other, err, "cmdlog: encode command batch %d", batch.ID)
	}
	return buf.Bytes(), nil
}
