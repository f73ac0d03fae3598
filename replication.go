package quillsql

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/quillsql/quillsql/internal/cmdlog"
	"github.com/quillsql/quillsql/internal/snapshot"
)

// ReplicationOptions configures a single-leader Raft cluster backing a
// DB's command log, grounded on the example pack's Raft bootstrap
// pattern (bolt log/stable stores, file snapshot store, TCP
// transport).
type ReplicationOptions struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Cluster is the Raft-backed replication layer sitting in front of a
// DB. The leader's Replicate submits a committed statement's row-level
// commands through the Raft log; every node's FSM applies committed
// commands directly to its own storage.Backend, so a promoted follower
// already has the full table state a new leader needs.
type Cluster struct {
	raft *raft.Raft
	fsm  *cmdlog.FSM
	db   *DB
	next uint64
}

// NewCluster wires a Raft node around db's backend and bootstraps a
// single-voter configuration. Additional voters join via raft.AddVoter
// against the returned Cluster's underlying Raft instance through the
// caller's own cluster-management RPCs; that membership-change surface
// is intentionally left to the embedder, the way the teacher's pack
// leaves gRPC/HTTP transport choices to the embedder.
func NewCluster(db *DB, opts ReplicationOptions) (*Cluster, error) {
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("quillsql: create raft data dir: %w", err)
	}

	applier := stateMachineApplier{backend: db.backend, tenant: db.opts.Tenant}
	sm := cmdlog.New(applier)
	snapAdapter := &snapshot.Adapter{
		Backend:     db.backend,
		Tenant:      db.opts.Tenant,
		LastApplied: sm.LastApplied,
	}
	fsm := cmdlog.NewFSMFromStateMachine(sm, snapAdapter)

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(opts.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", opts.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("quillsql: resolve raft bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(opts.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("quillsql: create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(opts.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("quillsql: create raft snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(opts.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("quillsql: create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(opts.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("quillsql: create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(config, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("quillsql: create raft node: %w", err)
	}

	bootstrapConfig := raft.Configuration{
		Servers: []raft.Server{
			{ID: config.LocalID, Address: transport.LocalAddr()},
		},
	}
	if err := r.BootstrapCluster(bootstrapConfig).Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("quillsql: bootstrap raft cluster: %w", err)
	}

	return &Cluster{raft: r, fsm: fsm, db: db}, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (c *Cluster) IsLeader() bool { return c.raft.State() == raft.Leader }

// Replicate submits cmds as one committed batch through the Raft log so
// every follower's FSM applies them to its own backend. Call it after a
// successful DB write on the leader; it is a no-op (returns an error)
// when this node is not the leader.
func (c *Cluster) Replicate(cmds []cmdlog.Command) error {
	if !c.IsLeader() {
		return fmt.Errorf("quillsql: not the raft leader")
	}
	c.next++
	batch := cmdlog.CommandBatch{ID: c.next, Commands: cmds}
	data, err := cmdlog.EncodeBatch(batch)
	if err != nil {
		return err
	}
	future := c.raft.Apply(data, 5*time.Second)
	return future.Error()
}

// Shutdown stops the Raft node.
func (c *Cluster) Shutdown() error {
	return c.raft.Shutdown().Error()
}
