// Package quillsql is an embeddable relational database engine: SQL
// execution over ACID transactions with MVCC and pessimistic table
// locking, deadlock detection, savepoints, a write-ahead log, a
// pluggable storage substrate (in-memory, file, or memory-mapped), and
// optional single-leader replication driven by a Raft-backed command
// log. It plays the role the teacher's top-level tinysql.go handle
// plays: one constructor, one handle, sessions issuing SQL against it.
package quillsql

import (
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quillsql/quillsql/internal/cmdlog"
	"github.com/quillsql/quillsql/internal/dberrors"
	"github.com/quillsql/quillsql/internal/engine"
	"github.com/quillsql/quillsql/internal/keycodec"
	"github.com/quillsql/quillsql/internal/snapshot"
	"github.com/quillsql/quillsql/internal/sqlast"
	"github.com/quillsql/quillsql/internal/sqlparse"
	"github.com/quillsql/quillsql/internal/storage"
	"github.com/quillsql/quillsql/internal/txn"
	"github.com/quillsql/quillsql/internal/wal"
)

// StorageMode selects the storage substrate backing a DB.
type StorageMode int

const (
	// ModeMemory keeps every table in process memory; nothing survives
	// a restart, and no WAL is opened.
	ModeMemory StorageMode = iota
	// ModeFile stores tables in a go.etcd.io/bbolt file, durable across
	// restarts, with a WAL protecting in-flight transactions.
	ModeFile
	// ModeMmap memory-maps a flat file via github.com/edsrzf/mmap-go,
	// durable across restarts, with a WAL protecting in-flight
	// transactions.
	ModeMmap
)

// Options configures a DB.
type Options struct {
	Mode StorageMode
	// Dir holds the backend's data file and the WAL file for ModeFile/
	// ModeMmap; ignored for ModeMemory.
	Dir string
	// Tenant namespaces every table this DB serves; multiple DBs can
	// share one backend file under different tenants.
	Tenant string
	// Metrics, if non-nil, is used to register the engine's Prometheus
	// collectors; if nil, they are registered with a fresh private
	// registry.
	Metrics *prometheus.Registry
	// Logger receives structured log events; the zero value discards
	// them.
	Logger zerolog.Logger
}

// DB is one embeddable database handle: a storage backend, its WAL, the
// transaction orchestrator, and the SQL engine bound together.
type DB struct {
	opts    Options
	backend storage.Backend
	wal     *wal.WAL
	txm     *txn.Manager
	eng     *engine.Engine
	metrics *metrics
	log     zerolog.Logger
}

// Open constructs a DB per opts, replaying any WAL entries from a prior
// crash before serving new statements.
func Open(opts Options) (*DB, error) {
	if opts.Tenant == "" {
		opts.Tenant = "default"
	}
	log := opts.Logger

	backend, walLog, err := openStorage(opts)
	if err != nil {
		return nil, err
	}

	if walLog != nil {
		if err := recoverFromWAL(backend, opts.Tenant, walLog); err != nil {
			return nil, err
		}
	}

	m, err := newMetrics(opts.Metrics)
	if err != nil {
		return nil, err
	}

	txm := txn.New(backend, opts.Tenant, walLog, nil)
	eng := engine.New(txm, log)

	return &DB{
		opts:    opts,
		backend: backend,
		wal:     walLog,
		txm:     txm,
		eng:     eng,
		metrics: m,
		log:     log.With().Str("component", "quillsql").Str("tenant", opts.Tenant).Logger(),
	}, nil
}

func openStorage(opts Options) (storage.Backend, *wal.WAL, error) {
	switch opts.Mode {
	case ModeMemory:
		return storage.NewMemStore(), nil, nil
	case ModeFile:
		backend, err := storage.OpenFileStore(filepath.Join(opts.Dir, "data.bolt"))
		if err != nil {
			return nil, nil, err
		}
		w, err := wal.Open(filepath.Join(opts.Dir, "wal.log"))
		if err != nil {
			return nil, nil, err
		}
		return backend, w, nil
	case ModeMmap:
		backend, err := storage.OpenMmapStore(filepath.Join(opts.Dir, "data.mmap"))
		if err != nil {
			return nil, nil, err
		}
		w, err := wal.Open(filepath.Join(opts.Dir, "wal.log"))
		if err != nil {
			return nil, nil, err
		}
		return backend, w, nil
	default:
		return nil, nil, dberrors.ErrOther("unknown storage mode %d", opts.Mode)
	}
}

// recoverFromWAL replays every entry belonging to a transaction that
// reached a Commit marker, applying it directly to backend; entries
// from a transaction with no Commit marker (the crash happened
// mid-transaction) are discarded, matching the WAL's durability
// contract that only a fsynced Commit entry makes a transaction
// recoverable.
func recoverFromWAL(backend storage.Backend, tenant string, walLog *wal.WAL) error {
	entries, err := walLog.ReadAll()
	if err != nil {
		return err
	}
	committed := make(map[uint64]bool)
	for _, e := range entries {
		if e.Kind == wal.KindCommit {
			committed[e.TxID] = true
		}
	}
	for _, e := range entries {
		if !committed[e.TxID] {
			continue
		}
		if err := applyWALEntry(backend, tenant, e); err != nil {
			return err
		}
	}
	return nil
}

func applyWALEntry(backend storage.Backend, tenant string, e wal.Entry) error {
	switch e.Kind {
	case wal.KindCreateTable:
		if backend.TableExists(tenant, e.Table) {
			return nil
		}
		return backend.InsertTable(tenant, e.Table, e.Columns)
	case wal.KindDropTable:
		if !backend.TableExists(tenant, e.Table) {
			return nil
		}
		return backend.DropTable(tenant, e.Table)
	case wal.KindInsert:
		if !backend.TableExists(tenant, e.Table) {
			return nil
		}
		// A row whose primary key the backend already holds was merged
		// before the restart; skip it so replay stays idempotent.
		if schema, err := backend.GetTable(tenant, e.Table); err == nil && schema != nil {
			pkIdx := schema.PrimaryKeyIndex()
			parsed, perr := keycodec.Parse(e.Key)
			for _, row := range schema.Rows {
				if pkIdx >= 0 && perr == nil && row[pkIdx].String() == parsed.PrimaryKey {
					return nil
				}
			}
		}
		_, err := backend.PushRow(tenant, e.Table, e.Row)
		return err
	case wal.KindUpdate:
		return replayKeyedWrite(backend, tenant, e, func(schema *storage.Table, pkCol storage.Column, pkVal storage.Value) error {
			updates := make([]storage.ColumnUpdate, len(schema.Columns))
			for i, col := range schema.Columns {
				updates[i] = storage.ColumnUpdate{Column: col.Name, Value: e.Row[i]}
			}
			_, err := backend.UpdateRows(tenant, e.Table, updates, &storage.Predicate{Column: pkCol.Name, Value: pkVal})
			return err
		})
	case wal.KindDelete:
		return replayKeyedWrite(backend, tenant, e, func(schema *storage.Table, pkCol storage.Column, pkVal storage.Value) error {
			_, err := backend.DeleteRows(tenant, e.Table, &storage.Predicate{Column: pkCol.Name, Value: pkVal})
			return err
		})
	case wal.KindAlterTable, wal.KindCommit, wal.KindRollback:
		return nil
	default:
		return nil
	}
}

// replayKeyedWrite resolves e.Key's primary key text back to the
// table's PK column and typed value, then lets fn issue the
// appropriate predicate-scoped backend call. An entry for a table that
// no longer exists is skipped; for a row the backend does not hold, a
// Delete is a no-op and an Update re-inserts the WAL's new row: recovery
// only needs to reach the state every committed entry converges to, not
// replay each one in isolation.
func replayKeyedWrite(backend storage.Backend, tenant string, e wal.Entry, fn func(*storage.Table, storage.Column, storage.Value) error) error {
	schema, err := backend.GetTable(tenant, e.Table)
	if err != nil || schema == nil {
		return nil
	}
	pkIdx := schema.PrimaryKeyIndex()
	if pkIdx < 0 {
		return nil
	}
	parsed, err := keycodec.Parse(e.Key)
	if err != nil {
		return nil
	}
	pkCol := schema.Columns[pkIdx]
	for _, row := range schema.Rows {
		if row[pkIdx].String() == parsed.PrimaryKey {
			return fn(schema, pkCol, row[pkIdx])
		}
	}
	// Row absent from the backend (e.g. the Insert that created it and
	// this Update both postdate the last successful merge): synthesize
	// the PK value from its string form using the column's declared type
	// isn't reliable, so fall back to reinserting the WAL's new row
	// verbatim for Update; Delete of an absent row is simply a no-op.
	if e.Kind == wal.KindUpdate {
		_, err := backend.PushRow(tenant, e.Table, e.Row)
		return err
	}
	return nil
}

// Session is a client's handle into the DB: it parses and executes SQL
// statements, autocommitting unless an explicit BEGIN is open.
type Session struct {
	db  *DB
	sub *engine.Session
}

// NewSession starts a fresh session with no open explicit transaction.
func (db *DB) NewSession() *Session {
	return &Session{db: db, sub: db.eng.NewSession()}
}

// Exec parses and executes a single SQL statement.
func (s *Session) Exec(sql string) (engine.Result, error) {
	res, err := s.sub.Exec(sql, sqlparse.Parse)
	s.db.metrics.observe(sql, err)
	return res, err
}

// ExecStatement executes an already-parsed statement, useful when the
// caller has its own statement cache or builds sqlast nodes directly.
func (s *Session) ExecStatement(stmt sqlast.Statement) (engine.Result, error) {
	res, err := s.sub.ExecStatement(stmt)
	s.db.metrics.observe("", err)
	return res, err
}

// Snapshot captures the current committed state of every table, for a
// cold backup or for seeding a new replica.
func (db *DB) Snapshot() (*snapshot.Snapshot, error) {
	return snapshot.Capture(db.backend, db.opts.Tenant, 0)
}

// Restore replaces every table with snap's contents.
func (db *DB) Restore(snap *snapshot.Snapshot) error {
	return snapshot.Restore(db.backend, db.opts.Tenant, snap)
}

// Close flushes and releases the backend and WAL.
func (db *DB) Close() error {
	var firstErr error
	if db.wal != nil {
		if err := db.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// stateMachineApplier adapts a storage.Backend into a cmdlog.Applier,
// used by a replica's command-log state machine to replay committed
// writes shipped from the leader.
type stateMachineApplier struct {
	backend storage.Backend
	tenant  string
}

func (a stateMachineApplier) Apply(cmd cmdlog.Command) error {
	return applyWALEntry(a.backend, a.tenant, wal.Entry{
		Kind:    cmd.Kind,
		Table:   cmd.Table,
		Key:     cmd.Key,
		Row:     cmd.Row,
		OldRow:  cmd.OldRow,
		Columns: cmd.Columns,
	})
}
