// Package mvcc implements the per-key version chain store: begin/write/
// read_committed/read_uncommitted/commit/rollback with commit-time
// retimestamping, grounded on original_source/src/mvcc/manager.rs.
package mvcc

import (
	"sort"
	"sync"
	"time"

	"github.com/quillsql/quillsql/internal/dberrors"
	"github.com/quillsql/quillsql/internal/storage"
)

// Isolation is the transaction isolation level.
type Isolation int

const (
	ReadUncommitted Isolation = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// Version is one (transaction, value, timestamp) entry in a key's
// version chain.
type Version struct {
	TxID      uint64
	Value     storage.Row
	Timestamp time.Time
}

type txState int

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

type txRecord struct {
	id          uint64
	state       txState
	isolation   Isolation
	startTime   time.Time
	commitTime  time.Time
	writtenKeys map[string]struct{}
}

// Manager owns every key's version chain and the transaction state
// table. A single mutex serializes all access, matching the reference
// manager's per-manager synchronization granularity.
type Manager struct {
	mu       sync.Mutex
	versions map[string][]Version // ordered by (timestamp desc, txID asc)
	txs      map[uint64]*txRecord
	nextID   uint64
}

func New() *Manager {
	return &Manager{
		versions: make(map[string][]Version),
		txs:      make(map[uint64]*txRecord),
	}
}

// Begin registers a fresh transaction id as Active with the given
// isolation level and returns it.
func (m *Manager) Begin(isolation Isolation) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.txs[id] = &txRecord{
		id:          id,
		state:       txActive,
		isolation:   isolation,
		startTime:   time.Now(),
		writtenKeys: make(map[string]struct{}),
	}
	return id
}

func (m *Manager) IsActive(tx uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.txs[tx]
	return ok && rec.state == txActive
}

func (m *Manager) Isolation(tx uint64) (Isolation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.txs[tx]
	if !ok {
		return ReadCommitted, false
	}
	return rec.isolation, true
}

// Write appends a new version authored by tx at key, replacing any prior
// version by the same tx at that key (at most one version per
// (key, tx) at any time).
func (m *Manager) Write(tx uint64, key string, value storage.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.txs[tx]
	if !ok || rec.state != txActive {
		return dberrors.ErrTransactionNotActive(tx)
	}
	chain := m.versions[key]
	replaced := false
	for i, v := range chain {
		if v.TxID == tx {
			chain[i] = Version{TxID: tx, Value: value, Timestamp: time.Now()}
			replaced = true
			break
		}
	}
	if !replaced {
		chain = append(chain, Version{TxID: tx, Value: value, Timestamp: time.Now()})
	}
	m.versions[key] = chain
	rec.writtenKeys[key] = struct{}{}
	return nil
}

// ReadCommitted returns the latest version whose author is in the
// Committed set, as of "now" (statement time).
func (m *Manager) ReadCommitted(key string) (storage.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestCommittedAsOf(key, nil)
}

// ReadCommittedAsOf returns the latest version committed at or before
// asOf — used by Repeatable Read, which pins visibility to transaction
// start time.
func (m *Manager) ReadCommittedAsOf(key string, asOf time.Time) (storage.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestCommittedAsOf(key, &asOf)
}

func (m *Manager) latestCommittedAsOf(key string, asOf *time.Time) (storage.Row, bool) {
	chain := m.sortedChain(key)
	for _, v := range chain {
		rec, ok := m.txs[v.TxID]
		if !ok || rec.state != txCommitted {
			continue
		}
		if asOf != nil && rec.commitTime.After(*asOf) {
			continue
		}
		return v.Value, true
	}
	return nil, false
}

// ReadUncommitted returns the latest version regardless of transaction
// state.
func (m *Manager) ReadUncommitted(key string) (storage.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.sortedChain(key)
	if len(chain) == 0 {
		return nil, false
	}
	return chain[0].Value, true
}

// ReadOwn returns tx's own uncommitted write at key, if any — read-your-
// writes within the same transaction.
func (m *Manager) ReadOwn(tx uint64, key string) (storage.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[key] {
		if v.TxID == tx {
			return v.Value, true
		}
	}
	return nil, false
}

func (m *Manager) sortedChain(key string) []Version {
	chain := append([]Version(nil), m.versions[key]...)
	sort.Slice(chain, func(i, j int) bool {
		if !chain[i].Timestamp.Equal(chain[j].Timestamp) {
			return chain[i].Timestamp.After(chain[j].Timestamp)
		}
		return chain[i].TxID < chain[j].TxID
	})
	return chain
}

// Commit retimestamps every version authored by tx to a single commit
// instant, resorts affected chains, and moves tx from Active to
// Committed. Under Serializable, it first checks that no key tx wrote
// also received a committed version from another transaction between
// tx's start and now; if so it fails with WriteConflict and the caller
// must roll back.
func (m *Manager) Commit(tx uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.txs[tx]
	if !ok || rec.state != txActive {
		return dberrors.ErrTransactionNotActive(tx)
	}

	if rec.isolation == Serializable {
		for key := range rec.writtenKeys {
			for _, v := range m.versions[key] {
				if v.TxID == tx {
					continue
				}
				other, ok := m.txs[v.TxID]
				if !ok || other.state != txCommitted {
					continue
				}
				if other.commitTime.After(rec.startTime) {
					return dberrors.ErrWriteConflict(key)
				}
			}
		}
	}

	commitTime := time.Now()
	for key := range rec.writtenKeys {
		chain := m.versions[key]
		for i, v := range chain {
			if v.TxID == tx {
				chain[i].Timestamp = commitTime
			}
		}
		m.versions[key] = chain
	}
	rec.commitTime = commitTime
	rec.state = txCommitted
	return nil
}

// Rollback removes every version authored by tx, purging keys that
// become empty, and drops tx from Active.
func (m *Manager) Rollback(tx uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.txs[tx]
	if !ok {
		return dberrors.ErrTransactionNotFound(tx)
	}
	for key := range rec.writtenKeys {
		chain := m.versions[key]
		out := chain[:0]
		for _, v := range chain {
			if v.TxID != tx {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			delete(m.versions, key)
		} else {
			m.versions[key] = out
		}
	}
	rec.state = txRolledBack
	return nil
}

// StartTime returns tx's recorded start instant, used by Repeatable Read
// visibility.
func (m *Manager) StartTime(tx uint64) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.txs[tx]
	if !ok {
		return time.Time{}, false
	}
	return rec.startTime, true
}

// WrittenKeys returns the set of keys tx has written, used by the
// transaction manager to know which rows to merge on commit.
func (m *Manager) WrittenKeys(tx uint64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.txs[tx]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rec.writtenKeys))
	for k := range rec.writtenKeys {
		out = append(out, k)
	}
	return out
}

// Forget drops tx's bookkeeping record entirely, used after a
// transaction's outcome has been fully applied and it will never be
// queried again (keeps the txs map from growing without bound).
func (m *Manager) Forget(tx uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs, tx)
}
