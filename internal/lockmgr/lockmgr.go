// Package lockmgr implements the table-level pessimistic Shared/Exclusive
// lock manager, ported from original_source/src/locks/manager.rs.
package lockmgr

import (
	"sync"

	"github.com/quillsql/quillsql/internal/dberrors"
)

// Mode is a table lock mode.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

type holder struct {
	tx   uint64
	mode Mode
}

// Manager owns the table -> holder-list lock table.
type Manager struct {
	mu    sync.Mutex
	locks map[string][]holder
}

func New() *Manager {
	return &Manager{locks: make(map[string][]holder)}
}

// Acquire attempts to grant tx a lock of mode on table. Policy, ported
// verbatim from the reference manager: a transaction already holding a
// lock on the table either succeeds trivially (same mode), upgrades
// (Shared->Exclusive, only if no other tx holds Shared), downgrades
// (Exclusive->Shared, by simply adding the Shared entry alongside the
// existing Exclusive one), or is evaluated against other transactions
// where only Shared/Shared is compatible.
func (m *Manager) Acquire(tx uint64, table string, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	holders := m.locks[table]

	for _, h := range holders {
		if h.tx != tx {
			continue
		}
		if h.mode == mode {
			return nil
		}
		if h.mode == Shared && mode == Exclusive {
			for _, other := range holders {
				if other.tx != tx && other.mode == Shared {
					return dberrors.ErrLockConflict(
						"transaction %d cannot upgrade to Exclusive lock on table %q due to existing shared locks", tx, table)
				}
			}
			kept := holders[:0]
			for _, h2 := range holders {
				if h2.tx != tx {
					kept = append(kept, h2)
				}
			}
			kept = append(kept, holder{tx: tx, mode: Exclusive})
			m.locks[table] = kept
			return nil
		}
		if h.mode == Exclusive && mode == Shared {
			m.locks[table] = append(holders, holder{tx: tx, mode: Shared})
			return nil
		}
	}

	for _, h := range holders {
		if h.tx == tx {
			continue
		}
		if h.mode == Shared && mode == Shared {
			continue
		}
		return dberrors.ErrLockConflict(
			"transaction %d cannot acquire %v lock on table %q held by transaction %d", tx, modeName(mode), table, h.tx)
	}

	m.locks[table] = append(holders, holder{tx: tx, mode: mode})
	return nil
}

func modeName(m Mode) string {
	if m == Exclusive {
		return "Exclusive"
	}
	return "Shared"
}

// ReleaseAll discards every lock entry tx holds across all tables and
// prunes tables left with no holders.
func (m *Manager) ReleaseAll(tx uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for table, holders := range m.locks {
		kept := holders[:0]
		for _, h := range holders {
			if h.tx != tx {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(m.locks, table)
		} else {
			m.locks[table] = kept
		}
	}
}

// Holders returns the transaction ids currently holding any lock on
// table.
func (m *Manager) Holders(table string) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	holders := m.locks[table]
	out := make([]uint64, 0, len(holders))
	for _, h := range holders {
		out = append(out, h.tx)
	}
	return out
}

// HasLock reports whether tx holds any lock on table.
func (m *Manager) HasLock(tx uint64, table string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.locks[table] {
		if h.tx == tx {
			return true
		}
	}
	return false
}

// conflictingModes reports whether two lock modes conflict under this
// manager's compatibility matrix: Shared/Shared is the only compatible
// pairing, every other combination conflicts.
func conflictingModes(a, b Mode) bool {
	return !(a == Shared && b == Shared)
}

// Conflicts reports whether mode on table would conflict with a lock
// another transaction currently holds on it. The transaction manager
// picks its wait edges with ConflictingHolders instead.
func (m *Manager) Conflicts(tx uint64, table string, mode Mode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.locks[table] {
		if h.tx == tx {
			continue
		}
		if conflictingModes(h.mode, mode) {
			return true
		}
	}
	return false
}

// ConflictingHolders returns the (tx, mode) holders on table whose mode
// actually conflicts with mode, per the same compatibility matrix
// Conflicts uses. The transaction manager builds deadlock wait-for edges
// only against this set, instead of every current holder, so two
// transactions both holding a compatible Shared lock never get a
// spurious wait edge between them.
func (m *Manager) ConflictingHolders(tx uint64, table string, mode Mode) []struct {
	Tx   uint64
	Mode Mode
} {
	m.mu.Lock()
	defer m.mu.Unlock()
	holders := m.locks[table]
	out := make([]struct {
		Tx   uint64
		Mode Mode
	}, 0, len(holders))
	for _, h := range holders {
		if h.tx == tx || !conflictingModes(h.mode, mode) {
			continue
		}
		out = append(out, struct {
			Tx   uint64
			Mode Mode
		}{Tx: h.tx, Mode: h.mode})
	}
	return out
}
