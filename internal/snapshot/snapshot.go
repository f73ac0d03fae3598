// Package snapshot implements whole-database snapshot/restore:
// snapshot() -> {meta{last_applied_id}, data{table_state}}, restore(meta,
// data). Used by DB.Snapshot/DB.Restore and as the data payload behind
// cmdlog's raft.FSM snapshots. Taking a snapshot does not truncate the WAL.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"sort"

	"github.com/quillsql/quillsql/internal/dberrors"
	"github.com/quillsql/quillsql/internal/storage"
)

// Meta carries the replication checkpoint a snapshot was taken at.
type Meta struct {
	LastAppliedID uint64
}

// Table is one table's full schema and row state at snapshot time.
type Table struct {
	Name    string
	Columns []storage.Column
	Rows    []storage.Row
	RowIDs  []string
}

// Snapshot is the full captured database state for one tenant.
type Snapshot struct {
	Meta   Meta
	Tables []Table
}

// Capture reads every table belonging to tenant out of backend into a
// Snapshot stamped with lastApplied.
func Capture(backend storage.Backend, tenant string, lastApplied uint64) (*Snapshot, error) {
	names, err := backend.ListTables(tenant)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	snap := &Snapshot{Meta: Meta{LastAppliedID: lastApplied}, Tables: make([]Table, 0, len(names))}
	for _, name := range names {
		t, err := backend.GetTable(tenant, name)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		snap.Tables = append(snap.Tables, Table{
			Name:    t.Name,
			Columns: append([]storage.Column(nil), t.Columns...),
			Rows:    cloneRows(t.Rows),
			RowIDs:  append([]string(nil), t.RowIDs...),
		})
	}
	return snap, nil
}

func cloneRows(rows []storage.Row) []storage.Row {
	out := make([]storage.Row, len(rows))
	for i, r := range rows {
		out[i] = append(storage.Row(nil), r...)
	}
	return out
}

// Restore replaces tenant's entire contents in backend with snap's.
func Restore(backend storage.Backend, tenant string, snap *Snapshot) error {
	if err := backend.Clear(tenant); err != nil {
		return err
	}
	for _, t := range snap.Tables {
		if err := backend.InsertTable(tenant, t.Name, t.Columns); err != nil {
			return err
		}
		for _, row := range t.Rows {
			if _, err := backend.PushRow(tenant, t.Name, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// Encode gob-encodes a Snapshot for durable storage or wire transfer.
func Encode(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, dberrors.Wrap(dberrors.Other, err, "snapshot: encode")
	}
	return buf.Bytes(), nil
}

// Decode decodes a Snapshot previously produced by Encode.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if len(data) == 0 {
		return &snap, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, dberrors.Wrap(dberrors.Other, err, "snapshot: decode")
	}
	return &snap, nil
}

// Adapter wires Capture/Restore into cmdlog.Snapshotter so raft snapshots
// carry full table state rather than just the apply-outcome cache.
type Adapter struct {
	Backend     storage.Backend
	Tenant      string
	LastApplied func() uint64
}

func (a *Adapter) Snapshot() ([]byte, error) {
	snap, err := Capture(a.Backend, a.Tenant, a.LastApplied())
	if err != nil {
		return nil, err
	}
	return Encode(snap)
}

func (a *Adapter) Restore(data []byte) error {
	snap, err := Decode(data)
	if err != nil {
		return err
	}
	return Restore(a.Backend, a.Tenant, snap)
}
