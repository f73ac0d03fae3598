package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quillsql/internal/storage"
)

func seedBackend(t *testing.T, b storage.Backend) {
	t.Helper()
	cols := []storage.Column{
		{Name: "id", Type: storage.TypeInteger, Constraints: storage.ConstraintPrimaryKey},
		{Name: "name", Type: storage.TypeText},
	}
	require.NoError(t, b.InsertTable("tenant1", "users", cols))
	_, err := b.PushRow("tenant1", "users", storage.Row{storage.Integer(1), storage.Text("alice")})
	require.NoError(t, err)
	_, err = b.PushRow("tenant1", "users", storage.Row{storage.Integer(2), storage.Text("bob")})
	require.NoError(t, err)
}

func TestCaptureAndRestoreRoundTrip(t *testing.T) {
	src := storage.NewMemStore()
	seedBackend(t, src)

	snap, err := Capture(src, "tenant1", 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.Meta.LastAppliedID)
	require.Len(t, snap.Tables, 1)
	assert.Equal(t, "users", snap.Tables[0].Name)
	assert.Len(t, snap.Tables[0].Rows, 2)

	dst := storage.NewMemStore()
	require.NoError(t, Restore(dst, "tenant1", snap))

	got, err := dst.GetTable("tenant1", "users")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Rows, 2)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := storage.NewMemStore()
	seedBackend(t, src)
	snap, err := Capture(src, "tenant1", 7)
	require.NoError(t, err)

	data, err := Encode(snap)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Meta.LastAppliedID, decoded.Meta.LastAppliedID)
	assert.Equal(t, len(snap.Tables), len(decoded.Tables))
}

func TestAdapterSnapshotRestore(t *testing.T) {
	src := storage.NewMemStore()
	seedBackend(t, src)
	adapter := &Adapter{Backend: src, Tenant: "tenant1", LastApplied: func() uint64 { return 5 }}

	data, err := adapter.Snapshot()
	require.NoError(t, err)

	dst := storage.NewMemStore()
	dstAdapter := &Adapter{Backend: dst, Tenant: "tenant1", LastApplied: func() uint64 { return 0 }}
	require.NoError(t, dstAdapter.Restore(data))

	got, err := dst.GetTable("tenant1", "users")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Rows, 2)
}
