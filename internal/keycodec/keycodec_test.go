package keycodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKeys(t *testing.T) {
	assert.Equal(t, "t:users", Table("users"))
	assert.Equal(t, "r:users:0:123", Row("users", 0, "123"))
	assert.Equal(t, "i:users:email:test@example.com", Index("users", "email", "test@example.com"))
	assert.Equal(t, "m:schema_version", Meta("schema_version"))
}

func TestParseKeys(t *testing.T) {
	k, err := Parse("t:users")
	require.NoError(t, err)
	assert.Equal(t, Key{Kind: KindTable, Table: "users"}, k)

	k, err = Parse("r:users:1:123")
	require.NoError(t, err)
	assert.Equal(t, Key{Kind: KindRow, Table: "users", Version: 1, PrimaryKey: "123"}, k)

	k, err = Parse("i:users:email:test@example.com")
	require.NoError(t, err)
	assert.Equal(t, Key{Kind: KindIndex, Table: "users", Column: "email", Value: "test@example.com"}, k)

	k, err = Parse("m:schema_version")
	require.NoError(t, err)
	assert.Equal(t, Key{Kind: KindMeta, Name: "schema_version"}, k)
}

func TestParseIndexValueWithColon(t *testing.T) {
	key := Index("events", "url", "https://example.com:8080/path")
	k, err := Parse(key)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8080/path", k.Value)
}

func TestParseMalformed(t *testing.T) {
	for _, bad := range []string{"", "x:users", "r:users:abc:123", "r:users:1"} {
		_, err := Parse(bad)
		assert.Error(t, err)
	}
}

func TestRowBaseNormalizesVersion(t *testing.T) {
	assert.Equal(t, "r:users:0:1", RowBase("users", "1"))
}
