package namespace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileConfigStore_RoundTrip(t *testing.T) {
	s := NewFileConfigStore(t.TempDir())

	want := &DatabaseConfig{BlockWrites: true, MaxDBPages: 7, HeartbeatURL: "http://hb"}
	require.NoError(t, s.Store("foo", want))

	got, err := s.Load("foo")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileConfigStore_MissingIsDefault(t *testing.T) {
	s := NewFileConfigStore(t.TempDir())

	got, err := s.Load("never-stored")
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabaseConfig(), got)
}

func TestFileConfigStore_MalformedConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "foo"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo", configFileName), []byte("{not json"), 0o600))

	_, err := NewFileConfigStore(root).Load("foo")
	assert.ErrorIs(t, err, ErrMalformedConfig)
}

func TestLoadInternalHandle(t *testing.T) {
	dir := t.TempDir()

	h, err := LoadInternalHandle(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabaseConfig(), h.Get())

	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(`{"max_db_pages":9}`), 0o600))
	h, err = LoadInternalHandle(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), h.Get().MaxDBPages)

	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("oops"), 0o600))
	_, err = LoadInternalHandle(dir)
	assert.ErrorIs(t, err, ErrMalformedConfig)
}

func TestNewName(t *testing.T) {
	for _, ok := range []string{"foo", "Foo-1", "a_b-c", "0"} {
		_, err := NewName(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "foo/bar", "a b", "é", string(make([]byte, 65))} {
		_, err := NewName(bad)
		assert.ErrorIs(t, err, ErrInvalidName, bad)
	}
}
