package badger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shepsii/dbproxies/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	backend, err := OpenBackend(dir, false, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := OpenBackend(file, false, nil)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)

	assert.False(t, backend.IsClosed())

	err = backend.Close()
	require.NoError(t, err)

	assert.True(t, backend.IsClosed())
}

func TestGetSequence(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	defer backend.Close()

	seq, err := backend.GetSequence("test")
	require.NoError(t, err)
	defer seq.Release()

	first, err := seq.Next()
	require.NoError(t, err)
	second, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestConnection(t *testing.T) {
	_, err := NewConnection("", false)
	assert.Error(t, err)

	conn, err := NewConnection("", true)
	require.NoError(t, err)
	assert.True(t, conn.Supported())

	first, err := conn.Backend()
	require.NoError(t, err)
	second, err := conn.Backend()
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.True(t, first.IsClosed())
	assert.False(t, conn.Supported())

	_, err = conn.Backend()
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.NoError(t, conn.Close())
}
