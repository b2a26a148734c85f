package dispatcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDatastorePutGet(t *testing.T) {
	d := NewMemDatastore("")

	_, found, err := d.Get("missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, d.Put("k", []byte("v1")))
	v, found, err := d.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v1"), v)
}

func TestMemDatastoreSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datastore.cbor")

	d := NewMemDatastore(path)
	require.NoError(t, d.Put("alpha", []byte{1, 2, 3}))
	require.NoError(t, d.Put("beta", []byte("hello")))
	require.NoError(t, d.SaveSnapshot())

	restored := NewMemDatastore(path)
	require.NoError(t, restored.LoadSnapshot())

	v, found, err := restored.Get("alpha")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{1, 2, 3}, v)

	v, found, err = restored.Get("beta")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), v)
}

func TestMemDatastoreLoadSnapshotMissingFileIsNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.cbor")
	d := NewMemDatastore(path)
	require.NoError(t, d.LoadSnapshot())
}

func TestMemDatastoreNoPersistenceWithEmptyPath(t *testing.T) {
	d := NewMemDatastore("")
	require.NoError(t, d.Put("k", []byte("v")))
	require.NoError(t, d.SaveSnapshot())
	require.NoError(t, d.LoadSnapshot())
	v, found, err := d.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), v)
}
