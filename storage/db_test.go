package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)

	value := []byte("listing")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("listing"), got, "MemDB must copy values on Put")

	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, db.Delete([]byte("k")))
	require.Zero(t, db.Len())
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("market/listing/a"), []byte{0x01}))
	require.NoError(t, db1.Put([]byte("market/listing/b"), []byte{0x02}))
	require.NoError(t, db1.Delete([]byte("market/listing/b")))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("market/listing/a"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, got)

	_, err = db2.Get([]byte("market/listing/b"))
	require.ErrorIs(t, err, ErrNotFound)
}
