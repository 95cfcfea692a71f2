package boltstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/statetrie/globalstate.go/boltstore"
	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/state"
	"github.com/statetrie/globalstate.go/transform"
)

func openTestStore(t *testing.T) *boltstore.BoltStore {
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "state.db"), boltstore.Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPutGetCommit(t *testing.T) {
	st := openTestStore(t)
	d := digest.Hash([]byte("node"))

	wtxn, err := st.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtxn.Put(d, []byte("encoded")))
	require.NoError(t, wtxn.Commit())

	rtxn, err := st.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()
	got, err := rtxn.Get(d)
	require.NoError(t, err)
	require.Equal(t, []byte("encoded"), got)

	absent, err := rtxn.Get(digest.Hash([]byte("other")))
	require.NoError(t, err)
	require.Nil(t, absent)
}

func TestRollbackDiscards(t *testing.T) {
	st := openTestStore(t)
	d := digest.Hash([]byte("node"))

	wtxn, err := st.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtxn.Put(d, []byte("encoded")))
	require.NoError(t, wtxn.Rollback())

	rtxn, err := st.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()
	got, err := rtxn.Get(d)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRootIndex(t *testing.T) {
	st := openTestStore(t)
	root := digest.Hash([]byte("root"))

	_, found, err := st.GetRoot(12)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, st.PutRoot(12, root))
	got, found, err := st.GetRoot(12)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, root, got)
}

// the full stack over the file-backed store: commit, reopen, read back
func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	key := []byte{0xAB, 0x01}

	st, err := boltstore.Open(path, boltstore.Options{NoSync: true})
	require.NoError(t, err)
	m, err := state.NewManager(st, state.DefaultConfig())
	require.NoError(t, err)

	res, err := m.Commit(digest.EmptyRoot, []transform.Entry{
		{Key: key, T: transform.Write{Value: transform.OpaqueValue([]byte("persisted"))}},
	})
	require.NoError(t, err)
	require.NoError(t, st.PutRoot(1, res.Root))
	require.NoError(t, m.Close())

	st, err = boltstore.Open(path, boltstore.Options{})
	require.NoError(t, err)
	defer st.Close()
	m, err = state.NewManager(st, state.DefaultConfig())
	require.NoError(t, err)

	root, found, err := st.GetRoot(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, res.Root, root)

	val, err := m.Read(root, key)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), val.Data)
}
