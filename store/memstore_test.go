package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/statetrie/globalstate.go/digest"
)

func TestMemStoreWriteTxn(t *testing.T) {
	st := NewMemStore()
	d := digest.Hash([]byte("node"))

	wtxn, err := st.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtxn.Put(d, []byte("encoded")))

	// visible inside the transaction
	got, err := wtxn.Get(d)
	require.NoError(t, err)
	require.Equal(t, []byte("encoded"), got)

	// not visible outside before commit
	rtxn, err := st.BeginRead()
	require.NoError(t, err)
	got, err = rtxn.Get(d)
	require.NoError(t, err)
	require.Nil(t, got)
	rtxn.Discard()

	require.NoError(t, wtxn.Commit())

	rtxn, err = st.BeginRead()
	require.NoError(t, err)
	got, err = rtxn.Get(d)
	require.NoError(t, err)
	require.Equal(t, []byte("encoded"), got)
	rtxn.Discard()
}

func TestMemStoreRollback(t *testing.T) {
	st := NewMemStore()
	d := digest.Hash([]byte("node"))

	wtxn, err := st.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtxn.Put(d, []byte("encoded")))
	require.NoError(t, wtxn.Rollback())

	require.False(t, st.Has(d))
	require.Zero(t, st.Len())
}

func TestMemStoreDelete(t *testing.T) {
	st := NewMemStore()
	d := digest.Hash([]byte("node"))

	wtxn, _ := st.BeginWrite()
	require.NoError(t, wtxn.Put(d, []byte("encoded")))
	require.NoError(t, wtxn.Commit())
	require.True(t, st.Has(d))

	wtxn, _ = st.BeginWrite()
	require.NoError(t, wtxn.Delete(d))
	require.NoError(t, wtxn.Commit())
	require.False(t, st.Has(d))
}

func TestMemStoreRootIndex(t *testing.T) {
	st := NewMemStore()
	root := digest.Hash([]byte("root"))

	_, found, err := st.GetRoot(7)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, st.PutRoot(7, root))
	got, found, err := st.GetRoot(7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, root, got)
}
