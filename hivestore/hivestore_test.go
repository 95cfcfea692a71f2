package hivestore_test

import (
	"testing"

	"github.com/iotaledger/hive.go/core/kvstore/mapdb"
	"github.com/stretchr/testify/require"

	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/hivestore"
	"github.com/statetrie/globalstate.go/state"
	"github.com/statetrie/globalstate.go/transform"
)

func TestBatchedWriteTxn(t *testing.T) {
	st := hivestore.New(mapdb.NewMapDB())
	d := digest.Hash([]byte("node"))

	wtxn, err := st.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtxn.Put(d, []byte("encoded")))

	got, err := wtxn.Get(d)
	require.NoError(t, err)
	require.Equal(t, []byte("encoded"), got)

	require.NoError(t, wtxn.Commit())

	rtxn, err := st.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()
	got, err = rtxn.Get(d)
	require.NoError(t, err)
	require.Equal(t, []byte("encoded"), got)
}

func TestRollbackCancelsBatch(t *testing.T) {
	st := hivestore.New(mapdb.NewMapDB())
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
	st := hivestore.New(mapdb.NewMapDB())
	root := digest.Hash([]byte("root"))

	_, found, err := st.GetRoot(3)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, st.PutRoot(3, root))
	got, found, err := st.GetRoot(3)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, root, got)
}

func TestFullStackOverMapDB(t *testing.T) {
	st := hivestore.New(mapdb.NewMapDB())
	m, err := state.NewManager(st, state.DefaultConfig())
	require.NoError(t, err)

	o, err := m.Checkout(digest.EmptyRoot)
	require.NoError(t, err)

	j := transform.NewJournal()
	j.Append([]byte{0xAB, 0x01}, transform.Write{Value: transform.OpaqueValue([]byte("x"))})
	j.Append([]byte{0xAB, 0x02}, transform.AddUInt64(41))
	require.NoError(t, o.Apply(j))

	j2 := transform.NewJournal()
	j2.Append([]byte{0xAB, 0x02}, transform.AddUInt64(1))
	require.NoError(t, o.Apply(j2))

	root, err := o.Flush()
	require.NoError(t, err)

	val, err := m.Read(root, []byte{0xAB, 0x02})
	require.NoError(t, err)
	u, err := val.UInt64()
	require.NoError(t, err)
	require.EqualValues(t, 42, u)
}
