package trie

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/store"
	"github.com/statetrie/globalstate.go/transform"
)

func seedTrie(t *testing.T, st store.Store, cache *NodeCache, n int) (digest.Digest, [][]byte) {
	var entries []transform.Entry
	var keys [][]byte
	for i := 0; i < n; i++ {
		key := []byte{0x10, byte(i), 0x01}
		keys = append(keys, key)
		entries = append(entries, writeEntry(key, fmt.Sprintf("value-%d", i)))
	}
	res := mustCommit(t, st, cache, digest.EmptyRoot, entries)
	return res.Root, keys
}

func TestPruneDisabled(t *testing.T) {
	st := store.NewMemStore()
	cache := newTestCache(t)
	root, keys := seedTrie(t, st, cache, 4)

	res, err := Prune(st, cache, root, keys, 0)
	require.NoError(t, err)
	require.Equal(t, root, res.Root)
	require.Equal(t, keys, res.Remaining)
	require.Zero(t, res.Pruned)
}

func TestPruneBatches(t *testing.T) {
	st := store.NewMemStore()
	cache := newTestCache(t)
	root, keys := seedTrie(t, st, cache, 10)

	// 10 keys at batch size 3: three calls remove 3 each, a fourth removes
	// the last
	remaining := keys
	cur := root
	counts := []int{3, 3, 3, 1}
	for i, want := range counts {
		res, err := Prune(st, cache, cur, remaining, 3)
		require.NoError(t, err)
		require.Equal(t, want, res.Pruned, "batch %d", i)
		cur = res.Root
		remaining = res.Remaining
	}
	require.Empty(t, remaining)
	require.Equal(t, digest.EmptyRoot, cur)
}

func TestPruneSafety(t *testing.T) {
	st := store.NewMemStore()
	cache := newTestCache(t)
	root, keys := seedTrie(t, st, cache, 8)

	pruned := keys[:3]
	kept := keys[3:]

	res, err := Prune(st, cache, root, pruned, len(pruned))
	require.NoError(t, err)

	for _, k := range pruned {
		require.Nil(t, mustRead(t, st, cache, res.Root, k))
	}
	for _, k := range kept {
		require.Equal(t, mustRead(t, st, cache, root, k), mustRead(t, st, cache, res.Root, k))
	}

	// freed digests are unreachable from the new root: deleting them must
	// leave the new trie fully intact
	require.NoError(t, DeleteNodes(st, cache, res.Freed))
	rtxn, err := st.BeginRead()
	require.NoError(t, err)
	defer rtxn.Discard()
	require.NoError(t, Verify(rtxn, res.Root))
	for _, k := range kept {
		require.NotNil(t, mustRead(t, st, cache, res.Root, k))
	}
}

func TestPruneIdempotentOnAbsent(t *testing.T) {
	st := store.NewMemStore()
	cache := newTestCache(t)
	root, _ := seedTrie(t, st, cache, 3)

	res, err := Prune(st, cache, root, [][]byte{{0x7F, 0x7F, 0x7F}}, 8)
	require.NoError(t, err)
	require.Equal(t, root, res.Root)
	require.Empty(t, res.Freed)
	require.Equal(t, 1, res.Pruned)
}

func TestPruneUnknownRoot(t *testing.T) {
	st := store.NewMemStore()
	cache := newTestCache(t)

	bogus := digest.Hash([]byte("nope"))
	_, err := Prune(st, cache, bogus, [][]byte{{0x01}}, 4)
	require.ErrorIs(t, err, ErrPruneUnreachable)
}

func TestPruneFreesEverythingOnDrain(t *testing.T) {
	st := store.NewMemStore()
	cache := newTestCache(t)
	root, keys := seedTrie(t, st, cache, 6)
	before := st.Len()

	res, err := Prune(st, cache, root, keys, len(keys))
	require.NoError(t, err)
	require.Equal(t, digest.EmptyRoot, res.Root)
	require.NotEmpty(t, res.Freed)

	require.NoError(t, DeleteNodes(st, cache, res.Freed))
	require.Less(t, st.Len(), before)
}
