package trie

import (
	"fmt"

	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/store"
)

// PruneResult reports one bounded prune batch.
type PruneResult struct {
	// Root is the trie with the batch's leaves removed.
	Root digest.Digest
	// Freed lists node digests no longer reachable from Root. The caller
	// deletes them (DeleteNodes) once no retained root references them;
	// the pruner itself never deletes.
	Freed []digest.Digest
	// Remaining holds the keys beyond this batch, to be passed to the next
	// call.
	Remaining [][]byte
	// Pruned is the number of keys processed, present or not.
	Pruned int
}

// Prune removes the leaves for up to batchSize keys from the trie rooted at
// root, publishing the rewritten paths and collecting the replaced nodes.
// Keys already absent are skipped silently: pruning is idempotent. A
// batchSize of 0 disables pruning; the call is a no-op.
//
// Because every leaf stores its full key, node digests are never shared
// between two positions of one root, so the replaced paths are exactly the
// set of nodes the new root no longer reaches. Sharing across roots is the
// caller's concern: a digest must stay until no retained root reaches it.
func Prune(st store.Store, cache *NodeCache, root digest.Digest, keys [][]byte, batchSize int) (*PruneResult, error) {
	if batchSize <= 0 {
		return &PruneResult{Root: root, Remaining: keys}, nil
	}

	rtxn, err := st.BeginRead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rtxn.Discard()

	ok, err := HasRoot(rtxn, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPruneUnreachable, root)
	}

	n := batchSize
	if n > len(keys) {
		n = len(keys)
	}

	s := newScratch(rtxn, cache)
	cur := root
	var freed []digest.Digest
	for _, key := range keys[:n] {
		if len(key) == 0 || len(key) > MaxKeyBytes {
			return nil, fmt.Errorf("key of %d bytes out of range [1, %d]", len(key), MaxKeyBytes)
		}
		newRoot, _, found, err := s.deleteKey(cur, key)
		if err != nil {
			return nil, err
		}
		if found {
			cur = newRoot
		}
		// a node materialized by one deletion and orphaned by a later one
		// in the same batch was never referenced by any retained root:
		// drop it from the publish set instead of reporting it freed
		s.drainReplaced(func(d digest.Digest) { freed = append(freed, d) })
	}

	if _, err := s.publish(st); err != nil {
		return nil, err
	}
	return &PruneResult{
		Root:      cur,
		Freed:     freed,
		Remaining: keys[n:],
		Pruned:    n,
	}, nil
}

// DeleteNodes removes freed digests from the object store in one write
// transaction and drops them from the node cache. Callers invoke it only
// for digests unreachable from every retained root.
func DeleteNodes(st store.Store, cache *NodeCache, digests []digest.Digest) error {
	if len(digests) == 0 {
		return nil
	}
	wtxn, err := st.BeginWrite()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	for _, d := range digests {
		if err := wtxn.Delete(d); err != nil {
			_ = wtxn.Rollback()
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
	}
	if err := wtxn.Commit(); err != nil {
		_ = wtxn.Rollback()
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	for _, d := range digests {
		cache.Remove(d)
	}
	return nil
}
