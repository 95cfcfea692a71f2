package trie

import (
	"bytes"
	"fmt"

	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/store"
	"github.com/statetrie/globalstate.go/transform"
)

// CommitResult reports a published state transition.
type CommitResult struct {
	// Root is the post-state digest.
	Root digest.Digest
	// Created lists the digests of nodes written by this commit, in
	// creation order. A commit with no effective change creates none.
	Created []digest.Digest
	// Touched lists the leaf digests written or removed, one per effective
	// entry.
	Touched []digest.Digest
}

// Commit folds an ordered set of (key, transform) entries into pre_root and
// publishes the new trie atomically: it resolves every entry's pre-image,
// applies the transform, materializes the new path of nodes, and writes all
// of them in one store transaction. A transform failure (type mismatch,
// overflow) aborts the whole commit; store failures roll the transaction
// back, so no partial trie is ever published.
//
// Commit is deterministic in (preRoot, entries) and single-threaded per
// root; distinct roots may be committed concurrently.
func Commit(st store.Store, cache *NodeCache, preRoot digest.Digest, entries []transform.Entry) (*CommitResult, error) {
	rtxn, err := st.BeginRead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	// the read snapshot is released before publish opens the write
	// transaction: bbolt cannot grow its memory map for a write commit while
	// a read transaction of the same goroutine is still open
	discarded := false
	defer func() {
		if !discarded {
			rtxn.Discard()
		}
	}()

	ok, err := HasRoot(rtxn, preRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, preRoot)
	}

	s := newScratch(rtxn, cache)
	cur := preRoot
	var touched []digest.Digest

	for _, e := range entries {
		if len(e.Key) == 0 || len(e.Key) > MaxKeyBytes {
			return nil, fmt.Errorf("key of %d bytes out of range [1, %d]", len(e.Key), MaxKeyBytes)
		}
		if _, isIdentity := e.T.(transform.Identity); isIdentity {
			// a read-only entry is elided: it persists nothing
			continue
		}
		preVal, err := s.read(cur, e.Key)
		if err != nil {
			return nil, err
		}
		postVal, err := e.T.Apply(preVal)
		if err != nil {
			return nil, fmt.Errorf("key %x: %w", e.Key, err)
		}
		if postVal == nil {
			newRoot, removedLeaf, found, err := s.deleteKey(cur, e.Key)
			if err != nil {
				return nil, err
			}
			if found {
				cur = newRoot
				touched = append(touched, removedLeaf)
			}
		} else {
			newRoot, leafD, err := s.insert(cur, e.Key, postVal)
			if err != nil {
				return nil, err
			}
			cur = newRoot
			touched = append(touched, leafD)
		}
		// a node materialized by an earlier entry and replaced by this one
		// was never reachable from any published root: drop it before the
		// publish step
		s.drainReplaced(nil)
	}

	discarded = true
	rtxn.Discard()
	created, err := s.publish(st)
	if err != nil {
		return nil, err
	}
	return &CommitResult{Root: cur, Created: created, Touched: touched}, nil
}

// scratch is the in-memory working set of a single commit: nodes
// materialized but not yet published. Children digests are computed before
// their parents', so the set is acyclic by construction.
type scratch struct {
	g        Getter
	cache    *NodeCache
	pending  map[digest.Digest]Node
	encoded  map[digest.Digest][]byte
	order    []digest.Digest
	replaced []digest.Digest
}

func newScratch(g Getter, cache *NodeCache) *scratch {
	return &scratch{
		g:       g,
		cache:   cache,
		pending: make(map[digest.Digest]Node),
		encoded: make(map[digest.Digest][]byte),
	}
}

// node resolves a digest against the scratch first, then the store.
func (s *scratch) node(d digest.Digest) (Node, error) {
	if n, ok := s.pending[d]; ok {
		return n, nil
	}
	return s.cache.Node(s.g, d)
}

// put materializes a node: encodes it, hashes it, and records it for the
// publish step unless the store already holds it. Identical nodes
// deduplicate through their digest.
func (s *scratch) put(n Node) (digest.Digest, error) {
	enc := EncodeNode(n)
	d := digest.Hash(enc)
	if _, ok := s.pending[d]; ok {
		return d, nil
	}
	existing, err := s.g.Get(d)
	if err != nil {
		return d, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if existing != nil {
		return d, nil
	}
	s.pending[d] = n
	s.encoded[d] = enc
	s.order = append(s.order, d)
	return d, nil
}

// unput drops a node materialized earlier in the same batch that a later
// deletion made unreachable again. Used by the pruner.
func (s *scratch) unput(d digest.Digest) {
	delete(s.pending, d)
	delete(s.encoded, d)
}

func (s *scratch) isPending(d digest.Digest) bool {
	_, ok := s.pending[d]
	return ok
}

// publish writes all pending nodes in one transaction and seeds the cache.
func (s *scratch) publish(st store.Store) ([]digest.Digest, error) {
	created := make([]digest.Digest, 0, len(s.pending))
	seen := make(map[digest.Digest]struct{}, len(s.pending))
	for _, d := range s.order {
		// a digest can appear twice in creation order when a node was
		// orphaned and later re-formed within one batch
		if _, ok := s.pending[d]; !ok {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		created = append(created, d)
	}
	if len(created) == 0 {
		return nil, nil
	}
	wtxn, err := st.BeginWrite()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	for _, d := range created {
		if err := wtxn.Put(d, s.encoded[d]); err != nil {
			_ = wtxn.Rollback()
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
	}
	if err := wtxn.Commit(); err != nil {
		_ = wtxn.Rollback()
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	for _, d := range created {
		s.cache.Add(d, s.pending[d])
	}
	return created, nil
}

// read is the reader walk resolved against the scratch, so later entries of
// one commit observe the effects of earlier ones.
func (s *scratch) read(root digest.Digest, key []byte) (*transform.Value, error) {
	if root.IsEmptyRoot() {
		return nil, nil
	}
	cur := root
	depth := 0
	for step := 0; step <= MaxKeyBytes+1; step++ {
		n, err := s.node(cur)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingNode, cur)
		}
		switch node := n.(type) {
		case *Leaf:
			if bytes.Equal(node.Key, key) {
				return node.Val, nil
			}
			return nil, nil
		case *Branch:
			if depth >= len(key) {
				return nil, nil
			}
			child, ok := node.Children[key[depth]]
			if !ok {
				return nil, nil
			}
			cur = child
			depth++
		case *Extension:
			rest := key[depth:]
			if len(rest) < len(node.Affix) || !bytes.Equal(rest[:len(node.Affix)], node.Affix) {
				return nil, nil
			}
			depth += len(node.Affix)
			cur = node.Child
		}
	}
	return nil, fmt.Errorf("%w: walk exceeded max depth", ErrMissingNode)
}

// pathStep records one visited interior node of an insert/delete walk so
// the new path can be emitted from the leaf back up to the root.
type pathStep struct {
	branch *Branch
	idx    byte
	ext    *Extension
}

// insert folds a new leaf for key into the trie rooted at root and returns
// the new root and the leaf digest.
func (s *scratch) insert(root digest.Digest, key []byte, val *transform.Value) (digest.Digest, digest.Digest, error) {
	leafD, err := s.put(&Leaf{Key: append([]byte(nil), key...), Val: val})
	if err != nil {
		return root, leafD, err
	}
	if root.IsEmptyRoot() {
		return leafD, leafD, nil
	}

	var steps []pathStep
	var visited []digest.Digest
	var newChild digest.Digest
	cur := root
	depth := 0

	// digests of the rebuilt path; a visited digest reappearing here means
	// the node did not actually change (a no-op write) and must not be
	// treated as replaced
	newPath := map[digest.Digest]struct{}{leafD: {}}

walk:
	for {
		n, err := s.node(cur)
		if err != nil {
			return root, leafD, err
		}
		if n == nil {
			return root, leafD, fmt.Errorf("%w: %s", ErrMissingNode, cur)
		}
		switch node := n.(type) {
		case *Leaf:
			if bytes.Equal(node.Key, key) {
				visited = append(visited, cur)
				newChild = leafD
				break walk
			}
			// two-leaf collision: fork at the first byte where the keys
			// diverge below the current depth
			restOld := node.Key[depth:]
			restNew := key[depth:]
			cp := commonPrefixLen(restOld, restNew)
			if cp == len(restOld) || cp == len(restNew) {
				return root, leafD, fmt.Errorf("%w: %x vs %x", ErrKeyCollision, node.Key, key)
			}
			b := &Branch{Children: map[byte]digest.Digest{
				restOld[cp]: cur,
				restNew[cp]: leafD,
			}}
			bD, err := s.put(b)
			if err != nil {
				return root, leafD, err
			}
			newChild = bD
			if cp > 0 {
				if newChild, err = s.put(&Extension{Affix: append([]byte(nil), restNew[:cp]...), Child: bD}); err != nil {
					return root, leafD, err
				}
			}
			newPath[bD] = struct{}{}
			newPath[newChild] = struct{}{}
			break walk

		case *Branch:
			if depth >= len(key) {
				return root, leafD, fmt.Errorf("%w: key %x exhausted at a branch", ErrKeyCollision, key)
			}
			idx := key[depth]
			child, ok := node.Children[idx]
			if !ok {
				visited = append(visited, cur)
				nb := copyBranch(node)
				nb.Children[idx] = leafD
				if newChild, err = s.put(nb); err != nil {
					return root, leafD, err
				}
				newPath[newChild] = struct{}{}
				break walk
			}
			steps = append(steps, pathStep{branch: node, idx: idx})
			visited = append(visited, cur)
			cur = child
			depth++

		case *Extension:
			rest := key[depth:]
			cp := commonPrefixLen(node.Affix, rest)
			if cp == len(node.Affix) {
				steps = append(steps, pathStep{ext: node})
				visited = append(visited, cur)
				depth += cp
				cur = node.Child
				continue
			}
			// split the extension at the shared prefix
			visited = append(visited, cur)
			if cp == len(rest) {
				return root, leafD, fmt.Errorf("%w: key %x exhausted inside an affix", ErrKeyCollision, key)
			}
			down := node.Child
			if cp+1 < len(node.Affix) {
				if down, err = s.put(&Extension{Affix: append([]byte(nil), node.Affix[cp+1:]...), Child: node.Child}); err != nil {
					return root, leafD, err
				}
			}
			b := &Branch{Children: map[byte]digest.Digest{
				node.Affix[cp]: down,
				rest[cp]:       leafD,
			}}
			bD, err := s.put(b)
			if err != nil {
				return root, leafD, err
			}
			newChild = bD
			if cp > 0 {
				if newChild, err = s.put(&Extension{Affix: append([]byte(nil), rest[:cp]...), Child: bD}); err != nil {
					return root, leafD, err
				}
			}
			newPath[down] = struct{}{}
			newPath[bD] = struct{}{}
			newPath[newChild] = struct{}{}
			break walk
		}
	}

	// emit the new path from the insertion point back up to the root
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		if st.branch != nil {
			nb := copyBranch(st.branch)
			nb.Children[st.idx] = newChild
			if newChild, err = s.put(nb); err != nil {
				return root, leafD, err
			}
		} else {
			if newChild, err = s.put(&Extension{Affix: st.ext.Affix, Child: newChild}); err != nil {
				return root, leafD, err
			}
		}
		newPath[newChild] = struct{}{}
	}
	for _, d := range visited {
		if _, kept := newPath[d]; !kept {
			s.recordReplaced([]digest.Digest{d})
		}
	}
	return newChild, leafD, nil
}

// deleteKey removes the leaf stored under key, collapsing a branch left
// with a single child. It returns the new root, the removed leaf digest,
// and whether the key was present; the digests of the replaced path are
// recorded in s.replaced for the pruner.
//
// Leaves carry their full key, so within one root every node digest occurs
// at exactly one position: the replaced path is exactly the set of nodes
// that the new root no longer reaches.
func (s *scratch) deleteKey(root digest.Digest, key []byte) (digest.Digest, digest.Digest, bool, error) {
	var none digest.Digest
	if root.IsEmptyRoot() {
		return root, none, false, nil
	}

	var steps []pathStep
	var visited []digest.Digest
	cur := root
	depth := 0

	for {
		n, err := s.node(cur)
		if err != nil {
			return root, none, false, err
		}
		if n == nil {
			if cur == root {
				return root, none, false, fmt.Errorf("%w: %s", ErrRootNotFound, root)
			}
			return root, none, false, fmt.Errorf("%w: %s", ErrMissingNode, cur)
		}
		leaf, isLeaf := n.(*Leaf)
		if isLeaf {
			if !bytes.Equal(leaf.Key, key) {
				return root, none, false, nil
			}
			visited = append(visited, cur)
			break
		}
		switch node := n.(type) {
		case *Branch:
			if depth >= len(key) {
				return root, none, false, nil
			}
			child, ok := node.Children[key[depth]]
			if !ok {
				return root, none, false, nil
			}
			steps = append(steps, pathStep{branch: node, idx: key[depth]})
			visited = append(visited, cur)
			cur = child
			depth++
		case *Extension:
			rest := key[depth:]
			if len(rest) < len(node.Affix) || !bytes.Equal(rest[:len(node.Affix)], node.Affix) {
				return root, none, false, nil
			}
			steps = append(steps, pathStep{ext: node})
			visited = append(visited, cur)
			depth += len(node.Affix)
			cur = node.Child
		}
	}
	removedLeaf := cur

	if len(steps) == 0 {
		// the trie was a single leaf
		s.recordReplaced(visited)
		return digest.EmptyRoot, removedLeaf, true, nil
	}

	// the leaf always hangs off a branch: extensions only point at branches
	last := steps[len(steps)-1]
	Assert(last.branch != nil, "delete: leaf parent must be a branch")

	nb := copyBranch(last.branch)
	delete(nb.Children, last.idx)
	Assert(len(nb.Children) >= 1, "delete: branch underflow")

	var replNode Node
	var replD digest.Digest
	var err error
	if len(nb.Children) >= 2 {
		replNode = nb
		if replD, err = s.put(nb); err != nil {
			return root, none, false, err
		}
	} else {
		// one slot left: collapse the branch into its remaining child
		var sibIdx byte
		var sibD digest.Digest
		for i, d := range nb.Children {
			sibIdx, sibD = i, d
		}
		sib, err := s.node(sibD)
		if err != nil {
			return root, none, false, err
		}
		if sib == nil {
			return root, none, false, fmt.Errorf("%w: %s", ErrMissingNode, sibD)
		}
		switch sibling := sib.(type) {
		case *Leaf:
			// the leaf's own key makes the path redundant
			replNode = sibling
			replD = sibD
		case *Branch:
			e := &Extension{Affix: []byte{sibIdx}, Child: sibD}
			replNode = e
			if replD, err = s.put(e); err != nil {
				return root, none, false, err
			}
		case *Extension:
			merged := &Extension{
				Affix: append([]byte{sibIdx}, sibling.Affix...),
				Child: sibling.Child,
			}
			replNode = merged
			if replD, err = s.put(merged); err != nil {
				return root, none, false, err
			}
			// the collapsed sibling extension is itself replaced
			visited = append(visited, sibD)
		}
	}

	for i := len(steps) - 2; i >= 0; i-- {
		st := steps[i]
		if st.branch != nil {
			b := copyBranch(st.branch)
			b.Children[st.idx] = replD
			replNode = b
			if replD, err = s.put(b); err != nil {
				return root, none, false, err
			}
			continue
		}
		switch rn := replNode.(type) {
		case *Leaf:
			// a lone leaf swallows the extension above it
		case *Extension:
			merged := &Extension{
				Affix: append(append([]byte(nil), st.ext.Affix...), rn.Affix...),
				Child: rn.Child,
			}
			replNode = merged
			if replD, err = s.put(merged); err != nil {
				return root, none, false, err
			}
		case *Branch:
			e := &Extension{Affix: st.ext.Affix, Child: replD}
			replNode = e
			if replD, err = s.put(e); err != nil {
				return root, none, false, err
			}
		}
	}

	s.recordReplaced(visited)
	return replD, removedLeaf, true, nil
}

// replaced digests of insert/delete walks, drained after every operation
func (s *scratch) recordReplaced(ds []digest.Digest) {
	s.replaced = append(s.replaced, ds...)
}

// drainReplaced processes the digests replaced by the last operation. A
// replaced node still pending is an intra-batch orphan and is dropped from
// the publish set; a replaced store node is handed to collect (the pruner's
// freed list) or ignored by the committer, where it stays reachable from
// the pre-state root.
func (s *scratch) drainReplaced(collect func(d digest.Digest)) {
	for _, d := range s.replaced {
		if s.isPending(d) {
			s.unput(d)
			continue
		}
		if collect != nil {
			collect(d)
		}
	}
	s.replaced = s.replaced[:0]
}
