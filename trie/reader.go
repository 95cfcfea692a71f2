package trie

import (
	"bytes"
	"fmt"

	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/transform"
)

// Read performs a pure functional lookup of key under root. It returns
// (nil, nil) when the key is absent, and ErrRootNotFound when the root
// digest itself is unknown to the store — a hard error distinguishable from
// missing data.
//
// The walk consumes key bytes one at a time and is bounded by the key
// length: at most len(key) descents, each one store fetch.
func Read(g Getter, cache *NodeCache, root digest.Digest, key []byte) (*transform.Value, error) {
	if root.IsEmptyRoot() {
		return nil, nil
	}
	cur := root
	depth := 0
	for step := 0; step <= MaxKeyBytes+1; step++ {
		n, err := cache.Node(g, cur)
		if err != nil {
			return nil, err
		}
		if n == nil {
			if cur == root {
				return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
			}
			return nil, fmt.Errorf("%w: %s under root %s", ErrMissingNode, cur, root)
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
	// a well-formed trie cannot be deeper than the longest key
	return nil, fmt.Errorf("%w: walk exceeded max depth under root %s", ErrMissingNode, root)
}

// HasRoot reports whether root is known: either the empty sentinel or a
// digest present in the store.
func HasRoot(g Getter, root digest.Digest) (bool, error) {
	if root.IsEmptyRoot() {
		return true, nil
	}
	data, err := g.Get(root)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}
