package trie

import (
	"bytes"
	"fmt"

	"github.com/statetrie/globalstate.go/digest"
)

// Verify walks the whole trie under root and checks the structural
// invariants: stored bytes hash to their digest, every branch has at least
// two occupied slots, affixes are non-empty, extensions point only at
// branches, and every leaf's key extends the path spelled down to it.
// It reads the store directly, bypassing the cache, so corrupted bytes
// cannot hide behind a decoded entry. Expensive; intended for tooling and
// tests.
func Verify(g Getter, root digest.Digest) error {
	if root.IsEmptyRoot() {
		return nil
	}
	type frame struct {
		d       digest.Digest
		prefix  []byte
		fromExt bool
	}
	stack := []frame{{d: root}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		data, err := g.Get(fr.d)
		if err != nil {
			return err
		}
		if data == nil {
			return fmt.Errorf("%w: %s", ErrMissingNode, fr.d)
		}
		if digest.Hash(data) != fr.d {
			return fmt.Errorf("node %s: stored bytes hash to %s", fr.d, digest.Hash(data))
		}
		n, err := DecodeNode(data)
		if err != nil {
			return fmt.Errorf("node %s: %w", fr.d, err)
		}
		switch node := n.(type) {
		case *Leaf:
			if fr.fromExt {
				return fmt.Errorf("node %s: extension points at a leaf", fr.d)
			}
			if !bytes.HasPrefix(node.Key, fr.prefix) {
				return fmt.Errorf("leaf %s: key %x does not extend path %x", fr.d, node.Key, fr.prefix)
			}
		case *Branch:
			if len(node.Children) < 2 {
				return fmt.Errorf("branch %s: %d occupied slots", fr.d, len(node.Children))
			}
			if len(fr.prefix) >= MaxKeyBytes {
				return fmt.Errorf("branch %s: deeper than the longest key", fr.d)
			}
			for i, child := range node.Children {
				prefix := make([]byte, 0, len(fr.prefix)+1)
				prefix = append(append(prefix, fr.prefix...), i)
				stack = append(stack, frame{d: child, prefix: prefix})
			}
		case *Extension:
			if fr.fromExt {
				return fmt.Errorf("node %s: extension adjoins an extension", fr.d)
			}
			if len(node.Affix) == 0 {
				return fmt.Errorf("node %s: empty affix", fr.d)
			}
			prefix := make([]byte, 0, len(fr.prefix)+len(node.Affix))
			prefix = append(append(prefix, fr.prefix...), node.Affix...)
			stack = append(stack, frame{d: node.Child, prefix: prefix, fromExt: true})
		}
	}
	return nil
}
