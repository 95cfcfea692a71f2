// Package trie implements the binary representation of the global state: a
// persistent, content-addressed, path-compressed radix-256 trie. Nodes are
// immutable after write; a new state version shares every unmodified subtree
// with its parent version through the nodes' digests.
package trie

import (
	"bytes"
	"fmt"
	"io"

	"github.com/statetrie/globalstate.go/codec"
	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/transform"
)

// node shape tags. Changing the encoding changes every digest; a new version
// requires a migration root rewrite.
const (
	tagLeaf      = byte(0x00)
	tagBranch    = byte(0x01)
	tagExtension = byte(0x02)
)

// MaxKeyBytes is the hard upper bound on key length accepted by the trie.
// The API layer may configure a lower bound.
const MaxKeyBytes = 64

// maxEncodedValue caps the announced payload length when decoding a stored
// leaf. It is an anti-corruption bound, not the configured API limit.
const maxEncodedValue = 16 << 20

// Node is one of three shapes: Leaf, Branch, Extension.
type Node interface {
	Write(w io.Writer) error
	isNode()
}

// Leaf is terminal and stores the full original key: the path from the root
// spells a prefix of it and the leaf carries the remainder implicitly.
type Leaf struct {
	Key []byte
	Val *transform.Value
}

// Branch has 256 slots, each either empty or the digest of a child. No value
// is stored at a branch, and a live branch always has at least two occupied
// slots.
type Branch struct {
	Children map[byte]digest.Digest
}

// Extension is a path-compressed run of bytes pointing at a child branch.
// The affix is never empty, extensions never adjoin extensions, and an
// extension child is always a branch: leaves carry their full key, so an
// extension to a leaf never arises.
type Extension struct {
	Affix []byte
	Child digest.Digest
}

func (*Leaf) isNode()      {}
func (*Branch) isNode()    {}
func (*Extension) isNode() {}

func (n *Leaf) Write(w io.Writer) error {
	if err := codec.WriteByte(w, tagLeaf); err != nil {
		return err
	}
	if err := codec.WriteBytes8(w, n.Key); err != nil {
		return err
	}
	return n.Val.Write(w)
}

// childBitmap is the 256-bit occupancy map of a branch: bit i of byte i/8
// marks slot i.
type childBitmap [32]byte

func (b *childBitmap) set(i byte) {
	b[i/8] |= 1 << (i % 8)
}

func (b *childBitmap) has(i byte) bool {
	return b[i/8]&(1<<(i%8)) != 0
}

func (n *Branch) Write(w io.Writer) error {
	if err := codec.WriteByte(w, tagBranch); err != nil {
		return err
	}
	var bm childBitmap
	for i := range n.Children {
		bm.set(i)
	}
	if _, err := w.Write(bm[:]); err != nil {
		return err
	}
	// children serialize in ascending slot order: encoding must be canonical
	for i := 0; i < 256; i++ {
		child, ok := n.Children[byte(i)]
		if !ok {
			continue
		}
		if err := child.Write(w); err != nil {
			return err
		}
	}
	return nil
}

func (n *Extension) Write(w io.Writer) error {
	if len(n.Affix) == 0 {
		panic("extension with empty affix")
	}
	if err := codec.WriteByte(w, tagExtension); err != nil {
		return err
	}
	if err := codec.WriteBytes8(w, n.Affix); err != nil {
		return err
	}
	return n.Child.Write(w)
}

// EncodeNode returns the canonical byte encoding of a node.
func EncodeNode(n Node) []byte {
	var buf bytes.Buffer
	if err := n.Write(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// NodeDigest returns the digest of the canonical encoding.
func NodeDigest(n Node) digest.Digest {
	return digest.Hash(EncodeNode(n))
}

// DecodeNode deserializes a stored node, rejecting trailing bytes.
func DecodeNode(data []byte) (Node, error) {
	rdr := bytes.NewReader(data)
	n, err := readNode(rdr)
	if err != nil {
		return nil, err
	}
	if rdr.Len() != 0 {
		return nil, codec.ErrLeftoverBytes
	}
	return n, nil
}

func readNode(r *bytes.Reader) (Node, error) {
	tag, err := codec.ReadByte(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagLeaf:
		key, err := codec.ReadBytes8(r)
		if err != nil {
			return nil, err
		}
		if len(key) > MaxKeyBytes {
			return nil, fmt.Errorf("%w: leaf key of %d bytes", codec.ErrFormat, len(key))
		}
		val, err := transform.ReadValue(r, maxEncodedValue)
		if err != nil {
			return nil, err
		}
		return &Leaf{Key: key, Val: val}, nil

	case tagBranch:
		var bm childBitmap
		if _, err := io.ReadFull(r, bm[:]); err != nil {
			return nil, fmt.Errorf("%w: truncated branch bitmap", codec.ErrFormat)
		}
		children := make(map[byte]digest.Digest)
		for i := 0; i < 256; i++ {
			if !bm.has(byte(i)) {
				continue
			}
			var d digest.Digest
			if err := d.Read(r); err != nil {
				return nil, fmt.Errorf("%w: truncated branch child", codec.ErrFormat)
			}
			children[byte(i)] = d
		}
		if len(children) < 2 {
			return nil, fmt.Errorf("%w: branch with %d children", codec.ErrFormat, len(children))
		}
		return &Branch{Children: children}, nil

	case tagExtension:
		affix, err := codec.ReadBytes8(r)
		if err != nil {
			return nil, err
		}
		if len(affix) == 0 {
			return nil, fmt.Errorf("%w: extension with empty affix", codec.ErrFormat)
		}
		var d digest.Digest
		if err := d.Read(r); err != nil {
			return nil, fmt.Errorf("%w: truncated extension child", codec.ErrFormat)
		}
		return &Extension{Affix: affix, Child: d}, nil
	}
	return nil, fmt.Errorf("%w: unknown node tag %02x", codec.ErrFormat, tag)
}

// copyBranch returns a mutable copy sharing the child digests.
func copyBranch(b *Branch) *Branch {
	children := make(map[byte]digest.Digest, len(b.Children))
	for i, d := range b.Children {
		children[i] = d
	}
	return &Branch{Children: children}
}

// commonPrefixLen returns the length of the longest common prefix of a and b.
func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
