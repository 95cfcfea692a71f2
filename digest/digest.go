// Package digest provides the 32-byte content address used to identify every
// stored trie artifact. The digest of a node is the blake2b-256 hash of its
// canonical byte encoding, so identical nodes deduplicate automatically.
package digest

import (
	"bytes"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/xerrors"
)

// Size is the byte length of a digest.
const Size = 32

// Digest identifies a stored trie node by the hash of its canonical encoding.
type Digest [Size]byte

// EmptyRoot is the sentinel root of an empty trie. It is the hash of the
// empty byte string and is never present in the object store.
var EmptyRoot = Hash(nil)

// Hash computes the blake2b-256 digest of data.
func Hash(data []byte) Digest {
	return Digest(blake2b.Sum256(data))
}

// FromBytes converts a 32-byte slice into a Digest.
func FromBytes(b []byte) (Digest, error) {
	var ret Digest
	if len(b) != Size {
		return ret, xerrors.Errorf("digest: expected %d bytes, got %d", Size, len(b))
	}
	copy(ret[:], b)
	return ret, nil
}

func (d Digest) Bytes() []byte {
	return d[:]
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsEmptyRoot reports whether d is the empty-trie sentinel.
func (d Digest) IsEmptyRoot() bool {
	return d == EmptyRoot
}

// Write serializes the digest as 32 raw bytes.
func (d Digest) Write(w io.Writer) error {
	_, err := w.Write(d[:])
	return err
}

// Read deserializes a digest from exactly 32 bytes of r.
func (d *Digest) Read(r io.Reader) error {
	_, err := io.ReadFull(r, d[:])
	return err
}

// Equal compares two digests bytewise.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d[:], other[:])
}
