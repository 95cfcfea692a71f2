// Package transform implements the unit of state change produced by deploy
// execution: the tagged value model, the transform variants, the merge table
// used by the scratch overlay, and the effect journal.
//
// The core treats values as opaque byte blobs; the 1-byte type tag exists
// only to enable add-merging of the numeric kinds.
package transform

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"github.com/statetrie/globalstate.go/codec"
)

// Tag discriminates the value kinds. Only the numeric kinds and named-key
// maps are mergeable; everything else supports write/delete only.
type Tag byte

const (
	TagOpaque    = Tag(0x00)
	TagUInt64    = Tag(0x01)
	TagUInt128   = Tag(0x02)
	TagUInt256   = Tag(0x03)
	TagUInt512   = Tag(0x04)
	TagNamedKeys = Tag(0x05)
)

func (t Tag) String() string {
	switch t {
	case TagOpaque:
		return "opaque"
	case TagUInt64:
		return "u64"
	case TagUInt128:
		return "u128"
	case TagUInt256:
		return "u256"
	case TagUInt512:
		return "u512"
	case TagNamedKeys:
		return "named-keys"
	}
	return fmt.Sprintf("Tag(%02x)", byte(t))
}

// widthBytes returns the byte width of a numeric tag, 0 for non-numeric.
func (t Tag) widthBytes() int {
	switch t {
	case TagUInt64:
		return 8
	case TagUInt128:
		return 16
	case TagUInt256:
		return 32
	case TagUInt512:
		return 64
	}
	return 0
}

// Value is an opaque byte payload with its type tag. The payload is the
// canonical encoding of the logical value: 8 bytes little-endian for u64,
// the minimal little-endian magnitude for the wide integers, the sorted
// named-key map encoding for named keys, raw bytes for opaque.
type Value struct {
	Tag  Tag
	Data []byte
}

func OpaqueValue(data []byte) *Value {
	return &Value{Tag: TagOpaque, Data: data}
}

func UInt64Value(v uint64) *Value {
	return &Value{Tag: TagUInt64, Data: codec.Uint64ToBytes(v)}
}

func UInt128Value(v *uint256.Int) *Value {
	assertWidth(v, 16)
	return &Value{Tag: TagUInt128, Data: uint256ToLE(v)}
}

func UInt256Value(v *uint256.Int) *Value {
	assertWidth(v, 32)
	return &Value{Tag: TagUInt256, Data: uint256ToLE(v)}
}

func UInt512Value(v *big.Int) *Value {
	if v.Sign() < 0 || (v.BitLen()+7)/8 > 64 {
		panic("UInt512Value: out of range")
	}
	return &Value{Tag: TagUInt512, Data: bigToLE(v)}
}

func NamedKeysValue(entries map[string][]byte) (*Value, error) {
	data, err := EncodeNamedKeys(entries)
	if err != nil {
		return nil, err
	}
	return &Value{Tag: TagNamedKeys, Data: data}, nil
}

// UInt64 interprets the payload as a u64.
func (v *Value) UInt64() (uint64, error) {
	if v.Tag != TagUInt64 {
		return 0, fmt.Errorf("%w: have %s, want u64", ErrTypeMismatch, v.Tag)
	}
	return codec.Uint64FromBytes(v.Data)
}

// NamedKeys decodes the payload as a named-key map.
func (v *Value) NamedKeys() (map[string][]byte, error) {
	if v.Tag != TagNamedKeys {
		return nil, fmt.Errorf("%w: have %s, want named-keys", ErrTypeMismatch, v.Tag)
	}
	return DecodeNamedKeys(v.Data)
}

// Mergeable reports whether the value supports add transforms.
func (v *Value) Mergeable() bool {
	return v.Tag != TagOpaque
}

func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.Tag == other.Tag && bytes.Equal(v.Data, other.Data)
}

func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	data := make([]byte, len(v.Data))
	copy(data, v.Data)
	return &Value{Tag: v.Tag, Data: data}
}

// Write serializes the value as tag + length-prefixed payload.
func (v *Value) Write(w io.Writer) error {
	if err := codec.WriteByte(w, byte(v.Tag)); err != nil {
		return err
	}
	return codec.WriteBytes32(w, v.Data)
}

// ReadValue deserializes a value, validating that the payload is canonical
// for its tag. maxLen bounds the payload size.
func ReadValue(r io.Reader, maxLen uint32) (*Value, error) {
	tag, err := codec.ReadByte(r)
	if err != nil {
		return nil, err
	}
	data, err := codec.ReadBytes32(r, maxLen)
	if err != nil {
		return nil, err
	}
	ret := &Value{Tag: Tag(tag), Data: data}
	if err := ret.validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (v *Value) validate() error {
	switch v.Tag {
	case TagOpaque:
		return nil
	case TagUInt64:
		if len(v.Data) != 8 {
			return fmt.Errorf("%w: u64 payload of %d bytes", codec.ErrFormat, len(v.Data))
		}
		return nil
	case TagUInt128, TagUInt256, TagUInt512:
		if len(v.Data) > v.Tag.widthBytes() {
			return fmt.Errorf("%w: %s payload of %d bytes", codec.ErrFormat, v.Tag, len(v.Data))
		}
		if len(v.Data) > 0 && v.Data[len(v.Data)-1] == 0 {
			return fmt.Errorf("%w: non-minimal %s payload", codec.ErrFormat, v.Tag)
		}
		return nil
	case TagNamedKeys:
		_, err := DecodeNamedKeys(v.Data)
		return err
	}
	return fmt.Errorf("%w: unknown value tag %02x", codec.ErrFormat, byte(v.Tag))
}

// EncodeNamedKeys canonically encodes a named-key map: u32 entry count, then
// (name, key) pairs sorted bytewise by name. Names and keys are short
// sequences (1-byte length).
func EncodeNamedKeys(entries map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		if len(name) == 0 || len(name) > 255 {
			return nil, fmt.Errorf("%w: named-key name of %d bytes", codec.ErrFormat, len(name))
		}
		if len(entries[name]) == 0 || len(entries[name]) > 255 {
			return nil, fmt.Errorf("%w: named-key target of %d bytes", codec.ErrFormat, len(entries[name]))
		}
		names = append(names, name)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	if err := codec.WriteUint32(&buf, uint32(len(names))); err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := codec.WriteBytes8(&buf, []byte(name)); err != nil {
			return nil, err
		}
		if err := codec.WriteBytes8(&buf, entries[name]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeNamedKeys decodes a canonical named-key map. Unsorted or duplicate
// names are a formatting error: they would break digest canonicality.
func DecodeNamedKeys(data []byte) (map[string][]byte, error) {
	rdr := bytes.NewReader(data)
	count, err := codec.ReadUint32(rdr)
	if err != nil {
		return nil, err
	}
	if int(count) > rdr.Len() { // every entry takes at least 2 bytes
		return nil, fmt.Errorf("%w: named-key count %d exceeds payload", codec.ErrFormat, count)
	}
	ret := make(map[string][]byte, count)
	prev := ""
	for i := uint32(0); i < count; i++ {
		nameBytes, err := codec.ReadBytes8(rdr)
		if err != nil {
			return nil, err
		}
		name := string(nameBytes)
		if i > 0 && name <= prev {
			return nil, fmt.Errorf("%w: named-key map not strictly sorted", codec.ErrFormat)
		}
		key, err := codec.ReadBytes8(rdr)
		if err != nil {
			return nil, err
		}
		ret[name] = key
		prev = name
	}
	if rdr.Len() != 0 {
		return nil, codec.ErrLeftoverBytes
	}
	return ret, nil
}

// ---------------------------------------------------------------------------
// numeric payload conversions

func assertWidth(v *uint256.Int, width int) {
	if v.ByteLen() > width {
		panic(fmt.Sprintf("value of %d bytes exceeds width %d", v.ByteLen(), width))
	}
}

// uint256ToLE returns the minimal little-endian magnitude.
func uint256ToLE(v *uint256.Int) []byte {
	be := v.Bytes()
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	return le
}

func uint256FromLE(le []byte) *uint256.Int {
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	return new(uint256.Int).SetBytes(be)
}

// bigToLE returns the minimal little-endian magnitude of a non-negative big.Int.
func bigToLE(v *big.Int) []byte {
	be := v.Bytes()
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	return le
}

func bigFromLE(le []byte) *big.Int {
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}
