package transform

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"

	"golang.org/x/xerrors"
)

var (
	// ErrTypeMismatch is returned when a transform is incompatible with the
	// tag of the value it is applied to.
	ErrTypeMismatch = xerrors.New("type mismatch")

	// ErrOverflow is returned when a numeric transform would overflow the
	// target width. Never wraparound.
	ErrOverflow = xerrors.New("overflow")
)

// Transform is a unit of state change. Apply folds it into the current value
// of a key; cur == nil means the key is absent. A (nil, nil) result is a
// deletion. Transforms form a monoid under Merge with Identity as the unit.
type Transform interface {
	Apply(cur *Value) (*Value, error)
	isTransform()
}

// Identity records a read and changes nothing.
type Identity struct{}

// Write replaces the current value.
type Write struct {
	Value *Value
}

// Delete removes the key. Deleting an absent key is a no-op.
type Delete struct{}

// AddInt64 applies a signed delta to a u64 value.
type AddInt64 int64

// AddUInt64 adds to a u64 value.
type AddUInt64 uint64

// AddUInt128 adds to a u128 value.
type AddUInt128 struct {
	Delta *uint256.Int
}

// AddUInt256 adds to a u256 value.
type AddUInt256 struct {
	Delta *uint256.Int
}

// AddUInt512 adds to a u512 value.
type AddUInt512 struct {
	Delta *big.Int
}

// AddNamedKeys merges (name → key) entries into a named-key-map value.
// Later entries win per name.
type AddNamedKeys struct {
	Entries map[string][]byte
}

func (Identity) isTransform()     {}
func (Write) isTransform()        {}
func (Delete) isTransform()       {}
func (AddInt64) isTransform()     {}
func (AddUInt64) isTransform()    {}
func (AddUInt128) isTransform()   {}
func (AddUInt256) isTransform()   {}
func (AddUInt512) isTransform()   {}
func (AddNamedKeys) isTransform() {}

func (Identity) Apply(cur *Value) (*Value, error) {
	return cur, nil
}

func (t Write) Apply(*Value) (*Value, error) {
	return t.Value, nil
}

func (Delete) Apply(*Value) (*Value, error) {
	return nil, nil
}

func (t AddInt64) Apply(cur *Value) (*Value, error) {
	if cur == nil {
		if t < 0 {
			return nil, fmt.Errorf("%w: negative delta %d on absent key", ErrOverflow, int64(t))
		}
		return UInt64Value(uint64(t)), nil
	}
	v, err := cur.UInt64()
	if err != nil {
		return nil, err
	}
	if t >= 0 {
		if v > math.MaxUint64-uint64(t) {
			return nil, fmt.Errorf("%w: u64 %d + %d", ErrOverflow, v, int64(t))
		}
		return UInt64Value(v + uint64(t)), nil
	}
	neg := uint64(-t)
	if v < neg {
		return nil, fmt.Errorf("%w: u64 %d %d", ErrOverflow, v, int64(t))
	}
	return UInt64Value(v - neg), nil
}

func (t AddUInt64) Apply(cur *Value) (*Value, error) {
	if cur == nil {
		return UInt64Value(uint64(t)), nil
	}
	v, err := cur.UInt64()
	if err != nil {
		return nil, err
	}
	if v > math.MaxUint64-uint64(t) {
		return nil, fmt.Errorf("%w: u64 %d + %d", ErrOverflow, v, uint64(t))
	}
	return UInt64Value(v + uint64(t)), nil
}

func (t AddUInt128) Apply(cur *Value) (*Value, error) {
	return applyWideAdd(cur, TagUInt128, t.Delta)
}

func (t AddUInt256) Apply(cur *Value) (*Value, error) {
	return applyWideAdd(cur, TagUInt256, t.Delta)
}

func (t AddUInt512) Apply(cur *Value) (*Value, error) {
	if t.Delta.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative u512 delta", ErrOverflow)
	}
	if cur == nil {
		if bigExceeds(t.Delta, 64) {
			return nil, fmt.Errorf("%w: u512 initial value too wide", ErrOverflow)
		}
		return UInt512Value(t.Delta), nil
	}
	if cur.Tag != TagUInt512 {
		return nil, fmt.Errorf("%w: add_u512 on %s value", ErrTypeMismatch, cur.Tag)
	}
	sum := new(big.Int).Add(bigFromLE(cur.Data), t.Delta)
	if bigExceeds(sum, 64) {
		return nil, fmt.Errorf("%w: u512 add", ErrOverflow)
	}
	return UInt512Value(sum), nil
}

func (t AddNamedKeys) Apply(cur *Value) (*Value, error) {
	if cur == nil {
		return NamedKeysValue(t.Entries)
	}
	existing, err := cur.NamedKeys()
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]byte, len(existing)+len(t.Entries))
	for name, key := range existing {
		merged[name] = key
	}
	for name, key := range t.Entries {
		merged[name] = key
	}
	return NamedKeysValue(merged)
}

func applyWideAdd(cur *Value, tag Tag, delta *uint256.Int) (*Value, error) {
	width := tag.widthBytes()
	if delta.ByteLen() > width {
		return nil, fmt.Errorf("%w: %s delta too wide", ErrOverflow, tag)
	}
	if cur == nil {
		return &Value{Tag: tag, Data: uint256ToLE(delta)}, nil
	}
	if cur.Tag != tag {
		return nil, fmt.Errorf("%w: add_%s on %s value", ErrTypeMismatch, tag, cur.Tag)
	}
	sum, carry := new(uint256.Int).AddOverflow(uint256FromLE(cur.Data), delta)
	if carry || sum.ByteLen() > width {
		return nil, fmt.Errorf("%w: %s add", ErrOverflow, tag)
	}
	return &Value{Tag: tag, Data: uint256ToLE(sum)}, nil
}

func bigExceeds(v *big.Int, widthBytes int) bool {
	return (v.BitLen()+7)/8 > widthBytes
}

// Merge composes two transforms applied in sequence: the result of
// Merge(t1, t2) behaves as t2 ∘ t1. Composition is associative; failures of
// eager arithmetic surface here so the executor can roll back a single
// deploy instead of failing the block commit.
func Merge(t1, t2 Transform) (Transform, error) {
	switch second := t2.(type) {
	case Identity:
		return t1, nil
	case Write, Delete:
		return t2, nil
	case AddNamedKeys:
		switch first := t1.(type) {
		case Identity:
			return t2, nil
		case Write:
			v, err := second.Apply(first.Value)
			if err != nil {
				return nil, err
			}
			return Write{Value: v}, nil
		case Delete:
			v, err := second.Apply(nil)
			if err != nil {
				return nil, err
			}
			return Write{Value: v}, nil
		case AddNamedKeys:
			merged := make(map[string][]byte, len(first.Entries)+len(second.Entries))
			for name, key := range first.Entries {
				merged[name] = key
			}
			for name, key := range second.Entries {
				merged[name] = key
			}
			return AddNamedKeys{Entries: merged}, nil
		default:
			return nil, fmt.Errorf("%w: add_named_keys after %T", ErrTypeMismatch, t1)
		}
	case AddInt64, AddUInt64, AddUInt128, AddUInt256, AddUInt512:
		switch first := t1.(type) {
		case Identity:
			return t2, nil
		case Write:
			v, err := t2.Apply(first.Value)
			if err != nil {
				return nil, err
			}
			return Write{Value: v}, nil
		case Delete:
			v, err := t2.Apply(nil)
			if err != nil {
				return nil, err
			}
			return Write{Value: v}, nil
		default:
			return mergeAdds(t1, t2)
		}
	}
	return nil, fmt.Errorf("%w: unknown transform %T", ErrTypeMismatch, t2)
}

// mergeAdds combines two numeric adds of matching width into one.
func mergeAdds(t1, t2 Transform) (Transform, error) {
	switch a := t1.(type) {
	case AddInt64:
		switch b := t2.(type) {
		case AddInt64:
			return addInt64Pair(int64(a), int64(b))
		case AddUInt64:
			return addMixed64(int64(a), uint64(b))
		}
	case AddUInt64:
		switch b := t2.(type) {
		case AddUInt64:
			if uint64(a) > math.MaxUint64-uint64(b) {
				return nil, fmt.Errorf("%w: u64 delta sum", ErrOverflow)
			}
			return AddUInt64(uint64(a) + uint64(b)), nil
		case AddInt64:
			return addMixed64(int64(b), uint64(a))
		}
	case AddUInt128:
		if b, ok := t2.(AddUInt128); ok {
			sum, err := addWideDeltas(a.Delta, b.Delta, TagUInt128)
			if err != nil {
				return nil, err
			}
			return AddUInt128{Delta: sum}, nil
		}
	case AddUInt256:
		if b, ok := t2.(AddUInt256); ok {
			sum, err := addWideDeltas(a.Delta, b.Delta, TagUInt256)
			if err != nil {
				return nil, err
			}
			return AddUInt256{Delta: sum}, nil
		}
	case AddUInt512:
		if b, ok := t2.(AddUInt512); ok {
			sum := new(big.Int).Add(a.Delta, b.Delta)
			if bigExceeds(sum, 64) {
				return nil, fmt.Errorf("%w: u512 delta sum", ErrOverflow)
			}
			return AddUInt512{Delta: sum}, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot merge %T with %T", ErrTypeMismatch, t1, t2)
}

func addInt64Pair(a, b int64) (Transform, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return nil, fmt.Errorf("%w: i64 delta sum", ErrOverflow)
	}
	return AddInt64(a + b), nil
}

// addMixed64 folds a signed and an unsigned 64-bit delta. Both target u64
// values, so the widths match; the combined delta must stay representable.
func addMixed64(signed int64, unsigned uint64) (Transform, error) {
	if signed >= 0 {
		if unsigned > math.MaxUint64-uint64(signed) {
			return nil, fmt.Errorf("%w: u64 delta sum", ErrOverflow)
		}
		return AddUInt64(unsigned + uint64(signed)), nil
	}
	neg := uint64(-signed)
	if unsigned >= neg {
		return AddUInt64(unsigned - neg), nil
	}
	rest := neg - unsigned
	if rest > math.MaxInt64 {
		return nil, fmt.Errorf("%w: i64 delta sum", ErrOverflow)
	}
	return AddInt64(-int64(rest)), nil
}

func addWideDeltas(a, b *uint256.Int, tag Tag) (*uint256.Int, error) {
	sum, carry := new(uint256.Int).AddOverflow(a, b)
	if carry || sum.ByteLen() > tag.widthBytes() {
		return nil, fmt.Errorf("%w: %s delta sum", ErrOverflow, tag)
	}
	return sum, nil
}
