package transform

import (
	"math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestApplyWrite(t *testing.T) {
	v := OpaqueValue([]byte("payload"))
	got, err := Write{Value: v}.Apply(UInt64Value(7))
	require.NoError(t, err)
	require.True(t, got.Equal(v))
}

func TestApplyDelete(t *testing.T) {
	got, err := Delete{}.Apply(OpaqueValue([]byte("x")))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestApplyIdentity(t *testing.T) {
	v := UInt64Value(42)
	got, err := Identity{}.Apply(v)
	require.NoError(t, err)
	require.True(t, got.Equal(v))

	got, err = Identity{}.Apply(nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAddUInt64(t *testing.T) {
	t.Run("initializes on absent key", func(t *testing.T) {
		got, err := AddUInt64(5).Apply(nil)
		require.NoError(t, err)
		u, err := got.UInt64()
		require.NoError(t, err)
		require.EqualValues(t, 5, u)
	})
	t.Run("adds", func(t *testing.T) {
		got, err := AddUInt64(3).Apply(UInt64Value(4))
		require.NoError(t, err)
		u, _ := got.UInt64()
		require.EqualValues(t, 7, u)
	})
	t.Run("overflow fails, never wraps", func(t *testing.T) {
		_, err := AddUInt64(1).Apply(UInt64Value(math.MaxUint64))
		require.ErrorIs(t, err, ErrOverflow)
	})
	t.Run("type mismatch", func(t *testing.T) {
		_, err := AddUInt64(1).Apply(OpaqueValue([]byte("blob")))
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
}

func TestAddInt64(t *testing.T) {
	t.Run("negative subtracts", func(t *testing.T) {
		got, err := AddInt64(-3).Apply(UInt64Value(10))
		require.NoError(t, err)
		u, _ := got.UInt64()
		require.EqualValues(t, 7, u)
	})
	t.Run("underflow fails", func(t *testing.T) {
		_, err := AddInt64(-11).Apply(UInt64Value(10))
		require.ErrorIs(t, err, ErrOverflow)
	})
	t.Run("negative on absent key fails", func(t *testing.T) {
		_, err := AddInt64(-1).Apply(nil)
		require.ErrorIs(t, err, ErrOverflow)
	})
}

func TestAddWide(t *testing.T) {
	t.Run("u128 overflow at width", func(t *testing.T) {
		max128 := new(uint256.Int).Sub(
			new(uint256.Int).Lsh(uint256.NewInt(1), 128),
			uint256.NewInt(1),
		)
		cur := UInt128Value(max128)
		_, err := AddUInt128{Delta: uint256.NewInt(1)}.Apply(cur)
		require.ErrorIs(t, err, ErrOverflow)
	})
	t.Run("u256 add", func(t *testing.T) {
		cur := UInt256Value(uint256.NewInt(40))
		got, err := AddUInt256{Delta: uint256.NewInt(2)}.Apply(cur)
		require.NoError(t, err)
		require.True(t, got.Equal(UInt256Value(uint256.NewInt(42))))
	})
	t.Run("width mismatch", func(t *testing.T) {
		cur := UInt256Value(uint256.NewInt(1))
		_, err := AddUInt128{Delta: uint256.NewInt(1)}.Apply(cur)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("u512 overflow", func(t *testing.T) {
		max512 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 512), big.NewInt(1))
		cur := UInt512Value(max512)
		_, err := AddUInt512{Delta: big.NewInt(1)}.Apply(cur)
		require.ErrorIs(t, err, ErrOverflow)
	})
}

func TestAddNamedKeys(t *testing.T) {
	base, err := NamedKeysValue(map[string][]byte{"alpha": {0x01}, "beta": {0x02}})
	require.NoError(t, err)

	got, err := AddNamedKeys{Entries: map[string][]byte{"beta": {0x22}, "gamma": {0x03}}}.Apply(base)
	require.NoError(t, err)
	m, err := got.NamedKeys()
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"alpha": {0x01}, "beta": {0x22}, "gamma": {0x03}}, m)

	_, err = AddNamedKeys{Entries: map[string][]byte{"x": {0x01}}}.Apply(UInt64Value(1))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

// the merge table: T1 then T2 must behave as their composition
func TestMergeTable(t *testing.T) {
	v := OpaqueValue([]byte("v"))
	v1 := UInt64Value(10)

	tests := []struct {
		name   string
		t1, t2 Transform
		want   Transform
	}{
		{"write then write", Write{Value: v1}, Write{Value: v}, Write{Value: v}},
		{"write then add", Write{Value: v1}, AddUInt64(5), Write{Value: UInt64Value(15)}},
		{"write then delete", Write{Value: v1}, Delete{}, Delete{}},
		{"write then identity", Write{Value: v1}, Identity{}, Write{Value: v1}},
		{"add then add", AddUInt64(3), AddUInt64(4), AddUInt64(7)},
		{"add then delete", AddUInt64(3), Delete{}, Delete{}},
		{"add then identity", AddUInt64(3), Identity{}, AddUInt64(3)},
		{"delete then write", Delete{}, Write{Value: v}, Write{Value: v}},
		{"delete then add", Delete{}, AddUInt64(9), Write{Value: UInt64Value(9)}},
		{"delete then delete", Delete{}, Delete{}, Delete{}},
		{"identity then write", Identity{}, Write{Value: v}, Write{Value: v}},
		{"identity then add", Identity{}, AddUInt64(2), AddUInt64(2)},
		{"identity then delete", Identity{}, Delete{}, Delete{}},
		{"identity then identity", Identity{}, Identity{}, Identity{}},
		{"signed after unsigned", AddUInt64(10), AddInt64(-4), AddUInt64(6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge(tt.t1, tt.t2)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMergeErrors(t *testing.T) {
	t.Run("eager mismatch on write then add", func(t *testing.T) {
		_, err := Merge(Write{Value: OpaqueValue([]byte("x"))}, AddUInt64(1))
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("width mismatch of adds", func(t *testing.T) {
		_, err := Merge(AddUInt64(1), AddUInt128{Delta: uint256.NewInt(1)})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("delta sum overflow", func(t *testing.T) {
		_, err := Merge(AddUInt64(math.MaxUint64), AddUInt64(1))
		require.ErrorIs(t, err, ErrOverflow)
	})
}

// Merge must be associative: (t1·t2)·t3 == t1·(t2·t3) applied to any value
func TestMergeAssociativity(t *testing.T) {
	ts := []Transform{
		Identity{},
		Write{Value: UInt64Value(100)},
		AddUInt64(7),
		AddInt64(-2),
		Delete{},
	}
	cur := UInt64Value(50)
	for _, t1 := range ts {
		for _, t2 := range ts {
			for _, t3 := range ts {
				left, lerr := Merge(t1, t2)
				var lres Transform
				if lerr == nil {
					lres, lerr = Merge(left, t3)
				}
				right, rerr := Merge(t2, t3)
				var rres Transform
				if rerr == nil {
					rres, rerr = Merge(t1, right)
				}
				if lerr != nil || rerr != nil {
					// eager arithmetic can fail on one association order
					// while a later write supersedes on the other; only
					// successful compositions must agree
					continue
				}
				lv, lverr := lres.Apply(cur)
				rv, rverr := rres.Apply(cur)
				require.Equal(t, lverr == nil, rverr == nil, "%T %T %T", t1, t2, t3)
				if lverr == nil {
					require.True(t, lv.Equal(rv), "%T %T %T", t1, t2, t3)
				}
			}
		}
	}
}

func TestJournalRoundTrip(t *testing.T) {
	j := NewJournal()
	j.Append([]byte{0xAB, 0x01}, Write{Value: OpaqueValue([]byte("x"))})
	j.Append([]byte{0xAB, 0x02}, AddUInt64(5))
	j.Append([]byte{0xAB, 0x03}, AddUInt128{Delta: uint256.NewInt(77)})
	j.Append([]byte{0xAB, 0x04}, AddUInt512{Delta: big.NewInt(123456)})
	j.Append([]byte{0xAB, 0x05}, AddNamedKeys{Entries: map[string][]byte{"main": {0x01}}})
	j.Append([]byte{0xAB, 0x06}, Delete{})
	j.Append([]byte{0xAB, 0x07}, Identity{})
	j.RecordRead([]byte{0xAB, 0x01}, UInt64Value(9))
	j.RecordRead([]byte{0xAB, 0x09}, nil)

	back, err := JournalFromBytes(j.Bytes(), 1<<20)
	require.NoError(t, err)
	require.Equal(t, j, back)
}

func TestJournalLeftoverBytes(t *testing.T) {
	j := NewJournal()
	j.Append([]byte{0x01}, Delete{})
	data := append(j.Bytes(), 0x00)
	_, err := JournalFromBytes(data, 1<<20)
	require.Error(t, err)
}

func TestValueCanonical(t *testing.T) {
	a := UInt128Value(uint256.NewInt(300))
	b := UInt128Value(uint256.NewInt(300))
	require.Equal(t, a.Data, b.Data)
	// minimal magnitude: 300 = 0x012C little-endian
	require.Equal(t, []byte{0x2C, 0x01}, a.Data)
}
