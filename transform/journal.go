package transform

import (
	"bytes"
	"fmt"
	"io"

	"github.com/statetrie/globalstate.go/codec"
)

// Journal is the effect log of one deploy: the ordered list of transforms it
// produced plus the set of values it read. It crosses the executor boundary,
// so it round-trips through the codec.
type Journal struct {
	Ops   []Entry
	Reads []ReadRecord
}

// Entry is one (key, transform) pair.
type Entry struct {
	Key []byte
	T   Transform
}

// ReadRecord is one observed read; Value == nil records an absent key.
type ReadRecord struct {
	Key   []byte
	Value *Value
}

func NewJournal() *Journal {
	return &Journal{}
}

// Append records a transform. Order is preserved: within one commit,
// transforms apply in input order.
func (j *Journal) Append(key []byte, t Transform) {
	j.Ops = append(j.Ops, Entry{Key: append([]byte(nil), key...), T: t})
}

// RecordRead records an observed value for the read set.
func (j *Journal) RecordRead(key []byte, v *Value) {
	j.Reads = append(j.Reads, ReadRecord{Key: append([]byte(nil), key...), Value: v})
}

// transform wire tags
const (
	kindIdentity     = byte(0x00)
	kindWrite        = byte(0x01)
	kindDelete       = byte(0x02)
	kindAddInt64     = byte(0x03)
	kindAddUInt64    = byte(0x04)
	kindAddUInt128   = byte(0x05)
	kindAddUInt256   = byte(0x06)
	kindAddUInt512   = byte(0x07)
	kindAddNamedKeys = byte(0x08)
)

// WriteTransform serializes a transform as a 1-byte kind tag plus payload.
func WriteTransform(w io.Writer, t Transform) error {
	switch tr := t.(type) {
	case Identity:
		return codec.WriteByte(w, kindIdentity)
	case Write:
		if err := codec.WriteByte(w, kindWrite); err != nil {
			return err
		}
		return tr.Value.Write(w)
	case Delete:
		return codec.WriteByte(w, kindDelete)
	case AddInt64:
		if err := codec.WriteByte(w, kindAddInt64); err != nil {
			return err
		}
		return codec.WriteUint64(w, uint64(tr))
	case AddUInt64:
		if err := codec.WriteByte(w, kindAddUInt64); err != nil {
			return err
		}
		return codec.WriteUint64(w, uint64(tr))
	case AddUInt128:
		if err := codec.WriteByte(w, kindAddUInt128); err != nil {
			return err
		}
		return codec.WriteBigLE(w, uint256ToLE(tr.Delta))
	case AddUInt256:
		if err := codec.WriteByte(w, kindAddUInt256); err != nil {
			return err
		}
		return codec.WriteBigLE(w, uint256ToLE(tr.Delta))
	case AddUInt512:
		if err := codec.WriteByte(w, kindAddUInt512); err != nil {
			return err
		}
		return codec.WriteBigLE(w, bigToLE(tr.Delta))
	case AddNamedKeys:
		if err := codec.WriteByte(w, kindAddNamedKeys); err != nil {
			return err
		}
		data, err := EncodeNamedKeys(tr.Entries)
		if err != nil {
			return err
		}
		return codec.WriteBytes32(w, data)
	}
	return fmt.Errorf("%w: unknown transform %T", codec.ErrFormat, t)
}

// ReadTransform deserializes a transform. maxValue bounds embedded payloads.
func ReadTransform(r io.Reader, maxValue uint32) (Transform, error) {
	kind, err := codec.ReadByte(r)
	if err != nil {
		return nil, err
	}
	switch kind {
	case kindIdentity:
		return Identity{}, nil
	case kindWrite:
		v, err := ReadValue(r, maxValue)
		if err != nil {
			return nil, err
		}
		return Write{Value: v}, nil
	case kindDelete:
		return Delete{}, nil
	case kindAddInt64:
		v, err := codec.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		return AddInt64(int64(v)), nil
	case kindAddUInt64:
		v, err := codec.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		return AddUInt64(v), nil
	case kindAddUInt128:
		mag, err := codec.ReadBigLE(r, 16)
		if err != nil {
			return nil, err
		}
		return AddUInt128{Delta: uint256FromLE(mag)}, nil
	case kindAddUInt256:
		mag, err := codec.ReadBigLE(r, 32)
		if err != nil {
			return nil, err
		}
		return AddUInt256{Delta: uint256FromLE(mag)}, nil
	case kindAddUInt512:
		mag, err := codec.ReadBigLE(r, 64)
		if err != nil {
			return nil, err
		}
		return AddUInt512{Delta: bigFromLE(mag)}, nil
	case kindAddNamedKeys:
		data, err := codec.ReadBytes32(r, maxValue)
		if err != nil {
			return nil, err
		}
		entries, err := DecodeNamedKeys(data)
		if err != nil {
			return nil, err
		}
		return AddNamedKeys{Entries: entries}, nil
	}
	return nil, fmt.Errorf("%w: unknown transform kind %02x", codec.ErrFormat, kind)
}

// Write serializes the journal: ops then reads, both length-prefixed.
func (j *Journal) Write(w io.Writer) error {
	if err := codec.WriteUint32(w, uint32(len(j.Ops))); err != nil {
		return err
	}
	for _, op := range j.Ops {
		if err := codec.WriteBytes8(w, op.Key); err != nil {
			return err
		}
		if err := WriteTransform(w, op.T); err != nil {
			return err
		}
	}
	if err := codec.WriteUint32(w, uint32(len(j.Reads))); err != nil {
		return err
	}
	for _, rec := range j.Reads {
		if err := codec.WriteBytes8(w, rec.Key); err != nil {
			return err
		}
		present := rec.Value != nil
		if present {
			if err := codec.WriteByte(w, 1); err != nil {
				return err
			}
			if err := rec.Value.Write(w); err != nil {
				return err
			}
		} else {
			if err := codec.WriteByte(w, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// Bytes returns the serialized journal.
func (j *Journal) Bytes() []byte {
	var buf bytes.Buffer
	if err := j.Write(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JournalFromBytes decodes a journal, rejecting trailing bytes.
func JournalFromBytes(data []byte, maxValue uint32) (*Journal, error) {
	rdr := bytes.NewReader(data)
	ret := NewJournal()
	if err := ret.read(rdr, maxValue); err != nil {
		return nil, err
	}
	if rdr.Len() != 0 {
		return nil, codec.ErrLeftoverBytes
	}
	return ret, nil
}

func (j *Journal) read(r *bytes.Reader, maxValue uint32) error {
	nOps, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	if int(nOps) > r.Len() {
		return fmt.Errorf("%w: journal op count %d exceeds payload", codec.ErrFormat, nOps)
	}
	j.Ops = make([]Entry, 0, nOps)
	for i := uint32(0); i < nOps; i++ {
		key, err := codec.ReadBytes8(r)
		if err != nil {
			return err
		}
		t, err := ReadTransform(r, maxValue)
		if err != nil {
			return err
		}
		j.Ops = append(j.Ops, Entry{Key: key, T: t})
	}
	nReads, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	if int(nReads) > r.Len() {
		return fmt.Errorf("%w: journal read count %d exceeds payload", codec.ErrFormat, nReads)
	}
	j.Reads = make([]ReadRecord, 0, nReads)
	for i := uint32(0); i < nReads; i++ {
		key, err := codec.ReadBytes8(r)
		if err != nil {
			return err
		}
		present, err := codec.ReadByte(r)
		if err != nil {
			return err
		}
		var v *Value
		switch present {
		case 0:
		case 1:
			if v, err = ReadValue(r, maxValue); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: bad read-record flag %02x", codec.ErrFormat, present)
		}
		j.Reads = append(j.Reads, ReadRecord{Key: key, Value: v})
	}
	return nil
}
