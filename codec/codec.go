// Package codec implements the deterministic, length-prefixed binary
// serialization shared by keys, values and trie nodes. Encoding is canonical:
// two equal logical values always produce identical bytes, because digests are
// taken over encoded bytes and equal states must hash equally.
//
// Primitive integers are little-endian. Variable sequences carry an explicit
// length prefix: 1 byte for short sequences (Bytes8), 4 bytes for long ones
// (Bytes32). Tagged variants start with a 1-byte tag.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapFormat(err)
	}
	return b[0], nil
}

func WriteByte(w io.Writer, val byte) error {
	_, err := w.Write([]byte{val})
	return err
}

func ReadUint16(r io.Reader) (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, wrapFormat(err)
	}
	return binary.LittleEndian.Uint16(tmp[:]), nil
}

func WriteUint16(w io.Writer, val uint16) error {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], val)
	_, err := w.Write(tmp[:])
	return err
}

func ReadUint32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, wrapFormat(err)
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func WriteUint32(w io.Writer, val uint32) error {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], val)
	_, err := w.Write(tmp[:])
	return err
}

func ReadUint64(r io.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, wrapFormat(err)
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func WriteUint64(w io.Writer, val uint64) error {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], val)
	_, err := w.Write(tmp[:])
	return err
}

func Uint64ToBytes(val uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], val)
	return tmp[:]
}

func Uint64FromBytes(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: expected 8 bytes, got %d", ErrFormat, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadBytes8 reads a sequence prefixed with a 1-byte length.
func ReadBytes8(r io.Reader) ([]byte, error) {
	length, err := ReadByte(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	ret := make([]byte, length)
	if _, err = io.ReadFull(r, ret); err != nil {
		return nil, wrapFormat(err)
	}
	return ret, nil
}

// WriteBytes8 writes a sequence prefixed with a 1-byte length. Panics on
// data longer than 255 bytes: callers enforce their own bounds first.
func WriteBytes8(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint8 {
		panic(fmt.Sprintf("WriteBytes8: too long data (%v)", len(data)))
	}
	if err := WriteByte(w, byte(len(data))); err != nil {
		return err
	}
	if len(data) != 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// ReadBytes32 reads a sequence prefixed with a 4-byte length.
// maxLen bounds the announced length; an over-long prefix is a formatting
// error, not an allocation request.
func ReadBytes32(r io.Reader, maxLen uint32) ([]byte, error) {
	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if length > maxLen {
		return nil, fmt.Errorf("%w: announced length %d exceeds limit %d", ErrFormat, length, maxLen)
	}
	if length == 0 {
		return []byte{}, nil
	}
	ret := make([]byte, length)
	if _, err = io.ReadFull(r, ret); err != nil {
		return nil, wrapFormat(err)
	}
	return ret, nil
}

// WriteBytes32 writes a sequence prefixed with a 4-byte length.
func WriteBytes32(w io.Writer, data []byte) error {
	if err := WriteUint32(w, uint32(len(data))); err != nil {
		return err
	}
	if len(data) != 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// wrapFormat converts io-level truncation into ErrFormat. io.EOF and
// io.ErrUnexpectedEOF both mean the buffer ended mid-shape.
func wrapFormat(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: truncated input", ErrFormat)
	}
	return err
}
