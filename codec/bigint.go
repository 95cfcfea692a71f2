package codec

import (
	"fmt"
	"io"
)

// Wide unsigned integers (128/256/512 bits) are encoded as a 1-byte byte
// length followed by the minimal little-endian magnitude. Canonical form
// forbids a trailing zero byte, so equal numbers encode identically
// regardless of the width they were produced at. Zero encodes as length 0.

// WriteBigLE writes a minimal little-endian magnitude.
func WriteBigLE(w io.Writer, magnitude []byte) error {
	if len(magnitude) > 0 && magnitude[len(magnitude)-1] == 0 {
		panic("WriteBigLE: non-minimal magnitude")
	}
	return WriteBytes8(w, magnitude)
}

// ReadBigLE reads a minimal little-endian magnitude of at most maxBytes.
func ReadBigLE(r io.Reader, maxBytes int) ([]byte, error) {
	mag, err := ReadBytes8(r)
	if err != nil {
		return nil, err
	}
	if len(mag) > maxBytes {
		return nil, fmt.Errorf("%w: magnitude of %d bytes exceeds width %d", ErrFormat, len(mag), maxBytes)
	}
	if len(mag) > 0 && mag[len(mag)-1] == 0 {
		return nil, fmt.Errorf("%w: non-minimal magnitude", ErrFormat)
	}
	return mag, nil
}
