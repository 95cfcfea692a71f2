package codec

import "golang.org/x/xerrors"

var (
	// ErrFormat is returned when bytes are truncated, over-long or carry an
	// unknown tag. A stored buffer failing to decode is state corruption.
	ErrFormat = xerrors.New("formatting")

	// ErrLeftoverBytes is returned when trailing bytes remain after a
	// top-level decode.
	ErrLeftoverBytes = xerrors.New("leftover bytes")
)
