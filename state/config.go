// Package state implements the transactional overlay the executor works
// through: checkout a base root, read through it while accumulating deploy
// journals, and flush the merged journal as one atomic commit producing the
// post-state root.
package state

import "golang.org/x/xerrors"

var (
	// ErrKeyTooLong is returned for keys over the configured bound.
	ErrKeyTooLong = xerrors.New("key too long")

	// ErrValueTooLarge is returned at apply-time for values over the
	// configured bound.
	ErrValueTooLarge = xerrors.New("value too large")

	// ErrOverlaySpent is returned when an overlay is used after Flush.
	ErrOverlaySpent = xerrors.New("overlay already flushed")
)

// Config carries the options consumed by the core.
type Config struct {
	// MaxKeyBytes rejects longer keys at the API. At most 64.
	MaxKeyBytes int
	// MaxValueBytes rejects larger values at apply-time.
	MaxValueBytes int
	// PruneBatchSize bounds one prune call; 0 disables pruning.
	PruneBatchSize int
	// StorePath is the filesystem path of the backing store. Empty means
	// an in-memory store.
	StorePath string
	// MapSize is passed to the bbolt binding as its initial memory-map size
	// in bytes. The store grows past it on demand; it is not an upper bound.
	MapSize int64
}

const (
	DefaultMaxKeyBytes   = 64
	DefaultMaxValueBytes = 16 << 20
)

func DefaultConfig() Config {
	return Config{
		MaxKeyBytes:   DefaultMaxKeyBytes,
		MaxValueBytes: DefaultMaxValueBytes,
	}
}

func (c *Config) sanitize() {
	if c.MaxKeyBytes <= 0 || c.MaxKeyBytes > DefaultMaxKeyBytes {
		c.MaxKeyBytes = DefaultMaxKeyBytes
	}
	if c.MaxValueBytes <= 0 {
		c.MaxValueBytes = DefaultMaxValueBytes
	}
	if c.PruneBatchSize < 0 {
		c.PruneBatchSize = 0
	}
}
