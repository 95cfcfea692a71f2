// Package store defines the content-addressed object store the trie is
// persisted in: an append-only map from digest to encoded node bytes, backed
// by an ordered key/value database with a transactional API. The backing
// engine is ordered, but the store treats it as a pure map.
package store

import (
	"golang.org/x/xerrors"

	"github.com/statetrie/globalstate.go/digest"
)

// ErrStorage wraps failures of the underlying engine (disk full, poisoned
// lock). Transactions are rolled back on it; in-memory state stays valid.
var ErrStorage = xerrors.New("storage io")

// ReadTxn is a consistent point-in-time snapshot. Multiple concurrent
// readers are allowed. Discard releases the snapshot; it is always safe to
// call and must be called exactly once.
type ReadTxn interface {
	// Get returns the encoded node stored under d, or (nil, nil) if absent.
	Get(d digest.Digest) ([]byte, error)
	Discard()
}

// WriteTxn is an exclusive write transaction. Writes are visible to the
// transaction itself and become durable only on Commit; Rollback leaves the
// store untouched. On crash between Put and Commit no partial writes are
// visible on recovery.
type WriteTxn interface {
	Get(d digest.Digest) ([]byte, error)
	// Put stores data under d. Writing a digest already present is a no-op:
	// content addressing guarantees the bytes are identical.
	Put(d digest.Digest, data []byte) error
	// Delete removes d. Used only by the pruner.
	Delete(d digest.Digest) error
	Commit() error
	Rollback() error
}

// Store is the object store over the TRIE collection.
type Store interface {
	BeginRead() (ReadTxn, error)
	BeginWrite() (WriteTxn, error)
	Close() error
}

// RootIndex is the optional named-root collection (ROOTS): a caller-maintained
// map from block height to state root. The core never interprets it.
type RootIndex interface {
	PutRoot(height uint64, root digest.Digest) error
	GetRoot(height uint64) (digest.Digest, bool, error)
}
