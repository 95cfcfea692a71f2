package trie

import "golang.org/x/xerrors"

var (
	// ErrRootNotFound is returned when the requested pre-state digest is
	// absent from the object store. Fatal for that operation; the caller
	// decides whether to re-sync.
	ErrRootNotFound = xerrors.New("root not found")

	// ErrMissingNode is returned when an interior node referenced by a live
	// root is absent. Unlike ErrRootNotFound this is state corruption.
	ErrMissingNode = xerrors.New("missing trie node")

	// ErrKeyCollision is returned when an insert would require storing both
	// a key and a proper prefix of it. A branch stores no value, so such a
	// key set is unrepresentable; production key spaces are fixed-width per
	// kind and never hit this.
	ErrKeyCollision = xerrors.New("key is a prefix of an existing key")

	// ErrPruneUnreachable is returned when the pruner is asked for keys
	// under a root that is unknown to the store.
	ErrPruneUnreachable = xerrors.New("prune root unreachable")
)
