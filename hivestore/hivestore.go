// Package hivestore adapts a hive.go KVStore (badger, mapdb, ...) to the
// object-store interface. Reads are served directly from the kvstore and
// writes are buffered in a BatchedMutations, which commits atomically.
//
// Unlike the bbolt binding, a hive.go kvstore offers no point-in-time read
// snapshot. For the trie collection this is observationally equivalent:
// the data is content-addressed and append-only, so the bytes under an
// existing digest never change; only prune deletes entries, and prune
// batches are serialized with readers by the caller.
package hivestore

import (
	"errors"
	"fmt"

	"github.com/iotaledger/hive.go/core/kvstore"

	"github.com/statetrie/globalstate.go/codec"
	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/store"
)

var (
	triePrefix  = []byte{0x00}
	rootsPrefix = []byte{0x01}
)

// HiveStore implements store.Store and store.RootIndex over a hive.go
// kvstore partition.
type HiveStore struct {
	kvs kvstore.KVStore
}

func New(kvs kvstore.KVStore) *HiveStore {
	return &HiveStore{kvs: kvs}
}

func makeKey(prefix, k []byte) []byte {
	ret := make([]byte, 0, len(prefix)+len(k))
	return append(append(ret, prefix...), k...)
}

func (s *HiveStore) get(d digest.Digest) ([]byte, error) {
	v, err := s.kvs.Get(makeKey(triePrefix, d.Bytes()))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return v, nil
}

func (s *HiveStore) BeginRead() (store.ReadTxn, error) {
	return &readTxn{s: s}, nil
}

func (s *HiveStore) BeginWrite() (store.WriteTxn, error) {
	batch, err := s.kvs.Batched()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &writeTxn{s: s, batch: batch, pending: make(map[digest.Digest][]byte)}, nil
}

func (s *HiveStore) Close() error {
	if err := s.kvs.Flush(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (s *HiveStore) PutRoot(height uint64, root digest.Digest) error {
	err := s.kvs.Set(makeKey(rootsPrefix, codec.Uint64ToBytes(height)), root.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (s *HiveStore) GetRoot(height uint64) (digest.Digest, bool, error) {
	v, err := s.kvs.Get(makeKey(rootsPrefix, codec.Uint64ToBytes(height)))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return digest.Digest{}, false, nil
	}
	if err != nil {
		return digest.Digest{}, false, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	root, err := digest.FromBytes(v)
	if err != nil {
		return digest.Digest{}, false, err
	}
	return root, true, nil
}

type readTxn struct {
	s *HiveStore
}

func (t *readTxn) Get(d digest.Digest) ([]byte, error) {
	return t.s.get(d)
}

func (t *readTxn) Discard() {}

type writeTxn struct {
	s       *HiveStore
	batch   kvstore.BatchedMutations
	pending map[digest.Digest][]byte
	deleted map[digest.Digest]struct{}
}

func (t *writeTxn) Get(d digest.Digest) ([]byte, error) {
	if _, del := t.deleted[d]; del {
		return nil, nil
	}
	if data, ok := t.pending[d]; ok {
		return data, nil
	}
	return t.s.get(d)
}

func (t *writeTxn) Put(d digest.Digest, data []byte) error {
	if t.deleted != nil {
		delete(t.deleted, d)
	}
	if _, ok := t.pending[d]; ok {
		return nil
	}
	existing, err := t.s.get(d)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := t.batch.Set(makeKey(triePrefix, d.Bytes()), data); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	t.pending[d] = data
	return nil
}

func (t *writeTxn) Delete(d digest.Digest) error {
	if t.deleted == nil {
		t.deleted = make(map[digest.Digest]struct{})
	}
	t.deleted[d] = struct{}{}
	delete(t.pending, d)
	if err := t.batch.Delete(makeKey(triePrefix, d.Bytes())); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (t *writeTxn) Commit() error {
	if err := t.batch.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if err := t.s.kvs.Flush(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (t *writeTxn) Rollback() error {
	t.batch.Cancel()
	t.pending = nil
	t.deleted = nil
	return nil
}
