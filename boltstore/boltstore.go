// Package boltstore binds the object store to bbolt: an ordered,
// memory-mapped, single-file key/value engine with one writer and many
// concurrent readers, which is exactly the transactional shape the trie
// store needs.
package boltstore

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/statetrie/globalstate.go/codec"
	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/store"
)

var (
	trieBucket  = []byte("TRIE")
	rootsBucket = []byte("ROOTS")
)

// Options configures the binding.
type Options struct {
	// MapSize is the initial mmap size in bytes; 0 lets bbolt grow on
	// demand.
	MapSize int64
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// NoSync trades durability for write speed; tests only.
	NoSync bool
}

// BoltStore implements store.Store and store.RootIndex over a single bbolt
// file. It also implements prometheus.Collector; registration is optional.
type BoltStore struct {
	db   *bolt.DB
	log  *zap.Logger
	gets prometheus.Counter
	puts prometheus.Counter
	dels prometheus.Counter
}

// Open creates or opens the store file and ensures the two collections
// exist.
func Open(path string, opts Options) (*BoltStore, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		InitialMmapSize: int(opts.MapSize),
		NoSync:          opts.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(trieBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(rootsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	log.Info("object store opened", zap.String("path", path), zap.Int64("map_size", opts.MapSize))
	return &BoltStore{
		db:  db,
		log: log,
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "globalstate", Subsystem: "store", Name: "gets_total",
			Help: "Node fetches from the object store.",
		}),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "globalstate", Subsystem: "store", Name: "puts_total",
			Help: "Nodes written to the object store.",
		}),
		dels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "globalstate", Subsystem: "store", Name: "deletes_total",
			Help: "Nodes deleted by the pruner.",
		}),
	}, nil
}

func (s *BoltStore) BeginRead() (store.ReadTxn, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &readTxn{s: s, tx: tx}, nil
}

func (s *BoltStore) BeginWrite() (store.WriteTxn, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &writeTxn{s: s, tx: tx}, nil
}

func (s *BoltStore) Close() error {
	s.log.Info("object store closed", zap.String("path", s.db.Path()))
	return s.db.Close()
}

// PutRoot indexes a named root under a block height. The core never
// interprets this collection.
func (s *BoltStore) PutRoot(height uint64, root digest.Digest) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootsBucket).Put(codec.Uint64ToBytes(height), root.Bytes())
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (s *BoltStore) GetRoot(height uint64) (digest.Digest, bool, error) {
	var root digest.Digest
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(rootsBucket).Get(codec.Uint64ToBytes(height))
		if data == nil {
			return nil
		}
		var err error
		if root, err = digest.FromBytes(data); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return root, false, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return root, found, nil
}

func (s *BoltStore) Describe(ch chan<- *prometheus.Desc) {
	s.gets.Describe(ch)
	s.puts.Describe(ch)
	s.dels.Describe(ch)
}

func (s *BoltStore) Collect(ch chan<- prometheus.Metric) {
	s.gets.Collect(ch)
	s.puts.Collect(ch)
	s.dels.Collect(ch)
}

type readTxn struct {
	s  *BoltStore
	tx *bolt.Tx
}

func (t *readTxn) Get(d digest.Digest) ([]byte, error) {
	t.s.gets.Inc()
	data := t.tx.Bucket(trieBucket).Get(d.Bytes())
	if data == nil {
		return nil, nil
	}
	// bbolt slices are only valid inside the transaction
	ret := make([]byte, len(data))
	copy(ret, data)
	return ret, nil
}

func (t *readTxn) Discard() {
	_ = t.tx.Rollback()
}

type writeTxn struct {
	s  *BoltStore
	tx *bolt.Tx
}

func (t *writeTxn) Get(d digest.Digest) ([]byte, error) {
	t.s.gets.Inc()
	data := t.tx.Bucket(trieBucket).Get(d.Bytes())
	if data == nil {
		return nil, nil
	}
	ret := make([]byte, len(data))
	copy(ret, data)
	return ret, nil
}

func (t *writeTxn) Put(d digest.Digest, data []byte) error {
	b := t.tx.Bucket(trieBucket)
	if b.Get(d.Bytes()) != nil {
		// content-addressed: an existing digest already holds these bytes
		return nil
	}
	t.s.puts.Inc()
	if err := b.Put(d.Bytes(), data); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (t *writeTxn) Delete(d digest.Digest) error {
	t.s.dels.Inc()
	if err := t.tx.Bucket(trieBucket).Delete(d.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (t *writeTxn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (t *writeTxn) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && err != bolt.ErrTxClosed {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}
