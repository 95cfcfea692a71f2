package state

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/statetrie/globalstate.go/boltstore"
	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/store"
	"github.com/statetrie/globalstate.go/transform"
	"github.com/statetrie/globalstate.go/trie"
)

// Manager owns the object store and the shared node cache, and hands out
// scratch overlays. Distinct roots may be checked out and committed from
// separate goroutines; an individual overlay is not shared across
// goroutines.
type Manager struct {
	st    store.Store
	cache *trie.NodeCache
	cfg   Config
	log   *zap.Logger
}

type Option func(*Manager)

// WithLogger sets the manager logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithCacheSize overrides the decoded-node cache capacity.
func WithCacheSize(size int) Option {
	return func(m *Manager) {
		cache, err := trie.NewNodeCache(size)
		if err == nil {
			m.cache = cache
		}
	}
}

// NewManager wraps an existing object store.
func NewManager(st store.Store, cfg Config, opts ...Option) (*Manager, error) {
	cfg.sanitize()
	cache, err := trie.NewNodeCache(trie.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		st:    st,
		cache: cache,
		cfg:   cfg,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Open creates a manager over the configured backing store: the bbolt
// binding at cfg.StorePath, or an in-memory store when the path is empty.
func Open(cfg Config, opts ...Option) (*Manager, error) {
	cfg.sanitize()
	var st store.Store
	if cfg.StorePath == "" {
		st = store.NewMemStore()
	} else {
		var err error
		st, err = boltstore.Open(cfg.StorePath, boltstore.Options{MapSize: cfg.MapSize})
		if err != nil {
			return nil, err
		}
	}
	return NewManager(st, cfg, opts...)
}

func (m *Manager) Store() store.Store {
	return m.st
}

func (m *Manager) Cache() *trie.NodeCache {
	return m.cache
}

func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) Close() error {
	return m.st.Close()
}

// Checkout opens a scratch overlay over a base root. The root must be the
// empty sentinel or known to the store.
func (m *Manager) Checkout(root digest.Digest) (*Overlay, error) {
	rtxn, err := m.st.BeginRead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	ok, err := trie.HasRoot(rtxn, root)
	rtxn.Discard()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", trie.ErrRootNotFound, root)
	}
	return &Overlay{
		mgr:       m,
		base:      root,
		readCache: make(map[string]cachedRead),
		touched:   make(map[string]struct{}),
	}, nil
}

// Read is a one-shot lookup under a committed root, outside any overlay.
func (m *Manager) Read(root digest.Digest, key []byte) (*transform.Value, error) {
	if len(key) == 0 || len(key) > m.cfg.MaxKeyBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrKeyTooLong, len(key), m.cfg.MaxKeyBytes)
	}
	rtxn, err := m.st.BeginRead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rtxn.Discard()
	return trie.Read(rtxn, m.cache, root, key)
}

// Commit applies an ordered entry set directly, bypassing any overlay.
func (m *Manager) Commit(root digest.Digest, entries []transform.Entry) (*trie.CommitResult, error) {
	res, err := trie.Commit(m.st, m.cache, root, entries)
	if err != nil {
		return nil, err
	}
	m.log.Debug("commit",
		zap.Stringer("pre", root),
		zap.Stringer("post", res.Root),
		zap.Int("entries", len(entries)),
		zap.Int("created", len(res.Created)),
	)
	return res, nil
}

// Prune removes up to Config.PruneBatchSize of the given keys from root and
// returns the rewritten root together with the freed digests and the keys
// left for the next batch.
func (m *Manager) Prune(root digest.Digest, keys [][]byte) (*trie.PruneResult, error) {
	res, err := trie.Prune(m.st, m.cache, root, keys, m.cfg.PruneBatchSize)
	if err != nil {
		return nil, err
	}
	m.log.Debug("prune",
		zap.Stringer("pre", root),
		zap.Stringer("post", res.Root),
		zap.Int("pruned", res.Pruned),
		zap.Int("freed", len(res.Freed)),
		zap.Int("remaining", len(res.Remaining)),
	)
	return res, nil
}
