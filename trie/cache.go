package trie

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/statetrie/globalstate.go/digest"
)

// Getter fetches encoded node bytes by digest. Both read and write
// transactions of the object store satisfy it.
type Getter interface {
	Get(d digest.Digest) ([]byte, error)
}

// NodeCache is the read-through cache of decoded nodes used during deploy
// execution. Keys are digests, so a cached node can never go stale: the
// bytes under a digest are immutable. Entries leave the cache by LRU
// eviction or when pruning removes them.
//
// NodeCache implements prometheus.Collector; registration is optional.
type NodeCache struct {
	lru    *lru.Cache
	hits   prometheus.Counter
	misses prometheus.Counter
}

// DefaultCacheSize is the default number of decoded nodes kept in memory.
const DefaultCacheSize = 4096

func NewNodeCache(size int) (*NodeCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &NodeCache{
		lru: cache,
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "globalstate",
			Subsystem: "trie_cache",
			Name:      "hits_total",
			Help:      "Decoded trie nodes served from the cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "globalstate",
			Subsystem: "trie_cache",
			Name:      "misses_total",
			Help:      "Decoded trie nodes fetched from the object store.",
		}),
	}, nil
}

// Node returns the decoded node stored under d, fetching and decoding
// through g on a miss. Returns (nil, nil) if the digest is absent.
func (c *NodeCache) Node(g Getter, d digest.Digest) (Node, error) {
	if c != nil {
		if cached, ok := c.lru.Get(d); ok {
			c.hits.Inc()
			return cached.(Node), nil
		}
	}
	data, err := g.Get(d)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	n, err := DecodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", d, err)
	}
	if c != nil {
		c.misses.Inc()
		c.lru.Add(d, n)
	}
	return n, nil
}

// Add inserts an already-decoded node, e.g. one just written by the
// committer.
func (c *NodeCache) Add(d digest.Digest, n Node) {
	if c != nil {
		c.lru.Add(d, n)
	}
}

// Remove drops a pruned digest.
func (c *NodeCache) Remove(d digest.Digest) {
	if c != nil {
		c.lru.Remove(d)
	}
}

func (c *NodeCache) Describe(ch chan<- *prometheus.Desc) {
	c.hits.Describe(ch)
	c.misses.Describe(ch)
}

func (c *NodeCache) Collect(ch chan<- prometheus.Metric) {
	c.hits.Collect(ch)
	c.misses.Collect(ch)
}
