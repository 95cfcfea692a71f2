package state

import (
	"fmt"

	"github.com/statetrie/globalstate.go/digest"
	"github.com/statetrie/globalstate.go/store"
	"github.com/statetrie/globalstate.go/transform"
	"github.com/statetrie/globalstate.go/trie"
)

// Overlay is the in-memory working store of one block execution, layered
// over a persistent base root. Reads resolve against the accumulated
// transforms first and fall back to the base trie, caching misses. Writes
// are deferred: each deploy's journal lands in its own checkpoint frame, so
// a failed deploy rolls back alone, and the merged journal flushes as one
// atomic commit.
type Overlay struct {
	mgr  *Manager
	base digest.Digest

	// checkpoint stack: one frame per applied journal
	frames []*frame

	readCache map[string]cachedRead
	reads     []transform.ReadRecord

	// keys in first-touch order, for deterministic flush entries
	order   []string
	touched map[string]struct{}

	flushed bool
}

type frame struct {
	pending map[string]transform.Transform
}

type cachedRead struct {
	val *transform.Value
}

// Base returns the root the overlay was checked out at.
func (o *Overlay) Base() digest.Digest {
	return o.base
}

// Depth returns the number of applied, undiscarded journals.
func (o *Overlay) Depth() int {
	return len(o.frames)
}

// ReadSet returns the reads observed through the overlay, in order.
func (o *Overlay) ReadSet() []transform.ReadRecord {
	return o.reads
}

// Read resolves key against the pending transforms, falling back to the
// base root. The result is recorded in the read set.
func (o *Overlay) Read(key []byte) (*transform.Value, error) {
	if o.flushed {
		return nil, ErrOverlaySpent
	}
	if err := o.checkKey(key); err != nil {
		return nil, err
	}
	baseVal, err := o.baseRead(key)
	if err != nil {
		return nil, err
	}
	pending, err := o.pendingFor(string(key))
	if err != nil {
		return nil, err
	}
	val := baseVal
	if pending != nil {
		if val, err = pending.Apply(baseVal); err != nil {
			return nil, fmt.Errorf("key %x: %w", key, err)
		}
	}
	o.reads = append(o.reads, transform.ReadRecord{Key: append([]byte(nil), key...), Value: val})
	return val, nil
}

// Apply merges one deploy's journal into the overlay under a fresh
// checkpoint. On a transform error the checkpoint is discarded and the
// error returned, so the caller rolls back just that deploy; the overlay
// stays valid.
func (o *Overlay) Apply(j *transform.Journal) error {
	if o.flushed {
		return ErrOverlaySpent
	}
	fr := &frame{pending: make(map[string]transform.Transform, len(j.Ops))}
	o.frames = append(o.frames, fr)

	for _, op := range j.Ops {
		if err := o.checkOp(op); err != nil {
			o.DiscardPending()
			return err
		}
		k := string(op.Key)
		merged := op.T
		if prev, ok := fr.pending[k]; ok {
			var err error
			if merged, err = transform.Merge(prev, op.T); err != nil {
				o.DiscardPending()
				return fmt.Errorf("key %x: %w", op.Key, err)
			}
		}
		fr.pending[k] = merged
		if _, seen := o.touched[k]; !seen {
			o.touched[k] = struct{}{}
			o.order = append(o.order, k)
		}
	}
	o.reads = append(o.reads, j.Reads...)
	return nil
}

// DiscardPending drops the most recently applied journal.
func (o *Overlay) DiscardPending() {
	if len(o.frames) == 0 {
		return
	}
	o.frames = o.frames[:len(o.frames)-1]
}

// Flush folds the merged journal into the base root and publishes the
// post-state. Any error aborts the whole block-level commit; the overlay
// stays valid on storage errors, so a flush may be retried once the cause
// is resolved. A successful flush spends the overlay.
func (o *Overlay) Flush() (digest.Digest, error) {
	if o.flushed {
		return digest.Digest{}, ErrOverlaySpent
	}
	entries, err := o.entries()
	if err != nil {
		return digest.Digest{}, err
	}
	res, err := trie.Commit(o.mgr.st, o.mgr.cache, o.base, entries)
	if err != nil {
		return digest.Digest{}, err
	}
	o.flushed = true
	return res.Root, nil
}

// entries composes the checkpoint frames per key, in first-touch order.
func (o *Overlay) entries() ([]transform.Entry, error) {
	entries := make([]transform.Entry, 0, len(o.order))
	for _, k := range o.order {
		composed, err := o.pendingFor(k)
		if err != nil {
			return nil, fmt.Errorf("key %x: %w", k, err)
		}
		if composed == nil {
			continue // touched only by a discarded journal
		}
		if _, isIdentity := composed.(transform.Identity); isIdentity {
			continue // read-only entries are elided at flush
		}
		entries = append(entries, transform.Entry{Key: []byte(k), T: composed})
	}
	return entries, nil
}

// pendingFor composes the transforms accumulated for a key across frames,
// oldest first. Returns nil when no frame touches the key.
func (o *Overlay) pendingFor(k string) (transform.Transform, error) {
	var composed transform.Transform
	for _, fr := range o.frames {
		t, ok := fr.pending[k]
		if !ok {
			continue
		}
		if composed == nil {
			composed = t
			continue
		}
		var err error
		if composed, err = transform.Merge(composed, t); err != nil {
			return nil, err
		}
	}
	return composed, nil
}

// baseRead reads through to the base root, caching hits and misses.
func (o *Overlay) baseRead(key []byte) (*transform.Value, error) {
	k := string(key)
	if cached, ok := o.readCache[k]; ok {
		return cached.val, nil
	}
	rtxn, err := o.mgr.st.BeginRead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	val, err := trie.Read(rtxn, o.mgr.cache, o.base, key)
	rtxn.Discard()
	if err != nil {
		return nil, err
	}
	o.readCache[k] = cachedRead{val: val}
	return val, nil
}

func (o *Overlay) checkKey(key []byte) error {
	if len(key) == 0 || len(key) > o.mgr.cfg.MaxKeyBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrKeyTooLong, len(key), o.mgr.cfg.MaxKeyBytes)
	}
	return nil
}

func (o *Overlay) checkOp(op transform.Entry) error {
	if err := o.checkKey(op.Key); err != nil {
		return err
	}
	if w, ok := op.T.(transform.Write); ok {
		if w.Value == nil {
			return fmt.Errorf("write of a nil value for key %x", op.Key)
		}
		if len(w.Value.Data) > o.mgr.cfg.MaxValueBytes {
			return fmt.Errorf("%w: %d bytes, limit %d", ErrValueTooLarge, len(w.Value.Data), o.mgr.cfg.MaxValueBytes)
		}
	}
	return nil
}
