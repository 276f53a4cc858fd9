package store

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"vigil/core"
	"vigil/metrics"
)

// window is a bounded, insertion-ordered set of entities. Lookups use Peek so
// recency never changes after insertion: eviction is strictly oldest-inserted
// first. Evicted ids are remembered in a bounded tombstone set and are never
// re-admitted.
type window[V any] struct {
	name       string
	size       int
	items      *lru.Cache[core.ID, V]
	tombstones *lru.Cache[core.ID, struct{}]
}

func newWindow[V any](name string, size, tombstoneSize int) (*window[V], error) {
	w := &window[V]{name: name, size: size}

	tombstones, err := lru.New[core.ID, struct{}](tombstoneSize)
	if err != nil {
		return nil, fmt.Errorf("%s tombstones: %w", name, err)
	}
	w.tombstones = tombstones

	items, err := lru.NewWithEvict[core.ID, V](size, w.onEvict)
	if err != nil {
		return nil, fmt.Errorf("%s window: %w", name, err)
	}
	w.items = items

	metrics.WindowSize.WithLabelValues(name).Set(0)
	return w, nil
}

func (w *window[V]) onEvict(id core.ID, _ V) {
	w.tombstones.Add(id, struct{}{})
	metrics.WindowEvictions.WithLabelValues(w.name).Inc()
}

// get returns the stored entity without touching its position.
func (w *window[V]) get(id core.ID) (V, bool) {
	return w.items.Peek(id)
}

func (w *window[V]) evicted(id core.ID) bool {
	return w.tombstones.Contains(id)
}

// push inserts v as the newest entry, evicting the oldest on overflow.
// Returns false if id was evicted earlier.
func (w *window[V]) push(id core.ID, v V) bool {
	if w.evicted(id) {
		return false
	}
	w.items.Add(id, v)
	metrics.WindowSize.WithLabelValues(w.name).Set(float64(w.items.Len()))
	return true
}

// admit picks the ids of a snapshot batch that may occupy the window: the
// newest size ids, scanning from the tail, skipping tombstoned ones. Ids
// outside the result are merged if stored but never inserted.
func (w *window[V]) admit(ids []core.ID) map[core.ID]struct{} {
	keep := make(map[core.ID]struct{}, w.size)
	for i := len(ids) - 1; i >= 0 && len(keep) < w.size; i-- {
		if w.evicted(ids[i]) {
			continue
		}
		keep[ids[i]] = struct{}{}
	}
	return keep
}

// pushKeeping inserts v like push, but on overflow evicts the oldest entry
// outside keep so an id admitted by the same batch is never pushed out.
func (w *window[V]) pushKeeping(id core.ID, v V, keep map[core.ID]struct{}) bool {
	if w.evicted(id) {
		return false
	}
	if w.items.Len() >= w.size {
		for _, k := range w.items.Keys() { // oldest to newest
			if _, kept := keep[k]; !kept {
				w.items.Remove(k) // fires onEvict
				break
			}
		}
	}
	return w.push(id, v)
}

func (w *window[V]) len() int {
	return w.items.Len()
}

// newestFirst returns the entries ordered from most to least recently inserted.
func (w *window[V]) newestFirst() []V {
	keys := w.items.Keys() // oldest to newest
	out := make([]V, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := w.items.Peek(keys[i]); ok {
			out = append(out, v)
		}
	}
	return out
}

// each visits entries in no particular order.
func (w *window[V]) each(fn func(V)) {
	for _, k := range w.items.Keys() {
		if v, ok := w.items.Peek(k); ok {
			fn(v)
		}
	}
}
