package balance

import (
	"container/list"

	"github.com/fenlabs/ballast/pkg/types"
)

// WorkingSet is the in-memory LRU of committed balances one partition worker
// owns. It is confined to the worker goroutine and carries no locking; the
// worker resets it whenever leadership is lost, so a stale entry can never
// survive a fencing failure.
//
// Stored balances are treated as immutable: compute produces fresh copies and
// only post-commit authoritative rows are put back.
type WorkingSet struct {
	capacity int
	order    *list.List
	items    map[types.BalanceKey]*list.Element
}

type wsEntry struct {
	key types.BalanceKey
	bal *types.Balance
}

// NewWorkingSet returns an empty set bounded to capacity entries.
func NewWorkingSet(capacity int) *WorkingSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &WorkingSet{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[types.BalanceKey]*list.Element, capacity),
	}
}

// Get returns the resident balance for key and marks it recently used.
func (w *WorkingSet) Get(key types.BalanceKey) (*types.Balance, bool) {
	el, ok := w.items[key]
	if !ok {
		return nil, false
	}
	w.order.MoveToFront(el)
	return el.Value.(*wsEntry).bal, true
}

// Put inserts or replaces the balance for its key, evicting the least
// recently used entry when the set is full.
func (w *WorkingSet) Put(bal *types.Balance) {
	key := bal.Key()
	if el, ok := w.items[key]; ok {
		el.Value.(*wsEntry).bal = bal
		w.order.MoveToFront(el)
		return
	}
	w.items[key] = w.order.PushFront(&wsEntry{key: key, bal: bal})
	for w.order.Len() > w.capacity {
		oldest := w.order.Back()
		w.order.Remove(oldest)
		delete(w.items, oldest.Value.(*wsEntry).key)
	}
}

// Evict drops the entry for key if present.
func (w *WorkingSet) Evict(key types.BalanceKey) {
	if el, ok := w.items[key]; ok {
		w.order.Remove(el)
		delete(w.items, key)
	}
}

// Missing returns the subset of keys not resident, preserving input order
// and dropping repeats.
func (w *WorkingSet) Missing(keys []types.BalanceKey) []types.BalanceKey {
	var out []types.BalanceKey
	seen := make(map[types.BalanceKey]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := w.items[key]; !ok {
			out = append(out, key)
		}
	}
	return out
}

// Len returns the number of resident balances.
func (w *WorkingSet) Len() int {
	return w.order.Len()
}

// Reset drops every entry. Called on leadership changes so the next batch
// reloads from the store.
func (w *WorkingSet) Reset() {
	w.order.Init()
	w.items = make(map[types.BalanceKey]*list.Element, w.capacity)
}
