package imagecache

import "container/list"

// Policy decides which cached entries to drop. Implementations are called with the
// cache lock held and need no synchronization of their own.
type Policy interface {
	// Accessed records a cache hit for key.
	Accessed(key string)
	// Added records an insert and returns keys to evict.
	Added(key string) []string
}

// NeverEvict keeps every entry for the lifetime of the cache. Memory grows with the
// number of distinct images requested.
type NeverEvict struct{}

// Accessed is a no-op.
func (NeverEvict) Accessed(string) {}

// Added never evicts.
func (NeverEvict) Added(string) []string { return nil }

// LRU evicts the least recently used entry once more than capacity entries are held.
type LRU struct {
	capacity int
	order    *list.List
	elems    map[string]*list.Element
}

// NewLRU creates an LRU policy holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		elems:    make(map[string]*list.Element),
	}
}

// Accessed moves key to the front.
func (l *LRU) Accessed(key string) {
	if elem, ok := l.elems[key]; ok {
		l.order.MoveToFront(elem)
	}
}

// Added inserts key and returns the oldest key when over capacity.
func (l *LRU) Added(key string) []string {
	if elem, ok := l.elems[key]; ok {
		l.order.MoveToFront(elem)
		return nil
	}
	l.elems[key] = l.order.PushFront(key)
	var evicted []string
	for l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		k := oldest.Value.(string)
		delete(l.elems, k)
		evicted = append(evicted, k)
	}
	return evicted
}
