package cache

// lruNode is a node in a doubly-linked LRU list. It carries the cached
// value so a hit needs one map lookup.
type lruNode[K comparable, V any] struct {
	key   K
	value V
	prev  *lruNode[K, V]
	next  *lruNode[K, V]
}

// lruList orders nodes from most recently used (head) to least recently
// used (tail). It is not thread-safe.
type lruList[K comparable, V any] struct {
	head *lruNode[K, V]
	tail *lruNode[K, V]
	len  int
}

// pushFront inserts a new node at the head.
func (l *lruList[K, V]) pushFront(key K, value V) *lruNode[K, V] {
	n := &lruNode[K, V]{key: key, value: value, next: l.head}
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
	return n
}

// moveToFront marks n as most recently used.
func (l *lruList[K, V]) moveToFront(n *lruNode[K, V]) {
	if n == l.head {
		return
	}
	l.unlink(n)
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
}

// removeOldest unlinks and returns the tail, or nil for an empty list.
func (l *lruList[K, V]) removeOldest() *lruNode[K, V] {
	n := l.tail
	if n != nil {
		l.unlink(n)
	}
	return n
}

func (l *lruList[K, V]) unlink(n *lruNode[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.len--
}
