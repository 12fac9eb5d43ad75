package cache

import (
	"container/list"
)

// memoryTier is a strict LRU bounded by entry count. It is not safe for
// concurrent use; Store serializes access behind its mutex.
type memoryTier struct {
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
}

func newMemoryTier(capacity int) *memoryTier {
	return &memoryTier{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// get returns the entry and marks it most recently used.
func (m *memoryTier) get(key string) (*Entry, bool) {
	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	m.ll.MoveToFront(el)
	return el.Value.(*Entry), true
}

// set inserts or replaces an entry as most recently used, evicting the
// least-recently-used entry when at capacity.
func (m *memoryTier) set(entry *Entry) {
	if el, ok := m.items[entry.Key]; ok {
		el.Value = entry
		m.ll.MoveToFront(el)
		return
	}

	if m.ll.Len() >= m.capacity {
		tail := m.ll.Back()
		if tail != nil {
			evicted := tail.Value.(*Entry)
			m.ll.Remove(tail)
			delete(m.items, evicted.Key)
		}
	}

	m.items[entry.Key] = m.ll.PushFront(entry)
}

func (m *memoryTier) delete(key string) {
	if el, ok := m.items[key]; ok {
		m.ll.Remove(el)
		delete(m.items, key)
	}
}

func (m *memoryTier) clear() {
	m.ll.Init()
	m.items = make(map[string]*list.Element)
}

func (m *memoryTier) len() int {
	return m.ll.Len()
}

// keys returns keys from most to least recently used. Used by tests.
func (m *memoryTier) keys() []string {
	out := make([]string, 0, m.ll.Len())
	for el := m.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Entry).Key)
	}
	return out
}
