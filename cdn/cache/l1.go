// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cache

import (
	"container/list"
	"sync"
)

// DefaultL1Limit is the default L1 byte budget (spec §4.E "256 MiB").
const DefaultL1Limit = 256 * 1024 * 1024

// l1entry is the value stored in the LRU list; key lets Evict find the
// backing map entry for the item it displaces.
type l1entry struct {
	key   string
	value []byte
}

// l1 is a byte-budgeted, size-driven in-memory LRU. decred/dcrd/lru's
// generic Map evicts by item count, not bytes, so it is a poor fit for
// spec.md's "LRU by bytes, configurable limit" requirement; this is a
// small hand-rolled list+map LRU instead (see DESIGN.md). The library is
// still wired, in cdn/fetch's negative-result cache (negcache.go), for
// known-missing EKeys — a case where count-based eviction is exactly
// right.
type l1 struct {
	mu    sync.Mutex
	limit int64
	used  int64
	ll    *list.List
	items map[string]*list.Element
}

func newL1(limit int64) *l1 {
	if limit <= 0 {
		limit = DefaultL1Limit
	}
	return &l1{
		limit: limit,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *l1) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*l1entry).value, true
}

func (c *l1) put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*l1entry)
		c.used += int64(len(value)) - int64(len(old.value))
		old.value = value
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&l1entry{key: key, value: value})
		c.items[key] = el
		c.used += int64(len(value))
	}

	for c.used > c.limit && c.ll.Len() > 0 {
		c.evictOldest()
	}
}

func (c *l1) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// evictOldest must be called with c.mu held.
func (c *l1) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.removeElement(el)
}

func (c *l1) removeElement(el *list.Element) {
	e := el.Value.(*l1entry)
	delete(c.items, e.key)
	c.ll.Remove(el)
	c.used -= int64(len(e.value))
}
