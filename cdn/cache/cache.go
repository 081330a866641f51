// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cache implements the two-tier range cache of spec §4.E: an
// in-memory, byte-budgeted L1 backed by an on-disk, content-addressed L2.
// Objects are keyed by EncodingKey, the address space CDN archives and
// loose files are both published under.
package cache

import (
	"golang.org/x/sync/singleflight"

	"github.com/shell-reserve/ngdp/hash"
)

// Cache is the two-tier store fronting cdn/fetch: an L1 hit avoids both
// disk and network, an L2 hit avoids the network, and a miss on both is
// the caller's signal to fetch from the CDN and Put the result back.
type Cache struct {
	l1 *l1
	l2 *l2
	sf singleflight.Group
}

// Config controls the byte budgets of both tiers and the disk root of L2.
type Config struct {
	Dir     string
	L1Limit int64
	L2Limit int64
}

// Open constructs a Cache rooted at cfg.Dir, creating the directory and its
// goleveldb metadata index if absent.
func Open(cfg Config) (*Cache, error) {
	l2tier, err := newL2(cfg.Dir, cfg.L2Limit)
	if err != nil {
		return nil, err
	}
	return &Cache{
		l1: newL1(cfg.L1Limit),
		l2: l2tier,
	}, nil
}

// Close releases the L2 metadata index handle.
func (c *Cache) Close() error {
	return c.l2.close()
}

// Get checks L1 then L2, promoting an L2 hit into L1 so repeat reads of the
// same range stay fully in memory (spec §4.E "L1 ... backed by L2").
func (c *Cache) Get(ek hash.EncodingKey) ([]byte, bool) {
	key := ek.String()
	if v, ok := c.l1.get(key); ok {
		return v, true
	}
	if v, ok := c.l2.get(key); ok {
		c.l1.put(key, v)
		return v, true
	}
	return nil, false
}

// Put writes value into both tiers under ek. L2 errors are returned so
// callers can decide whether a disk failure should fail the surrounding
// fetch outright or just run degraded (L1-only).
func (c *Cache) Put(ek hash.EncodingKey, value []byte) error {
	key := ek.String()
	c.l1.put(key, value)
	return c.l2.put(key, value)
}

// Evict removes ek from both tiers.
func (c *Cache) Evict(ek hash.EncodingKey) {
	key := ek.String()
	c.l1.evict(key)
	c.l2.evictKey(key)
}

// GetOrFetch returns the cached bytes for ek, or calls fetch exactly once
// across any number of concurrent callers requesting the same key and
// caches its result. This is the shape cdn/fetch's range fetcher uses to
// avoid duplicate CDN requests for a range multiple readers ask for at
// once (spec §4.E "concurrent requests for the same uncached range are
// coalesced").
func (c *Cache) GetOrFetch(ek hash.EncodingKey, fetch func() ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(ek); ok {
		return v, nil
	}

	key := ek.String()
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		data, ferr := fetch()
		if ferr != nil {
			return nil, ferr
		}
		if err := c.Put(ek, data); err != nil {
			log.Warnf("cache: put failed for %s: %v", key, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
