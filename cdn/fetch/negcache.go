// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fetch

import (
	"github.com/decred/dcrd/lru"

	"github.com/shell-reserve/ngdp/hash"
)

// DefaultNegativeCacheSize bounds how many known-missing EKeys are
// remembered before the oldest entries are evicted.
const DefaultNegativeCacheSize = 8192

// negativeCache remembers EKeys that recently resolved to a definitive 404
// so a pipeline retrying the same missing file (a common pattern when a
// caller walks install tags against a partially-synced CDN mirror) doesn't
// pay for a round trip it already knows will fail. Unlike the host set
// behind HostPool, the key space here is unbounded (one entry per EKey
// ever requested), which is exactly what decred/dcrd/lru's count-bounded
// Map is for.
type negativeCache struct {
	m *lru.Map[hash.EncodingKey, struct{}]
}

func newNegativeCache(limit uint) *negativeCache {
	if limit == 0 {
		limit = DefaultNegativeCacheSize
	}
	return &negativeCache{m: lru.NewMap[hash.EncodingKey, struct{}](limit)}
}

func (n *negativeCache) markMissing(ek hash.EncodingKey) {
	n.m.Put(ek, struct{}{})
}

func (n *negativeCache) isKnownMissing(ek hash.EncodingKey) bool {
	_, ok := n.m.Get(ek)
	return ok
}

func (n *negativeCache) forget(ek hash.EncodingKey) {
	n.m.Delete(ek)
}
