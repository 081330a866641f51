// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package archiveindex

import (
	"bytes"
	"sort"

	"github.com/shell-reserve/ngdp/hash"
)

// groupEntry pairs an Entry with the archive hash of the Index it came
// from, since the merged view no longer has a single owning Index.
type groupEntry struct {
	Entry
	ArchiveHash hash.EncodingKey
}

// Group is the in-memory merge of every archive-index file referenced by
// the current CDN config into one globally-sorted table, giving O(log N)
// lookup across the whole archive set (spec §4.C "Multi-archive
// aggregation").
type Group struct {
	keyLength int
	entries   []groupEntry
}

// NewGroup merges the given indexes. All must share the same KeyLength;
// indexes are not required to be individually re-sorted against each other
// before merging, only within themselves (Parse already guarantees that).
func NewGroup(indexes []*Index) *Group {
	g := &Group{}
	total := 0
	for _, idx := range indexes {
		total += idx.Len()
		g.keyLength = int(idx.Footer.KeyLength)
	}
	g.entries = make([]groupEntry, 0, total)
	for _, idx := range indexes {
		for _, e := range idx.Entries() {
			g.entries = append(g.entries, groupEntry{Entry: e, ArchiveHash: idx.ArchiveHash})
		}
	}
	sort.Slice(g.entries, func(i, j int) bool {
		return bytes.Compare(g.entries[i].Prefix, g.entries[j].Prefix) < 0
	})
	return g
}

// Located is a fully-resolved archive location: which archive, and the
// byte range within it.
type Located struct {
	ArchiveHash hash.EncodingKey
	Offset      uint32
	Length      uint32
}

// Lookup binary-searches the merged table for ek's truncated prefix. A
// caller that only has the prefix (not the full EKey) cannot disambiguate
// a collision; per spec §9's open question this is undefined beyond
// "first in sorted order", which is what this returns.
func (g *Group) Lookup(ek hash.EncodingKey) (Located, bool) {
	n := g.keyLength
	prefix := ek[:n]
	lo := sort.Search(len(g.entries), func(i int) bool {
		return bytes.Compare(g.entries[i].Prefix, prefix) >= 0
	})
	if lo >= len(g.entries) || !bytes.Equal(g.entries[lo].Prefix, prefix) {
		return Located{}, false
	}
	e := g.entries[lo]
	return Located{ArchiveHash: e.ArchiveHash, Offset: e.Offset, Length: e.Length}, true
}

// Len reports the total merged entry count.
func (g *Group) Len() int { return len(g.entries) }
