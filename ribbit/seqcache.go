// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ribbit

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v2"
)

// SeqCache persists the last-seen sequence number per (region, product,
// endpoint) across process restarts, so a fresh process can skip a refetch
// when it already holds the current document (spec §4.B "Sequence
// tracking"). It is a thin embedded-KV layer, not a content cache: the
// cdn/cache package owns the actual fetched bytes.
type SeqCache struct {
	db *badger.DB
}

// OpenSeqCache opens (creating if necessary) a badger store rooted at dir.
func OpenSeqCache(dir string) (*SeqCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ribbit: opening seqn cache: %w", err)
	}
	return &SeqCache{db: db}, nil
}

// Close releases the underlying badger handle.
func (c *SeqCache) Close() error { return c.db.Close() }

func seqKey(region Region, product Product, ep Endpoint) []byte {
	return []byte(fmt.Sprintf("seqn:%s:%s:%s", region, product, ep))
}

// Get returns the last-persisted sequence number, or ok=false if none is
// recorded yet.
func (c *SeqCache) Get(region Region, product Product, ep Endpoint) (seqn uint64, ok bool) {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey(region, product, ep))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("ribbit: corrupt seqn cache entry")
			}
			seqn = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	return seqn, err == nil
}

// Put records the sequence number observed for (region, product, endpoint).
func (c *SeqCache) Put(region Region, product Product, ep Endpoint, seqn uint64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, seqn)
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seqKey(region, product, ep), val)
	})
}
