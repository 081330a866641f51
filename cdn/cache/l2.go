// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cache

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/shell-reserve/ngdp/errors"
)

// DefaultL2Limit is the default L2 byte budget; spec.md leaves this
// unconfigured, unlike L1's documented 256 MiB default, so a generous
// local default is chosen here (10 GiB) and is always overridable.
const DefaultL2Limit = 10 * 1024 * 1024 * 1024

// l2meta is the goleveldb-indexed record describing one on-disk object:
// its size (for budget accounting) and a logical access tick (for LRU
// eviction), per spec §4.E "Eviction is size-driven with LRU timestamps."
// A monotonic counter is used instead of wall-clock time so ordering is
// exact even when two writes land in the same clock tick.
type l2meta struct {
	Size   int64
	Access int64
}

// l2 is the on-disk, content-addressed cache tier. Object bytes live under
// root sharded two levels deep by key hex (spec §6 on-disk layout); a
// goleveldb instance tracks size/access-tick metadata so eviction doesn't
// need to stat every file on disk.
type l2 struct {
	root  string
	limit int64
	clock int64

	mu   sync.Mutex
	meta *leveldb.DB
}

func newL2(root string, limit int64) (*l2, error) {
	if limit <= 0 {
		limit = DefaultL2Limit
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeCacheIO, "cache.newL2", err).WithPath(root)
	}
	db, err := leveldb.OpenFile(filepath.Join(root, ".meta"), nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCacheIO, "cache.newL2", err).WithPath(root)
	}
	return &l2{root: root, limit: limit, meta: db}, nil
}

func (c *l2) close() error {
	return c.meta.Close()
}

// shardPath derives the {hh}/{hh}/{hash} sharded path from spec §6's
// on-disk layout, reused verbatim for the CDN's own /data/ URL shape.
func shardPath(root, keyHex string) string {
	if len(keyHex) < 4 {
		return filepath.Join(root, keyHex)
	}
	return filepath.Join(root, keyHex[0:2], keyHex[2:4], keyHex)
}

func (c *l2) get(keyHex string) ([]byte, bool) {
	path := shardPath(c.root, keyHex)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	c.touch(keyHex, int64(len(data)))
	return data, true
}

// put writes data to a temp file in the same directory then renames it
// into place, so a crash or cancellation never leaves a partial object
// visible under its final name (spec §4.E, §5 "Cancellation").
func (c *l2) put(keyHex string, data []byte) error {
	path := shardPath(c.root, keyHex)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.CodeCacheIO, "cache.l2.put", err).WithPath(path)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(errors.CodeCacheIO, "cache.l2.put", err).WithPath(dir)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.CodeCacheIO, "cache.l2.put", err).WithPath(tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.CodeCacheIO, "cache.l2.put", err).WithPath(tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.CodeCacheIO, "cache.l2.put", err).WithPath(tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.CodeCacheIO, "cache.l2.put", err).WithPath(path)
	}

	if err := c.writeMeta(keyHex, int64(len(data))); err != nil {
		return err
	}
	c.evictIfOverBudget()
	return nil
}

func (c *l2) evictKey(keyHex string) {
	path := shardPath(c.root, keyHex)
	os.Remove(path)
	c.meta.Delete([]byte(keyHex), nil)
}

func (c *l2) writeMeta(keyHex string, size int64) error {
	m := l2meta{Size: size, Access: atomic.AddInt64(&c.clock, 1)}
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.Size))
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.Access))
	if err := c.meta.Put([]byte(keyHex), buf[:], nil); err != nil {
		return errors.Wrap(errors.CodeCacheIO, "cache.l2.writeMeta", err)
	}
	return nil
}

func (c *l2) touch(keyHex string, size int64) {
	c.writeMeta(keyHex, size)
}

func decodeMeta(b []byte) l2meta {
	if len(b) < 16 {
		return l2meta{}
	}
	return l2meta{
		Size:   int64(binary.BigEndian.Uint64(b[0:8])),
		Access: int64(binary.BigEndian.Uint64(b[8:16])),
	}
}

// evictIfOverBudget walks the metadata index and deletes the
// least-recently-accessed entries until total size is back under budget.
func (c *l2) evictIfOverBudget() {
	c.mu.Lock()
	defer c.mu.Unlock()

	type item struct {
		key  string
		meta l2meta
	}
	var items []item
	var total int64

	iter := c.meta.NewIterator(nil, nil)
	for iter.Next() {
		keyHex := string(iter.Key())
		m := decodeMeta(iter.Value())
		items = append(items, item{key: keyHex, meta: m})
		total += m.Size
	}
	iter.Release()

	if total <= c.limit {
		return
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].meta.Access < items[j].meta.Access
	})

	for _, it := range items {
		if total <= c.limit {
			break
		}
		c.evictKey(it.key)
		total -= it.meta.Size
	}
}
