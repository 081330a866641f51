// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shell-reserve/ngdp/hash"
)

func testKey(b byte) hash.EncodingKey {
	var ek hash.EncodingKey
	ek[0] = b
	return ek
}

func TestCachePutThenGetHitsL1(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer c.Close()

	ek := testKey(1)
	require.NoError(t, c.Put(ek, []byte("hello")))

	v, ok := c.Get(ek)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)
}

func TestCacheL2SurvivesL1Eviction(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), L1Limit: 1})
	require.NoError(t, err)
	defer c.Close()

	ek := testKey(2)
	require.NoError(t, c.Put(ek, []byte("payload bytes larger than limit")))

	// L1 immediately evicted itself due to the tiny limit; L2 still has it.
	_, l1hit := c.l1.get(ek.String())
	require.False(t, l1hit)

	v, ok := c.Get(ek)
	require.True(t, ok)
	require.Equal(t, []byte("payload bytes larger than limit"), v)

	// Get promotes the L2 hit into L1, but the value alone exceeds the
	// 1-byte budget, so L1 evicts it again straight away.
	_, l1hit = c.l1.get(ek.String())
	require.False(t, l1hit)
}

func TestCacheMissReturnsFalse(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get(testKey(3))
	require.False(t, ok)
}

func TestCacheEvictRemovesBothTiers(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer c.Close()

	ek := testKey(4)
	require.NoError(t, c.Put(ek, []byte("data")))
	c.Evict(ek)

	_, ok := c.Get(ek)
	require.False(t, ok)
}

func TestGetOrFetchCoalescesConcurrentCallers(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer c.Close()

	ek := testKey(5)
	var calls int32

	fetch := func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("fetched"), nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.GetOrFetch(ek, fetch)
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, v := range results {
		require.Equal(t, []byte("fetched"), v)
	}
}

func TestGetOrFetchUsesCacheOnSecondCall(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer c.Close()

	ek := testKey(6)
	var calls int32
	fetch := func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("once"), nil
	}

	_, err = c.GetOrFetch(ek, fetch)
	require.NoError(t, err)
	_, err = c.GetOrFetch(ek, fetch)
	require.NoError(t, err)

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestL2EvictionReclaimsBudget(t *testing.T) {
	lc, err := newL2(t.TempDir(), 10)
	require.NoError(t, err)
	defer lc.close()

	require.NoError(t, lc.put("aaaa", []byte("0123456789")))
	require.NoError(t, lc.put("bbbb", []byte("0123456789")))

	// Over budget (20 bytes vs limit 10): eviction should drop the older
	// entry and keep the most recently written one.
	_, ok := lc.get("aaaa")
	require.False(t, ok)
	v, ok := lc.get("bbbb")
	require.True(t, ok)
	require.Equal(t, []byte("0123456789"), v)
}
