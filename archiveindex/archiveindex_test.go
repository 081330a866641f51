// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package archiveindex

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/shell-reserve/ngdp/hash"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const keyLen = 9

// buildFixture synthesizes a well-formed archive-index file from a set of
// (prefix, archiveID, offset, length) tuples, already sorted by prefix.
func buildFixture(entries []Entry) []byte {
	var body bytes.Buffer
	for _, e := range entries {
		body.Write(e.Prefix)
		packed := packArchiveOffset(e.ArchiveID, e.Offset)
		body.Write(packed[:])
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], e.Length)
		body.Write(lb[:])
	}

	var footerHead [12]byte
	footerHead[0] = keyLen
	footerHead[1] = 4
	binary.BigEndian.PutUint32(footerHead[4:8], 4096)
	binary.BigEndian.PutUint32(footerHead[8:12], uint32(len(entries)))
	sum := md5.Sum(footerHead[:])

	var out bytes.Buffer
	out.Write(body.Bytes())
	out.Write(footerHead[:])
	out.Write(sum[:])
	return out.Bytes()
}

func mkPrefix(b byte) []byte {
	p := make([]byte, keyLen)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestParseAndLookupHit(t *testing.T) {
	entries := []Entry{
		{Prefix: mkPrefix(0x01), ArchiveID: 3, Offset: 1024, Length: 256},
		{Prefix: mkPrefix(0x02), ArchiveID: 3, Offset: 2048, Length: 512},
	}
	data := buildFixture(entries)
	archiveHash := hash.EncodingKey{0xaa}

	idx, err := Parse(archiveHash, data)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())

	var ek hash.EncodingKey
	copy(ek[:], mkPrefix(0x02))
	got, ok, err := idx.Lookup(ek)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2048), got.Offset)
	require.Equal(t, uint32(512), got.Length)
}

func TestLookupMiss(t *testing.T) {
	entries := []Entry{{Prefix: mkPrefix(0x01), ArchiveID: 1, Offset: 0, Length: 10}}
	data := buildFixture(entries)
	idx, err := Parse(hash.EncodingKey{}, data)
	require.NoError(t, err)

	var ek hash.EncodingKey
	copy(ek[:], mkPrefix(0xff))
	_, ok, err := idx.Lookup(ek)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFooterChecksumMismatchRejected(t *testing.T) {
	entries := []Entry{{Prefix: mkPrefix(0x01), ArchiveID: 1, Offset: 0, Length: 10}}
	data := buildFixture(entries)
	data[len(data)-1] ^= 0xff // corrupt the checksum

	_, err := Parse(hash.EncodingKey{}, data)
	require.Error(t, err)
}

// Property 5: for every entry present, search finds it; for every absent
// key, search reports a miss (never a false positive).
func TestPropertySearchCorrectness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(rt, "n")
		seen := map[byte]bool{}
		var entries []Entry
		for i := 0; i < n; i++ {
			var b byte
			for {
				b = byte(rapid.IntRange(0, 255).Draw(rt, "prefixByte"))
				if !seen[b] {
					seen[b] = true
					break
				}
			}
			entries = append(entries, Entry{
				Prefix:    mkPrefix(b),
				ArchiveID: uint16(rapid.IntRange(0, 1023).Draw(rt, "archiveID")),
				Offset:    uint32(rapid.IntRange(0, (1<<30)-1).Draw(rt, "offset")),
				Length:    uint32(rapid.IntRange(0, 1<<20).Draw(rt, "length")),
			})
		}
		sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].Prefix, entries[j].Prefix) < 0 })

		data := buildFixture(entries)
		idx, err := Parse(hash.EncodingKey{}, data)
		require.NoError(rt, err)

		for _, e := range entries {
			var ek hash.EncodingKey
			copy(ek[:], e.Prefix)
			got, ok, err := idx.Lookup(ek)
			require.NoError(rt, err)
			require.True(rt, ok)
			require.Equal(rt, e.Offset, got.Offset)
			require.Equal(rt, e.Length, got.Length)
		}

		absentByte := byte(0)
		for seen[absentByte] {
			absentByte++
		}
		var ek hash.EncodingKey
		copy(ek[:], mkPrefix(absentByte))
		_, ok, err := idx.Lookup(ek)
		require.NoError(rt, err)
		require.False(rt, ok)
	})
}
