// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package root

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shell-reserve/ngdp/hash"
)

func buildModernBlock(fdids []uint32, ckeys []hash.ContentKey, contentFlags, localeFlags uint32) []byte {
	var buf bytes.Buffer
	var u32 [4]byte

	binary.BigEndian.PutUint32(u32[:], uint32(len(fdids)))
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], contentFlags)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], localeFlags)
	buf.Write(u32[:])

	prev := int64(-1)
	for _, fdid := range fdids {
		delta := int64(fdid) - prev - 1
		binary.BigEndian.PutUint32(u32[:], uint32(delta))
		buf.Write(u32[:])
		prev = int64(fdid)
	}
	for i, ck := range ckeys {
		buf.Write(ck[:])
		if contentFlags&noNameHashFlag == 0 {
			var nh [8]byte
			binary.BigEndian.PutUint64(nh[:], uint64(1000+i))
			buf.Write(nh[:])
		}
	}
	return buf.Bytes()
}

func buildModernFile(blocks ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], 0)
	buf.Write(u32[:]) // total_file_count (informational)
	buf.Write(u32[:]) // named_file_count (informational)
	for _, b := range blocks {
		buf.Write(b)
	}
	return buf.Bytes()
}

func TestModernRootLookupFDID(t *testing.T) {
	var ck1, ck2 hash.ContentKey
	ck1[0] = 0xAA
	ck2[0] = 0xBB

	block := buildModernBlock([]uint32{5, 10}, []hash.ContentKey{ck1, ck2}, 0x02, 0x01)
	data := buildModernFile(block)

	f, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, KindModern, f.Kind)

	got, err := f.LookupFDID(hash.FileDataID(5), 0x01, 0x02)
	require.NoError(t, err)
	require.Equal(t, ck1, got)

	got, err = f.LookupFDID(hash.FileDataID(10), 0x01, 0x02)
	require.NoError(t, err)
	require.Equal(t, ck2, got)

	_, err = f.LookupFDID(hash.FileDataID(999), 0x01, 0x02)
	require.Error(t, err)
}

func TestModernRootLocaleMaskExcludes(t *testing.T) {
	var ck hash.ContentKey
	ck[0] = 1
	block := buildModernBlock([]uint32{1}, []hash.ContentKey{ck}, 0x02, 0x04) // locale bit 0x04
	data := buildModernFile(block)

	f, err := Parse(data)
	require.NoError(t, err)
	_, err = f.LookupFDID(hash.FileDataID(1), 0x01, 0x02) // caller wants locale 0x01
	require.Error(t, err)
}

func buildLegacyBlock(ckeys []hash.ContentKey, nameHashes []uint64, contentFlags, localeFlags uint32) []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(ckeys)))
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], contentFlags)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], localeFlags)
	buf.Write(u32[:])
	for i, ck := range ckeys {
		buf.Write(ck[:])
		var nh [8]byte
		binary.BigEndian.PutUint64(nh[:], nameHashes[i])
		buf.Write(nh[:])
	}
	return buf.Bytes()
}

func TestLegacyRootPathLookup(t *testing.T) {
	var ck hash.ContentKey
	ck[0] = 0x77
	h := hash.HashPath(`Interface\FrameXML\Test.lua`)
	block := buildLegacyBlock([]hash.ContentKey{ck}, []uint64{uint64(h)}, 0, 0x01)

	f, err := Parse(block)
	require.NoError(t, err)
	require.Equal(t, KindLegacy, f.Kind)

	got, err := f.LookupPath(`INTERFACE/FRAMEXML/TEST.LUA`)
	require.NoError(t, err)
	require.Equal(t, ck, got)

	_, err = f.LookupFDID(hash.FileDataID(1), 0, 0)
	require.Error(t, err)
}
