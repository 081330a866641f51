// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package encoding

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shell-reserve/ngdp/binformat"
	"github.com/shell-reserve/ngdp/hash"
)

func buildCKeyPage(pageSize int, ck hash.ContentKey, ekeys []hash.EncodingKey, fileSize uint64) []byte {
	page := make([]byte, pageSize)
	pos := 0
	page[pos] = byte(len(ekeys))
	pos++
	binformat.PutUint40BE(page[pos:pos+5], fileSize)
	pos += 5
	copy(page[pos:], ck[:])
	pos += len(ck)
	for _, ek := range ekeys {
		copy(page[pos:], ek[:])
		pos += len(ek)
	}
	return page
}

func TestParseEncodingLookup(t *testing.T) {
	const pageKB = 1
	pageSize := pageKB * 1024

	var ck hash.ContentKey
	ck[0] = 0xBB
	var ek hash.EncodingKey
	ek[0] = 0xEE

	page := buildCKeyPage(pageSize, ck, []hash.EncodingKey{ek}, 12345)
	pageMD5 := md5.Sum(page)

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1) // version
	buf.WriteByte(16) // ckey size
	buf.WriteByte(16) // ekey size
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], pageKB)
	buf.Write(u16[:]) // ckey page kb
	buf.Write(u16[:]) // ekey page kb
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], 1)
	buf.Write(u32[:]) // ckey page count
	binary.BigEndian.PutUint32(u32[:], 0)
	buf.Write(u32[:]) // ekey page count

	var u40 [5]byte
	binformat.PutUint40BE(u40[:], 0)
	buf.Write(u40[:]) // string block size

	binary.BigEndian.PutUint32(u32[:], 0)
	buf.Write(u32[:]) // espec block length (empty)

	// ckey index: one entry of {first_key, page_md5}
	buf.Write(ck[:])
	buf.Write(pageMD5[:])

	buf.Write(page)

	f, err := Parse(buf.Bytes())
	require.NoError(t, err)

	got, err := f.LookupCKey(ck)
	require.NoError(t, err)
	require.Equal(t, []hash.EncodingKey{ek}, got)

	var missing hash.ContentKey
	missing[0] = 0xFF
	_, err = f.LookupCKey(missing)
	require.Error(t, err)
}

func buildEKeyPage(pageSize int, ek hash.EncodingKey, especIndex uint32, fileSize uint64) []byte {
	page := make([]byte, pageSize)
	pos := 0
	copy(page[pos:], ek[:])
	pos += len(ek)
	binary.BigEndian.PutUint32(page[pos:pos+4], especIndex)
	pos += 4
	binformat.PutUint40BE(page[pos:pos+5], fileSize)
	return page
}

func TestParseEncodingEspecFor(t *testing.T) {
	const pageKB = 1
	pageSize := pageKB * 1024

	var ck hash.ContentKey
	ck[0] = 0xBB
	var ek hash.EncodingKey
	ek[0] = 0xEE

	ckeyPage := buildCKeyPage(pageSize, ck, []hash.EncodingKey{ek}, 12345)
	ckeyPageMD5 := md5.Sum(ckeyPage)

	ekeyPage := buildEKeyPage(pageSize, ek, 1, 12345)
	ekeyPageMD5 := md5.Sum(ekeyPage)

	especBlock := []byte("n\x00z\x00b:{256K*10=z,1M=n}\x00")

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1)
	buf.WriteByte(16)
	buf.WriteByte(16)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], pageKB)
	buf.Write(u16[:])
	buf.Write(u16[:])
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], 1)
	buf.Write(u32[:]) // ckey page count
	buf.Write(u32[:]) // ekey page count
	var u40 [5]byte
	buf.Write(u40[:])
	binary.BigEndian.PutUint32(u32[:], uint32(len(especBlock)))
	buf.Write(u32[:])
	buf.Write(especBlock)

	buf.Write(ck[:])
	buf.Write(ckeyPageMD5[:])
	buf.Write(ckeyPage)

	buf.Write(ek[:])
	buf.Write(ekeyPageMD5[:])
	buf.Write(ekeyPage)

	f, err := Parse(buf.Bytes())
	require.NoError(t, err)

	spec, err := f.EspecFor(ek)
	require.NoError(t, err)
	require.Equal(t, "z", spec)
}

func TestParseEncodingRejectsBadMagic(t *testing.T) {
	_, err := Parse([]byte("XX0000000000000000000000"))
	require.Error(t, err)
}

func TestParseEncodingDetectsCorruptPage(t *testing.T) {
	const pageKB = 1
	pageSize := pageKB * 1024
	var ck hash.ContentKey
	page := buildCKeyPage(pageSize, ck, []hash.EncodingKey{{}}, 1)
	pageMD5 := md5.Sum(page)
	page[0] ^= 0xFF // corrupt after checksum computed

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1)
	buf.WriteByte(16)
	buf.WriteByte(16)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], pageKB)
	buf.Write(u16[:])
	buf.Write(u16[:])
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], 1)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], 0)
	buf.Write(u32[:])
	var u40 [5]byte
	buf.Write(u40[:])
	binary.BigEndian.PutUint32(u32[:], 0)
	buf.Write(u32[:])
	buf.Write(ck[:])
	buf.Write(pageMD5[:])
	buf.Write(page)

	_, err := Parse(buf.Bytes())
	require.Error(t, err)
}
