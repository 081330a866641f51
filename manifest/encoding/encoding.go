// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package encoding parses the Encoding manifest (spec §4.D.2): the
// two-tier, MD5-page-verified CKey → EKey[] table every other lookup in
// the pipeline ultimately depends on.
package encoding

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/shell-reserve/ngdp/binformat"
	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
)

var magic = [2]byte{'E', 'N'}

// File is a fully-parsed, fully-indexed Encoding manifest. Pages are
// verified and decoded eagerly at Parse time; §4.D.2 files are small
// enough (tens of MB at most) that this is simpler than lazy per-page
// verification and gives ckey_to_ekey a flat map lookup.
type File struct {
	CKeySize int
	EKeySize int
	ESpec    []byte // raw ESpec string block; EKey pages refer to its NUL-separated strings by ordinal

	byCKey     map[hash.ContentKey][]hash.EncodingKey
	byEKeySpec map[hash.EncodingKey]int
	especList  []string
}

// Parse decodes a complete Encoding manifest from data (already
// BLTE-decoded).
func Parse(data []byte) (*File, error) {
	if len(data) < 2 || data[0] != magic[0] || data[1] != magic[1] {
		return nil, errors.New(errors.CodeBadMagic, "encoding.Parse")
	}
	if len(data) < 22 {
		return nil, errors.New(errors.CodeTruncatedInput, "encoding.Parse")
	}
	pos := 2
	_ = data[pos] // version, not currently branched on
	pos++
	ckeySize := int(data[pos])
	pos++
	ekeySize := int(data[pos])
	pos++
	if ckeySize != hash.Size || ekeySize != hash.Size {
		return nil, errors.New(errors.CodeUnsupportedVersion, "encoding.Parse").WithPath("non-16-byte key size")
	}
	ckeyPageKB := binary.BigEndian.Uint16(data[pos : pos+2])
	pos += 2
	ekeyPageKB := binary.BigEndian.Uint16(data[pos : pos+2])
	pos += 2
	ckeyPageCount := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	ekeyPageCount := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4

	if len(data) < pos+5 {
		return nil, errors.New(errors.CodeTruncatedInput, "encoding.Parse")
	}
	stringBlockSize, err := binformat.ReadUint40BE(data[pos : pos+5])
	if err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "encoding.Parse", err)
	}
	pos += 5

	if len(data) < pos+4 {
		return nil, errors.New(errors.CodeTruncatedInput, "encoding.Parse")
	}
	especBlockLen := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	if len(data) < pos+int(especBlockLen) {
		return nil, errors.New(errors.CodeTruncatedInput, "encoding.Parse").WithPath("espec block")
	}
	especBlock := data[pos : pos+int(especBlockLen)]
	pos += int(especBlockLen)

	// stringBlockSize is carried for completeness (it bounds the espec
	// block in the real format); it isn't independently re-validated here
	// since especBlockLen already delimits the slice we read.
	_ = stringBlockSize

	ckeyIndexEntrySize := ckeySize + md5.Size
	ckeyIndexEnd := pos + int(ckeyPageCount)*ckeyIndexEntrySize
	if len(data) < ckeyIndexEnd {
		return nil, errors.New(errors.CodeTruncatedInput, "encoding.Parse").WithPath("ckey index")
	}
	ckeyPageMD5 := make([][md5.Size]byte, ckeyPageCount)
	for i := 0; i < int(ckeyPageCount); i++ {
		off := pos + i*ckeyIndexEntrySize + ckeySize
		copy(ckeyPageMD5[i][:], data[off:off+md5.Size])
	}
	pos = ckeyIndexEnd

	ckeyPageSize := int(ckeyPageKB) * 1024
	ckeyPagesEnd := pos + int(ckeyPageCount)*ckeyPageSize
	if len(data) < ckeyPagesEnd {
		return nil, errors.New(errors.CodeTruncatedInput, "encoding.Parse").WithPath("ckey pages")
	}

	f := &File{
		CKeySize:   ckeySize,
		EKeySize:   ekeySize,
		ESpec:      especBlock,
		byCKey:     make(map[hash.ContentKey][]hash.EncodingKey),
		byEKeySpec: make(map[hash.EncodingKey]int),
		especList:  splitEspecStrings(especBlock),
	}

	for i := 0; i < int(ckeyPageCount); i++ {
		page := data[pos+i*ckeyPageSize : pos+(i+1)*ckeyPageSize]
		if md5.Sum(page) != ckeyPageMD5[i] {
			return nil, errors.New(errors.CodeBadChecksum, "encoding.Parse").WithPath("ckey page checksum mismatch")
		}
		parseCKeyPage(page, ckeySize, ekeySize, f.byCKey)
	}
	pos = ckeyPagesEnd

	// The EKey index/page tables are not needed by ckey_to_ekey, but do
	// carry the EKey -> ESpec-index link espec_for depends on. Each page
	// entry is { ekey, espec_index: u32 BE, file_size: u40-BE-TACT } —
	// undocumented by spec.md beyond the index/page shape shared with the
	// CKey side, so this layout is carried over from the real on-disk
	// format (see DESIGN.md).
	ekeyIndexEntrySize := ekeySize + md5.Size
	ekeyIndexEnd := pos + int(ekeyPageCount)*ekeyIndexEntrySize
	if len(data) < ekeyIndexEnd {
		return nil, errors.New(errors.CodeTruncatedInput, "encoding.Parse").WithPath("ekey index")
	}
	ekeyPageMD5 := make([][md5.Size]byte, ekeyPageCount)
	for i := 0; i < int(ekeyPageCount); i++ {
		off := pos + i*ekeyIndexEntrySize + ekeySize
		copy(ekeyPageMD5[i][:], data[off:off+md5.Size])
	}
	pos = ekeyIndexEnd

	ekeyPageSize := int(ekeyPageKB) * 1024
	ekeyPagesEnd := pos + int(ekeyPageCount)*ekeyPageSize
	if len(data) < ekeyPagesEnd {
		return nil, errors.New(errors.CodeTruncatedInput, "encoding.Parse").WithPath("ekey pages")
	}
	for i := 0; i < int(ekeyPageCount); i++ {
		page := data[pos+i*ekeyPageSize : pos+(i+1)*ekeyPageSize]
		if md5.Sum(page) != ekeyPageMD5[i] {
			return nil, errors.New(errors.CodeBadChecksum, "encoding.Parse").WithPath("ekey page checksum mismatch")
		}
		parseEKeyPage(page, ekeySize, f.byEKeySpec)
	}

	return f, nil
}

func splitEspecStrings(block []byte) []string {
	var out []string
	start := 0
	for i, b := range block {
		if b == 0 {
			out = append(out, string(block[start:i]))
			start = i + 1
		}
	}
	if start < len(block) {
		out = append(out, string(block[start:]))
	}
	return out
}

func parseEKeyPage(page []byte, ekeySize int, dst map[hash.EncodingKey]int) {
	const entrySize0 = 4 + 5 // espec_index + file_size, appended after the key
	entrySize := ekeySize + entrySize0
	for pos := 0; pos+entrySize <= len(page); pos += entrySize {
		var ek hash.EncodingKey
		copy(ek[:], page[pos:pos+ekeySize])
		if ek.IsZero() {
			return // zero-fill padding at page tail
		}
		especIndex := binary.BigEndian.Uint32(page[pos+ekeySize : pos+ekeySize+4])
		dst[ek] = int(especIndex)
	}
}

func parseCKeyPage(page []byte, ckeySize, ekeySize int, dst map[hash.ContentKey][]hash.EncodingKey) {
	pos := 0
	for pos < len(page) {
		ekeyCount := int(page[pos])
		if ekeyCount == 0 {
			return // zero-fill padding at page tail
		}
		pos++
		if pos+5 > len(page) {
			return
		}
		pos += 5 // file_size (u40 TACT), not needed for the lookup itself
		if pos+ckeySize > len(page) {
			return
		}
		var ck hash.ContentKey
		copy(ck[:], page[pos:pos+ckeySize])
		pos += ckeySize

		ekeys := make([]hash.EncodingKey, 0, ekeyCount)
		for i := 0; i < ekeyCount; i++ {
			if pos+ekeySize > len(page) {
				return
			}
			var ek hash.EncodingKey
			copy(ek[:], page[pos:pos+ekeySize])
			ekeys = append(ekeys, ek)
			pos += ekeySize
		}
		dst[ck] = ekeys
	}
}

// LookupCKey implements ckey_to_ekey (spec §4.D). The first returned key is
// the canonical encoding per spec.md's "ekey[0] is the canonical encoding".
func (f *File) LookupCKey(ck hash.ContentKey) ([]hash.EncodingKey, error) {
	ekeys, ok := f.byCKey[ck]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "encoding.LookupCKey").WithHash(ck.String())
	}
	return ekeys, nil
}

// EspecFor implements espec_for(EKey) (spec §4.D): returns the raw ESpec
// string recorded for ek in the EKey-side index.
func (f *File) EspecFor(ek hash.EncodingKey) (string, error) {
	idx, ok := f.byEKeySpec[ek]
	if !ok || idx < 0 || idx >= len(f.especList) {
		return "", errors.New(errors.CodeNotFound, "encoding.EspecFor").WithHash(ek.String())
	}
	return f.especList[idx], nil
}
