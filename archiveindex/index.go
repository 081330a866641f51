// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package archiveindex parses a CDN archive-index file — a sorted table of
// encoding-key prefixes to (archive, offset, length) tuples — and exposes
// binary-search lookup, plus an archive-group view merging every index
// referenced by the current CDN config into one sorted table (spec §4.C).
package archiveindex

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"sort"

	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
)

// FooterSize is the fixed size of the trailing footer: KeyLength(1) +
// OffsetWidth(1) + reserved(2) + BucketSize(4 BE) + EntryCount(4 BE) +
// Checksum(16).
const FooterSize = 1 + 1 + 2 + 4 + 4 + md5.Size

// entrySize, given a footer's KeyLength, is KeyLength bytes
// of truncated EKey + 5 bytes of packed (10-bit archive id, 30-bit offset)
// + 4 bytes of big-endian length.
func entrySize(keyLength int) int {
	return keyLength + 5 + 4
}

// Footer is the metadata trailer every archive-index file ends with.
type Footer struct {
	KeyLength   uint8
	OffsetWidth uint8
	BucketSize  uint32
	EntryCount  uint32
	Checksum    [md5.Size]byte
}

// Entry is one archive-index record: the resolved location of an
// EKey-addressed byte range within one archive.
type Entry struct {
	Prefix    []byte // first Footer.KeyLength bytes of the EKey
	ArchiveID uint16 // 10 bits
	Offset    uint32 // 30 bits
	Length    uint32
}

// Index is one parsed archive-index file: a sorted slice of entries keyed
// by truncated EKey prefix, plus the archive hash the file describes.
type Index struct {
	ArchiveHash hash.EncodingKey
	Footer      Footer
	entries     []Entry
}

// Parse decodes a full archive-index file from memory. The footer is the
// last FooterSize bytes; entries occupy everything before it and are
// assumed pre-sorted by prefix, matching how Blizzard's archive-index
// generator writes them.
func Parse(archiveHash hash.EncodingKey, data []byte) (*Index, error) {
	if len(data) < FooterSize {
		return nil, errors.New(errors.CodeTruncatedInput, "archiveindex.Parse").WithHash(archiveHash.String())
	}
	footerBytes := data[len(data)-FooterSize:]
	footer, err := parseFooter(footerBytes)
	if err != nil {
		return nil, err
	}

	entrySz := entrySize(int(footer.KeyLength))
	body := data[:len(data)-FooterSize]
	wantLen := entrySz * int(footer.EntryCount)
	if len(body) < wantLen {
		return nil, errors.New(errors.CodeTruncatedInput, "archiveindex.Parse").
			WithHash(archiveHash.String()).WithPath("entry table shorter than EntryCount implies")
	}

	entries := make([]Entry, footer.EntryCount)
	for i := range entries {
		b := body[i*entrySz : (i+1)*entrySz]
		prefix := append([]byte(nil), b[:footer.KeyLength]...)
		packed := b[footer.KeyLength : footer.KeyLength+5]
		lengthBytes := b[footer.KeyLength+5 : footer.KeyLength+9]

		archiveID, offset := unpackArchiveOffset(packed)
		entries[i] = Entry{
			Prefix:    prefix,
			ArchiveID: archiveID,
			Offset:    offset,
			Length:    binary.BigEndian.Uint32(lengthBytes),
		}
	}

	return &Index{ArchiveHash: archiveHash, Footer: footer, entries: entries}, nil
}

func parseFooter(b []byte) (Footer, error) {
	var f Footer
	f.KeyLength = b[0]
	f.OffsetWidth = b[1]
	// b[2:4] reserved
	f.BucketSize = binary.BigEndian.Uint32(b[4:8])
	f.EntryCount = binary.BigEndian.Uint32(b[8:12])
	copy(f.Checksum[:], b[12:12+md5.Size])

	sum := md5.Sum(b[:12])
	if sum != f.Checksum {
		return Footer{}, errors.New(errors.CodeBadChecksum, "archiveindex.parseFooter").WithPath("footer checksum mismatch")
	}
	return f, nil
}

// unpackArchiveOffset splits a 5-byte big-endian packed field into its
// 10-bit archive id and 30-bit offset, per spec §3 "Archive index entry".
func unpackArchiveOffset(b []byte) (archiveID uint16, offset uint32) {
	v := uint64(b[0])<<32 | uint64(binary.BigEndian.Uint32(b[1:5]))
	archiveID = uint16((v >> 30) & 0x3FF)
	offset = uint32(v & 0x3FFFFFFF)
	return
}

func packArchiveOffset(archiveID uint16, offset uint32) [5]byte {
	v := (uint64(archiveID&0x3FF) << 30) | uint64(offset&0x3FFFFFFF)
	var b [5]byte
	b[0] = byte(v >> 32)
	binary.BigEndian.PutUint32(b[1:5], uint32(v))
	return b
}

// Lookup binary-searches for ekey's truncated prefix. This format stores
// only the prefix, so entries sharing it cannot be disambiguated against
// the full EKey: when several match, Lookup logs an AmbiguousIndexPrefix
// warning and returns the first in sorted order with ok set to true.
func (idx *Index) Lookup(ek hash.EncodingKey) (Entry, bool, error) {
	n := int(idx.Footer.KeyLength)
	prefix := ek[:n]

	lo := sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].Prefix, prefix) >= 0
	})

	var matches []Entry
	for i := lo; i < len(idx.entries) && bytes.Equal(idx.entries[i].Prefix, prefix); i++ {
		matches = append(matches, idx.entries[i])
	}
	switch len(matches) {
	case 0:
		return Entry{}, false, nil
	case 1:
		return matches[0], true, nil
	default:
		log.Warnf("archiveindex: %d entries share truncated prefix %x; returning first (AmbiguousIndexPrefix)", len(matches), prefix)
		return matches[0], true, nil
	}
}

// Len reports the number of entries, used by tests and by the merged
// archive-group view to preallocate.
func (idx *Index) Len() int { return len(idx.entries) }

// Entries exposes the sorted entry slice read-only, for the archive-group
// merge in group.go.
func (idx *Index) Entries() []Entry { return idx.entries }
