// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package size parses the Size manifest (spec §4.D.5): a flat,
// prefix-sorted EKey-prefix → size table used only for install-space
// planning.
package size

import (
	"encoding/binary"
	"sort"

	"github.com/shell-reserve/ngdp/errors"
)

var magic = [2]byte{'D', 'S'}

const prefixLen = 9

// Entry is one (truncated EKey, size) pair.
type Entry struct {
	Prefix [prefixLen]byte
	Size   uint32
}

// File is a fully-parsed Size manifest.
type File struct {
	Entries []Entry
}

// Parse decodes a complete Size manifest from data (already BLTE-decoded).
func Parse(data []byte) (*File, error) {
	if len(data) < 2 || data[0] != magic[0] || data[1] != magic[1] {
		return nil, errors.New(errors.CodeBadMagic, "size.Parse")
	}
	body := data[2:]
	const entrySize = prefixLen + 4
	if len(body)%entrySize != 0 {
		return nil, errors.New(errors.CodeTruncatedInput, "size.Parse").WithPath("trailing bytes")
	}

	f := &File{}
	for off := 0; off < len(body); off += entrySize {
		var e Entry
		copy(e.Prefix[:], body[off:off+prefixLen])
		e.Size = binary.BigEndian.Uint32(body[off+prefixLen : off+entrySize])
		f.Entries = append(f.Entries, e)
	}
	return f, nil
}

// Lookup binary-searches the sorted prefix table (spec §4.D.5 "entries
// sorted by prefix").
func (f *File) Lookup(prefix [prefixLen]byte) (uint32, bool) {
	i := sort.Search(len(f.Entries), func(i int) bool {
		return string(f.Entries[i].Prefix[:]) >= string(prefix[:])
	})
	if i < len(f.Entries) && f.Entries[i].Prefix == prefix {
		return f.Entries[i].Size, true
	}
	return 0, false
}
