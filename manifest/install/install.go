// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package install parses the Install manifest (spec §4.D.3): the tagged
// bitmap file list consulted for install_files.
package install

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/shell-reserve/ngdp/binformat"
	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
)

var magic = [2]byte{'I', 'N'}

// Tag is one named bitmap selecting a subset of entries (e.g. "Windows",
// "enUS", "Alternate").
type Tag struct {
	Name   string
	Type   uint16
	Bitmap []byte
}

// Entry is one installable file.
type Entry struct {
	Name string
	CKey hash.ContentKey
	Size uint32
}

// Has reports whether entry index i is selected by tag t's bitmap.
func (t Tag) Has(i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(t.Bitmap) {
		return false
	}
	bit := byte(0x80 >> uint(i%8))
	return t.Bitmap[byteIdx]&bit != 0
}

// File is a fully-parsed Install manifest.
type File struct {
	Tags    []Tag
	Entries []Entry
}

// Parse decodes a complete Install manifest from data (already
// BLTE-decoded).
func Parse(data []byte) (*File, error) {
	if len(data) < 8 || data[0] != magic[0] || data[1] != magic[1] {
		return nil, errors.New(errors.CodeBadMagic, "install.Parse")
	}
	r := bufio.NewReader(bytes.NewReader(data[2:]))

	version, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
	}
	_ = version
	hashSize, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
	}
	if int(hashSize) != hash.Size {
		return nil, errors.New(errors.CodeUnsupportedVersion, "install.Parse").WithPath("non-16-byte hash size")
	}

	var u16 [2]byte
	if _, err := io.ReadFull(r, u16[:]); err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
	}
	numTags := binary.BigEndian.Uint16(u16[:])

	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
	}
	numEntries := binary.BigEndian.Uint32(u32[:])

	bitmapBytes := (int(numEntries) + 7) / 8

	f := &File{}
	for i := 0; i < int(numTags); i++ {
		name, err := binformat.ReadCString(r)
		if err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
		}
		if _, err := io.ReadFull(r, u16[:]); err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
		}
		bitmap := make([]byte, bitmapBytes)
		if _, err := io.ReadFull(r, bitmap); err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
		}
		f.Tags = append(f.Tags, Tag{
			Name:   name,
			Type:   binary.BigEndian.Uint16(u16[:]),
			Bitmap: bitmap,
		})
	}

	for i := 0; i < int(numEntries); i++ {
		name, err := binformat.ReadCString(r)
		if err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
		}
		var ck hash.ContentKey
		if _, err := io.ReadFull(r, ck[:]); err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
		}
		if _, err := io.ReadFull(r, u32[:]); err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "install.Parse", err)
		}
		f.Entries = append(f.Entries, Entry{
			Name: name,
			CKey: ck,
			Size: binary.BigEndian.Uint32(u32[:]),
		})
	}

	return f, nil
}

// FilterFiles implements install_files(tags) (spec §4.D): returns every
// entry whose bitmap has the bit set for each of requiredTags.
func (f *File) FilterFiles(requiredTags ...string) []Entry {
	var tags []Tag
	for _, name := range requiredTags {
		for _, t := range f.Tags {
			if t.Name == name {
				tags = append(tags, t)
				break
			}
		}
	}
	if len(tags) != len(requiredTags) {
		return nil // a requested tag doesn't exist in this manifest
	}

	var out []Entry
	for i, e := range f.Entries {
		matches := true
		for _, t := range tags {
			if !t.Has(i) {
				matches = false
				break
			}
		}
		if matches {
			out = append(out, e)
		}
	}
	return out
}
