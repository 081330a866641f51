// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package download parses the Download manifest (spec §4.D.4): the
// EKey-ordered install-priority table, versions 1 through 3.
package download

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/shell-reserve/ngdp/binformat"
	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
)

var magic = [2]byte{'D', 'L'}

// Entry is one downloadable file.
type Entry struct {
	EKey     hash.EncodingKey
	Size     uint64
	Priority uint8
	Checksum []byte // v2+ only
	Flags    []byte // v2+ only
}

// Tag is an Install-style named bitmap over Entries.
type Tag struct {
	Name   string
	Type   uint16
	Bitmap []byte
}

func (t Tag) Has(i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(t.Bitmap) {
		return false
	}
	return t.Bitmap[byteIdx]&(0x80>>uint(i%8)) != 0
}

// File is a fully-parsed Download manifest.
type File struct {
	Version int
	Entries []Entry
	Tags    []Tag
}

// Parse decodes a complete Download manifest from data (already
// BLTE-decoded).
func Parse(data []byte) (*File, error) {
	if len(data) < 10 || data[0] != magic[0] || data[1] != magic[1] {
		return nil, errors.New(errors.CodeBadMagic, "download.Parse")
	}
	r := bufio.NewReader(bytes.NewReader(data[2:]))

	version, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
	}
	if version < 1 || version > 3 {
		return nil, errors.New(errors.CodeUnsupportedVersion, "download.Parse")
	}
	hashSize, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
	}
	if int(hashSize) != hash.Size {
		return nil, errors.New(errors.CodeUnsupportedVersion, "download.Parse").WithPath("non-16-byte hash size")
	}
	checksumSize, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
	}

	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
	}
	entryCount := binary.BigEndian.Uint32(u32[:])

	var u16 [2]byte
	if _, err := io.ReadFull(r, u16[:]); err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
	}
	tagCount := binary.BigEndian.Uint16(u16[:])

	flagBytes := 0
	if version >= 2 {
		fb, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
		}
		flagBytes = int(fb)
	}

	f := &File{Version: int(version)}
	for i := 0; i < int(entryCount); i++ {
		var ek hash.EncodingKey
		if _, err := io.ReadFull(r, ek[:]); err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
		}
		var u40 [5]byte
		if _, err := io.ReadFull(r, u40[:]); err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
		}
		size, err := binformat.ReadUint40BE(u40[:])
		if err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
		}
		priority, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
		}

		e := Entry{EKey: ek, Size: size, Priority: priority}
		if version >= 2 && checksumSize > 0 {
			cs := make([]byte, checksumSize)
			if _, err := io.ReadFull(r, cs); err != nil {
				return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
			}
			e.Checksum = cs
		}
		if version >= 2 && flagBytes > 0 {
			fl := make([]byte, flagBytes)
			if _, err := io.ReadFull(r, fl); err != nil {
				return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
			}
			e.Flags = fl
		}
		f.Entries = append(f.Entries, e)
	}

	bitmapBytes := (int(entryCount) + 7) / 8
	for i := 0; i < int(tagCount); i++ {
		name, err := binformat.ReadCString(r)
		if err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
		}
		if _, err := io.ReadFull(r, u16[:]); err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
		}
		bitmap := make([]byte, bitmapBytes)
		if _, err := io.ReadFull(r, bitmap); err != nil {
			return nil, errors.Wrap(errors.CodeTruncatedInput, "download.Parse", err)
		}
		f.Tags = append(f.Tags, Tag{Name: name, Type: binary.BigEndian.Uint16(u16[:]), Bitmap: bitmap})
	}

	return f, nil
}

// Priority implements download_priority(EKey) (spec §4.D).
func (f *File) Priority(ek hash.EncodingKey) (uint8, error) {
	for _, e := range f.Entries {
		if e.EKey == ek {
			return e.Priority, nil
		}
	}
	return 0, errors.New(errors.CodeNotFound, "download.Priority").WithHash(ek.String())
}
