// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blte decodes the BLTE chunked container: streaming
// decompression, decryption, and per-chunk hash verification, producing a
// byte stream of verified decoded content without ever materializing the
// whole file (spec §4.F).
package blte

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/shell-reserve/ngdp/binformat"
	"github.com/shell-reserve/ngdp/errors"
)

// Magic is the 4-byte BLTE container signature.
var Magic = [4]byte{'B', 'L', 'T', 'E'}

// requiredFlags is the only value §4.F permits for a multi-chunk header's
// flags byte.
const requiredFlags = 0x0F

// maxFrameDepth bounds 'F' (nested-BLTE) recursion (spec §4.F).
const maxFrameDepth = 8

// Chunk is one entry of the multi-chunk header table.
type Chunk struct {
	CompressedSize uint32
	RawSize        uint32
	Checksum       [md5.Size]byte
}

// Container is a parsed BLTE header: either a single implicit chunk
// spanning the whole remaining file (HeaderSize == 0) or an explicit
// chunk table.
type Container struct {
	HeaderSize uint32
	Chunks     []Chunk
	// Single is true when HeaderSize == 0: the caller must treat the rest
	// of the input as one chunk whose size/checksum are not recorded.
	Single bool
}

// ParseHeader reads the BLTE magic, header size, and (if present) the
// chunk table from the front of data, returning the container and the
// byte offset at which chunk payloads begin.
func ParseHeader(data []byte) (*Container, int, error) {
	if len(data) < 8 {
		return nil, 0, errors.New(errors.CodeTruncatedInput, "blte.ParseHeader")
	}
	if data[0] != Magic[0] || data[1] != Magic[1] || data[2] != Magic[2] || data[3] != Magic[3] {
		return nil, 0, errors.New(errors.CodeBadMagic, "blte.ParseHeader").WithPath(fmt.Sprintf("got %q", data[:4]))
	}
	headerSize := binary.BigEndian.Uint32(data[4:8])

	if headerSize == 0 {
		return &Container{HeaderSize: 0, Single: true}, 8, nil
	}

	if len(data) < int(headerSize) {
		return nil, 0, errors.New(errors.CodeTruncatedInput, "blte.ParseHeader").WithPath("header_size exceeds input")
	}
	if len(data) < 9 {
		return nil, 0, errors.New(errors.CodeTruncatedInput, "blte.ParseHeader")
	}
	flags := data[8]
	if flags != requiredFlags {
		return nil, 0, errors.New(errors.CodeBadMagic, "blte.ParseHeader").WithPath(fmt.Sprintf("flags byte 0x%02X, want 0x%02X", flags, requiredFlags))
	}
	chunkCount := binformat.ReadUint24BE(data[9:12])

	const chunkEntrySize = 4 + 4 + md5.Size
	tableStart := 12
	tableEnd := tableStart + int(chunkCount)*chunkEntrySize
	if tableEnd > int(headerSize) || tableEnd > len(data) {
		return nil, 0, errors.New(errors.CodeTruncatedInput, "blte.ParseHeader").WithPath("chunk table exceeds header_size")
	}

	chunks := make([]Chunk, chunkCount)
	for i := range chunks {
		b := data[tableStart+i*chunkEntrySize : tableStart+(i+1)*chunkEntrySize]
		chunks[i].CompressedSize = binary.BigEndian.Uint32(b[0:4])
		chunks[i].RawSize = binary.BigEndian.Uint32(b[4:8])
		copy(chunks[i].Checksum[:], b[8:8+md5.Size])
	}

	return &Container{HeaderSize: headerSize, Chunks: chunks}, int(headerSize), nil
}
