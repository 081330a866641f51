// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blte

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/keyring"
)

// Decode fully decodes a complete in-memory BLTE blob, verifying every
// chunk checksum and enforcing the recursion-depth bound for nested 'F'
// chunks. It is the entry point used for recursive frame decoding and for
// callers that already hold the whole encoded payload (e.g. a fetched
// archive range).
func Decode(data []byte, kr *keyring.Keyring, depth int) ([]byte, error) {
	r, err := newReaderDepth(bytes.NewReader(data), kr, depth)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// DecodeDefault calls Decode with the standard recursion-depth bound
// (spec §4.F "default 8").
func DecodeDefault(data []byte, kr *keyring.Keyring) ([]byte, error) {
	return Decode(data, kr, maxFrameDepth)
}

// Reader streams the decoded contents of a BLTE container, holding at most
// one framed chunk's worth of state at a time (spec §4.F "Streaming").
type Reader struct {
	r      io.Reader
	kr     *keyring.Keyring
	depth  int
	chunks []Chunk
	idx    int

	single     bool
	singleDone bool

	cur []byte
	err error
}

// NewReader returns a streaming decoder reading an encoded BLTE body from
// r, using the default recursion-depth bound.
func NewReader(r io.Reader, kr *keyring.Keyring) (*Reader, error) {
	return newReaderDepth(r, kr, maxFrameDepth)
}

func newReaderDepth(r io.Reader, kr *keyring.Keyring, depth int) (*Reader, error) {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "blte.NewReader", err)
	}
	if hdr[0] != Magic[0] || hdr[1] != Magic[1] || hdr[2] != Magic[2] || hdr[3] != Magic[3] {
		return nil, errors.New(errors.CodeBadMagic, "blte.NewReader")
	}
	headerSize := binary.BigEndian.Uint32(hdr[4:8])

	if headerSize == 0 {
		return &Reader{r: r, kr: kr, depth: depth, single: true}, nil
	}

	if headerSize < 8 {
		return nil, errors.New(errors.CodeTruncatedInput, "blte.NewReader").WithPath("header_size too small")
	}
	rest := make([]byte, headerSize-8)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, errors.Wrap(errors.CodeTruncatedInput, "blte.NewReader", err)
	}

	full := append(hdr, rest...)
	cont, _, err := ParseHeader(full)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, kr: kr, depth: depth, chunks: cont.Chunks}, nil
}

// Read implements io.Reader.
func (rd *Reader) Read(p []byte) (int, error) {
	for len(rd.cur) == 0 {
		if rd.err != nil {
			return 0, rd.err
		}
		if err := rd.advance(); err != nil {
			rd.err = err
			return 0, err
		}
	}
	n := copy(p, rd.cur)
	rd.cur = rd.cur[n:]
	return n, nil
}

func (rd *Reader) advance() error {
	if rd.single {
		if rd.singleDone {
			return io.EOF
		}
		framed, err := io.ReadAll(rd.r)
		if err != nil {
			return errors.Wrap(errors.CodeTruncatedInput, "blte.Reader.advance", err)
		}
		rd.singleDone = true
		if len(framed) == 0 {
			return io.EOF
		}
		out, err := decodeFramedChunk(framed, 0, rd.kr, 0, rd.depth)
		if err != nil {
			return err
		}
		rd.cur = out
		return nil
	}

	if rd.idx >= len(rd.chunks) {
		return io.EOF
	}
	c := rd.chunks[rd.idx]
	framed := make([]byte, c.CompressedSize)
	if _, err := io.ReadFull(rd.r, framed); err != nil {
		return errors.Wrap(errors.CodeTruncatedInput, "blte.Reader.advance", err)
	}
	if err := verifyChunkChecksum(framed, c.Checksum); err != nil {
		return err
	}
	out, err := decodeFramedChunk(framed, c.RawSize, rd.kr, uint32(rd.idx), rd.depth)
	if err != nil {
		return err
	}
	if uint32(len(out)) != c.RawSize {
		return errors.New(errors.CodeChunkIntegrity, "blte.Reader.advance").WithPath("decoded length mismatch")
	}
	rd.cur = out
	rd.idx++
	return nil
}
