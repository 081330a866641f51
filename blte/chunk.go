// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blte

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/keyring"
)

// Mode tags the first byte of a framed chunk (spec §4.F).
type Mode byte

const (
	ModeRaw       Mode = 'N'
	ModeZlib      Mode = 'Z'
	ModeLZ4       Mode = '4'
	ModeFrame     Mode = 'F'
	ModeEncrypted Mode = 'E'
)

// decodeFramedChunk dispatches on a chunk's mode byte and returns its
// decoded bytes. rawSize, when known (> 0), is used both to size the LZ4
// destination buffer and to validate zlib/lz4 output length (raw output is
// length-checked by the caller, Reader.advance); it is 0 for
// chunks reached only through recursion where the outer table does not
// carry an independent size (frame/encrypted wrappers forward their own).
func decodeFramedChunk(framed []byte, rawSize uint32, kr *keyring.Keyring, index uint32, depth int) ([]byte, error) {
	if len(framed) < 1 {
		return nil, errors.New(errors.CodeTruncatedInput, "blte.decodeFramedChunk")
	}
	mode := Mode(framed[0])
	payload := framed[1:]

	switch mode {
	case ModeRaw:
		return payload, nil

	case ModeZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(errors.CodeChunkIntegrity, "blte.decodeFramedChunk", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, errors.Wrap(errors.CodeChunkIntegrity, "blte.decodeFramedChunk", err)
		}
		if rawSize > 0 && uint32(len(out)) != rawSize {
			return nil, errors.New(errors.CodeChunkIntegrity, "blte.decodeFramedChunk").WithPath("zlib output size mismatch")
		}
		return out, nil

	case ModeLZ4:
		size := int(rawSize)
		if size == 0 {
			size = len(payload) * 8 // generous fallback when size is unknown
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, errors.Wrap(errors.CodeChunkIntegrity, "blte.decodeFramedChunk", err)
		}
		out = out[:n]
		if rawSize > 0 && uint32(n) != rawSize {
			return nil, errors.New(errors.CodeChunkIntegrity, "blte.decodeFramedChunk").WithPath("lz4 output size mismatch")
		}
		return out, nil

	case ModeFrame:
		if depth <= 0 {
			return nil, errors.New(errors.CodeSchema, "blte.decodeFramedChunk").WithPath("max frame recursion depth exceeded")
		}
		return Decode(payload, kr, depth-1)

	case ModeEncrypted:
		if depth <= 0 {
			return nil, errors.New(errors.CodeSchema, "blte.decodeFramedChunk").WithPath("max frame recursion depth exceeded")
		}
		plain, err := decryptChunk(payload, kr, index)
		if err != nil {
			return nil, err
		}
		return decodeFramedChunk(plain, rawSize, kr, index, depth-1)

	default:
		return nil, errors.New(errors.CodeSchema, "blte.decodeFramedChunk").WithPath(fmt.Sprintf("%c", mode))
	}
}

func verifyChunkChecksum(framed []byte, want [md5.Size]byte) error {
	got := md5.Sum(framed)
	if got != want {
		return errors.New(errors.CodeChunkIntegrity, "blte.verifyChunkChecksum")
	}
	return nil
}
