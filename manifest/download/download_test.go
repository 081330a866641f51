// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package download

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shell-reserve/ngdp/binformat"
	"github.com/shell-reserve/ngdp/hash"
)

func TestParseDownloadV1(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1)  // version
	buf.WriteByte(16) // hash size
	buf.WriteByte(0)  // checksum size (unused in v1)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], 1)
	buf.Write(u32[:]) // entry count
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], 0)
	buf.Write(u16[:]) // tag count

	var ek hash.EncodingKey
	ek[0] = 0x42
	buf.Write(ek[:])
	var u40 [5]byte
	binformat.PutUint40BE(u40[:], 5000)
	buf.Write(u40[:])
	buf.WriteByte(3) // priority

	f, err := Parse(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 1, f.Version)
	require.Len(t, f.Entries, 1)

	pri, err := f.Priority(ek)
	require.NoError(t, err)
	require.Equal(t, uint8(3), pri)
}

func TestParseDownloadPriorityNotFound(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1)
	buf.WriteByte(16)
	buf.WriteByte(0)
	var u32 [4]byte
	buf.Write(u32[:])
	var u16 [2]byte
	buf.Write(u16[:])

	f, err := Parse(buf.Bytes())
	require.NoError(t, err)

	var ek hash.EncodingKey
	_, err = f.Priority(ek)
	require.Error(t, err)
}
