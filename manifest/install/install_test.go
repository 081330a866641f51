// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package install

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shell-reserve/ngdp/hash"
)

func bitmapFor(numEntries int, set ...int) []byte {
	b := make([]byte, (numEntries+7)/8)
	for _, i := range set {
		b[i/8] |= 0x80 >> uint(i%8)
	}
	return b
}

func buildInstallFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1)  // version
	buf.WriteByte(16) // hash size

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], 1) // num tags
	buf.Write(u16[:])
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], 3) // num entries
	buf.Write(u32[:])

	// tag "Windows" selecting entries 0 and 2
	buf.WriteString("Windows")
	buf.WriteByte(0)
	binary.BigEndian.PutUint16(u16[:], 1)
	buf.Write(u16[:])
	buf.Write(bitmapFor(3, 0, 2))

	names := []string{"a.txt", "b.txt", "c.txt"}
	for i, n := range names {
		buf.WriteString(n)
		buf.WriteByte(0)
		var ck hash.ContentKey
		ck[0] = byte(i + 1)
		buf.Write(ck[:])
		binary.BigEndian.PutUint32(u32[:], uint32(100+i))
		buf.Write(u32[:])
	}
	return buf.Bytes()
}

func TestInstallFilterFiles(t *testing.T) {
	f, err := Parse(buildInstallFile(t))
	require.NoError(t, err)
	require.Len(t, f.Tags, 1)
	require.Len(t, f.Entries, 3)

	got := f.FilterFiles("Windows")
	require.Len(t, got, 2)
	require.Equal(t, "a.txt", got[0].Name)
	require.Equal(t, "c.txt", got[1].Name)
}

func TestInstallFilterFilesUnknownTag(t *testing.T) {
	f, err := Parse(buildInstallFile(t))
	require.NoError(t, err)
	require.Nil(t, f.FilterFiles("Mac"))
}
