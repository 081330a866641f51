// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package size

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeLookup(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic[:])

	var e1, e2 Entry
	e1.Prefix = [prefixLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	e1.Size = 100
	e2.Prefix = [prefixLen]byte{9, 9, 9, 9, 9, 9, 9, 9, 9}
	e2.Size = 200

	for _, e := range []Entry{e1, e2} {
		buf.Write(e.Prefix[:])
		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], e.Size)
		buf.Write(u32[:])
	}

	f, err := Parse(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Entries, 2)

	got, ok := f.Lookup(e1.Prefix)
	require.True(t, ok)
	require.Equal(t, uint32(100), got)

	_, ok = f.Lookup([prefixLen]byte{0xFF})
	require.False(t, ok)
}
