// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shell-reserve/ngdp/hash"
)

func TestReloadParsesKeyFile(t *testing.T) {
	dir := t.TempDir()
	content := "# comment\n" +
		"\n" +
		"FA505078126ACB3E BDC51862ABED79B2DE48C8E7E66C6200 WoW key\n" +
		"FA505078126ACB3F,BDC51862ABED79B2DE48C8E7E66C6201\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keys.txt"), []byte(content), 0o644))

	kr := New(dir)
	require.NoError(t, kr.Reload())
	require.Equal(t, 2, kr.Len())

	k, ok := kr.Lookup(hash.KeyID(0xFA505078126ACB3E))
	require.True(t, ok)
	require.Equal(t, "BDC51862ABED79B2DE48C8E7E66C6200", hexString(k))
}

func TestReloadAcceptsCSVAndTSV(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("0000000000000001,00000000000000000000000000000001\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tsv"), []byte("0000000000000002\t00000000000000000000000000000002\n"), 0o644))

	kr := New(dir)
	require.NoError(t, kr.Reload())
	require.Equal(t, 2, kr.Len())
}

func TestRegisterSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	kr := New(dir)
	var k Key
	k[0] = 0xAB
	kr.Register(hash.KeyID(42), k)

	require.NoError(t, kr.Reload())
	got, ok := kr.Lookup(hash.KeyID(42))
	require.True(t, ok)
	require.Equal(t, k, got)
}

func TestLookupMiss(t *testing.T) {
	kr := New()
	_, ok := kr.Lookup(hash.KeyID(999))
	require.False(t, ok)
}

func hexString(k Key) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 32)
	for i, b := range k {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0F]
	}
	return string(out)
}
