// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shell-reserve/ngdp/hash"
	"github.com/shell-reserve/ngdp/manifest/encoding"
)

func TestStoreResolveBeforeSwapIsNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.FDIDToCKey(hash.FileDataID(1), 0, 0)
	require.Error(t, err)
}

func TestStoreEmptySnapshotLookupIsError(t *testing.T) {
	s := NewStore()
	s.Swap(&Set{Encoding: &encoding.File{}})
	_, err := s.CKeyToEKey(hash.ContentKey{})
	require.Error(t, err) // empty Encoding snapshot: NotFound, not a panic
}
