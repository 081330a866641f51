// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package archiveindex

import (
	"os"

	"github.com/shell-reserve/ngdp/hash"
)

// LoadFile memory-maps (where supported, via mapFile in
// store_mmap_unix.go/store_mmap_other.go) or streams an archive-index file
// from disk and parses it.
func LoadFile(archiveHash hash.EncodingKey, path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, closer, err := mapFile(f)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}

	return Parse(archiveHash, data)
}
