// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build linux || darwin

package archiveindex

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile memory-maps f read-only. The returned closer must be called once
// the caller is done reading data, which unmaps the region.
func mapFile(f *os.File) (data []byte, closer func() error, err error) {
	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := st.Size()
	if size == 0 {
		return nil, nil, nil
	}

	data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	closer = func() error { return unix.Munmap(data) }
	return data, closer, nil
}
