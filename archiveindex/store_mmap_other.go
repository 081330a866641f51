// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !linux && !darwin

package archiveindex

import (
	"io"
	"os"
)

// mapFile falls back to streaming the whole file into memory on platforms
// without a wired mmap syscall path.
func mapFile(f *os.File) (data []byte, closer func() error, err error) {
	data, err = io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}
