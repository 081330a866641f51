// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package binformat holds the handful of binary-parsing primitives shared
// by every big-endian NGDP/CASC manifest format: the TACT 40-bit size
// encoding, u24 big-endian reads, and NUL-terminated string scanning.
package binformat

import (
	"bufio"
	"encoding/binary"
	"fmt"
)

// ReadUint40BE decodes Blizzard's 40-bit TACT file-size encoding: one high
// byte concatenated with a 4-byte big-endian uint32, giving a value in
// 0..2^40-1. For example, bytes 0x01 0x00 0x00 0x10 0x00 decode to
// (1<<32)|0x1000 = 4294971392.
func ReadUint40BE(b []byte) (uint64, error) {
	if len(b) < 5 {
		return 0, fmt.Errorf("binformat: need 5 bytes for u40, got %d", len(b))
	}
	hi := uint64(b[0])
	lo := uint64(binary.BigEndian.Uint32(b[1:5]))
	return hi<<32 | lo, nil
}

// PutUint40BE is the inverse of ReadUint40BE.
func PutUint40BE(b []byte, v uint64) {
	b[0] = byte(v >> 32)
	binary.BigEndian.PutUint32(b[1:5], uint32(v))
}

// ReadUint24BE decodes a 3-byte big-endian unsigned integer, used for BLTE
// chunk_count.
func ReadUint24BE(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// PutUint24BE is the inverse of ReadUint24BE.
func PutUint24BE(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// ReadCString reads bytes up to and including a NUL terminator and returns
// the string without the terminator, as used by Install/Download manifest
// tag and file names.
func ReadCString(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}
