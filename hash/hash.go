// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package hash defines the identifier types that thread through every NGDP
// and CASC subsystem: content keys, encoding keys, FileDataIDs, legacy
// Jenkins96 path hashes, and TACT encryption key IDs.
package hash

import (
	"encoding/hex"
	"fmt"
)

// Size is the byte length of a CKey or EKey (MD5 digest size).
const Size = 16

// ContentKey (CKey) is the 16-byte MD5 of a file's raw, decoded bytes.
// Two files with identical decoded content share a ContentKey regardless
// of how many times each was separately encoded.
type ContentKey [Size]byte

// EncodingKey (EKey) is the 16-byte MD5 of a file's BLTE-encoded bytes.
// The same payload re-encoded with different BLTE parameters yields a
// different EncodingKey but the same ContentKey.
type EncodingKey [Size]byte

// FileDataID is a stable 32-bit identifier for a logical game file,
// constant across builds.
type FileDataID uint32

// JenkinsPath is the 64-bit Jenkins96 hash of a normalized file path, used
// by legacy (pre-8.2) Root variants that do not carry FileDataIDs.
type JenkinsPath uint64

// KeyID identifies a 16-byte TACT symmetric encryption key used by BLTE
// mode 'E' chunks.
type KeyID uint64

// IsZero reports whether k is the all-zero key, used as a sentinel for
// "no canonical encoding" bookkeeping in the encoding manifest.
func (k ContentKey) IsZero() bool { return k == ContentKey{} }

// IsZero reports whether k is the all-zero key.
func (k EncodingKey) IsZero() bool { return k == EncodingKey{} }

func (k ContentKey) String() string { return hex.EncodeToString(k[:]) }
func (k EncodingKey) String() string { return hex.EncodeToString(k[:]) }

func (id FileDataID) String() string { return fmt.Sprintf("%d", uint32(id)) }

func (id KeyID) String() string { return fmt.Sprintf("%016X", uint64(id)) }

// ParseContentKey decodes a hex-encoded CKey. It accepts any even-length hex
// string up to Size bytes; shorter strings are accepted so truncated
// archive-index prefixes can be parsed with the same helper, but full
// lookups must supply all 32 hex characters.
func ParseContentKey(s string) (ContentKey, error) {
	var k ContentKey
	b, err := decodeHash(s, Size)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

// ParseEncodingKey decodes a hex-encoded EKey. See ParseContentKey for the
// truncation rule.
func ParseEncodingKey(s string) (EncodingKey, error) {
	var k EncodingKey
	b, err := decodeHash(s, Size)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

func decodeHash(s string, max int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hash: invalid hex %q: %w", s, err)
	}
	if len(b) > max {
		return nil, fmt.Errorf("hash: %q exceeds %d bytes", s, max)
	}
	return b, nil
}
