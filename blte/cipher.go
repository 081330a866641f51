// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blte

import (
	"crypto/rc4"
	"encoding/binary"
	"fmt"

	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
	"github.com/shell-reserve/ngdp/keyring"
)

// salsa20XOR produces len(dst) bytes of Salsa20 keystream XORed with src,
// using the 16-byte-key ("expand 16-byte k") variant required by §4.F: the
// 16-byte key is duplicated into both key halves of the state rather than
// filling all 32 bytes of a distinct key, and the 8-byte nonce is placed
// whole with the block counter starting at zero and advancing by one per
// 64-byte keystream block.
//
// golang.org/x/crypto/salsa20 only exposes the 32-byte-key ("expand
// 32-byte k") variant through its public API, so the core permutation is
// reimplemented here directly from the Salsa20 specification.
func salsa20XOR(dst, src []byte, nonce [8]byte, key [16]byte) {
	var state [16]uint32

	// tau constants: "expa" "nd 1" "6-by" "te k"
	state[0] = 0x61707865
	state[5] = 0x3120646e
	state[10] = 0x79622d36
	state[15] = 0x6b206574

	for i := 0; i < 4; i++ {
		state[1+i] = binary.LittleEndian.Uint32(key[i*4 : i*4+4])
		state[11+i] = binary.LittleEndian.Uint32(key[i*4 : i*4+4])
	}
	state[6] = binary.LittleEndian.Uint32(nonce[0:4])
	state[7] = binary.LittleEndian.Uint32(nonce[4:8])
	state[8] = 0
	state[9] = 0

	var block [64]byte
	counter := uint64(0)
	for off := 0; off < len(dst); off += 64 {
		state[8] = uint32(counter)
		state[9] = uint32(counter >> 32)
		salsa20Block(&block, &state)
		n := len(dst) - off
		if n > 64 {
			n = 64
		}
		for i := 0; i < n; i++ {
			dst[off+i] = src[off+i] ^ block[i]
		}
		counter++
	}
}

func salsa20Block(out *[64]byte, in *[16]uint32) {
	var x [16]uint32
	copy(x[:], in[:])

	rotl := func(v uint32, n uint) uint32 { return v<<n | v>>(32-n) }
	qr := func(a, b, c, d *uint32) {
		*b ^= rotl(*a+*d, 7)
		*c ^= rotl(*b+*a, 9)
		*d ^= rotl(*c+*b, 13)
		*a ^= rotl(*d+*c, 18)
	}

	for i := 0; i < 10; i++ {
		// column rounds
		qr(&x[0], &x[4], &x[8], &x[12])
		qr(&x[5], &x[9], &x[13], &x[1])
		qr(&x[10], &x[14], &x[2], &x[6])
		qr(&x[15], &x[3], &x[7], &x[11])
		// row rounds
		qr(&x[0], &x[1], &x[2], &x[3])
		qr(&x[5], &x[6], &x[7], &x[4])
		qr(&x[10], &x[11], &x[8], &x[9])
		qr(&x[15], &x[12], &x[13], &x[14])
	}

	for i := 0; i < 16; i++ {
		v := x[i] + in[i]
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], v)
	}
}

// decryptChunk implements the 'E' framing of §4.F: parses key_name/iv/cipher
// type, resolves the key through kr, and returns the plaintext to be
// recursively decoded as a BLTE body.
func decryptChunk(data []byte, kr *keyring.Keyring, chunkIndex uint32) ([]byte, error) {
	if len(data) < 1 {
		return nil, errors.New(errors.CodeTruncatedInput, "blte.decryptChunk")
	}
	keyNameSize := int(data[0])
	pos := 1
	if len(data) < pos+keyNameSize+1 {
		return nil, errors.New(errors.CodeTruncatedInput, "blte.decryptChunk")
	}
	keyNameBytes := data[pos : pos+keyNameSize]
	pos += keyNameSize

	var keyID uint64
	if keyNameSize == 8 {
		keyID = binary.LittleEndian.Uint64(keyNameBytes)
	} else {
		for i := len(keyNameBytes) - 1; i >= 0; i-- {
			keyID = keyID<<8 | uint64(keyNameBytes[i])
		}
	}

	ivSize := int(data[pos])
	pos++
	if ivSize < 1 || ivSize > 8 {
		return nil, errors.New(errors.CodeSchema, "blte.decryptChunk").WithPath("iv_size out of range")
	}
	if len(data) < pos+ivSize+1 {
		return nil, errors.New(errors.CodeTruncatedInput, "blte.decryptChunk")
	}
	ivBytes := data[pos : pos+ivSize]
	pos += ivSize

	cipherType := data[pos]
	pos++
	ciphertext := data[pos:]

	key, ok := kr.Lookup(hash.KeyID(keyID))
	if !ok {
		return nil, errors.New(errors.CodeMissingKey, "blte.decryptChunk").WithHash(hash.KeyID(keyID).String())
	}

	var nonce [8]byte
	copy(nonce[:], ivBytes) // zero-pad to 8 bytes
	var idxBuf [4]byte
	binary.LittleEndian.PutUint32(idxBuf[:], chunkIndex)
	for i := 0; i < 4; i++ {
		nonce[i] ^= idxBuf[i]
	}

	switch cipherType {
	case 'S':
		var k [16]byte
		copy(k[:], key[:])
		plain := make([]byte, len(ciphertext))
		salsa20XOR(plain, ciphertext, nonce, k)
		return plain, nil
	case 'A':
		c, err := rc4.NewCipher(key[:])
		if err != nil {
			return nil, errors.Wrap(errors.CodeDecryptionFailed, "blte.decryptChunk", err)
		}
		plain := make([]byte, len(ciphertext))
		c.XORKeyStream(plain, ciphertext)
		return plain, nil
	default:
		return nil, errors.New(errors.CodeUnsupportedCipher, "blte.decryptChunk").WithPath(fmt.Sprintf("%c", cipherType))
	}
}
