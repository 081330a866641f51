// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keyring loads and serves the 16-byte TACT symmetric keys that
// BLTE 'E' chunks are encrypted under (spec §6 "Key file formats"). A
// Keyring is safe for concurrent use; Reload atomically replaces its
// contents so readers never observe a partially-rebuilt table.
package keyring

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
)

// Key is a 16-byte TACT encryption key.
type Key [16]byte

// Keyring holds the key-id → key table sourced from one or more key files,
// plus any keys registered at runtime after a MissingKey error.
type Keyring struct {
	mu    sync.RWMutex
	keys  map[hash.KeyID]Key
	paths []string // directories searched by Reload
}

// New returns an empty Keyring that searches dirs on Reload. dirs is
// typically derived from the TACT_KEYS_PATH environment variable (spec §6).
func New(dirs ...string) *Keyring {
	return &Keyring{keys: make(map[hash.KeyID]Key), paths: dirs}
}

// Lookup returns the key registered for id, if any.
func (kr *Keyring) Lookup(id hash.KeyID) (Key, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	k, ok := kr.keys[id]
	return k, ok
}

// Register adds or replaces a single key, used when a caller supplies a key
// in response to a recoverable MissingKey error (spec §4.F).
func (kr *Keyring) Register(id hash.KeyID, key Key) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.keys[id] = key
}

// Len reports the number of keys currently loaded.
func (kr *Keyring) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.keys)
}

// Reload re-scans every configured directory for key files (.txt, .csv,
// .tsv — all accepted as the same line format per spec §6) and atomically
// replaces the in-memory table. Runtime-registered keys that were never
// backed by a file are preserved across Reload.
func (kr *Keyring) Reload() error {
	fresh := make(map[hash.KeyID]Key)

	for _, dir := range kr.paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrap(errors.CodeCacheIO, "keyring.Reload", err).WithPath(dir)
		}
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(ent.Name()))
			if ext != ".txt" && ext != ".csv" && ext != ".tsv" {
				continue
			}
			path := filepath.Join(dir, ent.Name())
			if err := loadFileInto(fresh, path); err != nil {
				return err
			}
		}
	}

	kr.mu.Lock()
	for id, k := range kr.keys {
		if _, ok := fresh[id]; !ok {
			fresh[id] = k
		}
	}
	kr.keys = fresh
	kr.mu.Unlock()

	log.Debugf("keyring: reloaded, %d keys", len(fresh))
	return nil
}

var fieldSplitter = func(r rune) bool {
	return r == ' ' || r == '\t' || r == ','
}

func loadFileInto(dst map[hash.KeyID]Key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(errors.CodeCacheIO, "keyring.loadFileInto", err).WithPath(path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, fieldSplitter)
		if len(fields) < 2 {
			continue
		}
		idBytes, err := hex.DecodeString(fields[0])
		if err != nil || len(idBytes) != 8 {
			return errors.New(errors.CodeSchema, "keyring.loadFileInto").WithPath(fmt.Sprintf("%s:%d: bad key id %q", path, lineNo, fields[0]))
		}
		keyBytes, err := hex.DecodeString(fields[1])
		if err != nil || len(keyBytes) != 16 {
			return errors.New(errors.CodeSchema, "keyring.loadFileInto").WithPath(fmt.Sprintf("%s:%d: bad key %q", path, lineNo, fields[1]))
		}
		var id uint64
		for i := 0; i < 8; i++ {
			id = id<<8 | uint64(idBytes[i])
		}
		var k Key
		copy(k[:], keyBytes)
		dst[hash.KeyID(id)] = k
	}
	return sc.Err()
}
