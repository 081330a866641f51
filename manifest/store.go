// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package manifest is the facade over Root/Encoding/Install/Download/Size
// (spec §4.D), exposing the logical-to-physical lookup chain the pipeline
// walks for every file resolution: fdid_to_ckey, path_to_ckey,
// ckey_to_ekey, install_files, download_priority, espec_for.
package manifest

import (
	"sync/atomic"

	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
	"github.com/shell-reserve/ngdp/manifest/download"
	"github.com/shell-reserve/ngdp/manifest/encoding"
	"github.com/shell-reserve/ngdp/manifest/install"
	"github.com/shell-reserve/ngdp/manifest/root"
	"github.com/shell-reserve/ngdp/manifest/size"
)

// Set is one immutable, consistent snapshot of the five manifest files for
// a single build (spec §3 "Lifecycles": manifest objects are immutable and
// owned by the manifest store).
type Set struct {
	Root     *root.File
	Encoding *encoding.File
	Install  *install.File
	Download *download.File
	Size     *size.File
}

// Store holds the current build's manifest Set behind an atomic pointer,
// so readers never observe a torn swap across a build switch (spec §5
// "manifest replacement on build switch: atomic pointer swap").
type Store struct {
	current atomic.Pointer[Set]
}

// NewStore returns an empty Store; Swap must be called before any lookup
// will succeed.
func NewStore() *Store {
	return &Store{}
}

// Swap atomically installs a new manifest Set, replacing whatever build
// was previously active. In-flight readers complete against the snapshot
// they already loaded.
func (s *Store) Swap(set *Set) {
	s.current.Store(set)
	log.Infof("manifest: swapped to new build snapshot")
}

func (s *Store) snapshot() (*Set, error) {
	set := s.current.Load()
	if set == nil {
		return nil, errors.New(errors.CodeNotFound, "manifest.Store").WithPath("no build loaded")
	}
	return set, nil
}

// FDIDToCKey implements fdid_to_ckey.
func (s *Store) FDIDToCKey(fdid hash.FileDataID, localeMask, contentMask uint32) (hash.ContentKey, error) {
	set, err := s.snapshot()
	if err != nil {
		return hash.ContentKey{}, err
	}
	return set.Root.LookupFDID(fdid, localeMask, contentMask)
}

// PathToCKey implements path_to_ckey.
func (s *Store) PathToCKey(path string) (hash.ContentKey, error) {
	set, err := s.snapshot()
	if err != nil {
		return hash.ContentKey{}, err
	}
	return set.Root.LookupPath(path)
}

// CKeyToEKey implements ckey_to_ekey.
func (s *Store) CKeyToEKey(ck hash.ContentKey) ([]hash.EncodingKey, error) {
	set, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return set.Encoding.LookupCKey(ck)
}

// InstallFiles implements install_files(tags).
func (s *Store) InstallFiles(tags ...string) ([]install.Entry, error) {
	set, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return set.Install.FilterFiles(tags...), nil
}

// DownloadPriority implements download_priority(EKey).
func (s *Store) DownloadPriority(ek hash.EncodingKey) (uint8, error) {
	set, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	return set.Download.Priority(ek)
}

// EspecFor implements espec_for(EKey).
func (s *Store) EspecFor(ek hash.EncodingKey) (string, error) {
	set, err := s.snapshot()
	if err != nil {
		return "", err
	}
	return set.Encoding.EspecFor(ek)
}

// SizeOf consults the Size manifest (spec §4.D.5), used only for
// installation-space planning.
func (s *Store) SizeOf(prefix [9]byte) (uint32, bool, error) {
	set, err := s.snapshot()
	if err != nil {
		return 0, false, err
	}
	if set.Size == nil {
		return 0, false, nil
	}
	sz, ok := set.Size.Lookup(prefix)
	return sz, ok, nil
}

// Resolve walks the full chain FDID -> CKey -> EKey[] in one call, the
// shape the pipeline's file-fetch path actually uses.
func (s *Store) Resolve(fdid hash.FileDataID, localeMask, contentMask uint32) ([]hash.EncodingKey, error) {
	set, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	ck, err := set.Root.LookupFDID(fdid, localeMask, contentMask)
	if err != nil {
		return nil, err
	}
	return set.Encoding.LookupCKey(ck)
}
