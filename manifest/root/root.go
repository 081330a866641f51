// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package root parses the Root manifest (spec §4.D.1): the FileDataID/path
// → ContentKey mapping, in both the modern ("TSFM") and legacy (pre-8.2)
// block layouts.
package root

import (
	"encoding/binary"

	"github.com/shell-reserve/ngdp/errors"
	"github.com/shell-reserve/ngdp/hash"
)

// Kind distinguishes the two on-disk layouts.
type Kind int

const (
	KindModern Kind = iota
	KindLegacy
)

var magic = [4]byte{'T', 'S', 'F', 'M'}

// noNameHashFlag marks a content block whose records carry no name_hash
// field. The real client infers this from a content-flags bit; spec.md
// leaves the bit position unspecified for the modern format, so this is an
// explicit decision (see DESIGN.md).
const noNameHashFlag uint32 = 0x10000000

// Record is one (FDID|name) → CKey entry, still tagged with the
// content/locale flags of the block it came from so Lookup can filter.
type Record struct {
	FDID         hash.FileDataID
	HasFDID      bool
	NameHash     uint64
	HasNameHash  bool
	CKey         hash.ContentKey
	ContentFlags uint32
	LocaleFlags  uint32
}

// File is a fully-parsed Root manifest.
type File struct {
	Kind    Kind
	Records []Record

	byFDID     map[hash.FileDataID][]int
	byNameHash map[uint64][]int
}

// Parse decodes a complete Root manifest from data (already BLTE-decoded).
func Parse(data []byte) (*File, error) {
	if len(data) >= 4 && data[0] == magic[0] && data[1] == magic[1] && data[2] == magic[2] && data[3] == magic[3] {
		return parseModern(data)
	}
	return parseLegacy(data)
}

func parseModern(data []byte) (*File, error) {
	if len(data) < 12 {
		return nil, errors.New(errors.CodeTruncatedInput, "root.parseModern")
	}
	// totalFileCount/namedFileCount are informational only; lookups are
	// built from the block contents directly.
	pos := 12

	f := &File{Kind: KindModern}
	for pos < len(data) {
		blk, next, err := readModernBlock(data, pos)
		if err != nil {
			return nil, err
		}
		f.Records = append(f.Records, blk...)
		pos = next
	}
	f.index()
	return f, nil
}

func readModernBlock(data []byte, pos int) ([]Record, int, error) {
	if pos+12 > len(data) {
		return nil, 0, errors.New(errors.CodeTruncatedInput, "root.readModernBlock")
	}
	numRecords := binary.BigEndian.Uint32(data[pos : pos+4])
	contentFlags := binary.BigEndian.Uint32(data[pos+4 : pos+8])
	localeFlags := binary.BigEndian.Uint32(data[pos+8 : pos+12])
	pos += 12

	deltasEnd := pos + int(numRecords)*4
	if deltasEnd > len(data) {
		return nil, 0, errors.New(errors.CodeTruncatedInput, "root.readModernBlock").WithPath("fdid_deltas")
	}
	deltas := make([]uint32, numRecords)
	for i := range deltas {
		deltas[i] = binary.BigEndian.Uint32(data[pos+i*4 : pos+i*4+4])
	}
	pos = deltasEnd

	hasNames := contentFlags&noNameHashFlag == 0
	recSize := hash.Size
	if hasNames {
		recSize += 8
	}
	recordsEnd := pos + int(numRecords)*recSize
	if recordsEnd > len(data) {
		return nil, 0, errors.New(errors.CodeTruncatedInput, "root.readModernBlock").WithPath("records")
	}

	records := make([]Record, numRecords)
	var fdid int64 = -1
	for i := 0; i < int(numRecords); i++ {
		fdid += int64(deltas[i]) + 1
		off := pos + i*recSize
		var ck hash.ContentKey
		copy(ck[:], data[off:off+hash.Size])
		r := Record{
			FDID:         hash.FileDataID(uint32(fdid)),
			HasFDID:      true,
			CKey:         ck,
			ContentFlags: contentFlags,
			LocaleFlags:  localeFlags,
		}
		if hasNames {
			r.NameHash = binary.BigEndian.Uint64(data[off+hash.Size : off+hash.Size+8])
			r.HasNameHash = true
		}
		records[i] = r
	}
	return records, recordsEnd, nil
}

func parseLegacy(data []byte) (*File, error) {
	pos := 0
	f := &File{Kind: KindLegacy}
	for pos < len(data) {
		if pos+12 > len(data) {
			return nil, errors.New(errors.CodeTruncatedInput, "root.parseLegacy")
		}
		numRecords := binary.BigEndian.Uint32(data[pos : pos+4])
		contentFlags := binary.BigEndian.Uint32(data[pos+4 : pos+8])
		localeFlags := binary.BigEndian.Uint32(data[pos+8 : pos+12])
		pos += 12

		const recSize = hash.Size + 8
		end := pos + int(numRecords)*recSize
		if end > len(data) {
			return nil, errors.New(errors.CodeTruncatedInput, "root.parseLegacy").WithPath("records")
		}
		for i := 0; i < int(numRecords); i++ {
			off := pos + i*recSize
			var ck hash.ContentKey
			copy(ck[:], data[off:off+hash.Size])
			nameHash := binary.BigEndian.Uint64(data[off+hash.Size : off+hash.Size+8])
			f.Records = append(f.Records, Record{
				CKey:         ck,
				NameHash:     nameHash,
				HasNameHash:  true,
				ContentFlags: contentFlags,
				LocaleFlags:  localeFlags,
			})
		}
		pos = end
	}
	f.index()
	return f, nil
}

func (f *File) index() {
	f.byFDID = make(map[hash.FileDataID][]int)
	f.byNameHash = make(map[uint64][]int)
	for i, r := range f.Records {
		if r.HasFDID {
			f.byFDID[r.FDID] = append(f.byFDID[r.FDID], i)
		}
		if r.HasNameHash {
			f.byNameHash[r.NameHash] = append(f.byNameHash[r.NameHash], i)
		}
	}
}

// LookupFDID implements fdid_to_ckey (spec §4.D): iterate records matching
// fdid in block order, return the first whose content/locale flags satisfy
// the masks. Legacy Root files never carry FDIDs and always return
// NotFound here (see DESIGN.md's Open Question decision).
func (f *File) LookupFDID(fdid hash.FileDataID, localeMask, contentMask uint32) (hash.ContentKey, error) {
	if f.Kind == KindLegacy {
		return hash.ContentKey{}, errors.New(errors.CodeNotFound, "root.LookupFDID").WithPath("legacy root has no FDID index")
	}
	for _, idx := range f.byFDID[fdid] {
		r := f.Records[idx]
		if r.ContentFlags&contentMask == contentMask && r.LocaleFlags&localeMask != 0 {
			return r.CKey, nil
		}
	}
	return hash.ContentKey{}, errors.New(errors.CodeNotFound, "root.LookupFDID").WithHash(fdid.String())
}

// LookupPath implements path_to_ckey via the Jenkins96 path hash, the only
// lookup legacy Root files support.
func (f *File) LookupPath(path string) (hash.ContentKey, error) {
	h := hash.HashPath(path)
	for _, idx := range f.byNameHash[uint64(h)] {
		return f.Records[idx].CKey, nil
	}
	return hash.ContentKey{}, errors.New(errors.CodeNotFound, "root.LookupPath").WithPath(path)
}
