// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fetch

import "sort"

// DefaultCoalesceWindow is the default gap, in bytes, within which two
// requested ranges in the same archive are merged into one HTTP request
// (spec §4.E "Range coalescing ... default 64 KiB gap").
const DefaultCoalesceWindow = 64 * 1024

// DefaultChunkSize is the default size of one sequential range request
// when streaming an archive (spec §4.E).
const DefaultChunkSize = 64 * 1024

// byteRange is a half-open [Offset, Offset+Length) byte range within one
// archive.
type byteRange struct {
	Offset int64
	Length int64
}

func (r byteRange) end() int64 { return r.Offset + r.Length }

// mergeRanges sorts ranges by offset and merges any pair whose gap (the
// distance from one range's end to the next one's start) is within
// window, returning the covering ranges in ascending order. Overlapping or
// touching ranges are always merged regardless of window.
func mergeRanges(ranges []byteRange, window int64) []byteRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]byteRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	merged := []byteRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		gap := r.Offset - last.end()
		if gap <= window {
			if r.end() > last.end() {
				last.Length = r.end() - last.Offset
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// findCoveringIndex finds which merged range (if any) fully contains want,
// and the offset within that merged range's fetched buffer where want
// begins, so the caller can slice the single fetched buffer back into
// per-request results.
func findCoveringIndex(merged []byteRange, want byteRange) (int, int64) {
	for i, m := range merged {
		if want.Offset >= m.Offset && want.end() <= m.end() {
			return i, want.Offset - m.Offset
		}
	}
	return -1, 0
}
