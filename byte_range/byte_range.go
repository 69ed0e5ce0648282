/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package byte_range implements interval algebra over half-open byte
// ranges.  Every function returns fresh slices; inputs are never modified.
package byte_range

import (
	"fmt"
	"sort"
)

// ByteRange is the half-open interval [Lower, Upper).
type ByteRange struct {
	Lower int64 `msgpack:"l" json:"lower"`
	Upper int64 `msgpack:"u" json:"upper"`
}

func New(lower, upper int64) ByteRange {
	return ByteRange{Lower: lower, Upper: upper}
}

// IsValid reports whether the range is non-empty.
func (r ByteRange) IsValid() bool {
	return r.Lower < r.Upper
}

// Len returns the number of bytes in the range, or 0 if it is invalid.
func (r ByteRange) Len() int64 {
	if !r.IsValid() {
		return 0
	}
	return r.Upper - r.Lower
}

// Last returns the inclusive last offset, as used by HTTP Range headers.
func (r ByteRange) Last() int64 {
	return r.Upper - 1
}

// Intersect clamps r to other.  The result may be invalid.
func (r ByteRange) Intersect(other ByteRange) ByteRange {
	return ByteRange{Lower: max(r.Lower, other.Lower), Upper: min(r.Upper, other.Upper)}
}

// Overlaps reports whether the two ranges share at least one byte.
func (r ByteRange) Overlaps(other ByteRange) bool {
	return r.Lower < other.Upper && other.Lower < r.Upper
}

// Touches reports whether the two ranges overlap or are adjacent.
func (r ByteRange) Touches(other ByteRange) bool {
	return r.Lower <= other.Upper && other.Lower <= r.Upper
}

// Contains reports whether other lies entirely inside r.
func (r ByteRange) Contains(other ByteRange) bool {
	return r.Lower <= other.Lower && other.Upper <= r.Upper
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Lower, r.Upper)
}

func sortByLower(ranges []ByteRange) {
	sort.SliceStable(ranges, func(i, j int) bool {
		if ranges[i].Lower == ranges[j].Lower {
			return ranges[i].Upper < ranges[j].Upper
		}
		return ranges[i].Lower < ranges[j].Lower
	})
}

// Union inserts r into the sorted, disjoint list existing, merging r with
// every range it overlaps or touches.
func Union(existing []ByteRange, r ByteRange) []ByteRange {
	result := make([]ByteRange, 0, len(existing)+1)
	if !r.IsValid() {
		return append(result, existing...)
	}

	merged := r
	inserted := false
	for _, cur := range existing {
		switch {
		case cur.Upper < merged.Lower:
			result = append(result, cur)
		case merged.Upper < cur.Lower:
			if !inserted {
				result = append(result, merged)
				inserted = true
			}
			result = append(result, cur)
		default:
			merged = ByteRange{Lower: min(cur.Lower, merged.Lower), Upper: max(cur.Upper, merged.Upper)}
		}
	}
	if !inserted {
		result = append(result, merged)
	}
	return result
}

// Normalize sorts an arbitrary list of ranges and merges the overlapping
// or adjacent ones.  Invalid ranges are dropped.
func Normalize(ranges []ByteRange) []ByteRange {
	var result []ByteRange
	for _, r := range ranges {
		result = Union(result, r)
	}
	return result
}

// Subtract returns the parts of total not covered by any of removals.
func Subtract(total ByteRange, removals []ByteRange) []ByteRange {
	if !total.IsValid() {
		return nil
	}
	sorted := make([]ByteRange, len(removals))
	copy(sorted, removals)
	sortByLower(sorted)

	var gaps []ByteRange
	cursor := total.Lower
	for _, rem := range sorted {
		if rem.Upper <= cursor || !rem.IsValid() {
			continue
		}
		if rem.Lower >= total.Upper {
			break
		}
		if gap := New(cursor, min(rem.Lower, total.Upper)); gap.IsValid() {
			gaps = append(gaps, gap)
		}
		cursor = max(cursor, rem.Upper)
		if cursor >= total.Upper {
			break
		}
	}
	if tail := New(cursor, total.Upper); tail.IsValid() {
		gaps = append(gaps, tail)
	}
	return gaps
}

// Overlaps returns every fragment intersecting query, clamped to query.
func Overlaps(fragments []ByteRange, query ByteRange) []ByteRange {
	if !query.IsValid() {
		return nil
	}
	var result []ByteRange
	for _, frag := range fragments {
		if clamped := frag.Intersect(query); clamped.IsValid() {
			result = append(result, clamped)
		}
	}
	return result
}

// Split partitions r into consecutive chunks of at most chunkSize bytes.
func Split(r ByteRange, chunkSize int64) []ByteRange {
	if chunkSize <= 0 {
		return []ByteRange{r}
	}
	if !r.IsValid() {
		return nil
	}
	chunks := make([]ByteRange, 0, (r.Len()+chunkSize-1)/chunkSize)
	for lower := r.Lower; lower < r.Upper; lower += chunkSize {
		chunks = append(chunks, New(lower, min(lower+chunkSize, r.Upper)))
	}
	return chunks
}

// TotalLen sums the lengths of the valid ranges in the list.
func TotalLen(ranges []ByteRange) int64 {
	var total int64
	for _, r := range ranges {
		total += r.Len()
	}
	return total
}
