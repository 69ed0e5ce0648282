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

package byte_range

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireNormalized(t *testing.T, ranges []ByteRange) {
	t.Helper()
	for i, r := range ranges {
		require.True(t, r.IsValid(), "range %d (%s) is invalid", i, r)
		if i > 0 {
			require.Less(t, ranges[i-1].Upper, r.Lower, "ranges %s and %s overlap or touch", ranges[i-1], r)
		}
	}
}

func TestUnion(t *testing.T) {
	t.Run("EmptyList", func(t *testing.T) {
		assert.Equal(t, []ByteRange{New(10, 20)}, Union(nil, New(10, 20)))
	})

	t.Run("InvalidIsIgnored", func(t *testing.T) {
		existing := []ByteRange{New(0, 5)}
		assert.Equal(t, existing, Union(existing, New(7, 7)))
	})

	t.Run("InsertSorted", func(t *testing.T) {
		existing := []ByteRange{New(0, 5), New(20, 30)}
		assert.Equal(t, []ByteRange{New(0, 5), New(10, 15), New(20, 30)}, Union(existing, New(10, 15)))
		assert.Equal(t, []ByteRange{New(0, 5), New(20, 30), New(40, 50)}, Union(existing, New(40, 50)))
	})

	t.Run("SingleOverlapExtends", func(t *testing.T) {
		existing := []ByteRange{New(0, 5), New(20, 30)}
		assert.Equal(t, []ByteRange{New(0, 5), New(15, 30)}, Union(existing, New(15, 25)))
	})

	t.Run("AdjacentMerges", func(t *testing.T) {
		existing := []ByteRange{New(0, 5)}
		assert.Equal(t, []ByteRange{New(0, 10)}, Union(existing, New(5, 10)))
	})

	t.Run("MultipleOverlapsCollapse", func(t *testing.T) {
		existing := []ByteRange{New(0, 5), New(10, 15), New(20, 25), New(40, 45)}
		assert.Equal(t, []ByteRange{New(0, 25), New(40, 45)}, Union(existing, New(3, 22)))
	})

	t.Run("InputNotMutated", func(t *testing.T) {
		existing := []ByteRange{New(0, 5), New(10, 15)}
		_ = Union(existing, New(0, 15))
		assert.Equal(t, []ByteRange{New(0, 5), New(10, 15)}, existing)
	})

	t.Run("Idempotent", func(t *testing.T) {
		once := Union([]ByteRange{New(0, 5)}, New(8, 12))
		twice := Union(once, New(8, 12))
		assert.Equal(t, once, twice)
	})
}

func TestUnionRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		covered := make([]bool, 1000)
		var ranges []ByteRange
		for i := 0; i < 20; i++ {
			lo := rng.Int63n(990)
			r := New(lo, lo+1+rng.Int63n(10))
			for off := r.Lower; off < r.Upper; off++ {
				covered[off] = true
			}
			ranges = Union(ranges, r)
			requireNormalized(t, ranges)
		}
		for off := range covered {
			inside := false
			for _, r := range ranges {
				if int64(off) >= r.Lower && int64(off) < r.Upper {
					inside = true
				}
			}
			require.Equal(t, covered[off], inside, "offset %d", off)
		}
	}
}

func TestSubtract(t *testing.T) {
	total := New(0, 100)

	assert.Empty(t, Subtract(total, []ByteRange{total}))
	assert.Equal(t, []ByteRange{total}, Subtract(total, nil))
	assert.Equal(t, []ByteRange{New(0, 50)}, Subtract(total, []ByteRange{New(50, 100)}))
	assert.Equal(t,
		[]ByteRange{New(0, 10), New(20, 30), New(90, 100)},
		Subtract(total, []ByteRange{New(30, 90), New(10, 20)}),
		"removals are sorted internally")
	assert.Equal(t,
		[]ByteRange{New(10, 100)},
		Subtract(total, []ByteRange{New(-10, 10), New(200, 300)}),
		"removals outside total are ignored")
	assert.Equal(t,
		[]ByteRange{New(0, 10), New(60, 100)},
		Subtract(total, []ByteRange{New(10, 50), New(20, 60)}),
		"overlapping removals")
	assert.Nil(t, Subtract(New(5, 5), nil))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		var removals []ByteRange
		for j := 0; j < 5; j++ {
			lo := rng.Int63n(120) - 10
			removals = append(removals, New(lo, lo+rng.Int63n(30)))
		}
		for _, gap := range Subtract(total, removals) {
			require.True(t, total.Contains(gap), "gap %s outside total", gap)
			require.True(t, gap.IsValid())
			for _, rem := range removals {
				require.False(t, rem.IsValid() && rem.Overlaps(gap), "gap %s overlaps removal %s", gap, rem)
			}
		}
	}
}

func TestOverlaps(t *testing.T) {
	frags := []ByteRange{New(0, 10), New(20, 30), New(50, 60)}
	assert.Equal(t, []ByteRange{New(5, 10), New(20, 25)}, Overlaps(frags, New(5, 25)))
	assert.Empty(t, Overlaps(frags, New(10, 20)))
	assert.Empty(t, Overlaps(frags, New(5, 5)))
	assert.Equal(t, []ByteRange{New(55, 60)}, Overlaps(frags, New(55, 100)))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []ByteRange{New(0, 4), New(4, 8), New(8, 10)}, Split(New(0, 10), 4))
	assert.Equal(t, []ByteRange{New(0, 8)}, Split(New(0, 8), 8))
	assert.Equal(t, []ByteRange{New(3, 9)}, Split(New(3, 9), 0))
	assert.Equal(t, []ByteRange{New(3, 9)}, Split(New(3, 9), -1))
	assert.Empty(t, Split(New(3, 3), 2))
}

func TestNormalize(t *testing.T) {
	got := Normalize([]ByteRange{New(30, 40), New(0, 10), New(10, 20), New(35, 50), New(60, 60)})
	assert.Equal(t, []ByteRange{New(0, 20), New(30, 50)}, got)
	assert.Equal(t, int64(40), TotalLen(got))
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		total    int64
		expected ByteRange
		hasError bool
	}{
		{"Closed", "bytes=0-99", 1000, New(0, 100), false},
		{"ClosedPastEnd", "bytes=900-2000", 1000, New(900, 1000), false},
		{"OpenEnded", "bytes=500-", 1000, New(500, 1000), false},
		{"Suffix", "bytes=-100", 1000, New(900, 1000), false},
		{"SuffixLargerThanTotal", "bytes=-5000", 1000, New(0, 1000), false},
		{"MultiRangeFirstOnly", "bytes=0-9, 20-29", 1000, New(0, 10), false},
		{"BadUnit", "items=0-1", 1000, ByteRange{}, true},
		{"Reversed", "bytes=10-5", 1000, ByteRange{}, true},
		{"Garbage", "bytes=a-b", 1000, ByteRange{}, true},
		{"Unsatisfiable", "bytes=2000-", 1000, ByteRange{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseHeader(tt.header)
			if err == nil {
				var r ByteRange
				r, err = spec.Resolve(tt.total)
				if !tt.hasError {
					require.NoError(t, err)
					assert.Equal(t, tt.expected, r)
				}
			}
			if tt.hasError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHeaderFormatting(t *testing.T) {
	assert.Equal(t, "bytes 0-49/100", ContentRange(New(0, 50), 100))
	assert.Equal(t, "bytes=50-99", RequestHeader(New(50, 100)))
	assert.Equal(t, "[50, 100)", New(50, 100).String())
}
