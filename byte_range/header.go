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
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HeaderSpec is a single parsed entry of an HTTP Range header.  The total
// resource length may not be known at parse time, so open-ended and suffix
// forms are kept symbolic until Resolve is called.
type HeaderSpec struct {
	Start     int64
	End       int64 // inclusive; only meaningful when neither OpenEnded nor Suffix is set
	OpenEnded bool  // "bytes=500-"
	Suffix    int64 // "bytes=-500"; zero when not a suffix range
}

// ParseHeader parses an HTTP Range header.
// Supports: "bytes=start-end", "bytes=start-", "bytes=-suffix".
// Only the first range of a multi-range header is honoured.
func ParseHeader(header string) (spec HeaderSpec, err error) {
	if !strings.HasPrefix(header, "bytes=") {
		err = errors.New("unsupported range unit")
		return
	}
	part := strings.TrimSpace(strings.TrimPrefix(header, "bytes="))
	if idx := strings.Index(part, ","); idx >= 0 {
		part = strings.TrimSpace(part[:idx])
	}

	switch {
	case part == "" || part == "-":
		err = errors.New("empty range")
	case strings.HasPrefix(part, "-"):
		spec.Suffix, err = strconv.ParseInt(part[1:], 10, 64)
		if err != nil {
			err = errors.Wrap(err, "invalid suffix range")
		} else if spec.Suffix <= 0 {
			err = errors.New("suffix range must be positive")
		}
	case strings.HasSuffix(part, "-"):
		spec.OpenEnded = true
		spec.Start, err = strconv.ParseInt(part[:len(part)-1], 10, 64)
		if err != nil {
			err = errors.Wrap(err, "invalid range start")
		}
	default:
		parts := strings.Split(part, "-")
		if len(parts) != 2 {
			err = errors.New("invalid range format")
			return
		}
		if spec.Start, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
			err = errors.Wrap(err, "invalid range start")
			return
		}
		if spec.End, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
			err = errors.Wrap(err, "invalid range end")
			return
		}
		if spec.End < spec.Start {
			err = errors.Errorf("range end %d before start %d", spec.End, spec.Start)
		}
	}
	if err == nil && spec.Start < 0 {
		err = errors.New("negative range start")
	}
	return
}

// Resolve converts the spec to a concrete half-open range once the total
// length of the resource is known.
func (s HeaderSpec) Resolve(total int64) (ByteRange, error) {
	var r ByteRange
	switch {
	case s.Suffix > 0:
		r = New(max(total-s.Suffix, 0), total)
	case s.OpenEnded:
		r = New(s.Start, total)
	default:
		r = New(s.Start, min(s.End+1, total))
	}
	if !r.IsValid() {
		return r, errors.Errorf("range not satisfiable for length %d", total)
	}
	return r, nil
}

// ContentRange formats a Content-Range response header value.
func ContentRange(r ByteRange, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Lower, r.Last(), total)
}

// RequestHeader formats the Range request header for r.
func RequestHeader(r ByteRange) string {
	return fmt.Sprintf("bytes=%d-%d", r.Lower, r.Last())
}
