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


// Package byte_rate parses human-readable transfer rates such as "2MB/s"
// or "8Mbps" for the download limiter.
package byte_rate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ByteRate is a transfer rate in bytes per second.
type ByteRate float64

// Binary prefixes; "MB" means MiB throughout.
const (
	_ = 1.0 << (10 * iota)
	KiB
	MiB
	GiB
	TiB
	PiB
)

// number, optional prefix, optional "i", optional unit, then "ps" or "/<period>"
var rateRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([kKmMgGtTpP]?)(i?)(bit|Bit|byte|Byte|b|B)?(?:ps|/(\w+))?$`)

var prefixes = map[string]float64{
	"":  1,
	"k": KiB,
	"m": MiB,
	"g": GiB,
	"t": TiB,
	"p": PiB,
}

func (r *ByteRate) UnmarshalText(text []byte) error {
	rate, err := ParseRate(string(text))
	if err != nil {
		return err
	}
	*r = rate
	return nil
}

func (r ByteRate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r ByteRate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

func (r ByteRate) String() string {
	val := float64(r)
	switch {
	case val >= PiB:
		return fmt.Sprintf("%.2fPB/s", val/PiB)
	case val >= TiB:
		return fmt.Sprintf("%.2fTB/s", val/TiB)
	case val >= GiB:
		return fmt.Sprintf("%.2fGB/s", val/GiB)
	case val >= MiB:
		return fmt.Sprintf("%.2fMB/s", val/MiB)
	case val >= KiB:
		return fmt.Sprintf("%.2fKB/s", val/KiB)
	default:
		return fmt.Sprintf("%.2fB/s", val)
	}
}

// BytesPerSecond rounds the rate down to whole bytes per second.
func (r ByteRate) BytesPerSecond() int64 {
	return int64(r)
}

func parsePeriod(period string) (time.Duration, error) {
	switch period {
	case "", "s", "sec":
		return time.Second, nil
	case "m", "min":
		return time.Minute, nil
	case "h", "hr":
		return time.Hour, nil
	}
	if d, err := time.ParseDuration(period); err == nil && d > 0 {
		return d, nil
	}
	if d, err := time.ParseDuration("1" + period); err == nil && d > 0 {
		return d, nil
	}
	return 0, errors.Errorf("invalid rate period %q", period)
}

// ParseRate parses a rate like "5MB/s", "100Mbps", "1GiB/m" or a bare
// number of bytes per second.  A lowercase "b" or "bit" means bits.
func ParseRate(s string) (ByteRate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty rate string")
	}
	m := rateRe.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.Errorf("invalid rate %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid number in rate %q", s)
	}
	period, err := parsePeriod(m[5])
	if err != nil {
		return 0, err
	}

	bytes := value * prefixes[strings.ToLower(m[2])]
	if unit := m[4]; unit == "b" || unit == "bit" || unit == "Bit" {
		bytes /= 8
	}
	return ByteRate(bytes / period.Seconds()), nil
}
