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

package media_cache

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/pelicanplatform/mediacache/byte_range"
)

// ActionKind says where the bytes of an Action come from.
type ActionKind int

const (
	ActionLocal ActionKind = iota
	ActionRemote
)

func (k ActionKind) String() string {
	if k == ActionLocal {
		return "local"
	}
	return "remote"
}

func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ActionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "local":
		*k = ActionLocal
	case "remote":
		*k = ActionRemote
	default:
		return errors.Errorf("unknown action kind %q", string(text))
	}
	return nil
}

// Action is one step of a fetch plan.
type Action struct {
	Kind  ActionKind           `json:"kind"`
	Range byte_range.ByteRange `json:"range"`
}

func Local(r byte_range.ByteRange) Action {
	return Action{Kind: ActionLocal, Range: r}
}

func Remote(r byte_range.ByteRange) Action {
	return Action{Kind: ActionRemote, Range: r}
}

func (a Action) String() string {
	return a.Kind.String() + a.Range.String()
}

// Request is what a client asks for: either an explicit range or
// everything from Offset to the end of the resource.
type Request struct {
	Range  byte_range.ByteRange
	ToEnd  bool
	Offset int64
}

// RangeRequest asks for an explicit range.
func RangeRequest(r byte_range.ByteRange) Request {
	return Request{Range: r}
}

// ToEndRequest asks for everything from offset onward.
func ToEndRequest(offset int64) Request {
	return Request{ToEnd: true, Offset: offset}
}

// resolve turns the request into a concrete range given the content info.
// A to-end request with unknown length resolves to the probe range.
func (req Request) resolve(info ContentInfo) (r byte_range.ByteRange, probe bool, err error) {
	switch {
	case req.ToEnd && !info.IsKnown():
		return byte_range.New(0, ProbeLength), true, nil
	case req.ToEnd:
		r = byte_range.New(req.Offset, info.TotalLength)
	case info.IsKnown():
		r = req.Range.Intersect(byte_range.New(0, info.TotalLength))
	default:
		r = req.Range
	}
	if !r.IsValid() || r.Lower < 0 {
		return r, false, errors.Wrapf(ErrInvalidRange, "request %s", r)
	}
	return r, false, nil
}

// PlanRequest resolves req against the content info recorded in meta and
// plans the resulting range.  While the total length is unknown a to-end
// request plans only the probe range and probe is true.
func PlanRequest(req Request, meta *CacheMetadata, packetLimit int64) (actions []Action, r byte_range.ByteRange, probe bool, err error) {
	info := NewContentInfo()
	if meta != nil {
		info = meta.ContentInfo()
	}
	if r, probe, err = req.resolve(info); err != nil {
		return nil, r, false, err
	}
	return PlanActions(r, meta, packetLimit), r, probe, nil
}

// PlanActions splits r into an offset-ordered list of local reads (for the
// bytes covered by meta) and remote fetches (for the gaps).  Local reads
// are capped at packetLimit bytes each.
func PlanActions(r byte_range.ByteRange, meta *CacheMetadata, packetLimit int64) []Action {
	if !r.IsValid() {
		return nil
	}
	if packetLimit <= 0 {
		packetLimit = PacketLimit
	}

	var covered []byte_range.ByteRange
	if meta != nil {
		covered = meta.CoveredOverlaps(r)
	}

	var actions []Action
	var used []byte_range.ByteRange
	for _, c := range covered {
		for _, slice := range byte_range.Split(c.Intersect(r), packetLimit) {
			if !slice.IsValid() {
				continue
			}
			actions = append(actions, Local(slice))
			used = append(used, slice)
		}
	}
	if len(actions) == 0 {
		return []Action{Remote(r)}
	}

	for _, gap := range byte_range.Subtract(r, used) {
		actions = append(actions, Remote(gap))
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Range.Lower < actions[j].Range.Lower
	})
	return actions
}
