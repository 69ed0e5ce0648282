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
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pelicanplatform/mediacache/byte_range"
)

// Key prefixes for BadgerDB
const (
	// PrefixMeta stores the per-resource metadata record: m:<cache_key>
	PrefixMeta = "m:"
	// PrefixUsage stores the LRU usage record: u:<cache_key>
	PrefixUsage = "u:"
)

// Size constants
const (
	// PacketLimit is the largest local read the planner emits in one action
	PacketLimit int64 = 1 << 20
	// DefaultChunkSize is the fetch buffer threshold before a chunk is emitted
	DefaultChunkSize = 64 * 1024
	// ChecksumBlockSize is the sub-block size sampled by the read-back check
	ChecksumBlockSize = 1024
	// ProbeLength is the size of the request used to discover content info
	ProbeLength int64 = 2
	// DefaultRetryBudget is the number of retries per action
	DefaultRetryBudget = 3
	// DefaultMimeType is assumed until the origin tells us otherwise
	DefaultMimeType = "application/octet-stream"
)

// Resource identifies one cached remote resource.
type Resource struct {
	CacheKey  string
	OriginURL string
}

// NewResource returns a Resource for rawURL.  An empty cacheKey is derived
// from the URL.
func NewResource(rawURL, cacheKey string) Resource {
	if cacheKey == "" {
		cacheKey = ComputeCacheKey(rawURL)
	}
	return Resource{CacheKey: cacheKey, OriginURL: rawURL}
}

// ComputeCacheKey derives the default cache key: SHA-256 of the URL string.
func ComputeCacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// DataFileName returns the name of the data file for a resource: the
// SHA-256 of its cache key plus the extension of the origin URL path.
func (r Resource) DataFileName() string {
	sum := sha256.Sum256([]byte(r.CacheKey))
	name := hex.EncodeToString(sum[:])
	if u, err := url.Parse(r.OriginURL); err == nil {
		ext := path.Ext(u.Path)
		// Keep odd characters out of the file name
		if ext != "" && len(ext) <= 8 && !strings.ContainsAny(ext, `/\ `) {
			name += ext
		}
	}
	return name
}

// ContentInfo describes the remote resource as reported by the origin.
type ContentInfo struct {
	Type                     string `msgpack:"ct" json:"type"`
	TotalLength              int64  `msgpack:"tl" json:"totalLength"`
	ByteRangeAccessSupported bool   `msgpack:"br" json:"byteRangeAccessSupported"`
}

// NewContentInfo returns the placeholder descriptor used before the first
// origin response.
func NewContentInfo() ContentInfo {
	return ContentInfo{Type: DefaultMimeType, ByteRangeAccessSupported: true}
}

// IsKnown reports whether a total length has been recorded.
func (ci ContentInfo) IsKnown() bool {
	return ci.TotalLength > 0
}

// metadataRecord is the persisted form of CacheMetadata
type metadataRecord struct {
	URL            string                 `msgpack:"url"`
	DataFile       string                 `msgpack:"df"`
	Info           ContentInfo            `msgpack:"ci"`
	Fragments      []byte_range.ByteRange `msgpack:"fr"`
	ReservedLength int64                  `msgpack:"rl,omitempty"`
	LastSync       time.Time              `msgpack:"ls"`
}

// UsageRecord is the persisted LRU entry for one resource.  Weight is
// computed per ranking and never stored.
type UsageRecord struct {
	URL        string    `msgpack:"url" json:"url"`
	LastAccess time.Time `msgpack:"la" json:"lastAccess"`
	Count      int64     `msgpack:"n" json:"count"`
	Weight     int64     `msgpack:"-" json:"weight,omitempty"`
}

func metaKey(cacheKey string) []byte {
	return []byte(PrefixMeta + cacheKey)
}

func usageKey(cacheKey string) []byte {
	return []byte(PrefixUsage + cacheKey)
}
