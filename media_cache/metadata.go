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
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/mediacache/byte_range"
)

// metadataStore persists metadata records; *CacheDB implements it.
type metadataStore interface {
	SetMetadata(cacheKey string, rec *metadataRecord) error
}

// CacheMetadata is the in-memory coverage record of one resource.  All
// fields are guarded by mu; Persist is additionally serialized by
// persistMu so that an older snapshot never overwrites a newer one.
type CacheMetadata struct {
	res   Resource
	store metadataStore
	now   func() time.Time

	persistMu sync.Mutex

	mu             sync.Mutex
	info           ContentInfo
	fragments      []byte_range.ByteRange
	reservedLength int64
	lastSync       time.Time
}

// MetadataSnapshot is a consistent copy of a CacheMetadata record.
type MetadataSnapshot struct {
	Info           ContentInfo            `json:"contentInfo"`
	Fragments      []byte_range.ByteRange `json:"fragments"`
	ReservedLength int64                  `json:"reservedLength"`
	LastSync       time.Time              `json:"lastSync"`
}

func newCacheMetadata(res Resource, store metadataStore, now func() time.Time) *CacheMetadata {
	if now == nil {
		now = time.Now
	}
	return &CacheMetadata{
		res:   res,
		store: store,
		now:   now,
		info:  NewContentInfo(),
	}
}

// loadCacheMetadata rebuilds metadata from its persisted record.
func loadCacheMetadata(res Resource, rec *metadataRecord, store metadataStore, now func() time.Time) *CacheMetadata {
	meta := newCacheMetadata(res, store, now)
	if rec == nil {
		return meta
	}
	meta.info = rec.Info
	if meta.info.Type == "" {
		meta.info.Type = DefaultMimeType
	}
	meta.fragments = byte_range.Normalize(rec.Fragments)
	meta.reservedLength = rec.ReservedLength
	meta.lastSync = rec.LastSync
	return meta
}

// Resource returns the identity the metadata belongs to.
func (m *CacheMetadata) Resource() Resource {
	return m.res
}

// CoveredOverlaps returns the cached fragments intersecting query, clamped
// to it.
func (m *CacheMetadata) CoveredOverlaps(query byte_range.ByteRange) []byte_range.ByteRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return byte_range.Overlaps(m.fragments, query)
}

// AddFragment records r as cached.  It does not persist.
func (m *CacheMetadata) AddFragment(r byte_range.ByteRange) {
	if !r.IsValid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragments = byte_range.Union(m.fragments, r)
}

// ResetFragments replaces the fragment list with r alone (or nothing when
// r is invalid).
func (m *CacheMetadata) ResetFragments(r byte_range.ByteRange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.IsValid() {
		m.fragments = []byte_range.ByteRange{r}
	} else {
		m.fragments = nil
	}
}

// Fragments returns a copy of the covered ranges.
func (m *CacheMetadata) Fragments() []byte_range.ByteRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte_range.ByteRange(nil), m.fragments...)
}

// ContentInfo returns the recorded content descriptor.
func (m *CacheMetadata) ContentInfo() ContentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// UpdateContentInfo records the descriptor reported by the origin.  Once a
// total length is known the descriptor is frozen unless force is set.
func (m *CacheMetadata) UpdateContentInfo(info ContentInfo, force bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info.IsKnown() && !force {
		return false
	}
	if info.Type == "" {
		info.Type = DefaultMimeType
	}
	m.info = info
	return true
}

// ReservedLength returns the length kept by a soft clean.
func (m *CacheMetadata) ReservedLength() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservedLength
}

func (m *CacheMetadata) SetReservedLength(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservedLength = max(n, 0)
}

// LastSync returns the time of the last successful Persist.
func (m *CacheMetadata) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// IsComplete reports whether the whole resource is cached.
func (m *CacheMetadata) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.info.IsKnown() {
		return false
	}
	covered := byte_range.Overlaps(m.fragments, byte_range.New(0, m.info.TotalLength))
	return byte_range.TotalLen(covered) == m.info.TotalLength
}

// Snapshot returns a consistent copy of the record.
func (m *CacheMetadata) Snapshot() MetadataSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetadataSnapshot{
		Info:           m.info,
		Fragments:      append([]byte_range.ByteRange(nil), m.fragments...),
		ReservedLength: m.reservedLength,
		LastSync:       m.lastSync,
	}
}

// Persist writes the full record to the store.  On failure the in-memory
// record, including the last-sync time, is left untouched.
func (m *CacheMetadata) Persist() error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	syncTime := m.now()
	m.mu.Lock()
	rec := &metadataRecord{
		URL:            m.res.OriginURL,
		DataFile:       m.res.DataFileName(),
		Info:           m.info,
		Fragments:      append([]byte_range.ByteRange(nil), m.fragments...),
		ReservedLength: m.reservedLength,
		LastSync:       syncTime,
	}
	m.mu.Unlock()

	if m.store == nil {
		return errors.New("metadata has no backing store")
	}
	if err := m.store.SetMetadata(m.res.CacheKey, rec); err != nil {
		return errors.Wrapf(err, "failed to persist metadata for %s", m.res.CacheKey)
	}

	m.mu.Lock()
	m.lastSync = syncTime
	m.mu.Unlock()
	return nil
}

// persistOrWarn persists and logs a failure instead of returning it.
func (m *CacheMetadata) persistOrWarn() {
	if err := m.Persist(); err != nil {
		log.Warnf("Coverage update for %s not saved: %v", m.res.OriginURL, err)
	}
}

// reconcile clips the coverage to the bytes actually present in a data
// file of fileSize bytes.  It reports whether anything changed.
func (m *CacheMetadata) reconcile(fileSize int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	if n := len(m.fragments); n > 0 && m.fragments[n-1].Upper > fileSize {
		m.fragments = byte_range.Overlaps(m.fragments, byte_range.New(0, fileSize))
		changed = true
	}
	if m.reservedLength > fileSize {
		m.reservedLength = fileSize
		changed = true
	}
	return changed
}
