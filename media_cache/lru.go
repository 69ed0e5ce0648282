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
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTimeWeight = 2
	DefaultUseWeight  = 1
)

// usageStore persists usage records; *CacheDB implements it.
type usageStore interface {
	SetUsage(cacheKey string, rec UsageRecord) error
	DeleteUsage(cacheKey string) error
	LoadUsage() (map[string]UsageRecord, error)
}

// RankedUsage is one entry of an eviction ranking.
type RankedUsage struct {
	Key string `json:"key"`
	UsageRecord
}

// LRUPolicy tracks per-resource usage and ranks resources for eviction by
// combining their recency rank and their frequency rank.
type LRUPolicy struct {
	store usageStore
	now   func() time.Time

	// persistMu orders store writes the same way as the mutations
	persistMu sync.Mutex

	mu         sync.Mutex
	records    map[string]UsageRecord
	timeWeight int64
	useWeight  int64
}

func NewLRUPolicy(store usageStore, now func() time.Time) *LRUPolicy {
	if now == nil {
		now = time.Now
	}
	return &LRUPolicy{
		store:      store,
		now:        now,
		records:    make(map[string]UsageRecord),
		timeWeight: DefaultTimeWeight,
		useWeight:  DefaultUseWeight,
	}
}

// SetWeights changes the factors applied to the time and use ranks.
func (l *LRUPolicy) SetWeights(timeWeight, useWeight int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeWeight = timeWeight
	l.useWeight = useWeight
}

// Load replaces the in-memory table with the persisted one.
func (l *LRUPolicy) Load() error {
	if l.store == nil {
		return nil
	}
	records, err := l.store.LoadUsage()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.records = records
	l.mu.Unlock()
	log.Debugf("Loaded %d usage records", len(records))
	return nil
}

// Use records an access to key.  A new record starts with a count of one.
func (l *LRUPolicy) Use(key, url string) (UsageRecord, error) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.mu.Lock()
	rec, ok := l.records[key]
	if ok {
		rec.Count++
	} else {
		rec = UsageRecord{URL: url, Count: 1}
	}
	if url != "" {
		rec.URL = url
	}
	rec.LastAccess = l.now()
	rec.Weight = 0
	l.records[key] = rec
	l.mu.Unlock()

	if l.store == nil {
		return rec, nil
	}
	if err := l.store.SetUsage(key, rec); err != nil {
		return rec, errors.Wrapf(err, "failed to persist usage of %s", key)
	}
	return rec, nil
}

// Remove forgets key.
func (l *LRUPolicy) Remove(key string) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.mu.Lock()
	delete(l.records, key)
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	return errors.Wrapf(l.store.DeleteUsage(key), "failed to delete usage of %s", key)
}

// Retain forgets every key for which keep returns false.
func (l *LRUPolicy) Retain(keep func(key string) bool) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	var dropped []string
	l.mu.Lock()
	for key := range l.records {
		if !keep(key) {
			delete(l.records, key)
			dropped = append(dropped, key)
		}
	}
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	var firstErr error
	for _, key := range dropped {
		if err := l.store.DeleteUsage(key); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to delete usage of %s", key)
		}
	}
	return firstErr
}

// Get returns the record for key.
func (l *LRUPolicy) Get(key string) (UsageRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	return rec, ok
}

// Len returns the number of tracked resources.
func (l *LRUPolicy) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Rank orders every tracked resource not excluded from oldest (lowest
// combined weight) to newest.  Positions in the recency and frequency
// orders are multiplied by their factors and summed; ties anywhere are
// broken by older access time, then by key, so a ranking is reproducible.
func (l *LRUPolicy) Rank(exclude func(key string) bool) []RankedUsage {
	l.mu.Lock()
	candidates := make([]RankedUsage, 0, len(l.records))
	for key, rec := range l.records {
		if exclude != nil && exclude(key) {
			continue
		}
		rec.Weight = 0
		candidates = append(candidates, RankedUsage{Key: key, UsageRecord: rec})
	}
	timeWeight, useWeight := l.timeWeight, l.useWeight
	l.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Key < candidates[j].Key
	})
	weights := make(map[string]int64, len(candidates))

	byTime := append([]RankedUsage(nil), candidates...)
	sort.SliceStable(byTime, func(i, j int) bool {
		return byTime[i].LastAccess.Before(byTime[j].LastAccess)
	})
	for pos, c := range byTime {
		weights[c.Key] += int64(pos+1) * timeWeight
	}

	byUse := append([]RankedUsage(nil), candidates...)
	sort.SliceStable(byUse, func(i, j int) bool {
		return byUse[i].Count < byUse[j].Count
	})
	for pos, c := range byUse {
		weights[c.Key] += int64(pos+1) * useWeight
	}

	for i := range candidates {
		candidates[i].Weight = weights[candidates[i].Key]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Weight != b.Weight {
			return a.Weight < b.Weight
		}
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		return a.Key < b.Key
	})
	return candidates
}

// Oldest returns up to k keys with the lowest combined weight.
func (l *LRUPolicy) Oldest(k int, exclude func(key string) bool) []string {
	ranked := l.Rank(exclude)
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	keys := make([]string, 0, len(ranked))
	for _, r := range ranked {
		keys = append(keys, r.Key)
	}
	return keys
}
