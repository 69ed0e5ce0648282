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
)

type inFlightEntry struct {
	res     Resource
	loaders int
	// Held by a cleanup; no loader may join until it is released
	cleaning bool
}

// inFlightRegistry tracks the resources with at least one active fetch
// session or a running cleanup.  Deletion and eviction skip everything
// registered here, and fetches wait for no cleanup.
type inFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inFlightEntry
}

func newInFlightRegistry() *inFlightRegistry {
	return &inFlightRegistry{entries: make(map[string]*inFlightEntry)}
}

// acquire adds a loader for res.  It fails while a cleanup holds res.
func (r *inFlightRegistry) acquire(res Resource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[res.CacheKey]
	if !ok {
		entry = &inFlightEntry{res: res}
		r.entries[res.CacheKey] = entry
	} else if entry.cleaning {
		return false
	}
	entry.loaders++
	return true
}

// release drops a loader; the entry goes away with the last one.
func (r *inFlightRegistry) release(cacheKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[cacheKey]
	if !ok {
		return 0
	}
	entry.loaders--
	if entry.loaders <= 0 {
		delete(r.entries, cacheKey)
		return 0
	}
	return entry.loaders
}

// tryAcquireIdle holds res for a cleanup if nothing else is registered
// for it.  Until the matching release, acquire refuses new loaders.
func (r *inFlightRegistry) tryAcquireIdle(res Resource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[res.CacheKey]; ok {
		return false
	}
	r.entries[res.CacheKey] = &inFlightEntry{res: res, loaders: 1, cleaning: true}
	return true
}

func (r *inFlightRegistry) contains(cacheKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[cacheKey]
	return ok
}

// snapshot copies the current key set.
func (r *inFlightRegistry) snapshot() map[string]Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]Resource, len(r.entries))
	for key, entry := range r.entries {
		result[key] = entry.res
	}
	return result
}

func (r *inFlightRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
