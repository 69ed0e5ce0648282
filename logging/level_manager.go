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

package logging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/mediacache/param"
)

type (
	// LevelChange is a temporary change of the log level.
	LevelChange struct {
		ID      string    `json:"id"`
		Level   log.Level `json:"level"`
		EndTime time.Time `json:"endTime"`
	}

	// LevelSnapshot reports the effective and the configured level.
	LevelSnapshot struct {
		Current log.Level     `json:"current"`
		Base    log.Level     `json:"base"`
		Changes []LevelChange `json:"changes"`
	}

	// LevelManager raises the log level for a bounded time and restores
	// the configured level once every change has expired.
	LevelManager struct {
		mu       sync.Mutex
		changes  map[string]*LevelChange
		base     log.Level
		now      func() time.Time
		updateCh chan struct{}
	}
)

var defaultCheckInterval = 30 * time.Second

// NewLevelManager captures the current level as the base level.
func NewLevelManager() *LevelManager {
	base := log.GetLevel()
	if configured, err := log.ParseLevel(param.Logging_Level.GetString()); err == nil {
		base = configured
	}
	return &LevelManager{
		changes:  make(map[string]*LevelChange),
		base:     base,
		now:      time.Now,
		updateCh: make(chan struct{}, 1),
	}
}

// AddChange raises the level to level for duration.
func (m *LevelManager) AddChange(level log.Level, duration time.Duration) (LevelChange, error) {
	if duration <= 0 {
		return LevelChange{}, errors.Errorf("duration must be positive, got %v", duration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	change := &LevelChange{ID: uuid.NewString(), Level: level, EndTime: m.now().Add(duration)}
	m.changes[change.ID] = change
	m.applyChanges()
	return *change, nil
}

// RemoveChange drops a change before it expires.
func (m *LevelManager) RemoveChange(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.changes[id]; !ok {
		return false
	}
	delete(m.changes, id)
	m.applyChanges()
	return true
}

// SetBaseLevel changes the level used when no change is active.
func (m *LevelManager) SetBaseLevel(level log.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = level
	m.applyChanges()
}

// Snapshot returns the levels and the active changes, earliest expiry first.
func (m *LevelManager) Snapshot() LevelSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	changes := make([]LevelChange, 0, len(m.changes))
	for _, change := range m.changes {
		changes = append(changes, *change)
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].EndTime.Before(changes[j].EndTime)
	})
	return LevelSnapshot{Current: m.effectiveLevel(), Base: m.base, Changes: changes}
}

// effectiveLevel is the most verbose of the base level and the active
// changes; logrus levels grow more verbose as they increase.
func (m *LevelManager) effectiveLevel() log.Level {
	level := m.base
	for _, change := range m.changes {
		if change.Level > level {
			level = change.Level
		}
	}
	return level
}

// applyChanges must be called with the lock held
func (m *LevelManager) applyChanges() {
	level := m.effectiveLevel()
	if level != log.GetLevel() {
		previous := log.GetLevel()
		log.SetLevel(level)
		if err := param.Set(param.Logging_Level.GetName(), level.String()); err != nil {
			log.WithError(err).Warn("Failed to record the log level change")
		}
		log.WithFields(log.Fields{
			"previous_level": previous.String(),
			"new_level":      level.String(),
		}).Info("Applied log level change")
	}

	select {
	case m.updateCh <- struct{}{}:
	default:
	}
}

// expireChanges drops expired changes and returns the wait until the next
// expiry.
func (m *LevelManager) expireChanges() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expired := false
	next := time.Duration(0)
	for id, change := range m.changes {
		if !now.Before(change.EndTime) {
			delete(m.changes, id)
			expired = true
			log.WithFields(log.Fields{"change_id": id, "level": change.Level.String()}).
				Debug("Expired temporary log level change")
			continue
		}
		if wait := change.EndTime.Sub(now); next == 0 || wait < next {
			next = wait
		}
	}
	if expired {
		m.applyChanges()
	}
	if next == 0 {
		return defaultCheckInterval
	}
	return next
}

// Run expires changes at their deadlines until ctx is done.
func (m *LevelManager) Run(ctx context.Context) error {
	timer := time.NewTimer(m.expireChanges())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-m.updateCh:
		}
		wait := m.expireChanges()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}
