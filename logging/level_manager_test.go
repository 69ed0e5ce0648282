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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/mediacache/param"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*LevelManager, *fakeClock) {
	origLevel := log.GetLevel()
	param.Reset()
	t.Cleanup(func() {
		log.SetLevel(origLevel)
		param.Reset()
	})
	log.SetLevel(log.InfoLevel)
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewLevelManager()
	m.now = clock.Now
	return m, clock
}

func TestLevelManagerChanges(t *testing.T) {
	m, clock := newTestManager(t)
	assert.Equal(t, log.InfoLevel, m.Snapshot().Base)

	debug, err := m.AddChange(log.DebugLevel, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.Equal(t, "debug", param.Logging_Level.GetString())

	trace, err := m.AddChange(log.TraceLevel, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, log.TraceLevel, log.GetLevel(), "The most verbose change wins")

	snap := m.Snapshot()
	require.Len(t, snap.Changes, 2)
	assert.Equal(t, trace.ID, snap.Changes[0].ID, "Earliest expiry first")
	assert.Equal(t, log.TraceLevel, snap.Current)

	clock.Advance(2 * time.Minute)
	wait := m.expireChanges()
	assert.Equal(t, 58*time.Minute, wait)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	assert.True(t, m.RemoveChange(debug.ID))
	assert.False(t, m.RemoveChange(debug.ID))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.Equal(t, defaultCheckInterval, m.expireChanges())

	_, err = m.AddChange(log.DebugLevel, 0)
	assert.Error(t, err)
}

func TestLevelManagerQuieterChangeKeepsBase(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.AddChange(log.ErrorLevel, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, log.GetLevel())

	m.SetBaseLevel(log.WarnLevel)
	assert.Equal(t, log.WarnLevel, log.GetLevel())
}

func TestLevelManagerRunExpires(t *testing.T) {
	m, _ := newTestManager(t)
	m.now = time.Now
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	_, err := m.AddChange(log.DebugLevel, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(m.Snapshot().Changes) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, log.InfoLevel, m.Snapshot().Current)

	cancel()
	require.NoError(t, <-done)
}

func TestLevelRoutes(t *testing.T) {
	m, _ := newTestManager(t)
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	m.RegisterRoutes(engine)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/v1.0/logging/level", `{"level": "debug", "duration": "10m"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var change LevelChange
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &change))
	assert.Equal(t, log.DebugLevel, change.Level)

	w = do(http.MethodGet, "/api/v1.0/logging/level", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap LevelSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, log.DebugLevel, snap.Current)
	assert.Len(t, snap.Changes, 1)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1.0/logging/level", `{"level": "loud", "duration": "1m"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1.0/logging/level", `{"level": "debug", "duration": "soon"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1.0/logging/level", `{"level": "debug"}`).Code)

	assert.Equal(t, http.StatusOK, do(http.MethodDelete, "/api/v1.0/logging/level/"+change.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/api/v1.0/logging/level/"+change.ID, "").Code)
}

func TestFlushLogsToFile(t *testing.T) {
	param.Reset()
	ResetLogFlush()
	t.Cleanup(func() {
		CloseLogger()
		ResetLogFlush()
		param.Reset()
		log.SetOutput(os.Stderr)
	})

	location := filepath.Join(t.TempDir(), "logs", "mediacache.log")
	require.NoError(t, param.Set(param.Logging_LogLocation.GetName(), location))

	SetupLogBuffering()
	log.Warningln("buffered before flush")
	require.NoError(t, FlushLogs(true))
	log.Warningln("written after flush")

	contents, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(contents, []byte("buffered before flush")))
	assert.Contains(t, string(contents), "written after flush")
}

func TestSetLevel(t *testing.T) {
	origLevel := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(origLevel) })

	require.NoError(t, SetLevel("trace"))
	assert.Equal(t, log.TraceLevel, log.GetLevel())
	require.NoError(t, SetLevel(""))
	assert.Equal(t, log.TraceLevel, log.GetLevel())
	assert.Error(t, SetLevel("chatty"))
}
