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
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// testMedia returns deterministic non-zero bytes, so every checksum block
// of the data passes the read-back check.
func testMedia(size int) []byte {
	rng := rand.New(rand.NewSource(int64(size)))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(rng.Intn(255) + 1)
	}
	return data
}

// mediaServer is an origin serving one byte slice at every path, with
// knobs for injecting failures.
type mediaServer struct {
	*httptest.Server

	data        []byte
	contentType string
	noRanges    bool

	// The next failCount requests are answered with failStatus
	failCount  atomic.Int32
	failStatus int
	// The next cutCount responses are cut off after cutAfter body bytes
	cutCount atomic.Int32
	cutAfter int
	// Pause before every body write
	writeDelay time.Duration

	requests atomic.Int32
	mu       sync.Mutex
	ranges   []string
}

func newMediaServer(t *testing.T, data []byte) *mediaServer {
	ms := &mediaServer{data: data, contentType: "video/mp4", failStatus: http.StatusServiceUnavailable}
	ms.Server = httptest.NewServer(http.HandlerFunc(ms.serve))
	t.Cleanup(ms.Close)
	return ms
}

func (ms *mediaServer) serve(w http.ResponseWriter, r *http.Request) {
	ms.requests.Add(1)
	ms.mu.Lock()
	ms.ranges = append(ms.ranges, r.Header.Get("Range"))

	contentType, failStatus, noRanges := ms.contentType, ms.failStatus, ms.noRanges
	cutAfter, writeDelay := ms.cutAfter, ms.writeDelay
	ms.mu.Unlock()

	if ms.failCount.Add(-1) >= 0 {
		w.WriteHeader(failStatus)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if noRanges {
		r.Header.Del("Range")
	}

	var out http.ResponseWriter = w
	if ms.cutCount.Add(-1) >= 0 {
		out = &cutWriter{ResponseWriter: w, left: cutAfter}
	}
	if writeDelay > 0 {
		out = &slowWriter{ResponseWriter: out, delay: writeDelay}
	}
	http.ServeContent(out, r, "", time.Time{}, bytes.NewReader(ms.data))
}

// set changes the server knobs while requests may be in flight.
func (ms *mediaServer) set(fn func(ms *mediaServer)) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	fn(ms)
}

func (ms *mediaServer) rangeHeaders() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.ranges...)
}

// cutWriter stops accepting body bytes after left of them.
type cutWriter struct {
	http.ResponseWriter
	left int
}

func (cw *cutWriter) Write(p []byte) (int, error) {
	if cw.left <= 0 {
		return 0, http.ErrHandlerTimeout
	}
	if len(p) > cw.left {
		p = p[:cw.left]
	}
	n, err := cw.ResponseWriter.Write(p)
	cw.left -= n
	if err == nil && cw.left <= 0 {
		err = http.ErrHandlerTimeout
	}
	return n, err
}

// slowWriter flushes every write after a pause.
type slowWriter struct {
	http.ResponseWriter
	delay time.Duration
}

func (sw *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(sw.delay)
	n, err := sw.ResponseWriter.Write(p)
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// newTestCache opens an isolated cache in a temporary directory.  It is
// closed when the test ends.
func newTestCache(t *testing.T, mutate func(cfg *Config)) *MediaCache {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.AutoCheckUsage = false
	cfg.FetchTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	mc, _ := openTestCache(t, cfg)
	return mc
}

// openTestCache opens a cache for cfg and returns it with a function that
// closes it and waits for its background routines.
func openTestCache(t *testing.T, cfg Config) (*MediaCache, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	egrp, ctx := errgroup.WithContext(ctx)
	mc, err := New(ctx, egrp, cfg)
	require.NoError(t, err)

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			cancel()
			require.NoError(t, egrp.Wait())
		})
	}
	t.Cleanup(shutdown)
	return mc, shutdown
}

// testClock hands out strictly increasing times.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// collector accumulates the callbacks of one session.
type collector struct {
	mu       sync.Mutex
	data     bytes.Buffer
	infos    []ContentInfo
	finished bool
	err      error
	onData   func(n int)
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnData: func(data []byte) {
			c.mu.Lock()
			c.data.Write(data)
			n := c.data.Len()
			hook := c.onData
			c.mu.Unlock()
			if hook != nil {
				hook(n)
			}
		},
		OnContentInfo: func(info ContentInfo) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.infos = append(c.infos, info)
		},
		OnFinished: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.finished = true
		},
		OnFailed: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.err = err
		},
	}
}

func (c *collector) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data.Bytes()...)
}

// fetch runs a session to completion and returns what it delivered.
func fetch(t *testing.T, mc *MediaCache, res Resource, req Request) ([]byte, error) {
	t.Helper()
	c := &collector{}
	s, err := mc.BeginFetch(context.Background(), res, req, c.callbacks())
	require.NoError(t, err)
	err = s.Err()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		require.True(t, c.finished, "OnFinished not called for a successful session")
	} else {
		require.Equal(t, err, c.err, "OnFailed must receive the session error")
	}
	return append([]byte(nil), c.data.Bytes()...), err
}

// memMetadataStore keeps metadata records in memory.
type memMetadataStore struct {
	mu      sync.Mutex
	records map[string]*metadataRecord
	fail    error
}

func newMemMetadataStore() *memMetadataStore {
	return &memMetadataStore{records: make(map[string]*metadataRecord)}
}

func (m *memMetadataStore) SetMetadata(cacheKey string, rec *metadataRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.records[cacheKey] = rec
	return nil
}

func (m *memMetadataStore) get(cacheKey string) *metadataRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[cacheKey]
}
