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

package test_utils

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/mediacache/config"
)

// TestContext returns a context bounded by the test deadline carrying an
// errgroup under config.EgrpKey.
func TestContext(ictx context.Context, t *testing.T) (ctx context.Context, cancel context.CancelFunc, egrp *errgroup.Group) {
	if deadline, ok := t.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ictx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ictx)
	}
	egrp, ctx = errgroup.WithContext(ctx)
	ctx = context.WithValue(ctx, config.EgrpKey, egrp)
	return
}

// MediaOrigin is an HTTP server that serves one in-memory media file at
// every path, honouring Range requests.
type MediaOrigin struct {
	*httptest.Server
	ContentType string
	requests    atomic.Int64
}

// Requests is the number of requests served so far
func (o *MediaOrigin) Requests() int64 {
	return o.requests.Load()
}

// NewMediaOrigin starts a MediaOrigin for data that is closed when the
// test ends.
func NewMediaOrigin(t *testing.T, data []byte) *MediaOrigin {
	origin := &MediaOrigin{ContentType: "video/mp4"}
	origin.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.requests.Add(1)
		w.Header().Set("Content-Type", origin.ContentType)
		http.ServeContent(w, r, "media", time.Unix(0, 0), bytes.NewReader(data))
	}))
	t.Cleanup(origin.Close)
	return origin
}

// MediaBytes returns n bytes of a deterministic, non-repeating-looking
// pattern.
func MediaBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}
