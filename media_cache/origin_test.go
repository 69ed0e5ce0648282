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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/mediacache/byte_range"
)

func TestParseContentRange(t *testing.T) {
	r, total, err := parseContentRange("bytes 100-199/1000")
	require.NoError(t, err)
	assert.Equal(t, byte_range.New(100, 200), r)
	assert.Equal(t, int64(1000), total)

	r, total, err = parseContentRange("bytes 0-1/*")
	require.NoError(t, err)
	assert.Equal(t, byte_range.New(0, 2), r)
	assert.Zero(t, total)

	for _, bad := range []string{"", "items 0-1/2", "bytes 0-1", "bytes x-1/2", "bytes 0-y/2", "bytes 0-1/z"} {
		_, _, err := parseContentRange(bad)
		assert.Error(t, err, "%q should not parse", bad)
	}
}

func TestContentInfoFromResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   http.Header
		length   int64
		expected ContentInfo
		served   byte_range.ByteRange
	}{
		{
			name:   "partial content",
			status: http.StatusPartialContent,
			header: http.Header{
				"Content-Type":  {"video/mp4; codecs=avc1"},
				"Content-Range": {"bytes 0-1/5000"},
			},
			expected: ContentInfo{Type: "video/mp4", TotalLength: 5000, ByteRangeAccessSupported: true},
			served:   byte_range.New(0, 2),
		},
		{
			name:   "full body with ranges advertised",
			status: http.StatusOK,
			header: http.Header{
				"Content-Type":  {"audio/mpeg"},
				"Accept-Ranges": {"bytes"},
			},
			length:   300,
			expected: ContentInfo{Type: "audio/mpeg", TotalLength: 300, ByteRangeAccessSupported: true},
			served:   byte_range.New(0, 300),
		},
		{
			name:     "full body without ranges",
			status:   http.StatusOK,
			header:   http.Header{"Content-Type": {"video/webm"}},
			length:   10,
			expected: ContentInfo{Type: "video/webm", TotalLength: 10},
			served:   byte_range.New(0, 10),
		},
		{
			name:     "unknown length",
			status:   http.StatusOK,
			header:   http.Header{},
			length:   -1,
			expected: ContentInfo{Type: DefaultMimeType},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, served, err := contentInfoFromResponse(&http.Response{
				StatusCode:    tt.status,
				Header:        tt.header,
				ContentLength: tt.length,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, info)
			assert.Equal(t, tt.served, served)
		})
	}
}

func TestIsMediaSource(t *testing.T) {
	for _, ok := range []string{"video/mp4", "audio/ogg", "application/vnd.apple.mpegurl", DefaultMimeType} {
		assert.True(t, isMediaSource(ok), ok)
	}
	for _, bad := range []string{"text/html", "image/png", ""} {
		assert.False(t, isMediaSource(bad), bad)
	}
}

func TestHTTPOriginFetchRange(t *testing.T) {
	data := testMedia(4096)
	srv := newMediaServer(t, data)
	origin := NewHTTPOrigin(OriginOptions{Timeout: 5 * time.Second})

	resp, err := origin.Fetch(context.Background(), srv.URL+"/clip.mp4", byte_range.New(100, 300))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, byte_range.New(100, 300), resp.Range)
	assert.Equal(t, ContentInfo{Type: "video/mp4", TotalLength: 4096, ByteRangeAccessSupported: true}, resp.Info)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data[100:300], body)
	assert.Equal(t, []string{"bytes=100-299"}, srv.rangeHeaders())
}

func TestHTTPOriginIgnoredRange(t *testing.T) {
	data := testMedia(4096)
	srv := newMediaServer(t, data)
	srv.set(func(ms *mediaServer) { ms.noRanges = true })
	origin := NewHTTPOrigin(OriginOptions{Timeout: 5 * time.Second})

	resp, err := origin.Fetch(context.Background(), srv.URL+"/clip.mp4", byte_range.New(1000, 1100))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data[1000:1100], body, "The origin body is skipped to the offset and limited")
}

func TestHTTPOriginStatusErrors(t *testing.T) {
	srv := newMediaServer(t, testMedia(100))
	origin := NewHTTPOrigin(OriginOptions{Timeout: 5 * time.Second})

	srv.set(func(ms *mediaServer) { ms.failStatus = http.StatusNotFound })
	srv.failCount.Store(1)
	_, err := origin.Fetch(context.Background(), srv.URL+"/missing.mp4", byte_range.New(0, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &TransportError{StatusCode: http.StatusNotFound}))
	assert.False(t, errors.Is(err, &TransportError{StatusCode: http.StatusServiceUnavailable}))
	assert.False(t, IsRetryable(err))

	srv.set(func(ms *mediaServer) { ms.failStatus = http.StatusServiceUnavailable })
	srv.failCount.Store(1)
	_, err = origin.Fetch(context.Background(), srv.URL+"/busy.mp4", byte_range.New(0, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &TransportError{}))
	assert.True(t, IsRetryable(err))

	srv.set(func(ms *mediaServer) { ms.contentType = "text/html" })
	_, err = origin.Fetch(context.Background(), srv.URL+"/page.html", byte_range.New(0, 2))
	assert.True(t, errors.Is(err, ErrNotMedia))

	_, err = origin.Fetch(context.Background(), "://bad", byte_range.New(0, 2))
	require.Error(t, err)
	assert.False(t, IsRetryable(err))

	_, err = origin.Fetch(context.Background(), srv.URL, byte_range.New(5, 5))
	assert.True(t, errors.Is(err, ErrInvalidRange))
}

func TestHTTPOriginTruncatedBody(t *testing.T) {
	srv := newMediaServer(t, testMedia(8192))
	srv.set(func(ms *mediaServer) { ms.cutAfter = 1000 })
	srv.cutCount.Store(1)
	origin := NewHTTPOrigin(OriginOptions{Timeout: 5 * time.Second})

	resp, err := origin.Fetch(context.Background(), srv.URL+"/clip.mp4", byte_range.New(0, 8192))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "A short body is worth retrying: %v", err)
	assert.LessOrEqual(t, len(body), 1000)
}

func TestHTTPOriginHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	origin := NewHTTPOrigin(OriginOptions{Timeout: 100 * time.Millisecond})
	_, err := origin.Fetch(context.Background(), srv.URL, byte_range.New(0, 2))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestHTTPOriginCancelled(t *testing.T) {
	srv := newMediaServer(t, testMedia(1<<20))
	srv.set(func(ms *mediaServer) { ms.writeDelay = 20 * time.Millisecond })
	origin := NewHTTPOrigin(OriginOptions{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := origin.Fetch(ctx, srv.URL+"/clip.mp4", byte_range.New(0, 1<<20))
	require.NoError(t, err)
	defer resp.Body.Close()
	cancel()
	_, err = io.Copy(io.Discard, resp.Body)
	assert.True(t, errors.Is(err, ErrCancelled), "got %v", err)
}

func TestHTTPOriginRateLimit(t *testing.T) {
	data := testMedia(96 * 1024)
	srv := newMediaServer(t, data)
	origin := NewHTTPOrigin(OriginOptions{Timeout: 5 * time.Second, MaxDownloadSpeed: 64 * 1024})

	start := time.Now()
	resp, err := origin.Fetch(context.Background(), srv.URL+"/clip.mp4", byte_range.New(0, int64(len(data))))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, body))
	// The burst covers 64 KiB; the remaining 32 KiB take about half a second
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestChunkReader(t *testing.T) {
	chunks := newChunkReader(strings.NewReader("abcdefghij"), 4)
	var got []string
	for {
		data, err := chunks.Next()
		if len(data) > 0 {
			got = append(got, string(data))
		}
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, got)

	failing := io.MultiReader(strings.NewReader("abc"), iotestErrReader{})
	data, err := newChunkReader(failing, 8).Next()
	assert.Equal(t, "abc", string(data))
	assert.True(t, IsRetryable(err))
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) {
	return 0, &TransportError{Retryable: true, Err: io.ErrUnexpectedEOF}
}
