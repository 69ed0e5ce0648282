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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/mediacache/byte_range"
	"github.com/pelicanplatform/mediacache/server_structs"
)

func newTestAPI(t *testing.T, mc *MediaCache) *httptest.Server {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	mc.Register(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func mediaURL(api *httptest.Server, origin string) string {
	return api.URL + "/api/v1.0/media?url=" + url.QueryEscape(origin)
}

func doRequest(t *testing.T, method, target, rangeHeader string) (*http.Response, []byte) {
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestMediaEndpointRanges(t *testing.T) {
	data := testMedia(200 * 1024)
	origin := newMediaServer(t, data)
	mc := newTestCache(t, nil)
	api := newTestAPI(t, mc)
	target := mediaURL(api, origin.URL+"/film.mp4")
	total := strconv.Itoa(len(data))

	resp, body := doRequest(t, http.MethodGet, target, "bytes=100-199")
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 100-199/"+total, resp.Header.Get("Content-Range"))
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, data[100:200], body)

	resp, body = doRequest(t, http.MethodGet, target, "bytes=-1000")
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, data[len(data)-1000:], body)

	resp, body = doRequest(t, http.MethodGet, target, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, total, resp.Header.Get("Content-Length"))
	assert.Equal(t, data, body)

	resp, body = doRequest(t, http.MethodHead, target, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, total, resp.Header.Get("Content-Length"))
	assert.Empty(t, body)

	resp, _ = doRequest(t, http.MethodGet, target, "bytes="+total+"-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */"+total, resp.Header.Get("Content-Range"))

	// Everything was cached by the full GET
	requests := origin.requests.Load()
	_, body = doRequest(t, http.MethodGet, target, "bytes=5000-150000")
	assert.Equal(t, data[5000:150001], body)
	assert.Equal(t, requests, origin.requests.Load())
}

func TestMediaEndpointErrors(t *testing.T) {
	origin := newMediaServer(t, testMedia(1024))
	mc := newTestCache(t, nil)
	api := newTestAPI(t, mc)

	resp, body := doRequest(t, http.MethodGet, api.URL+"/api/v1.0/media", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var apiResp server_structs.SimpleApiResp
	require.NoError(t, json.Unmarshal(body, &apiResp))
	assert.Equal(t, server_structs.RespFailed, apiResp.Status)

	origin.set(func(ms *mediaServer) { ms.failStatus = http.StatusNotFound })
	origin.failCount.Store(1)
	resp, _ = doRequest(t, http.MethodGet, mediaURL(api, origin.URL+"/missing.mp4"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	origin.set(func(ms *mediaServer) { ms.contentType = "text/html" })
	resp, _ = doRequest(t, http.MethodGet, mediaURL(api, origin.URL+"/page.html"), "")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestPlanEndpoint(t *testing.T) {
	data := testMedia(4096)
	origin := newMediaServer(t, data)
	mc := newTestCache(t, nil)
	api := newTestAPI(t, mc)
	originURL := origin.URL + "/clip.mp4"

	_, _ = doRequest(t, http.MethodGet, mediaURL(api, originURL), "bytes=1000-1999")

	resp, body := doRequest(t, http.MethodGet,
		api.URL+"/api/v1.0/media/plan?range=0-3000&url="+url.QueryEscape(originURL), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var plan PlanResp
	require.NoError(t, json.Unmarshal(body, &plan))
	assert.Equal(t, byte_range.New(0, 3000), plan.Range)
	// The probe cached the first two bytes
	assert.Equal(t, []Action{
		Local(byte_range.New(0, 2)),
		Remote(byte_range.New(2, 1000)),
		Local(byte_range.New(1000, 2000)),
		Remote(byte_range.New(2000, 3000)),
	}, plan.Actions)
	assert.Contains(t, string(body), `"kind":"remote"`)

	resp, _ = doRequest(t, http.MethodGet,
		api.URL+"/api/v1.0/media/plan?range=30-10&url="+url.QueryEscape(originURL), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseRangeParam(t *testing.T) {
	r, err := parseRangeParam("10-20")
	require.NoError(t, err)
	assert.Equal(t, byte_range.New(10, 20), r)
	for _, bad := range []string{"", "10", "a-2", "1-b", "5-5", "-1-3"} {
		_, err := parseRangeParam(bad)
		assert.ErrorIs(t, err, ErrInvalidRange, bad)
	}
}

func TestManagementEndpoints(t *testing.T) {
	origin := newMediaServer(t, testMedia(2048))
	mc := newTestCache(t, func(cfg *Config) { cfg.SizeLimit = 1024 })
	api := newTestAPI(t, mc)
	first := origin.URL + "/first.mp4"
	second := origin.URL + "/second.mp4"
	_, _ = doRequest(t, http.MethodGet, mediaURL(api, first), "")
	_, _ = doRequest(t, http.MethodGet, mediaURL(api, second), "")

	resp, body := doRequest(t, http.MethodGet, api.URL+"/api/v1.0/media/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 2, stats.Resources)
	assert.Equal(t, int64(4096), stats.SizeBytes)

	resp, body = doRequest(t, http.MethodGet, api.URL+"/api/v1.0/media/usage", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var usage []RankedUsage
	require.NoError(t, json.Unmarshal(body, &usage))
	assert.Len(t, usage, 2)

	post := func(path, payload string) (*http.Response, []byte) {
		resp, err := http.Post(api.URL+path, "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, body
	}

	resp, _ = post("/api/v1.0/media/clean", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = post("/api/v1.0/media/clean", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	busy := NewResource(second, "")
	mc.inFlight.acquire(busy)
	resp, _ = post("/api/v1.0/media/clean", `{"url": "`+second+`"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	mc.inFlight.release(busy.CacheKey)

	resp, body = post("/api/v1.0/media/clean", `{"key": "`+ComputeCacheKey(first)+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.False(t, mc.files.Exists(NewResource(first, "")))

	resp, body = post("/api/v1.0/media/check_usage", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var checked server_structs.CheckUsageResp
	require.NoError(t, json.Unmarshal(body, &checked))
	assert.Equal(t, []string{busy.CacheKey}, checked.Evicted)

	resp, _ = post("/api/v1.0/media/clean", `{"all": true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, mc.lru.Len())
}
