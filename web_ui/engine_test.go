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

package web_ui

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/mediacache/metrics"
	"github.com/pelicanplatform/mediacache/param"
)

// Start an engine serving /ping on a loopback listener
func setupPingEngine(t *testing.T) (string, context.CancelFunc, *errgroup.Group) {
	param.Reset()
	t.Cleanup(param.Reset)
	require.NoError(t, param.MultiSet(map[string]interface{}{
		param.Server_WebHost.GetName(): "127.0.0.1",
		param.Server_WebPort.GetName(): 0,
	}))

	engine := GetEngine()
	engine.GET("/ping", func(ctx *gin.Context) {
		ctx.Data(http.StatusOK, "text/plain; charset=utf-8", []byte("pong"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	egrp, ctx := errgroup.WithContext(ctx)
	addr, err := RunEngine(ctx, engine, egrp)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		_ = egrp.Wait()
	})
	return "http://" + addr.String(), cancel, egrp
}

func get(t *testing.T, target string) (*http.Response, string) {
	resp, err := http.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// Serve one request, then shut down cleanly
func TestRunEngine(t *testing.T) {
	base, cancel, egrp := setupPingEngine(t)

	resp, body := get(t, base+"/ping")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", body)

	cancel()
	done := make(chan error, 1)
	go func() { done <- egrp.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		require.Fail(t, "Timeout when shutting down the engine")
	}

	_, err := net.DialTimeout("tcp", strings.TrimPrefix(base, "http://"), time.Second)
	assert.Error(t, err, "The listener is closed after shutdown")
}

func TestEngineMetrics(t *testing.T) {
	base, _, _ := setupPingEngine(t)

	before := testutil.ToFloat64(metrics.HttpRequestsTotal.WithLabelValues("GET", "/ping", "200"))
	_, _ = get(t, base+"/ping")
	_, _ = get(t, base+"/ping")
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.HttpRequestsTotal.WithLabelValues("GET", "/ping", "200")))

	resp, _ := get(t, base+"/no/such/route")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.GreaterOrEqual(t, testutil.ToFloat64(
		metrics.HttpRequestsTotal.WithLabelValues("GET", metrics.RouteUnmatched, "404")), float64(1))

	resp, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `mediacache_http_requests_total{code="200",method="GET",route="/ping"}`)
}

func TestHealthRoute(t *testing.T) {
	base, _, _ := setupPingEngine(t)

	resp, body := get(t, base+"/api/v1.0/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status metrics.HealthStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	require.Contains(t, status.ComponentStatus, metrics.Server_WebUI.String())
	assert.Equal(t, "ok", status.ComponentStatus[metrics.Server_WebUI.String()].Status)
}

func TestPprofOnlyWithDebug(t *testing.T) {
	base, _, _ := setupPingEngine(t)
	resp, _ := get(t, base+"/api/v1.0/debug/pprof/cmdline")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, param.Set(param.Debug.GetName(), true))
	engine := GetEngine()
	srv := httptestServer(t, engine)
	resp, _ = get(t, srv+"/api/v1.0/debug/pprof/cmdline")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func httptestServer(t *testing.T, engine *gin.Engine) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	egrp := &errgroup.Group{}
	runEngineWithListener(ctx, ln, engine, egrp)
	t.Cleanup(func() {
		cancel()
		require.NoError(t, egrp.Wait())
	})
	return "http://" + ln.Addr().String()
}
