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
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/mediacache/metrics"
	"github.com/pelicanplatform/mediacache/param"
)

const shutdownTimeout = 10 * time.Second

// ConfigureMetrics exposes the Prometheus registry and the component
// health report.
func ConfigureMetrics(engine *gin.Engine) {
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/api/v1.0/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, metrics.GetHealthStatus())
	})
}

// GetEngine returns a gin engine with recovery, request logging, HTTP
// metrics and the scrape endpoint installed.  The pprof routes are added
// when Debug is set.
func GetEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	webLogger := log.WithFields(log.Fields{"daemon": "gin"})
	engine.Use(func(ctx *gin.Context) {
		startTime := time.Now()

		ctx.Next()

		latency := time.Since(startTime)
		webLogger.WithFields(log.Fields{"method": ctx.Request.Method,
			"status":   ctx.Writer.Status(),
			"time":     latency.String(),
			"client":   ctx.RemoteIP(),
			"resource": ctx.Request.URL.Path},
		).Debug("Served Request")
	})
	engine.Use(httpMetricsMiddleware)
	ConfigureMetrics(engine)
	if param.Debug.GetBool() {
		configurePprof(engine)
	}
	return engine
}

// RunEngine serves engine on Server.WebHost:Server.WebPort until ctx is
// cancelled.  The server goroutines run in egrp.
func RunEngine(ctx context.Context, engine *gin.Engine, egrp *errgroup.Group) (net.Addr, error) {
	addr := fmt.Sprintf("%v:%v", param.Server_WebHost.GetString(), param.Server_WebPort.GetInt())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.SetComponentHealthStatus(metrics.Server_WebUI, metrics.StatusCritical, err.Error())
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	log.Infoln("Starting web engine at address", ln.Addr().String())
	runEngineWithListener(ctx, ln, engine, egrp)
	return ln.Addr(), nil
}

func runEngineWithListener(ctx context.Context, ln net.Listener, engine *gin.Engine, egrp *errgroup.Group) {
	srv := &http.Server{
		Handler:           engine.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metrics.SetComponentHealthStatus(metrics.Server_WebUI, metrics.StatusOK, "")

	egrp.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metrics.SetComponentHealthStatus(metrics.Server_WebUI, metrics.StatusCritical, err.Error())
			return errors.Wrap(err, "web engine failed")
		}
		return nil
	})
	egrp.Go(func() error {
		<-ctx.Done()
		log.Debugln("Shutting down the web engine")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		metrics.DeleteComponentHealthStatus(metrics.Server_WebUI)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
}
