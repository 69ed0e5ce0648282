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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pelicanplatform/mediacache/metrics"
)

// metricsResponseWriter wraps gin.ResponseWriter to count the bytes written
type metricsResponseWriter struct {
	gin.ResponseWriter
	bytesWritten int64
}

func (mrw *metricsResponseWriter) Write(data []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(data)
	mrw.bytesWritten += int64(n)
	return n, err
}

func (mrw *metricsResponseWriter) WriteString(s string) (int, error) {
	n, err := mrw.ResponseWriter.WriteString(s)
	mrw.bytesWritten += int64(n)
	return n, err
}

// httpMetricsMiddleware records request counts, latency and response bytes
func httpMetricsMiddleware(c *gin.Context) {
	start := time.Now()
	method := c.Request.Method

	metrics.HttpActiveRequests.WithLabelValues(method).Inc()
	defer metrics.HttpActiveRequests.WithLabelValues(method).Dec()

	mrw := &metricsResponseWriter{ResponseWriter: c.Writer}
	c.Writer = mrw

	c.Next()

	route := c.FullPath()
	if route == "" {
		route = metrics.RouteUnmatched
	}
	code := strconv.Itoa(c.Writer.Status())
	metrics.HttpRequestsTotal.WithLabelValues(method, route, code).Inc()
	metrics.HttpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	if mrw.bytesWritten > 0 {
		metrics.HttpBytesTotal.WithLabelValues(method, route).Add(float64(mrw.bytesWritten))
	}
	if mrw.bytesWritten >= metrics.LargeTransferThreshold {
		metrics.HttpLargeTransfersTotal.WithLabelValues(method).Inc()
	}
}
