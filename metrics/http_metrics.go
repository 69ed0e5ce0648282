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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP-level metrics for the cache API.  The route label is the gin route
// template, never the raw path, so origin URLs do not leak into labels.

var (
	HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_http_requests_total",
		Help: "Total number of HTTP requests processed",
	}, []string{"method", "route", "code"})

	HttpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediacache_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	HttpBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_http_bytes_total",
		Help: "Total response bytes written by the HTTP server",
	}, []string{"method", "route"})

	HttpActiveRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacache_http_active_requests",
		Help: "Number of HTTP requests currently being processed",
	}, []string{"method"})

	// Responses of at least LargeTransferThreshold bytes
	HttpLargeTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_http_large_transfers_total",
		Help: "Total number of HTTP responses larger than 100MB",
	}, []string{"method"})
)

// Route label used for requests that matched no route
const RouteUnmatched = "unmatched"

const LargeTransferThreshold = 100 * 1024 * 1024
