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

// Label values for the "source" label
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Label values for the "result" label of sessions
const (
	ResultFinished  = "finished"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

var (
	MediaCacheBytesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_bytes_served_total",
		Help: "Bytes delivered to clients, by the source they were read from",
	}, []string{"source"})

	MediaCacheBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_bytes_written_total",
		Help: "Bytes written to cache data files",
	})

	MediaCacheActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_actions_total",
		Help: "Planned actions executed by fetch sessions, by source",
	}, []string{"source"})

	MediaCacheFetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_fetch_retries_total",
		Help: "Retries of remote fetches after a recoverable transport failure",
	})

	MediaCacheIntegrityDemotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_integrity_demotions_total",
		Help: "Local reads that failed the read-back check and were re-fetched",
	})

	MediaCacheSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_sessions_total",
		Help: "Completed fetch sessions, by result",
	}, []string{"result"})

	MediaCacheActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacache_active_sessions",
		Help: "Fetch sessions currently running",
	})

	MediaCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_evictions_total",
		Help: "Resources removed by capacity sweeps, by mode (reserve or delete)",
	}, []string{"mode"})

	MediaCacheUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacache_usage_bytes",
		Help: "Total size of the cache data files as of the last usage check",
	})

	MediaCacheLimitBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacache_limit_bytes",
		Help: "Configured capacity limit of the cache",
	})
)
