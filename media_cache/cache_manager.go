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
	"context"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/pelicanplatform/mediacache/byte_range"
	"github.com/pelicanplatform/mediacache/metrics"
)

// WriteMode controls whether fetched bytes are written to the cache.
type WriteMode string

const (
	// WriteModeDefault always writes
	WriteModeDefault WriteMode = "default"
	// WriteModeAuto writes while the free disk space exceeds the size limit
	WriteModeAuto WriteMode = "auto"
	// WriteModeManual writes only while enabled through SetAllowWrite
	WriteModeManual WriteMode = "manual"
)

const (
	minCheckUsageInterval = 10 * time.Second
	freeSpaceRecheck      = 5 * time.Second
)

// Config holds every tunable of a MediaCache.
type Config struct {
	DataLocation         string
	SizeLimit            int64
	WriteMode            WriteMode
	TimeWeight           int64
	UseWeight            int64
	FetchTimeout         time.Duration
	MaxConcurrentFetches int
	ChunkSize            int
	PacketLimit          int64
	RetryBudget          int
	MaxDownloadSpeed     int64
	AutoCheckUsage       bool
	CheckUsageInterval   time.Duration
	ReadPacing           time.Duration

	// Origin overrides the HTTP origin, mostly for tests
	Origin Origin
	// Clock overrides time.Now for usage bookkeeping
	Clock func() time.Time
}

// DefaultConfig returns the default configuration rooted at dataLocation.
func DefaultConfig(dataLocation string) Config {
	return Config{
		DataLocation:         dataLocation,
		SizeLimit:            int64(units.GiB),
		WriteMode:            WriteModeDefault,
		TimeWeight:           DefaultTimeWeight,
		UseWeight:            DefaultUseWeight,
		FetchTimeout:         defaultFetchTimeout,
		MaxConcurrentFetches: 8,
		ChunkSize:            DefaultChunkSize,
		PacketLimit:          PacketLimit,
		RetryBudget:          DefaultRetryBudget,
		AutoCheckUsage:       true,
		CheckUsageInterval:   time.Minute,
	}
}

func (cfg *Config) applyDefaults() error {
	if cfg.DataLocation == "" {
		return errors.New("media cache data location is not set")
	}
	def := DefaultConfig(cfg.DataLocation)
	switch cfg.WriteMode {
	case "":
		cfg.WriteMode = WriteModeDefault
	case WriteModeDefault, WriteModeAuto, WriteModeManual:
	default:
		return errors.Errorf("unknown write mode %q", cfg.WriteMode)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = def.MaxConcurrentFetches
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.PacketLimit <= 0 {
		cfg.PacketLimit = def.PacketLimit
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	if cfg.CheckUsageInterval < minCheckUsageInterval {
		cfg.CheckUsageInterval = minCheckUsageInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return nil
}

// MediaCache coordinates fetch sessions, coverage metadata, usage tracking
// and capacity enforcement for one cache directory.
type MediaCache struct {
	cfg    Config
	db     *CacheDB
	files  *FileStore
	lru    *LRUPolicy
	origin Origin

	inFlight *inFlightRegistry
	fetchSem *semaphore.Weighted

	metaMu    sync.Mutex
	metas     map[string]*CacheMetadata
	metaGroup singleflight.Group

	sessionsMu sync.Mutex
	sessions   map[string]*Session
	sessionWG  sync.WaitGroup

	allowWrite     atomic.Bool
	manualWrites   atomic.Bool
	freeSpaceOK    atomic.Bool
	freeCheckedAt  atomic.Int64
	lastUsageCheck atomic.Int64
	usageGroup     singleflight.Group
	backgroundWG   sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New opens the cache described by cfg.  Background maintenance runs in
// egrp until ctx is cancelled, at which point the cache closes itself.
func New(ctx context.Context, egrp *errgroup.Group, cfg Config) (*MediaCache, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	db, err := NewCacheDB(cfg.DataLocation)
	if err != nil {
		return nil, err
	}
	files, err := NewFileStore(cfg.DataLocation, egrp)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	lru := NewLRUPolicy(db, cfg.Clock)
	lru.SetWeights(cfg.TimeWeight, cfg.UseWeight)
	if err := lru.Load(); err != nil {
		files.Close()
		_ = db.Close()
		return nil, err
	}

	origin := cfg.Origin
	if origin == nil {
		origin = NewHTTPOrigin(OriginOptions{
			Timeout:          cfg.FetchTimeout,
			MaxDownloadSpeed: cfg.MaxDownloadSpeed,
			UserAgent:        "mediacache",
		})
	}

	mc := &MediaCache{
		cfg:      cfg,
		db:       db,
		files:    files,
		lru:      lru,
		origin:   origin,
		inFlight: newInFlightRegistry(),
		fetchSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentFetches)),
		metas:    make(map[string]*CacheMetadata),
		sessions: make(map[string]*Session),
	}
	mc.allowWrite.Store(true)
	mc.manualWrites.Store(cfg.WriteMode == WriteModeManual)
	metrics.MediaCacheLimitBytes.Set(float64(cfg.SizeLimit))
	metrics.SetComponentHealthStatus(metrics.MediaCache_Store, metrics.StatusOK, "")

	db.StartGC(ctx, egrp)
	if cfg.AutoCheckUsage {
		mc.startUsageLoop(ctx, egrp)
	}
	egrp.Go(func() error {
		<-ctx.Done()
		return mc.Close()
	})

	log.Infof("Media cache at %s opened with a limit of %s (%d tracked resources)",
		cfg.DataLocation, units.Base2Bytes(cfg.SizeLimit).String(), lru.Len())
	return mc, nil
}

// Config returns the effective configuration.
func (mc *MediaCache) Config() Config {
	return mc.cfg
}

// metadata returns the loaded coverage record of res, reading it from the
// database (and reconciling it with the data file) on first use.
func (mc *MediaCache) metadata(res Resource) (*CacheMetadata, error) {
	mc.metaMu.Lock()
	meta, ok := mc.metas[res.CacheKey]
	mc.metaMu.Unlock()
	if ok {
		return meta, nil
	}

	v, err, _ := mc.metaGroup.Do(res.CacheKey, func() (interface{}, error) {
		mc.metaMu.Lock()
		if meta, ok := mc.metas[res.CacheKey]; ok {
			mc.metaMu.Unlock()
			return meta, nil
		}
		mc.metaMu.Unlock()

		rec, err := mc.db.GetMetadata(res.CacheKey)
		if err != nil {
			return nil, err
		}
		meta := loadCacheMetadata(res, rec, mc.db, mc.cfg.Clock)
		if rec != nil {
			size, err := mc.files.Size(res)
			if err != nil {
				return nil, errors.Wrap(err, "failed to stat data file")
			}
			if meta.reconcile(size) {
				log.Warnf("Coverage of %s exceeded its %d byte data file; clipped", res.OriginURL, size)
				meta.persistOrWarn()
			}
		}

		mc.metaMu.Lock()
		mc.metas[res.CacheKey] = meta
		mc.metaMu.Unlock()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CacheMetadata), nil
}

func (mc *MediaCache) forgetMetadata(cacheKey string) {
	mc.metaMu.Lock()
	delete(mc.metas, cacheKey)
	mc.metaMu.Unlock()
}

// Metadata returns a snapshot of the coverage record of res.
func (mc *MediaCache) Metadata(res Resource) (MetadataSnapshot, error) {
	meta, err := mc.metadata(res)
	if err != nil {
		return MetadataSnapshot{}, err
	}
	return meta.Snapshot(), nil
}

// PlanActions returns the plan a session would execute for r right now.
func (mc *MediaCache) PlanActions(res Resource, r byte_range.ByteRange) ([]Action, error) {
	meta, err := mc.metadata(res)
	if err != nil {
		return nil, err
	}
	return PlanActions(r, meta, mc.cfg.PacketLimit), nil
}

// BeginFetch starts a session serving req for res.  The session runs on
// the bounded fetch pool; its callbacks report the outcome.
func (mc *MediaCache) BeginFetch(ctx context.Context, res Resource, req Request, cb Callbacks) (*Session, error) {
	if mc.closed.Load() {
		return nil, ErrCacheClosed
	}
	// Register before loading the metadata so a cleanup cannot drop it
	// under the session
	if !mc.inFlight.acquire(res) {
		return nil, errors.Wrapf(ErrResourceBusy, "%s is being cleaned", res.OriginURL)
	}
	meta, err := mc.metadata(res)
	if err != nil {
		mc.inFlight.release(res.CacheKey)
		return nil, err
	}

	if _, err := mc.lru.Use(res.CacheKey, res.OriginURL); err != nil {
		log.Warnln("Usage update failed:", err)
	}

	s := newSession(ctx, res, req, cb, meta, mc.files, mc.origin, mc.WritesAllowed, sessionOptions{
		chunkSize:   mc.cfg.ChunkSize,
		packetLimit: mc.cfg.PacketLimit,
		retryBudget: mc.cfg.RetryBudget,
		readPacing:  mc.cfg.ReadPacing,
	})
	s.onEnd = func() { mc.endSession(s) }

	mc.sessionsMu.Lock()
	if mc.closed.Load() {
		mc.sessionsMu.Unlock()
		mc.inFlight.release(res.CacheKey)
		s.cancel()
		return nil, ErrCacheClosed
	}
	mc.sessions[s.ID()] = s
	mc.sessionWG.Add(1)
	mc.sessionsMu.Unlock()
	metrics.MediaCacheActiveSessions.Inc()

	go func() {
		if err := mc.fetchSem.Acquire(s.ctx, 1); err != nil {
			s.fail(ErrCancelled)
			return
		}
		defer mc.fetchSem.Release(1)
		s.run()
	}()
	return s, nil
}

// endSession unregisters a session that reached its final state.
func (mc *MediaCache) endSession(s *Session) {
	mc.sessionsMu.Lock()
	delete(mc.sessions, s.ID())
	mc.sessionsMu.Unlock()
	mc.inFlight.release(s.res.CacheKey)
	metrics.MediaCacheActiveSessions.Dec()

	// Start the check before Done so that Close waits for it
	if mc.cfg.AutoCheckUsage && !mc.closed.Load() {
		mc.maybeCheckUsage()
	}
	mc.sessionWG.Done()
}

// Cancel stops the session with the given ID.
func (mc *MediaCache) Cancel(sessionID string) error {
	mc.sessionsMu.Lock()
	s, ok := mc.sessions[sessionID]
	mc.sessionsMu.Unlock()
	if !ok {
		return errors.Errorf("no active session %s", sessionID)
	}
	s.Cancel()
	return nil
}

// Sessions returns the progress of every running session.
func (mc *MediaCache) Sessions() []SessionStats {
	mc.sessionsMu.Lock()
	defer mc.sessionsMu.Unlock()
	stats := make([]SessionStats, 0, len(mc.sessions))
	for _, s := range mc.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}

// ContentInfo returns the descriptor of res, probing the origin for it if
// it is not known yet.
func (mc *MediaCache) ContentInfo(ctx context.Context, res Resource) (ContentInfo, error) {
	meta, err := mc.metadata(res)
	if err != nil {
		return ContentInfo{}, err
	}
	if info := meta.ContentInfo(); info.IsKnown() {
		return info, nil
	}
	s, err := mc.BeginFetch(ctx, res, RangeRequest(byte_range.New(0, ProbeLength)), Callbacks{})
	if err != nil {
		return ContentInfo{}, err
	}
	if err := s.Err(); err != nil {
		return ContentInfo{}, err
	}
	info := s.meta.ContentInfo()
	if !info.IsKnown() {
		return info, ErrUnknownLength
	}
	return info, nil
}

// Use records an access to res without fetching anything.
func (mc *MediaCache) Use(res Resource) error {
	_, err := mc.lru.Use(res.CacheKey, res.OriginURL)
	return err
}

// Usage returns the eviction ranking of all tracked resources, oldest
// first.
func (mc *MediaCache) Usage() []RankedUsage {
	return mc.lru.Rank(nil)
}

// SetAllowWrite enables or disables writes explicitly.  It switches the
// cache to manual write mode, whatever mode it was configured with.
func (mc *MediaCache) SetAllowWrite(allow bool) {
	mc.allowWrite.Store(allow)
	mc.manualWrites.Store(true)
}

// WriteMode returns the current write mode.
func (mc *MediaCache) WriteMode() WriteMode {
	if mc.manualWrites.Load() {
		return WriteModeManual
	}
	return mc.cfg.WriteMode
}

// WritesAllowed reports whether sessions currently write fetched bytes.
func (mc *MediaCache) WritesAllowed() bool {
	switch mc.WriteMode() {
	case WriteModeManual:
		return mc.allowWrite.Load()
	case WriteModeAuto:
		now := time.Now().UnixNano()
		last := mc.freeCheckedAt.Load()
		if now-last > int64(freeSpaceRecheck) && mc.freeCheckedAt.CompareAndSwap(last, now) {
			free, err := freeSpace(mc.files.Dir())
			if err != nil {
				log.Warnln("Disabling cache writes:", err)
			}
			mc.freeSpaceOK.Store(err == nil && free > uint64(max(mc.cfg.SizeLimit, 0)))
		}
		return mc.freeSpaceOK.Load()
	default:
		return true
	}
}

// Clean removes the cached artifacts of res.  With reserve set and a
// reserved length recorded, the data file is truncated to that length
// instead and the usage record kept.
func (mc *MediaCache) Clean(res Resource, reserve bool) error {
	if !mc.inFlight.tryAcquireIdle(res) {
		return errors.Wrapf(ErrResourceBusy, "cannot clean %s", res.OriginURL)
	}
	defer mc.inFlight.release(res.CacheKey)
	_, err := mc.cleanIdle(res, reserve)
	return err
}

// cleanIdle cleans a resource already held in the registry.  It reports
// whether the data file was truncated rather than deleted.
func (mc *MediaCache) cleanIdle(res Resource, reserve bool) (truncated bool, err error) {
	meta, err := mc.metadata(res)
	if err != nil {
		return false, err
	}

	if reserved := meta.ReservedLength(); reserve && reserved > 0 {
		size, err := mc.files.Size(res)
		if err != nil {
			return false, err
		}
		if size > reserved {
			if err := mc.files.Truncate(res, reserved); err != nil {
				return false, err
			}
		}
		meta.ResetFragments(byte_range.New(0, min(size, reserved)))
		if err := meta.Persist(); err != nil {
			return true, err
		}
		log.Debugf("Truncated %s to its reserved %d bytes", res.OriginURL, reserved)
		return true, nil
	}

	if err := mc.files.Remove(res); err != nil {
		return false, err
	}
	if err := mc.db.DeleteMetadata(res.CacheKey); err != nil {
		return false, errors.Wrap(err, "failed to delete metadata")
	}
	mc.forgetMetadata(res.CacheKey)
	if err := mc.lru.Remove(res.CacheKey); err != nil {
		return false, err
	}
	log.Debugf("Removed %s from the cache", res.OriginURL)
	return false, nil
}

// CleanAll deletes every resource that is not being fetched.  It also
// removes data files that have no metadata.
func (mc *MediaCache) CleanAll() error {
	var victims []Resource
	err := mc.db.ScanMetadata(func(cacheKey string, rec *metadataRecord) error {
		victims = append(victims, Resource{CacheKey: cacheKey, OriginURL: rec.URL})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to scan metadata")
	}
	for _, rec := range mc.lru.Rank(nil) {
		victims = append(victims, Resource{CacheKey: rec.Key, OriginURL: rec.URL})
	}

	var firstErr error
	seen := make(map[string]bool)
	removed := 0
	for _, res := range victims {
		if seen[res.CacheKey] {
			continue
		}
		seen[res.CacheKey] = true
		if !mc.inFlight.tryAcquireIdle(res) {
			log.Debugf("Keeping in-flight resource %s", res.OriginURL)
			continue
		}
		_, err := mc.cleanIdle(res, false)
		mc.inFlight.release(res.CacheKey)
		if err != nil {
			log.Warnf("Failed to clean %s: %v", res.OriginURL, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}

	// Whatever is left in the data directory belongs to nothing we track
	files, err := mc.files.List()
	if err != nil {
		return err
	}
	keep := make(map[string]bool)
	for _, res := range mc.inFlight.snapshot() {
		keep[res.DataFileName()] = true
	}
	for _, f := range files {
		if keep[f.Name] {
			continue
		}
		if err := mc.files.RemoveFile(f.Name); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	inFlight := mc.inFlight.snapshot()
	if err := mc.lru.Retain(func(key string) bool {
		_, ok := inFlight[key]
		return ok
	}); err != nil && firstErr == nil {
		firstErr = err
	}
	log.Infof("Cleaned %d resources from the cache", removed)
	return firstErr
}

// CalculateSize returns the total size of all data files.  The metadata
// store is not counted.
func (mc *MediaCache) CalculateSize() (int64, error) {
	return mc.files.TotalSize()
}

// CheckUsage evicts resources, oldest first by the LRU ranking, until the
// cache fits its size limit.  The first sweep truncates resources that
// have a reserved length; if that is not enough a second sweep deletes.
// Each resource is tried at most once per sweep, so the loop terminates.
func (mc *MediaCache) CheckUsage() ([]string, error) {
	v, err, _ := mc.usageGroup.Do("check", func() (interface{}, error) {
		return mc.checkUsage()
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (mc *MediaCache) checkUsage() ([]string, error) {
	mc.lastUsageCheck.Store(time.Now().UnixNano())
	size, err := mc.CalculateSize()
	if err != nil {
		return nil, err
	}
	metrics.MediaCacheUsageBytes.Set(float64(size))
	limit := mc.cfg.SizeLimit
	if limit <= 0 || size <= limit {
		metrics.SetComponentHealthStatus(metrics.MediaCache_Usage, metrics.StatusOK, "")
		return []string{}, nil
	}
	log.Infof("Cache usage %s exceeds limit %s; evicting",
		units.Base2Bytes(size).String(), units.Base2Bytes(limit).String())

	evicted := []string{}
	counted := make(map[string]bool)
	tried := make(map[string]bool)
	reserve := true
	for size > limit {
		keys := mc.lru.Oldest(1, func(key string) bool {
			return tried[key] || mc.inFlight.contains(key)
		})
		if len(keys) == 0 {
			if reserve {
				reserve = false
				tried = make(map[string]bool)
				continue
			}
			log.Warnf("Cache usage %s still exceeds limit with nothing left to evict", units.Base2Bytes(size).String())
			metrics.SetComponentHealthStatus(metrics.MediaCache_Usage, metrics.StatusWarning,
				"usage "+units.Base2Bytes(size).String()+" exceeds the limit and nothing is evictable")
			break
		}

		key := keys[0]
		tried[key] = true
		rec, _ := mc.lru.Get(key)
		res := Resource{CacheKey: key, OriginURL: rec.URL}
		if !mc.inFlight.tryAcquireIdle(res) {
			continue
		}
		truncated, err := mc.cleanIdle(res, reserve)
		mc.inFlight.release(key)
		if err != nil {
			log.Warnf("Failed to evict %s: %v", rec.URL, err)
			continue
		}
		mode := "delete"
		if truncated {
			mode = "reserve"
		}
		metrics.MediaCacheEvictions.WithLabelValues(mode).Inc()
		if !counted[key] {
			counted[key] = true
			evicted = append(evicted, key)
		}

		if size, err = mc.CalculateSize(); err != nil {
			return evicted, err
		}
	}
	metrics.MediaCacheUsageBytes.Set(float64(size))
	if size <= limit {
		metrics.SetComponentHealthStatus(metrics.MediaCache_Usage, metrics.StatusOK, "")
	}
	return evicted, nil
}

// maybeCheckUsage starts a usage check unless one ran within the
// configured interval.
func (mc *MediaCache) maybeCheckUsage() {
	last := mc.lastUsageCheck.Load()
	now := time.Now().UnixNano()
	if now-last < int64(mc.cfg.CheckUsageInterval) || !mc.lastUsageCheck.CompareAndSwap(last, now) {
		return
	}
	mc.backgroundWG.Add(1)
	go func() {
		defer mc.backgroundWG.Done()
		if _, err := mc.CheckUsage(); err != nil {
			log.Warnln("Usage check failed:", err)
		}
	}()
}

func (mc *MediaCache) startUsageLoop(ctx context.Context, egrp *errgroup.Group) {
	egrp.Go(func() error {
		ticker := time.NewTicker(mc.cfg.CheckUsageInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := mc.CheckUsage(); err != nil {
					log.Warnln("Periodic usage check failed:", err)
				}
			}
		}
	})
}

// Import seeds the cache with a fully downloaded copy of res.  The whole
// file becomes the reserved length, so a soft clean keeps it.
func (mc *MediaCache) Import(res Resource, src string, info ContentInfo) error {
	if !mc.inFlight.tryAcquireIdle(res) {
		return errors.Wrapf(ErrResourceBusy, "cannot import %s", res.OriginURL)
	}
	defer mc.inFlight.release(res.CacheKey)

	meta, err := mc.metadata(res)
	if err != nil {
		return err
	}
	n, err := mc.files.Import(res, src)
	if err != nil {
		return err
	}
	if info.Type == "" {
		info.Type = guessMimeType(res.OriginURL)
	}
	if info.TotalLength <= 0 {
		info.TotalLength = n
	}
	if !info.ByteRangeAccessSupported {
		info.ByteRangeAccessSupported = true
	}
	meta.UpdateContentInfo(info, true)
	meta.ResetFragments(byte_range.New(0, n))
	meta.SetReservedLength(n)
	if err := meta.Persist(); err != nil {
		return err
	}
	if _, err := mc.lru.Use(res.CacheKey, res.OriginURL); err != nil {
		log.Warnln("Usage update failed:", err)
	}
	log.Infof("Imported %d bytes for %s", n, res.OriginURL)
	return nil
}

var mediaTypes = map[string]string{
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".m3u8": "application/vnd.apple.mpegurl",
	".m4a":  "audio/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".ogv":  "video/ogg",
	".opus": "audio/opus",
	".ts":   "video/mp2t",
	".wav":  "audio/wav",
	".webm": "video/webm",
}

// guessMimeType derives a content type from the extension of the URL path.
func guessMimeType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultMimeType
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
	}
	return DefaultMimeType
}

// Synchronize flushes every open data file and persists every loaded
// metadata record.  It is the hook for lifecycle events such as the
// process going to the background.
func (mc *MediaCache) Synchronize() error {
	mc.metaMu.Lock()
	metas := make([]*CacheMetadata, 0, len(mc.metas))
	for _, meta := range mc.metas {
		metas = append(metas, meta)
	}
	mc.metaMu.Unlock()

	var firstErr error
	for _, meta := range metas {
		if err := mc.files.Sync(meta.Resource()); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := meta.Persist(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	log.Debugf("Synchronized %d resources", len(metas))
	return firstErr
}

// Stats summarizes the state of the cache.
type Stats struct {
	Resources     int            `json:"resources"`
	InFlight      int            `json:"inFlight"`
	Sessions      []SessionStats `json:"sessions"`
	SizeBytes     int64          `json:"sizeBytes"`
	LimitBytes    int64          `json:"limitBytes"`
	WriteMode     WriteMode      `json:"writeMode"`
	WritesAllowed bool           `json:"writesAllowed"`
}

func (mc *MediaCache) Stats() (Stats, error) {
	size, err := mc.CalculateSize()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Resources:     mc.lru.Len(),
		InFlight:      mc.inFlight.len(),
		Sessions:      mc.Sessions(),
		SizeBytes:     size,
		LimitBytes:    mc.cfg.SizeLimit,
		WriteMode:     mc.WriteMode(),
		WritesAllowed: mc.WritesAllowed(),
	}, nil
}

// Close cancels running sessions, persists metadata and closes the store.
func (mc *MediaCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.sessionsMu.Lock()
		mc.closed.Store(true)
		for _, s := range mc.sessions {
			s.Cancel()
		}
		mc.sessionsMu.Unlock()
		mc.sessionWG.Wait()
		mc.backgroundWG.Wait()

		if err := mc.Synchronize(); err != nil {
			log.Warnln("Final synchronize failed:", err)
		}
		mc.files.Close()
		mc.closeErr = mc.db.Close()
		metrics.SetComponentHealthStatus(metrics.MediaCache_Store, metrics.StatusCritical, "cache closed")
		log.Infof("Media cache at %s closed", mc.cfg.DataLocation)
	})
	return mc.closeErr
}
