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
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/mediacache/byte_range"
	"github.com/pelicanplatform/mediacache/metrics"
)

// SessionState is the position of a fetch session in its state machine.
type SessionState int32

const (
	StateIdle SessionState = iota
	StatePlanning
	StateExecuting
	StateReading
	StateFetching
	StateFinished
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateExecuting:
		return "executing"
	case StateReading:
		return "reading"
	case StateFetching:
		return "fetching"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Callbacks receive the output of a fetch session.  They run on the
// session goroutine, in order; exactly one of OnFinished and OnFailed is
// called, last.  Slices passed to OnData are not reused by the session.
type Callbacks struct {
	OnData        func(data []byte)
	OnContentInfo func(info ContentInfo)
	OnFinished    func()
	OnFailed      func(err error)
}

// sessionOptions are the tunables of a session, copied from Config.
type sessionOptions struct {
	chunkSize   int
	packetLimit int64
	retryBudget int
	readPacing  time.Duration
}

// SessionStats reports the progress of a session.
type SessionStats struct {
	ID        string                `json:"id"`
	URL       string                `json:"url"`
	State     string                `json:"state"`
	Delivered int64                 `json:"delivered"`
	Rate      float64               `json:"rate"`
	Current   *byte_range.ByteRange `json:"current,omitempty"`
}

// Session executes one client request: it plans the request against the
// cached coverage, then reads local ranges and fetches remote ones in
// offset order, writing fetched bytes to the cache as they arrive.
type Session struct {
	id   string
	res  Resource
	req  Request
	cb   Callbacks
	opts sessionOptions

	meta         *CacheMetadata
	files        *FileStore
	origin       Origin
	writeAllowed func() bool
	rng          *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	delivered atomic.Int64

	mu        sync.Mutex
	rate      ewma.MovingAverage
	lastChunk time.Time
	current   byte_range.ByteRange

	// onEnd runs once, before the final callback and before Done closes
	onEnd   func()
	endOnce sync.Once
	done    chan struct{}
	err     error
}

func newSession(ctx context.Context, res Resource, req Request, cb Callbacks, meta *CacheMetadata,
	files *FileStore, origin Origin, writeAllowed func() bool, opts sessionOptions) *Session {

	if writeAllowed == nil {
		writeAllowed = func() bool { return true }
	}
	if opts.retryBudget < 0 {
		opts.retryBudget = 0
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:           uuid.NewString(),
		res:          res,
		req:          req,
		cb:           cb,
		opts:         opts,
		meta:         meta,
		files:        files,
		origin:       origin,
		writeAllowed: writeAllowed,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:          sctx,
		cancel:       cancel,
		rate:         ewma.NewMovingAverage(10),
		done:         make(chan struct{}),
	}
	return s
}

// ID identifies the session for Cancel.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) Resource() Resource {
	return s.res
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Done is closed once the session reaches Finished or Failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure of a finished session, or nil.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Cancel stops the session; it reports ErrCancelled to OnFailed.
func (s *Session) Cancel() {
	s.cancel()
}

// Stats returns a snapshot of the session's progress.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := SessionStats{
		ID:        s.id,
		URL:       s.res.OriginURL,
		State:     s.State().String(),
		Delivered: s.delivered.Load(),
		Rate:      s.rate.Value(),
	}
	if s.current.IsValid() {
		cur := s.current
		stats.Current = &cur
	}
	return stats
}

func (s *Session) logger() *log.Entry {
	return log.WithFields(log.Fields{"session": s.id[:8], "url": s.res.OriginURL})
}

// run drives the state machine to completion.
func (s *Session) run() {
	s.setState(StatePlanning)
	actions, r, probe, err := PlanRequest(s.req, s.meta, s.opts.packetLimit)
	if err != nil {
		s.fail(err)
		return
	}

	for {
		s.logger().Debugf("Planned %d actions for %s (probe=%v)", len(actions), r, probe)

		if err := s.execute(actions, !probe); err != nil {
			s.fail(err)
			return
		}
		if !probe {
			break
		}

		// The probe filled in the content info; now serve the real request
		probe = false
		s.setState(StatePlanning)
		info := s.meta.ContentInfo()
		if !info.IsKnown() {
			s.fail(&TransportError{URL: s.res.OriginURL, Err: errors.New("origin did not report a total length")})
			return
		}
		r = byte_range.New(s.req.Offset, info.TotalLength)
		if !r.IsValid() {
			// Offset at or past the end: nothing left to deliver
			break
		}
		actions = PlanActions(r, s.meta, s.opts.packetLimit)
	}
	s.finish()
}

// execute runs the actions in order.  When deliver is false fetched bytes
// are cached but not handed to the client.
func (s *Session) execute(actions []Action, deliver bool) error {
	queue := append([]Action(nil), actions...)
	for len(queue) > 0 {
		if s.ctx.Err() != nil {
			return ErrCancelled
		}
		action := queue[0]
		queue = queue[1:]
		s.setState(StateExecuting)
		s.mu.Lock()
		s.current = action.Range
		s.mu.Unlock()

		switch action.Kind {
		case ActionLocal:
			s.setState(StateReading)
			if err := s.readLocal(action.Range, deliver); err != nil {
				if !errors.Is(err, ErrIntegrity) {
					return err
				}
				s.logger().Debugf("Local read of %s failed its check, fetching it again: %v", action.Range, err)
				metrics.MediaCacheIntegrityDemotions.Inc()
				queue = append([]Action{Remote(action.Range)}, queue...)
				continue
			}
			metrics.MediaCacheActions.WithLabelValues(metrics.SourceLocal).Inc()
			if len(queue) > 0 && queue[0].Kind == ActionLocal && s.opts.readPacing > 0 {
				if err := s.pause(s.opts.readPacing); err != nil {
					return err
				}
			}
		case ActionRemote:
			s.setState(StateFetching)
			if err := s.fetchRemote(action.Range, deliver); err != nil {
				return err
			}
			metrics.MediaCacheActions.WithLabelValues(metrics.SourceRemote).Inc()
		}
	}
	return nil
}

func (s *Session) pause(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.ctx.Done():
		return ErrCancelled
	}
}

// readLocal serves r from the data file.  A short read or a failed
// read-back check yields ErrIntegrity; data at offset zero is trusted.
func (s *Session) readLocal(r byte_range.ByteRange, deliver bool) error {
	buf := make([]byte, r.Len())
	n, err := s.files.ReadAt(s.res, buf, r.Lower)
	if int64(n) != r.Len() {
		return errors.Wrapf(ErrIntegrity, "read %d of %d bytes at %d (%v)", n, r.Len(), r.Lower, err)
	}
	if r.Lower != 0 && !sampleChecksum(buf, ChecksumBlockSize, s.rng) {
		return errors.Wrapf(ErrIntegrity, "range %s", r)
	}
	if deliver {
		s.deliver(buf, metrics.SourceLocal)
	}
	return nil
}

// fetchRemote downloads r, retrying recoverable failures for the bytes not
// yet received.  The retry budget applies to this action only.
func (s *Session) fetchRemote(r byte_range.ByteRange, deliver bool) error {
	cursor := r.Lower
	retries := 0
	for {
		err := s.fetchOnce(byte_range.New(cursor, r.Upper), deliver, &cursor)
		if err == nil {
			return nil
		}
		if s.ctx.Err() != nil || errors.Is(err, ErrCancelled) {
			return ErrCancelled
		}
		if cursor >= r.Upper {
			return nil
		}
		if !IsRetryable(err) || retries >= s.opts.retryBudget {
			s.logger().Warnf("Fetch of %s failed after %d retries: %v", r, retries, err)
			return err
		}
		retries++
		metrics.MediaCacheFetchRetries.Inc()
		s.logger().Infof("Retrying fetch of %s from offset %d (attempt %d of %d): %v",
			r, cursor, retries, s.opts.retryBudget, err)
	}
}

// fetchOnce issues one ranged request and streams it into the cache,
// advancing cursor past every byte received.
func (s *Session) fetchOnce(r byte_range.ByteRange, deliver bool, cursor *int64) error {
	resp, err := s.origin.Fetch(s.ctx, s.res.OriginURL, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	s.recordContentInfo(resp.Info)

	chunks := newChunkReader(resp.Body, s.opts.chunkSize)
	for {
		data, rerr := chunks.Next()
		if len(data) > 0 {
			s.storeChunk(*cursor, data, deliver)
			*cursor += int64(len(data))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if *cursor >= r.Upper {
		return nil
	}
	// The origin ran out of bytes before the end of the request
	if info := s.meta.ContentInfo(); info.IsKnown() && *cursor >= info.TotalLength {
		return nil
	}
	if resp.Range.Upper <= *cursor {
		return nil
	}
	return &TransportError{URL: s.res.OriginURL, Retryable: true, Err: io.ErrUnexpectedEOF}
}

// recordContentInfo stores the descriptor of the first response.
func (s *Session) recordContentInfo(info ContentInfo) {
	if !s.meta.UpdateContentInfo(info, false) {
		return
	}
	s.logger().Debugf("Content info: type %s, length %d, ranges %v",
		info.Type, info.TotalLength, info.ByteRangeAccessSupported)
	s.meta.persistOrWarn()
	if s.cb.OnContentInfo != nil {
		s.cb.OnContentInfo(info)
	}
}

// storeChunk writes a chunk to the data file (when writes are allowed),
// extends the coverage only once the write succeeded, and delivers it.
func (s *Session) storeChunk(offset int64, data []byte, deliver bool) {
	if s.writeAllowed() {
		n, err := s.files.WriteAt(s.res, data, offset)
		if n > 0 {
			s.meta.AddFragment(byte_range.New(offset, offset+int64(n)))
			metrics.MediaCacheBytesWritten.Add(float64(n))
		}
		if err != nil {
			s.logger().Warnf("Failed to write %d bytes at %d to cache: %v", len(data), offset, err)
		}
	}
	if deliver && s.ctx.Err() == nil {
		s.deliver(data, metrics.SourceRemote)
	}
}

func (s *Session) deliver(data []byte, source string) {
	s.delivered.Add(int64(len(data)))
	metrics.MediaCacheBytesServed.WithLabelValues(source).Add(float64(len(data)))

	s.mu.Lock()
	now := time.Now()
	if !s.lastChunk.IsZero() {
		if elapsed := now.Sub(s.lastChunk).Seconds(); elapsed > 0 {
			s.rate.Add(float64(len(data)) / elapsed)
		}
	}
	s.lastChunk = now
	s.mu.Unlock()

	if s.cb.OnData != nil {
		s.cb.OnData(data)
	}
}

func (s *Session) finish() {
	s.endOnce.Do(func() {
		s.meta.persistOrWarn()
		s.setState(StateFinished)
		s.logger().Debugf("Session finished after delivering %d bytes", s.delivered.Load())
		metrics.MediaCacheSessions.WithLabelValues(metrics.ResultFinished).Inc()
		if s.onEnd != nil {
			s.onEnd()
		}
		if s.cb.OnFinished != nil {
			s.cb.OnFinished()
		}
		s.cancel()
		close(s.done)
	})
}

func (s *Session) fail(err error) {
	s.endOnce.Do(func() {
		s.meta.persistOrWarn()
		s.err = err
		s.setState(StateFailed)
		if errors.Is(err, ErrCancelled) {
			s.logger().Debugln("Session cancelled")
			metrics.MediaCacheSessions.WithLabelValues(metrics.ResultCancelled).Inc()
		} else {
			s.logger().Warnf("Session failed: %v", err)
			metrics.MediaCacheSessions.WithLabelValues(metrics.ResultFailed).Inc()
		}
		if s.onEnd != nil {
			s.onEnd()
		}
		if s.cb.OnFailed != nil {
			s.cb.OnFailed(err)
		}
		s.cancel()
		close(s.done)
	})
}
