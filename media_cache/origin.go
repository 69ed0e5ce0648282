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
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pelicanplatform/mediacache/byte_range"
)

// Origin performs ranged reads against the remote source of a resource.
type Origin interface {
	Fetch(ctx context.Context, rawURL string, r byte_range.ByteRange) (*OriginResponse, error)
}

// OriginResponse is the result of a ranged fetch.  Body yields exactly the
// bytes of Range, starting at Range.Lower; read errors are already
// classified as *TransportError or ErrCancelled.
type OriginResponse struct {
	Info  ContentInfo
	Range byte_range.ByteRange
	Body  io.ReadCloser
}

const (
	rateLimitBurst = 64 * 1024

	defaultFetchTimeout = 60 * time.Second
)

// OriginOptions tunes an HTTPOrigin.
type OriginOptions struct {
	Client *http.Client
	// Timeout bounds the wait for response headers and any single pause
	// in the body stream.
	Timeout time.Duration
	// MaxDownloadSpeed is in bytes per second; zero disables the limit.
	MaxDownloadSpeed int64
	UserAgent        string
}

// HTTPOrigin issues ranged GET requests with no caching.
type HTTPOrigin struct {
	client    *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	userAgent string
}

func NewHTTPOrigin(opts OriginOptions) *HTTPOrigin {
	o := &HTTPOrigin{
		client:    opts.Client,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
	}
	if o.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		o.client = &http.Client{Transport: transport}
	}
	if o.timeout <= 0 {
		o.timeout = defaultFetchTimeout
	}
	if opts.MaxDownloadSpeed > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.MaxDownloadSpeed), rateLimitBurst)
	}
	return o
}

// isMediaSource accepts video, audio and any application/* type, which is
// what media servers commonly label streams with.
func isMediaSource(mimeType string) bool {
	return strings.Contains(mimeType, "video/") ||
		strings.Contains(mimeType, "audio/") ||
		strings.Contains(mimeType, "application")
}

// parseContentRange parses "bytes a-b/total".  A total of "*" is returned
// as 0.
func parseContentRange(value string) (r byte_range.ByteRange, total int64, err error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		err = errors.Errorf("unsupported Content-Range %q", value)
		return
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 {
		err = errors.Errorf("malformed Content-Range %q", value)
		return
	}
	if parts[1] != "*" {
		if total, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
			err = errors.Wrapf(err, "malformed Content-Range total %q", value)
			return
		}
	}
	bounds := strings.SplitN(parts[0], "-", 2)
	if len(bounds) != 2 {
		err = errors.Errorf("malformed Content-Range %q", value)
		return
	}
	var lo, hi int64
	if lo, err = strconv.ParseInt(bounds[0], 10, 64); err != nil {
		err = errors.Wrapf(err, "malformed Content-Range start %q", value)
		return
	}
	if hi, err = strconv.ParseInt(bounds[1], 10, 64); err != nil {
		err = errors.Wrapf(err, "malformed Content-Range end %q", value)
		return
	}
	r = byte_range.New(lo, hi+1)
	return
}

// contentInfoFromResponse builds the descriptor of a 200/206 response.
func contentInfoFromResponse(resp *http.Response) (info ContentInfo, served byte_range.ByteRange, err error) {
	info = NewContentInfo()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, perr := mime.ParseMediaType(ct); perr == nil {
			info.Type = mediaType
		} else {
			info.Type = ct
		}
	}
	info.ByteRangeAccessSupported = strings.Contains(resp.Header.Get("Accept-Ranges"), "bytes") ||
		resp.StatusCode == http.StatusPartialContent

	if resp.StatusCode == http.StatusPartialContent {
		if served, info.TotalLength, err = parseContentRange(resp.Header.Get("Content-Range")); err != nil {
			return
		}
	}
	if info.TotalLength <= 0 && resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
		info.TotalLength = resp.ContentLength
	}
	if info.TotalLength > 0 && resp.StatusCode == http.StatusOK {
		served = byte_range.New(0, info.TotalLength)
	}
	return
}

// Fetch requests r from rawURL.
func (o *HTTPOrigin) Fetch(ctx context.Context, rawURL string, r byte_range.ByteRange) (*OriginResponse, error) {
	if !r.IsValid() {
		return nil, errors.Wrapf(ErrInvalidRange, "fetch of %s", r)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, &TransportError{URL: rawURL, Err: errors.Wrap(err, "bad origin URL")}
	}
	req.Header.Set("Range", byte_range.RequestHeader(r))
	req.Header.Set("Cache-Control", "no-cache")
	if o.userAgent != "" {
		req.Header.Set("User-Agent", o.userAgent)
	}

	// Bound the wait for headers; the body has its own idle timer
	headerTimer := time.AfterFunc(o.timeout, cancel)
	resp, err := o.client.Do(req)
	timedOut := !headerTimer.Stop()
	if err != nil {
		cancel()
		if timedOut && ctx.Err() == nil {
			return nil, &TransportError{URL: rawURL, Retryable: true, Err: errors.Wrap(err, "timed out waiting for origin response")}
		}
		return nil, classifyTransportError(ctx, rawURL, err)
	}

	fields := log.Fields{"url": rawURL, "range": r.String(), "status": resp.StatusCode}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		log.WithFields(fields).Debugln("Origin returned failure status")
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, newStatusError(rawURL, resp.StatusCode)
	}

	info, served, err := contentInfoFromResponse(resp)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, &TransportError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	if !isMediaSource(info.Type) {
		resp.Body.Close()
		cancel()
		return nil, errors.Wrapf(ErrNotMedia, "content type %q", info.Type)
	}

	body := &originBody{
		ctx:     ctx,
		url:     rawURL,
		body:    resp.Body,
		cancel:  cancel,
		limiter: o.limiter,
		timeout: o.timeout,
	}
	body.idle = time.AfterFunc(o.timeout, func() {
		body.idleFired.Store(true)
		cancel()
	})

	switch {
	case resp.StatusCode == http.StatusOK:
		// The origin ignored the range; skip to the requested offset
		if r.Lower > 0 {
			log.WithFields(fields).Debugln("Origin ignored range request, skipping to offset")
			if _, err := io.CopyN(io.Discard, body, r.Lower); err != nil {
				body.Close()
				if errors.Is(err, io.EOF) {
					err = &TransportError{URL: rawURL, StatusCode: resp.StatusCode,
						Err: errors.Errorf("origin body ends before offset %d", r.Lower)}
				}
				return nil, err
			}
		}
		if info.IsKnown() {
			served = r.Intersect(byte_range.New(0, info.TotalLength))
		} else {
			served = r
		}
	case served.Lower != r.Lower:
		body.Close()
		return nil, &TransportError{URL: rawURL, StatusCode: resp.StatusCode,
			Err: errors.Errorf("origin served %s for requested %s", served, r)}
	default:
		served = served.Intersect(r)
	}
	if !served.IsValid() {
		body.Close()
		return nil, &TransportError{URL: rawURL, StatusCode: resp.StatusCode,
			Err: errors.Errorf("origin has no bytes in %s", r)}
	}

	body.remaining = served.Len()
	body.limited = true
	body.strict = info.IsKnown() || resp.StatusCode == http.StatusPartialContent
	log.WithFields(fields).Tracef("Origin serving %s of %d", served, info.TotalLength)
	return &OriginResponse{Info: info, Range: served, Body: body}, nil
}

// originBody limits, paces and classifies the response stream.
type originBody struct {
	ctx       context.Context
	url       string
	body      io.ReadCloser
	cancel    context.CancelFunc
	limiter   *rate.Limiter
	timeout   time.Duration
	idle      *time.Timer
	idleFired atomic.Bool

	// remaining is enforced once limited is set; strict turns an early
	// EOF into a retryable failure
	remaining int64
	limited   bool
	strict    bool
}

func (b *originBody) Read(p []byte) (int, error) {
	if b.limited {
		if b.remaining <= 0 {
			return 0, io.EOF
		}
		if int64(len(p)) > b.remaining {
			p = p[:b.remaining]
		}
	}
	if b.limiter != nil && len(p) > rateLimitBurst {
		p = p[:rateLimitBurst]
	}

	n, err := b.body.Read(p)
	if n > 0 {
		b.idle.Reset(b.timeout)
		if b.limited {
			b.remaining -= int64(n)
		}
		if b.limiter != nil {
			if werr := b.limiter.WaitN(b.ctx, n); werr != nil && err == nil {
				err = werr
			}
		}
	}
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF) && b.limited && b.remaining > 0 && b.strict:
		return n, &TransportError{URL: b.url, Retryable: true, Err: io.ErrUnexpectedEOF}
	case errors.Is(err, io.EOF):
		return n, io.EOF
	case b.idleFired.Load() && b.ctx.Err() == nil:
		return n, &TransportError{URL: b.url, Retryable: true, Err: errors.Wrap(err, "origin stream stalled")}
	default:
		return n, classifyTransportError(b.ctx, b.url, err)
	}
}

func (b *originBody) Close() error {
	b.idle.Stop()
	err := b.body.Close()
	b.cancel()
	return err
}
