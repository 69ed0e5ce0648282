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
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

var (
	ErrInvalidRange  = errors.New("invalid byte range")
	ErrResourceBusy  = errors.New("resource is busy")
	ErrIntegrity     = errors.New("cached block failed integrity check")
	ErrNotMedia      = errors.New("origin response is not a media source")
	ErrCancelled     = errors.New("fetch session cancelled")
	ErrCacheClosed   = errors.New("media cache is closed")
	ErrUnknownLength = errors.New("total length of resource is unknown")
)

// TransportError is a failure talking to the origin.  Retryable failures
// are retried by the fetch session up to its retry budget.
type TransportError struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	sb.WriteString("transport failure")
	if e.URL != "" {
		sb.WriteString(" fetching ")
		sb.WriteString(e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches any TransportError when the target carries no status code,
// otherwise the status codes must agree.
func (e *TransportError) Is(target error) bool {
	te, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return te.StatusCode == 0 || te.StatusCode == e.StatusCode
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code < 600
}

func newStatusError(rawURL string, code int) *TransportError {
	return &TransportError{
		URL:        rawURL,
		StatusCode: code,
		Retryable:  retryableStatus(code),
		Err:        errors.Errorf("unexpected response %s", http.StatusText(code)),
	}
}

// isDialError checks if an error is a dial/connection setup error
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isDialError(urlErr.Unwrap())
	}
	return false
}

// isIdleConnectionError checks if the server closed a reused connection.
// The HTTP client does not export a type for this condition.
func isIdleConnectionError(err error) bool {
	return strings.Contains(err.Error(), "server closed idle connection")
}

// classifyTransportError wraps a transport-level error from the HTTP
// client or body read.  Context cancellation is reported as ErrCancelled.
func classifyTransportError(ctx context.Context, rawURL string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ErrCancelled
	}
	retryable := false
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		retryable = true
	case errors.As(err, &netErr) && netErr.Timeout():
		retryable = true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		retryable = true
	case isDialError(err), isIdleConnectionError(err):
		retryable = true
	}
	return &TransportError{URL: rawURL, Retryable: retryable, Err: err}
}
