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
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/mediacache/byte_range"
	"github.com/pelicanplatform/mediacache/server_structs"
)

// PlanResp is the body returned by the plan route.
type PlanResp struct {
	URL     string               `json:"url"`
	Key     string               `json:"key"`
	Range   byte_range.ByteRange `json:"range"`
	Actions []Action             `json:"actions"`
}

// Register registers the media and management routes with Gin
func (mc *MediaCache) Register(router gin.IRouter) {
	router.GET("/api/v1.0/media", func(ginCtx *gin.Context) { mc.mediaCmd(ginCtx) })
	router.HEAD("/api/v1.0/media", func(ginCtx *gin.Context) { mc.mediaCmd(ginCtx) })
	router.GET("/api/v1.0/media/stats", func(ginCtx *gin.Context) { mc.statsCmd(ginCtx) })
	router.GET("/api/v1.0/media/usage", func(ginCtx *gin.Context) { mc.usageCmd(ginCtx) })
	router.GET("/api/v1.0/media/plan", func(ginCtx *gin.Context) { mc.planCmd(ginCtx) })
	router.POST("/api/v1.0/media/clean", func(ginCtx *gin.Context) { mc.cleanCmd(ginCtx) })
	router.POST("/api/v1.0/media/check_usage", func(ginCtx *gin.Context) { mc.checkUsageCmd(ginCtx) })
}

func abortWithError(ginCtx *gin.Context, status int, msg string) {
	ginCtx.AbortWithStatusJSON(status,
		server_structs.SimpleApiResp{Status: server_structs.RespFailed, Msg: msg})
}

// statusForError maps a cache error to the HTTP status returned to clients
func statusForError(err error) int {
	var te *TransportError
	switch {
	case errors.Is(err, ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrResourceBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNotMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrCacheClosed), errors.Is(err, ErrCancelled):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		if te.StatusCode == http.StatusNotFound || te.StatusCode == http.StatusForbidden {
			return te.StatusCode
		}
		return http.StatusBadGateway
	case errors.Is(err, ErrUnknownLength):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func resourceFromQuery(ginCtx *gin.Context) (Resource, bool) {
	rawURL := ginCtx.Query("url")
	if rawURL == "" {
		abortWithError(ginCtx, http.StatusBadRequest, "missing 'url' query parameter")
		return Resource{}, false
	}
	return NewResource(rawURL, ginCtx.Query("key")), true
}

// mediaCmd serves a resource through the cache, honouring the Range header
func (mc *MediaCache) mediaCmd(ginCtx *gin.Context) {
	res, ok := resourceFromQuery(ginCtx)
	if !ok {
		return
	}
	reqCtx := ginCtx.Request.Context()

	info, err := mc.ContentInfo(reqCtx, res)
	if err != nil {
		log.Warningf("Failed to determine content info of %s: %v", res.OriginURL, err)
		abortWithError(ginCtx, statusForError(err), err.Error())
		return
	}

	r := byte_range.New(0, info.TotalLength)
	status := http.StatusOK
	if header := ginCtx.GetHeader("Range"); header != "" {
		spec, err := byte_range.ParseHeader(header)
		if err == nil {
			r, err = spec.Resolve(info.TotalLength)
		}
		if err != nil {
			ginCtx.Header("Content-Range", fmt.Sprintf("bytes */%d", info.TotalLength))
			abortWithError(ginCtx, http.StatusRequestedRangeNotSatisfiable, err.Error())
			return
		}
		status = http.StatusPartialContent
	}

	w := ginCtx.Writer
	w.Header().Set("Content-Type", info.Type)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(r.Len(), 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", byte_range.ContentRange(r, info.TotalLength))
	}
	if ginCtx.Request.Method == http.MethodHead || !r.IsValid() {
		w.WriteHeader(status)
		return
	}

	ctx, cancel := context.WithCancel(reqCtx)
	defer cancel()
	var writeErr error
	w.WriteHeader(status)
	s, err := mc.BeginFetch(ctx, res, RangeRequest(r), Callbacks{
		OnData: func(data []byte) {
			if writeErr != nil {
				return
			}
			if _, writeErr = w.Write(data); writeErr != nil {
				cancel()
				return
			}
			w.Flush()
		},
	})
	if err != nil {
		log.Warningf("Failed to start a session for %s: %v", res.OriginURL, err)
		return
	}
	if err := s.Err(); err != nil && !errors.Is(err, ErrCancelled) {
		// The status line is gone; the short body tells the client
		log.Warningf("Session for %s %s ended early: %v", res.OriginURL, r, err)
	}
}

func (mc *MediaCache) statsCmd(ginCtx *gin.Context) {
	stats, err := mc.Stats()
	if err != nil {
		abortWithError(ginCtx, http.StatusInternalServerError, err.Error())
		return
	}
	ginCtx.JSON(http.StatusOK, stats)
}

func (mc *MediaCache) usageCmd(ginCtx *gin.Context) {
	ginCtx.JSON(http.StatusOK, mc.Usage())
}

// parseRangeParam parses the half-open "a-b" form used by the plan route
func parseRangeParam(value string) (byte_range.ByteRange, error) {
	lower, upper, found := strings.Cut(value, "-")
	if !found {
		return byte_range.ByteRange{}, errors.Wrapf(ErrInvalidRange, "%q is not of the form a-b", value)
	}
	a, err := strconv.ParseInt(strings.TrimSpace(lower), 10, 64)
	if err != nil {
		return byte_range.ByteRange{}, errors.Wrapf(ErrInvalidRange, "bad lower bound %q", lower)
	}
	b, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return byte_range.ByteRange{}, errors.Wrapf(ErrInvalidRange, "bad upper bound %q", upper)
	}
	r := byte_range.New(a, b)
	if !r.IsValid() || r.Lower < 0 {
		return r, errors.Wrapf(ErrInvalidRange, "range %s", r)
	}
	return r, nil
}

func (mc *MediaCache) planCmd(ginCtx *gin.Context) {
	res, ok := resourceFromQuery(ginCtx)
	if !ok {
		return
	}
	r, err := parseRangeParam(ginCtx.Query("range"))
	if err != nil {
		abortWithError(ginCtx, http.StatusBadRequest, err.Error())
		return
	}
	actions, err := mc.PlanActions(res, r)
	if err != nil {
		abortWithError(ginCtx, http.StatusInternalServerError, err.Error())
		return
	}
	ginCtx.JSON(http.StatusOK, PlanResp{URL: res.OriginURL, Key: res.CacheKey, Range: r, Actions: actions})
}

func (mc *MediaCache) cleanCmd(ginCtx *gin.Context) {
	var req server_structs.CleanReq
	if err := ginCtx.ShouldBindJSON(&req); err != nil {
		log.Warningln("Received invalid JSON request")
		abortWithError(ginCtx, http.StatusBadRequest, "Invalid request format")
		return
	}

	var err error
	switch {
	case req.All:
		log.Infoln("Received request to clean the whole cache")
		err = mc.CleanAll()
	case req.URL != "" || req.Key != "":
		res := NewResource(req.URL, req.Key)
		if req.Key != "" && req.URL == "" {
			if rec, ok := mc.lru.Get(req.Key); ok {
				res.OriginURL = rec.URL
			}
		}
		log.Debugf("Request received to clean %s (reserve: %v)", res.CacheKey, req.Reserve)
		err = mc.Clean(res, req.Reserve)
	default:
		abortWithError(ginCtx, http.StatusBadRequest, "one of 'url', 'key' or 'all' is required")
		return
	}
	if err != nil {
		log.Warningf("Clean request failed: %v", err)
		abortWithError(ginCtx, statusForError(err), err.Error())
		return
	}
	ginCtx.JSON(http.StatusOK, server_structs.SimpleApiResp{Status: server_structs.RespOK})
}

func (mc *MediaCache) checkUsageCmd(ginCtx *gin.Context) {
	evicted, err := mc.CheckUsage()
	if err != nil {
		abortWithError(ginCtx, http.StatusInternalServerError, err.Error())
		return
	}
	ginCtx.JSON(http.StatusOK, server_structs.CheckUsageResp{Status: server_structs.RespOK, Evicted: evicted})
}
