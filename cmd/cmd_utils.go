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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/mediacache/byte_range"
	"github.com/pelicanplatform/mediacache/config"
	"github.com/pelicanplatform/mediacache/media_cache"
)

// openCache opens the configured cache for a one-shot command.  The
// returned cancel function closes it.  The cache holds an exclusive lock
// on its directory, so this fails while a server uses the same one.
func openCache(ctx context.Context) (*media_cache.MediaCache, context.CancelFunc, error) {
	egrp, ok := ctx.Value(config.EgrpKey).(*errgroup.Group)
	if !ok {
		egrp = &errgroup.Group{}
	}
	cfg, err := config.MediaCacheConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	mc, err := media_cache.New(ctx, egrp, cfg)
	if err != nil {
		cancel()
		return nil, nil, errors.Wrapf(err, "failed to open the cache at %s", cfg.DataLocation)
	}
	return mc, func() {
		cancel()
		_ = mc.Close()
	}, nil
}

// rangeSpec parses the --range flag.  It takes the forms of an HTTP Range
// header without the unit: "start-end" (inclusive), "start-" or "-suffix".
// An empty value selects the whole resource.
func rangeSpec(value string) (byte_range.HeaderSpec, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return byte_range.HeaderSpec{OpenEnded: true}, nil
	}
	spec, err := byte_range.ParseHeader("bytes=" + value)
	if err != nil {
		return spec, errors.Wrapf(err, "invalid range %q", value)
	}
	return spec, nil
}

// resolveRange turns the --range flag into a concrete range for a resource
// of the given total length.
func resolveRange(value string, total int64) (byte_range.ByteRange, error) {
	spec, err := rangeSpec(value)
	if err != nil {
		return byte_range.ByteRange{}, err
	}
	r, err := spec.Resolve(total)
	if err != nil {
		return r, errors.Wrapf(media_cache.ErrInvalidRange, "range %q: %v", value, err)
	}
	return r, nil
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal output")
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// shortKey abbreviates a cache key for tables
func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
