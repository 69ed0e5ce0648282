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
	"io"
	"os"

	"github.com/alecthomas/units"
	"github.com/go-kit/log/term"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pelicanplatform/mediacache/media_cache"
)

var (
	fetchRange    string
	fetchOutput   string
	fetchKey      string
	fetchProgress bool

	fetchCmd = &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a resource through the cache",
		Long: `Fetch a byte range of a remote media file through the cache.  Cached
ranges are read from disk and the rest is downloaded and cached.  Without
--output the bytes are only cached.`,
		Example: `# Cache the first megabyte of a video
mediacache fetch https://media.example.com/film.mp4 --range 0-1048575

# Download the whole file through the cache
mediacache fetch https://media.example.com/film.mp4 -o film.mp4`,
		Args: cobra.ExactArgs(1),
		RunE: fetchMain,
	}
)

func init() {
	fetchCmd.Flags().StringVarP(&fetchRange, "range", "r", "", "Byte range to fetch: start-end (inclusive), start- or -suffix")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Write the fetched bytes to this file ('-' for stdout)")
	fetchCmd.Flags().StringVar(&fetchKey, "key", "", "Cache key to use instead of one derived from the URL")
	fetchCmd.Flags().BoolVar(&fetchProgress, "progress", true, "Show a progress bar when stdout is a terminal")
}

func openOutput(name string) (io.WriteCloser, error) {
	switch name {
	case "":
		return nopWriteCloser{io.Discard}, nil
	case "-":
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the output file")
	}
	return f, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// runFetch fetches r of res into out and reports progress through report.
// It returns once the session ends.
func runFetch(ctx context.Context, mc *media_cache.MediaCache, res media_cache.Resource, r media_cache.Request,
	out io.Writer, report func(delivered int64, completed bool)) (media_cache.SessionStats, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var delivered int64
	var writeErr error
	cb := media_cache.Callbacks{
		OnData: func(data []byte) {
			if writeErr != nil {
				return
			}
			if _, writeErr = out.Write(data); writeErr != nil {
				cancel()
				return
			}
			delivered += int64(len(data))
			report(delivered, false)
		},
		OnFinished: func() { report(delivered, true) },
	}
	session, err := mc.BeginFetch(ctx, res, r, cb)
	if err != nil {
		return media_cache.SessionStats{}, err
	}
	<-session.Done()
	stats := session.Stats()
	if writeErr != nil {
		return stats, errors.Wrap(writeErr, "failed to write the fetched bytes")
	}
	return stats, session.Err()
}

func fetchMain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mc, closeCache, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	res := media_cache.NewResource(args[0], fetchKey)
	info, err := mc.ContentInfo(ctx, res)
	if err != nil {
		return err
	}
	r, err := resolveRange(fetchRange, info.TotalLength)
	if err != nil {
		return err
	}
	log.Debugf("Fetching %s of %s (%s, %s total)", r, res.OriginURL, info.Type, units.Base2Bytes(info.TotalLength))

	out, err := openOutput(fetchOutput)
	if err != nil {
		return err
	}
	defer out.Close()

	pb := newProgressBars()
	if fetchProgress && fetchOutput != "-" && term.IsTerminal(os.Stdout) {
		pb.launchDisplay(ctx)
	}
	stats, err := runFetch(ctx, mc, res, media_cache.RangeRequest(r), out, func(delivered int64, completed bool) {
		pb.callback(res.OriginURL, delivered, r.Len(), completed)
	})
	pb.shutdown()
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, "failed to close the output file")
	}

	if outputJSON && fetchOutput != "-" {
		return printJSON(os.Stdout, stats)
	}
	log.Infof("Fetched %s of %s", units.Base2Bytes(stats.Delivered).String(), res.OriginURL)
	return nil
}
