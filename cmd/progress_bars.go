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
	"os"
	"path"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

const progressTick = 200 * time.Millisecond

type (
	progressStatus struct {
		delivered int64 // Bytes handed to the output so far
		size      int64 // Bytes the fetch will deliver; zero if unknown
		completed bool
	}

	// progressBars renders one bar per fetched resource.  Sessions report
	// through callback from their own goroutines; the display samples the
	// reported status on a ticker.
	progressBars struct {
		lock   sync.Mutex
		status map[string]progressStatus
		cancel context.CancelFunc
		egrp   *errgroup.Group
	}
)

func newProgressBars() *progressBars {
	return &progressBars{status: make(map[string]progressStatus)}
}

func (pb *progressBars) callback(name string, delivered, size int64, completed bool) {
	pb.lock.Lock()
	defer pb.lock.Unlock()
	pb.status[name] = progressStatus{delivered: delivered, size: size, completed: completed}
}

func (pb *progressBars) snapshot() map[string]progressStatus {
	pb.lock.Lock()
	defer pb.lock.Unlock()
	result := make(map[string]progressStatus, len(pb.status))
	for name, stat := range pb.status {
		result[name] = stat
	}
	return result
}

// shutdown draws the final state of every bar and waits for the display
func (pb *progressBars) shutdown() {
	if pb.egrp == nil {
		return
	}
	pb.cancel()
	if err := pb.egrp.Wait(); err != nil {
		log.Debugln("Failure to shut down progress bar:", err)
	}
}

func newBar(progress *mpb.Progress, name string) *mpb.Bar {
	return progress.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(path.Base(name), decor.WCSyncSpaceR),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 15), ""),
			decor.OnComplete(decor.Name(" ] "), ""),
			decor.OnComplete(decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 15), "Done!"),
		),
	)
}

// launchDisplay starts rendering on stdout.  Logs are routed through the
// progress container while it runs so they do not tear the bars.
func (pb *progressBars) launchDisplay(ctx context.Context) {
	ctx, pb.cancel = context.WithCancel(ctx)
	progress := mpb.New(mpb.WithRefreshRate(progressTick), mpb.WithOutput(os.Stdout))
	log.SetOutput(progress)
	pb.egrp = &errgroup.Group{}
	log.Debugln("Launch progress bars display")

	pb.egrp.Go(func() error {
		bars := make(map[string]*mpb.Bar)
		seen := make(map[string]progressStatus)
		update := func() {
			for name, stat := range pb.snapshot() {
				bar := bars[name]
				if bar == nil {
					bar = newBar(progress, name)
					bars[name] = bar
				}
				if seen[name].size == 0 && stat.size > 0 {
					bar.SetTotal(stat.size, false)
				}
				bar.EwmaSetCurrent(stat.delivered, progressTick)
				if stat.completed && !bar.Completed() {
					bar.SetTotal(stat.delivered, true)
				}
				seen[name] = stat
			}
		}
		defer func() {
			update()
			for _, bar := range bars {
				if !bar.Completed() {
					bar.Abort(false)
				}
			}
			progress.Wait()
			log.SetOutput(os.Stderr)
		}()

		ticker := time.NewTicker(progressTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				update()
			}
		}
	})
}
