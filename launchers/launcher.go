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

package launchers

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/mediacache/config"
	"github.com/pelicanplatform/mediacache/logging"
	"github.com/pelicanplatform/mediacache/media_cache"
	"github.com/pelicanplatform/mediacache/web_ui"
)

var (
	ErrExitOnSignal error = errors.New("Exit program on signal")
)

// LaunchMediaCache opens the cache, starts the web engine with the media,
// management and logging routes, and installs the signal handlers.  All
// goroutines run in the errgroup stored in ctx under config.EgrpKey.
// Cancelling through shutdownCancel closes the cache and the server.
func LaunchMediaCache(ctx context.Context) (mc *media_cache.MediaCache, addr net.Addr, shutdownCancel context.CancelFunc, err error) {
	egrp, ok := ctx.Value(config.EgrpKey).(*errgroup.Group)
	if !ok {
		egrp = &errgroup.Group{}
	}

	ctx, shutdownCancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			shutdownCancel()
		}
	}()

	cfg, err := config.MediaCacheConfig()
	if err != nil {
		err = errors.Wrap(err, "Failure when configuring the media cache")
		return
	}
	if mc, err = media_cache.New(ctx, egrp, cfg); err != nil {
		return
	}

	engine := web_ui.GetEngine()
	mc.Register(engine)

	levels := logging.NewLevelManager()
	levels.RegisterRoutes(engine)
	egrp.Go(func() error { return levels.Run(ctx) })

	if addr, err = web_ui.RunEngine(ctx, engine, egrp); err != nil {
		return
	}

	egrp.Go(func() error {
		return handleSignals(ctx, mc, shutdownCancel)
	})
	return
}

// handleSignals synchronizes the cache on the sync signals and shuts the
// process down on SIGINT or SIGTERM.
func handleSignals(ctx context.Context, mc *media_cache.MediaCache, shutdownCancel context.CancelFunc) error {
	log.Debug("Will shutdown process on signal")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, append([]os.Signal{syscall.SIGINT, syscall.SIGTERM}, syncSignals...)...)
	defer signal.Stop(sigs)
	for {
		select {
		case sig := <-sigs:
			if isSyncSignal(sig) {
				log.Infof("Received signal %v; synchronizing the cache", sig)
				if err := mc.Synchronize(); err != nil {
					log.Warningln("Failed to synchronize the cache:", err)
				}
				continue
			}
			log.Warningf("Received signal %v; will shutdown process", sig)
			shutdownCancel()
			return ErrExitOnSignal
		case <-ctx.Done():
			return nil
		}
	}
}

func isSyncSignal(sig os.Signal) bool {
	for _, s := range syncSignals {
		if s == sig {
			return true
		}
	}
	return false
}
