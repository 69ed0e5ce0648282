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
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pelicanplatform/mediacache/media_cache"
)

var (
	cleanKeys    []string
	cleanAll     bool
	cleanReserve bool

	cleanCmd = &cobra.Command{
		Use:   "clean [url...]",
		Short: "Remove resources from the cache",
		Long: `Remove the cached bytes, metadata and usage record of the given resources.
With --reserve, a resource with a reserved length is truncated to it
instead of being deleted.`,
		Example: `# Remove one resource
mediacache clean https://media.example.com/film.mp4

# Remove everything
mediacache clean --all`,
		RunE: cleanMain,
	}
)

func init() {
	cleanCmd.Flags().StringSliceVar(&cleanKeys, "key", nil, "Cache keys to remove")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Remove every resource")
	cleanCmd.Flags().BoolVar(&cleanReserve, "reserve", false, "Truncate to the reserved length instead of deleting")
}

// cleanTargets resolves the URLs and keys given on the command line.  Keys
// are matched against the usage table to recover their origin URL.
func cleanTargets(urls, keys []string, usage []media_cache.RankedUsage) []media_cache.Resource {
	known := make(map[string]string, len(usage))
	for _, u := range usage {
		known[u.Key] = u.URL
	}
	targets := make([]media_cache.Resource, 0, len(urls)+len(keys))
	for _, u := range urls {
		targets = append(targets, media_cache.NewResource(u, ""))
	}
	for _, key := range keys {
		targets = append(targets, media_cache.NewResource(known[key], key))
	}
	return targets
}

func cleanMain(cmd *cobra.Command, args []string) error {
	if !cleanAll && len(args) == 0 && len(cleanKeys) == 0 {
		return errors.New("give at least one URL, --key or --all")
	}
	mc, closeCache, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache()

	if cleanAll {
		if err := mc.CleanAll(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Cache cleaned")
		return nil
	}

	var failed int
	for _, res := range cleanTargets(args, cleanKeys, mc.Usage()) {
		if err := mc.Clean(res, cleanReserve); err != nil {
			log.Errorf("Failed to clean %s: %v", res.CacheKey, err)
			failed++
			continue
		}
		name := res.OriginURL
		if name == "" {
			name = res.CacheKey
		}
		fmt.Fprintln(os.Stdout, "Cleaned", name)
	}
	if failed > 0 {
		return errors.Errorf("%d resources could not be cleaned", failed)
	}
	return nil
}
