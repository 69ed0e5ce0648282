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
	"io"
	"os"
	"text/tabwriter"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pelicanplatform/mediacache/byte_range"
	"github.com/pelicanplatform/mediacache/media_cache"
)

var (
	planRange string
	planKey   string

	planCmd = &cobra.Command{
		Use:   "plan <url>",
		Short: "Show how a range would be served",
		Long: `Print the local reads and remote fetches a request for the given range
would execute right now, without fetching anything.`,
		Example: `mediacache plan https://media.example.com/film.mp4 --range 0-4194303`,
		Args:    cobra.ExactArgs(1),
		RunE:    planMain,
	}
)

func init() {
	planCmd.Flags().StringVarP(&planRange, "range", "r", "", "Byte range to plan: start-end (inclusive), start- or -suffix")
	planCmd.Flags().StringVar(&planKey, "key", "", "Cache key to use instead of one derived from the URL")
}

// planRangeFor resolves the --range flag without contacting the origin.
// An explicit range works even when the total length is not known yet.
func planRangeFor(value string, total int64) (byte_range.ByteRange, error) {
	if total > 0 {
		return resolveRange(value, total)
	}
	spec, err := rangeSpec(value)
	if err != nil {
		return byte_range.ByteRange{}, err
	}
	if spec.OpenEnded || spec.Suffix > 0 {
		return byte_range.ByteRange{}, errors.Wrap(media_cache.ErrUnknownLength,
			"the length of the resource is not cached yet; give an explicit start-end range")
	}
	return byte_range.New(spec.Start, spec.End+1), nil
}

func printPlan(out io.Writer, plan media_cache.PlanResp) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Plan for %s (%s)\n", plan.URL, plan.Range)
	fmt.Fprintln(w, "SOURCE\tRANGE\tSIZE")
	for _, action := range plan.Actions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", action.Kind, action.Range, units.Base2Bytes(action.Range.Len()))
	}
	return w.Flush()
}

func planMain(cmd *cobra.Command, args []string) error {
	mc, closeCache, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache()

	res := media_cache.NewResource(args[0], planKey)
	meta, err := mc.Metadata(res)
	if err != nil {
		return err
	}
	r, err := planRangeFor(planRange, meta.Info.TotalLength)
	if err != nil {
		return err
	}
	actions, err := mc.PlanActions(res, r)
	if err != nil {
		return err
	}

	plan := media_cache.PlanResp{URL: res.OriginURL, Key: res.CacheKey, Range: r, Actions: actions}
	if outputJSON {
		return printJSON(os.Stdout, plan)
	}
	return printPlan(os.Stdout, plan)
}
