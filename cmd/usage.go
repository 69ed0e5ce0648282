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
	"time"

	"github.com/alecthomas/units"
	"github.com/spf13/cobra"

	"github.com/pelicanplatform/mediacache/media_cache"
)

var (
	usageCheck bool

	usageCmd = &cobra.Command{
		Use:   "usage",
		Short: "Show cache usage and the eviction ranking",
		Long: `Print the size of the cache against its limit and every tracked
resource, oldest (first to be evicted) first.  With --check, evict
resources until the cache fits its limit before printing.`,
		RunE: usageMain,
	}
)

type usageReport struct {
	Stats   media_cache.Stats         `json:"stats"`
	Evicted []string                  `json:"evicted,omitempty"`
	Ranking []media_cache.RankedUsage `json:"ranking"`
}

func init() {
	usageCmd.Flags().BoolVar(&usageCheck, "check", false, "Evict resources until the cache fits its limit")
}

func printUsage(out io.Writer, report usageReport) error {
	fmt.Fprintf(out, "Cache size: %s of %s (%d resources, write mode %s)\n",
		units.Base2Bytes(report.Stats.SizeBytes), units.Base2Bytes(report.Stats.LimitBytes),
		report.Stats.Resources, report.Stats.WriteMode)
	for _, key := range report.Evicted {
		fmt.Fprintln(out, "Evicted", key)
	}
	if len(report.Ranking) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tUSES\tLAST ACCESS\tWEIGHT\tURL")
	for _, u := range report.Ranking {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n",
			shortKey(u.Key), u.Count, u.LastAccess.Local().Format(time.DateTime), u.Weight, u.URL)
	}
	return w.Flush()
}

func usageMain(cmd *cobra.Command, args []string) error {
	mc, closeCache, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache()

	report := usageReport{}
	if usageCheck {
		if report.Evicted, err = mc.CheckUsage(); err != nil {
			return err
		}
	}
	if report.Stats, err = mc.Stats(); err != nil {
		return err
	}
	report.Ranking = mc.Usage()

	if outputJSON {
		return printJSON(os.Stdout, report)
	}
	return printUsage(os.Stdout, report)
}
