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
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/mediacache/cmd/config_printer"
	"github.com/pelicanplatform/mediacache/config"
	"github.com/pelicanplatform/mediacache/launchers"
	"github.com/pelicanplatform/mediacache/logging"
)

var (
	cfgFile    string
	outputJSON bool

	rootCmd = &cobra.Command{
		Use:   "mediacache",
		Short: "Range-addressable disk cache for media playback",
		Long: `The mediacache software keeps byte ranges of remote media files on
local disk, serves them to players over HTTP, and fetches only the
ranges that are not cached yet.`,
		SilenceUsage: true,
	}
)

func Execute() error {
	egrp, egrpCtx := errgroup.WithContext(context.Background())
	ctx := context.WithValue(egrpCtx, config.EgrpKey, egrp)
	exeErr := rootCmd.ExecuteContext(ctx)
	if exeErr != nil {
		log.Errorln("Fatal error occurred at the start of the program. Cleanup started:", exeErr)
	}
	// Wait until all goroutines in errgroup finish their clean up
	egrpErr := egrp.Wait()
	if errors.Is(egrpErr, launchers.ErrExitOnSignal) {
		fmt.Println("mediacache is safely exited")
		return nil
	}
	if egrpErr != nil {
		log.Errorln("Fatal error occurred that lead to the shutdown of the process:", egrpErr)
		return egrpErr
	}
	return exeErr
}

// initConfig loads the configuration, then releases the buffered start-up
// logs whether or not loading succeeded.
func initConfig() {
	err := config.InitConfigInternal()
	flushErr := logging.FlushLogs(true)
	cobra.CheckErr(err)
	cobra.CheckErr(flushErr)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(config_printer.ConfigCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mediacache/mediacache.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logs")
	rootCmd.PersistentFlags().StringP("log", "l", "", "Specified log output file")
	rootCmd.PersistentFlags().StringP("data", "", "", "Cache data directory")

	// Register the version flag here just so --help will show this flag
	// Actual checking is executed at main.go
	rootCmd.PersistentFlags().BoolP("version", "", false, "Print the version and exit")

	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "", false, "output results in JSON format")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("Debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("Logging.LogLocation", rootCmd.PersistentFlags().Lookup("log")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("MediaCache.DataLocation", rootCmd.PersistentFlags().Lookup("data")); err != nil {
		panic(err)
	}
}
