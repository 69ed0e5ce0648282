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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/mediacache/launchers"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve cached media over HTTP",
		Long: `Start the media cache web server.  Players request
/api/v1.0/media?url=<origin URL> with an optional Range header; cached
ranges are served from disk and missing ranges are fetched from the origin.
Send SIGUSR1 to flush data files and metadata to disk.`,
		RunE:         serveMediaCache,
		SilenceUsage: true,
	}
)

func init() {
	serveCmd.Flags().StringP("host", "", "", "Address the web server listens on")
	serveCmd.Flags().Uint16P("port", "p", 0, "Port the web server listens on")
	if err := viper.BindPFlag("Server.WebHost", serveCmd.Flags().Lookup("host")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("Server.WebPort", serveCmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
}

func serveMediaCache(cmd *cobra.Command, args []string) error {
	mc, addr, _, err := launchers.LaunchMediaCache(cmd.Context())
	if err != nil {
		return err
	}
	log.Infof("Serving the media cache at %s from %s", addr.String(), mc.Config().DataLocation)
	return nil
}
