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

package config_printer

import (
	"github.com/spf13/cobra"
)

var (
	// ConfigCmd is the root command
	ConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "View and search for configuration parameters",
		Long:  "The 'config' command allows users to view and search the configuration parameters of the media cache.",
	}

	configDumpCmd = &cobra.Command{
		Use:   "dump [flags]",
		Short: "Dump all configuration parameters",
		Long:  "The 'dump' command outputs all current configuration parameters and their values to the console. This includes default values that have not been explicitly set.",
		Example: `# Dump all configuration parameters as JSON
mediacache config dump -o json`,
		Run: configDump,
	}

	configGetCmd = &cobra.Command{
		Use:   "get [arguments] [flags]",
		Short: "Retrieve config parameters that match any of the given arguments",
		Long: `The 'get' command retrieves and displays configuration parameters that contain any of the provided argument patterns in their name or value.
The matching is case-insensitive. If no arguments are provided, all configuration parameters are retrieved.
The output is flattened from the nested configuration, making it grep-friendly.`,
		Example: `# Retrieve parameters that have either 'size' or 'weight' in their name or value
mediacache config get size weight`,
		Run: configGet,
	}

	configSummaryCmd = &cobra.Command{
		Use:     "summary",
		Short:   "Print config parameters that differ from default values",
		Long:    "The 'summary' command outputs configuration parameters whose values differ from their default settings.",
		Aliases: []string{"sum"},
		Example: `# Show configuration parameters that are set differently from their default values
mediacache config summary`,
		Run: configSummary,
	}

	format string
)

func init() {
	ConfigCmd.AddCommand(configDumpCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSummaryCmd)

	configDumpCmd.Flags().StringVarP(&format, "format", "o", "yaml", "Output format (yaml or json)")
	configSummaryCmd.Flags().StringVarP(&format, "format", "o", "yaml", "Output format (yaml or json)")
}
