package config_printer

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func configDump(cmd *cobra.Command, args []string) {
	currentConfig := initConfig(viper.GetViper())
	printConfig(currentConfig, format)
}
