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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pelicanplatform/mediacache/logging"
	"github.com/pelicanplatform/mediacache/media_cache"
	"github.com/pelicanplatform/mediacache/param"
)

type ContextKey string

// EgrpKey holds the process-wide *errgroup.Group in a command context.
const EgrpKey ContextKey = "egrp"

const configName = "mediacache"

// DefaultDataLocation is $HOME/.mediacache, or a directory under the
// system temp dir when there is no home directory.
func DefaultDataLocation() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "."+configName)
	}
	return filepath.Join(home, "."+configName)
}

// SetDefaults installs the built-in default of every parameter.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(param.Debug.GetName(), false)
	v.SetDefault(param.Logging_Level.GetName(), "info")
	v.SetDefault(param.Logging_LogLocation.GetName(), "")
	v.SetDefault(param.MediaCache_DataLocation.GetName(), DefaultDataLocation())
	v.SetDefault(param.MediaCache_Size.GetName(), "1GB")
	v.SetDefault(param.MediaCache_WriteMode.GetName(), string(media_cache.WriteModeDefault))
	v.SetDefault(param.MediaCache_TimeWeight.GetName(), media_cache.DefaultTimeWeight)
	v.SetDefault(param.MediaCache_UseWeight.GetName(), media_cache.DefaultUseWeight)
	v.SetDefault(param.MediaCache_FetchTimeout.GetName(), "60s")
	v.SetDefault(param.MediaCache_MaxConcurrentFetches.GetName(), 8)
	v.SetDefault(param.MediaCache_ChunkSize.GetName(), "64KiB")
	v.SetDefault(param.MediaCache_PacketLimit.GetName(), "1MiB")
	v.SetDefault(param.MediaCache_RetryBudget.GetName(), media_cache.DefaultRetryBudget)
	v.SetDefault(param.MediaCache_MaxDownloadSpeed.GetName(), "0")
	v.SetDefault(param.MediaCache_AutoCheckUsage.GetName(), true)
	v.SetDefault(param.MediaCache_CheckUsageInterval.GetName(), "1m")
	v.SetDefault(param.MediaCache_ReadPacing.GetName(), "0s")
	v.SetDefault(param.Server_WebHost.GetName(), "127.0.0.1")
	v.SetDefault(param.Server_WebPort.GetName(), 8787)
}

// InitConfig is the cobra initializer: it loads the configuration and
// exits on failure.
func InitConfig() {
	cobra.CheckErr(InitConfigInternal())
}

// InitConfigInternal layers defaults, the YAML file, MEDIACACHE_*
// environment variables and bound flags into viper's global instance,
// then refreshes the param snapshot and the log level.
func InitConfigInternal() error {
	v := viper.GetViper()
	SetDefaults(v)
	v.SetEnvPrefix(param.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read the configuration file")
		}
	} else {
		log.Debugln("Using configuration file", v.ConfigFileUsed())
	}

	for _, key := range validateConfigKeys(v) {
		log.Warningf("Unknown configuration key %q is ignored", key)
	}

	cfg, err := param.Refresh()
	if err != nil {
		return err
	}
	RegisterLoggingCallback()
	return logging.SetLevel(effectiveLevel(cfg))
}

func effectiveLevel(cfg *param.Config) string {
	if cfg.Debug {
		return log.DebugLevel.String()
	}
	return cfg.Logging.Level
}

// RegisterLoggingCallback keeps logrus in step with Debug and Logging.Level.
func RegisterLoggingCallback() {
	param.RegisterCallback("logging", func(oldConfig, newConfig *param.Config) {
		level := effectiveLevel(newConfig)
		if oldConfig != nil && effectiveLevel(oldConfig) == level {
			return
		}
		if err := logging.SetLevel(level); err != nil {
			log.Warningln("Ignoring log level change:", err)
		}
	})
}

func parseBytes(p param.StringParam) (int64, error) {
	size, err := units.ParseStrictBytes(p.GetString())
	if err != nil {
		return 0, errors.Wrapf(err, "invalid value %q for %s", p.GetString(), p.GetName())
	}
	return size, nil
}

// MediaCacheConfig builds the cache configuration from the parameters.
func MediaCacheConfig() (media_cache.Config, error) {
	size, err := parseBytes(param.MediaCache_Size)
	if err != nil {
		return media_cache.Config{}, err
	}
	chunkSize, err := parseBytes(param.MediaCache_ChunkSize)
	if err != nil {
		return media_cache.Config{}, err
	}
	packetLimit, err := parseBytes(param.MediaCache_PacketLimit)
	if err != nil {
		return media_cache.Config{}, err
	}

	cfg := media_cache.Config{
		DataLocation:         param.MediaCache_DataLocation.GetString(),
		SizeLimit:            size,
		WriteMode:            media_cache.WriteMode(strings.ToLower(param.MediaCache_WriteMode.GetString())),
		TimeWeight:           int64(param.MediaCache_TimeWeight.GetInt()),
		UseWeight:            int64(param.MediaCache_UseWeight.GetInt()),
		FetchTimeout:         param.MediaCache_FetchTimeout.GetDuration(),
		MaxConcurrentFetches: param.MediaCache_MaxConcurrentFetches.GetInt(),
		ChunkSize:            int(chunkSize),
		PacketLimit:          packetLimit,
		RetryBudget:          param.MediaCache_RetryBudget.GetInt(),
		MaxDownloadSpeed:     param.MediaCache_MaxDownloadSpeed.GetByteRate().BytesPerSecond(),
		AutoCheckUsage:       param.MediaCache_AutoCheckUsage.GetBool(),
		CheckUsageInterval:   param.MediaCache_CheckUsageInterval.GetDuration(),
		ReadPacing:           param.MediaCache_ReadPacing.GetDuration(),
	}

	switch {
	case cfg.DataLocation == "":
		return cfg, errors.Errorf("%s must be set", param.MediaCache_DataLocation.GetName())
	case cfg.SizeLimit <= 0:
		return cfg, errors.Errorf("%s must be positive", param.MediaCache_Size.GetName())
	case cfg.ChunkSize <= 0 || int64(cfg.ChunkSize) > cfg.PacketLimit:
		return cfg, errors.Errorf("%s must be positive and at most %s (%s)",
			param.MediaCache_ChunkSize.GetName(), param.MediaCache_PacketLimit.GetName(), units.Base2Bytes(cfg.PacketLimit))
	case cfg.TimeWeight < 0 || cfg.UseWeight < 0:
		return cfg, errors.New("usage weights must not be negative")
	case cfg.RetryBudget < 0:
		return cfg, errors.Errorf("%s must not be negative", param.MediaCache_RetryBudget.GetName())
	case cfg.ReadPacing < 0 || cfg.ReadPacing > time.Second:
		return cfg, errors.Errorf("%s must be between 0 and 1s", param.MediaCache_ReadPacing.GetName())
	}
	switch cfg.WriteMode {
	case media_cache.WriteModeDefault, media_cache.WriteModeAuto, media_cache.WriteModeManual:
	default:
		return cfg, errors.Errorf("unknown %s %q", param.MediaCache_WriteMode.GetName(), cfg.WriteMode)
	}
	return cfg, nil
}
