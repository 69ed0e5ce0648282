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
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/mediacache/media_cache"
	"github.com/pelicanplatform/mediacache/param"
)

// resetConfig clears the global viper and param state around a test
func resetConfig(t *testing.T) {
	origLevel := log.GetLevel()
	param.Reset()
	param.ClearCallbacks()
	t.Cleanup(func() {
		param.Reset()
		param.ClearCallbacks()
		log.SetLevel(origLevel)
	})
	// Keep a developer's own config file out of the way
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func writeConfigFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "mediacache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	resetConfig(t)
	require.NoError(t, InitConfigInternal())

	cfg, err := MediaCacheConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultDataLocation(), cfg.DataLocation)
	assert.Equal(t, int64(1000*1000*1000), cfg.SizeLimit, "GB is metric")
	assert.Equal(t, media_cache.WriteModeDefault, cfg.WriteMode)
	assert.Equal(t, int64(2), cfg.TimeWeight)
	assert.Equal(t, int64(1), cfg.UseWeight)
	assert.Equal(t, 60*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 8, cfg.MaxConcurrentFetches)
	assert.Equal(t, 64*1024, cfg.ChunkSize)
	assert.Equal(t, media_cache.PacketLimit, cfg.PacketLimit)
	assert.Equal(t, 3, cfg.RetryBudget)
	assert.Zero(t, cfg.MaxDownloadSpeed)
	assert.True(t, cfg.AutoCheckUsage)
	assert.Equal(t, time.Minute, cfg.CheckUsageInterval)
	assert.Zero(t, cfg.ReadPacing)

	assert.Equal(t, "127.0.0.1", param.Server_WebHost.GetString())
	assert.Equal(t, 8787, param.Server_WebPort.GetInt())
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestConfigFileAndEnv(t *testing.T) {
	resetConfig(t)
	path := writeConfigFile(t, `
Logging:
  Level: warn
MediaCache:
  DataLocation: /srv/media
  Size: 20GiB
  WriteMode: Manual
  TimeWeight: 1
  UseWeight: 2
  MaxDownloadSpeed: 4MB/s
  CheckUsageInterval: 5m
`)
	viper.Set("config", path)
	t.Setenv("MEDIACACHE_MEDIACACHE_RETRYBUDGET", "5")
	t.Setenv("MEDIACACHE_SERVER_WEBPORT", "9999")

	require.NoError(t, InitConfigInternal())
	cfg, err := MediaCacheConfig()
	require.NoError(t, err)
	assert.Equal(t, "/srv/media", cfg.DataLocation)
	assert.Equal(t, int64(20<<30), cfg.SizeLimit)
	assert.Equal(t, media_cache.WriteModeManual, cfg.WriteMode)
	assert.Equal(t, int64(1), cfg.TimeWeight)
	assert.Equal(t, int64(2), cfg.UseWeight)
	assert.Equal(t, int64(4<<20), cfg.MaxDownloadSpeed)
	assert.Equal(t, 5*time.Minute, cfg.CheckUsageInterval)
	assert.Equal(t, 5, cfg.RetryBudget)
	assert.Equal(t, 9999, param.Server_WebPort.GetInt())
	assert.Equal(t, log.WarnLevel, log.GetLevel())
}

func TestMissingExplicitConfigFile(t *testing.T) {
	resetConfig(t)
	viper.Set("config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, InitConfigInternal())
}

func TestDebugOverridesLevel(t *testing.T) {
	resetConfig(t)
	viper.Set("Debug", true)
	require.NoError(t, InitConfigInternal())
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	require.NoError(t, param.Set(param.Debug.GetName(), false))
	assert.Eventually(t, func() bool { return log.GetLevel() == log.InfoLevel }, time.Second, 10*time.Millisecond)
}

func TestInvalidMediaCacheConfig(t *testing.T) {
	tests := []struct {
		key   string
		value any
	}{
		{"MediaCache.Size", "lots"},
		{"MediaCache.Size", "0"},
		{"MediaCache.ChunkSize", "2MiB"},
		{"MediaCache.PacketLimit", "1MB!"},
		{"MediaCache.WriteMode", "sometimes"},
		{"MediaCache.UseWeight", -1},
		{"MediaCache.RetryBudget", -2},
		{"MediaCache.DataLocation", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			resetConfig(t)
			viper.Set(tt.key, tt.value)
			require.NoError(t, InitConfigInternal())
			_, err := MediaCacheConfig()
			assert.Error(t, err)
		})
	}
}

func TestValidateConfigKeys(t *testing.T) {
	resetConfig(t)
	t.Setenv("MEDIACACHE_MEDIACACHE_SIZZLE", "1")
	v := viper.New()
	v.Set("config", "/etc/mediacache.yaml")
	v.Set("MediaCache.Size", "1GB")
	v.Set("Logging.Colour", "blue")
	v.Set("Bogus", true)

	unknown := validateConfigKeys(v)
	assert.ElementsMatch(t, []string{"logging.colour", "bogus", "mediacache.sizzle"}, unknown)
}
