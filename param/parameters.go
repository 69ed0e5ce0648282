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

package param

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pelicanplatform/mediacache/byte_rate"
)

// EnvPrefix prefixes every environment variable read by the configuration.
const EnvPrefix = "MEDIACACHE"

type StringParam struct {
	name string
}

type BoolParam struct {
	name string
}

type IntParam struct {
	name string
}

type ByteRateParam struct {
	name string
}

type DurationParam struct {
	name string
}

// runtimeConfigurableMap lists the parameters a running server picks up
// without a restart.
var runtimeConfigurableMap = map[string]bool{
	"Debug":                     true,
	"Logging.Level":             true,
	"MediaCache.AutoCheckUsage": false,
	"MediaCache.DataLocation":   false,
	"MediaCache.Size":           false,
	"MediaCache.WriteMode":      false,
	"Server.WebHost":            false,
	"Server.WebPort":            false,
}

func GetRuntimeConfigurable() map[string]bool {
	return runtimeConfigurableMap
}

// IsRuntimeConfigurable returns whether the given parameter can be reloaded at runtime
func IsRuntimeConfigurable(paramName string) bool {
	return runtimeConfigurableMap[paramName]
}

// paramNameToEnvVar converts a parameter name such as "MediaCache.Size" to
// its environment variable, MEDIACACHE_MEDIACACHE_SIZE.
func paramNameToEnvVar(paramName string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(paramName, ".", "_"))
}

func (sP StringParam) GetString() string {
	config := getOrCreateConfig()
	switch sP.name {
	case "Logging.Level":
		return config.Logging.Level
	case "Logging.LogLocation":
		return config.Logging.LogLocation
	case "MediaCache.ChunkSize":
		return config.MediaCache.ChunkSize
	case "MediaCache.DataLocation":
		return config.MediaCache.DataLocation
	case "MediaCache.PacketLimit":
		return config.MediaCache.PacketLimit
	case "MediaCache.Size":
		return config.MediaCache.Size
	case "MediaCache.WriteMode":
		return config.MediaCache.WriteMode
	case "Server.WebHost":
		return config.Server.WebHost
	}
	return ""
}

func (sP StringParam) GetName() string {
	return sP.name
}

func (sP StringParam) IsSet() bool {
	return viper.IsSet(sP.name)
}

func (sP StringParam) IsRuntimeConfigurable() bool {
	return IsRuntimeConfigurable(sP.name)
}

func (sP StringParam) GetEnvVarName() string {
	return paramNameToEnvVar(sP.name)
}

func (iP IntParam) GetInt() int {
	config := getOrCreateConfig()
	switch iP.name {
	case "MediaCache.MaxConcurrentFetches":
		return config.MediaCache.MaxConcurrentFetches
	case "MediaCache.RetryBudget":
		return config.MediaCache.RetryBudget
	case "MediaCache.TimeWeight":
		return config.MediaCache.TimeWeight
	case "MediaCache.UseWeight":
		return config.MediaCache.UseWeight
	case "Server.WebPort":
		return config.Server.WebPort
	}
	return 0
}

func (iP IntParam) GetName() string {
	return iP.name
}

func (iP IntParam) IsSet() bool {
	return viper.IsSet(iP.name)
}

func (iP IntParam) IsRuntimeConfigurable() bool {
	return IsRuntimeConfigurable(iP.name)
}

func (iP IntParam) GetEnvVarName() string {
	return paramNameToEnvVar(iP.name)
}

func (bRP ByteRateParam) GetByteRate() byte_rate.ByteRate {
	config := getOrCreateConfig()
	switch bRP.name {
	case "MediaCache.MaxDownloadSpeed":
		return config.MediaCache.MaxDownloadSpeed
	}
	return 0
}

func (bRP ByteRateParam) GetName() string {
	return bRP.name
}

func (bRP ByteRateParam) IsSet() bool {
	return viper.IsSet(bRP.name)
}

func (bRP ByteRateParam) IsRuntimeConfigurable() bool {
	return IsRuntimeConfigurable(bRP.name)
}

func (bRP ByteRateParam) GetEnvVarName() string {
	return paramNameToEnvVar(bRP.name)
}

func (bP BoolParam) GetBool() bool {
	config := getOrCreateConfig()
	switch bP.name {
	case "Debug":
		return config.Debug
	case "MediaCache.AutoCheckUsage":
		return config.MediaCache.AutoCheckUsage
	}
	return false
}

func (bP BoolParam) GetName() string {
	return bP.name
}

func (bP BoolParam) IsSet() bool {
	return viper.IsSet(bP.name)
}

func (bP BoolParam) IsRuntimeConfigurable() bool {
	return IsRuntimeConfigurable(bP.name)
}

func (bP BoolParam) GetEnvVarName() string {
	return paramNameToEnvVar(bP.name)
}

func (dP DurationParam) GetDuration() time.Duration {
	config := getOrCreateConfig()
	switch dP.name {
	case "MediaCache.CheckUsageInterval":
		return config.MediaCache.CheckUsageInterval
	case "MediaCache.FetchTimeout":
		return config.MediaCache.FetchTimeout
	case "MediaCache.ReadPacing":
		return config.MediaCache.ReadPacing
	}
	return 0
}

func (dP DurationParam) GetName() string {
	return dP.name
}

func (dP DurationParam) IsSet() bool {
	return viper.IsSet(dP.name)
}

func (dP DurationParam) IsRuntimeConfigurable() bool {
	return IsRuntimeConfigurable(dP.name)
}

func (dP DurationParam) GetEnvVarName() string {
	return paramNameToEnvVar(dP.name)
}

// allParameterNames is the sorted list of every config key.  It is used to
// bind environment variables so that env-only overrides show up in
// viper.AllSettings().
var allParameterNames = []string{
	"Debug",
	"Logging.Level",
	"Logging.LogLocation",
	"MediaCache.AutoCheckUsage",
	"MediaCache.CheckUsageInterval",
	"MediaCache.ChunkSize",
	"MediaCache.DataLocation",
	"MediaCache.FetchTimeout",
	"MediaCache.MaxConcurrentFetches",
	"MediaCache.MaxDownloadSpeed",
	"MediaCache.PacketLimit",
	"MediaCache.ReadPacing",
	"MediaCache.RetryBudget",
	"MediaCache.Size",
	"MediaCache.TimeWeight",
	"MediaCache.UseWeight",
	"MediaCache.WriteMode",
	"Server.WebHost",
	"Server.WebPort",
}

var (
	Logging_Level           = StringParam{"Logging.Level"}
	Logging_LogLocation     = StringParam{"Logging.LogLocation"}
	MediaCache_ChunkSize    = StringParam{"MediaCache.ChunkSize"}
	MediaCache_DataLocation = StringParam{"MediaCache.DataLocation"}
	MediaCache_PacketLimit  = StringParam{"MediaCache.PacketLimit"}
	MediaCache_Size         = StringParam{"MediaCache.Size"}
	MediaCache_WriteMode    = StringParam{"MediaCache.WriteMode"}
	Server_WebHost          = StringParam{"Server.WebHost"}
)

var (
	MediaCache_MaxConcurrentFetches = IntParam{"MediaCache.MaxConcurrentFetches"}
	MediaCache_RetryBudget          = IntParam{"MediaCache.RetryBudget"}
	MediaCache_TimeWeight           = IntParam{"MediaCache.TimeWeight"}
	MediaCache_UseWeight            = IntParam{"MediaCache.UseWeight"}
	Server_WebPort                  = IntParam{"Server.WebPort"}
)

var (
	MediaCache_MaxDownloadSpeed = ByteRateParam{"MediaCache.MaxDownloadSpeed"}
)

var (
	Debug                     = BoolParam{"Debug"}
	MediaCache_AutoCheckUsage = BoolParam{"MediaCache.AutoCheckUsage"}
)

var (
	MediaCache_CheckUsageInterval = DurationParam{"MediaCache.CheckUsageInterval"}
	MediaCache_FetchTimeout       = DurationParam{"MediaCache.FetchTimeout"}
	MediaCache_ReadPacing         = DurationParam{"MediaCache.ReadPacing"}
)
