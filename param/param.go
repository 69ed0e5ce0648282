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
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/pelicanplatform/mediacache/byte_rate"
)

var (
	viperConfig atomic.Pointer[Config]
	configMutex sync.Mutex
	callbacks   map[string]ConfigCallback
	callbackMux sync.RWMutex
)

// ConfigCallback is a function that is called when configuration changes.
// It receives the old and new configuration.
type ConfigCallback func(oldConfig, newConfig *Config)

func init() {
	callbacks = make(map[string]ConfigCallback)
}

// Refresh reloads the atomic cached configuration from viper's global instance.
// Code that mutates viper directly (SetDefault, Set, ReadInConfig, ...)
// calls Refresh afterwards so the param getters see the change.
func Refresh() (*Config, error) {
	return UnmarshalConfig()
}

// BindAllParameters binds all known configuration keys to environment variables.
//
// AutomaticEnv lets env vars override Get* calls, but AllSettings (which
// the snapshot is decoded from) only includes env-only values for bound
// keys.
func BindAllParameters(v *viper.Viper) {
	if v == nil {
		return
	}
	for _, key := range allParameterNames {
		_ = v.BindEnv(key)
	}
}

// stringToByteRateHookFunc converts strings such as "10MB/s" to a
// byte_rate.ByteRate.  Empty strings and "0" mean no limit.
func stringToByteRateHookFunc() mapstructure.DecodeHookFunc {
	byteRateType := reflect.TypeOf(byte_rate.ByteRate(0))
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != byteRateType {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" || raw == "0" {
			return byte_rate.ByteRate(0), nil
		}
		rate, err := byte_rate.ParseRate(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse byte rate '%s'", raw)
		}
		return rate, nil
	}
}

func newDecoder(result *Config) (*mapstructure.Decoder, error) {
	return mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToByteRateHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, fieldName)
		},
		Result: result,
	})
}

func decodeSettings(settings map[string]any) (*Config, error) {
	newConfig := new(Config)
	decoder, err := newDecoder(newConfig)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	return newConfig, nil
}

// DecodeConfig decodes the provided viper instance into a new Config struct.
//
// Unlike UnmarshalConfig/Refresh, this does NOT update the global atomic cache.
func DecodeConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("nil viper instance")
	}
	BindAllParameters(v)
	settings := v.AllSettings()
	mergeKnownKeyOverrides(settings, v)
	return decodeSettings(settings)
}

// mergeKnownKeyOverrides overlays values that AllSettings omits, such as
// keys bound only to cobra flags.
func mergeKnownKeyOverrides(settings map[string]any, v *viper.Viper) {
	if v == nil || settings == nil {
		return
	}
	for _, key := range allParameterNames {
		val := v.Get(key)
		if val == nil {
			continue
		}
		setLowercasePath(settings, strings.Split(key, "."), val)
	}
}

func setLowercasePath(root map[string]any, path []string, val any) {
	if len(path) == 0 {
		return
	}

	m := root
	for i := 0; i < len(path)-1; i++ {
		k := strings.ToLower(path[i])
		if next, ok := m[k].(map[string]any); ok {
			m = next
			continue
		}
		next := make(map[string]any)
		m[k] = next
		m = next
	}
	m[strings.ToLower(path[len(path)-1])] = val
}

// UnmarshalConfig refreshes the global atomic cached configuration from viper's
// global instance.
func UnmarshalConfig() (*Config, error) {
	configMutex.Lock()
	defer configMutex.Unlock()
	newConfig, err := DecodeConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	oldConfig := viperConfig.Load()
	viperConfig.Store(newConfig)
	invokeCallbacks(oldConfig, newConfig)
	return newConfig, nil
}

// Return the unmarshaled viper config struct as a pointer
func GetUnmarshaledConfig() (*Config, error) {
	config := viperConfig.Load()
	if config == nil {
		return nil, errors.New("Config hasn't been unmarshaled yet.")
	}
	return config, nil
}

// getOrCreateConfig returns the current config or decodes one from viper
// if none exists yet.  A decode failure yields the zero Config.
func getOrCreateConfig() *Config {
	if config := viperConfig.Load(); config != nil {
		return config
	}

	configMutex.Lock()
	defer configMutex.Unlock()
	if config := viperConfig.Load(); config != nil {
		return config
	}

	// AllSettings includes SetDefault values, which viper.Unmarshal does
	// not reliably do
	newConfig, err := decodeSettings(viper.GetViper().AllSettings())
	if err != nil {
		return new(Config)
	}
	viperConfig.Store(newConfig)
	return newConfig
}

// Set sets a parameter value in both viper and the config struct.
func Set(key string, value interface{}) error {
	return MultiSet(map[string]interface{}{key: value})
}

// MultiSet sets several parameter values and rebuilds the config struct
// once.
func MultiSet(keyValues map[string]interface{}) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	for key, value := range keyValues {
		viper.Set(key, value)
	}
	newConfig, err := decodeSettings(viper.GetViper().AllSettings())
	if err != nil {
		return err
	}
	oldConfig := viperConfig.Load()
	viperConfig.Store(newConfig)
	invokeCallbacks(oldConfig, newConfig)
	return nil
}

// Reset resets viper and drops the cached config struct.
func Reset() {
	configMutex.Lock()
	defer configMutex.Unlock()
	viper.Reset()
	viperConfig.Store(nil)
}

// RegisterCallback registers a function called after every configuration
// update.  A callback registered under an existing key replaces it.
func RegisterCallback(key string, cb ConfigCallback) {
	callbackMux.Lock()
	defer callbackMux.Unlock()
	callbacks[key] = cb
}

// ClearCallbacks clears all registered callbacks.
// This is primarily intended for testing.
func ClearCallbacks() {
	callbackMux.Lock()
	defer callbackMux.Unlock()
	callbacks = make(map[string]ConfigCallback)
}

// invokeCallbacks runs each callback in its own goroutine; the caller
// holds configMutex.
func invokeCallbacks(oldConfig, newConfig *Config) {
	callbackMux.RLock()
	defer callbackMux.RUnlock()
	for _, cb := range callbacks {
		go cb(oldConfig, newConfig)
	}
}
