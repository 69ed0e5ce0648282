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
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/pelicanplatform/mediacache/param"
)

// findFieldByTag searches a struct for the field whose tag has the given value.
func findFieldByTag(t reflect.Type, tagKey, tagValue string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get(tagKey) == tagValue {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

// validateConfigKeys returns the keys set in viper or in MEDIACACHE_*
// environment variables that match no field of param.Config.
func validateConfigKeys(v *viper.Viper) []string {
	keys := v.AllKeys()
	// AllKeys misses env-only keys
	for _, env := range os.Environ() {
		name, _, _ := strings.Cut(env, "=")
		if rest, ok := strings.CutPrefix(name, param.EnvPrefix+"_"); ok {
			keys = append(keys, strings.ReplaceAll(strings.ToLower(rest), "_", "."))
		}
	}

	configType := reflect.TypeOf(param.Config{})
	unknownKeys := []string{}
	for _, key := range keys {
		currentType := configType
		for idx, part := range strings.Split(key, ".") {
			// "config" holds the --config flag
			if idx == 0 && part == "config" {
				break
			}
			field, present := findFieldByTag(currentType, "mapstructure", part)
			if !present {
				unknownKeys = append(unknownKeys, key)
				break
			}
			if field.Type.Kind() != reflect.Struct {
				break
			}
			currentType = field.Type
		}
	}
	return unknownKeys
}
