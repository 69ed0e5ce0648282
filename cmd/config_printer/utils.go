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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pelicanplatform/mediacache/config"
	"github.com/pelicanplatform/mediacache/param"
)

// initConfig populates the defaults of v and decodes it into a config
// struct without touching the global snapshot.
func initConfig(v *viper.Viper) *param.Config {
	config.SetDefaults(v)
	expandedConfig, err := param.DecodeConfig(v)
	if err != nil {
		log.Errorf("Error decoding config: %v", err)
		return &param.Config{}
	}
	return expandedConfig
}

// printConfig prints configData, which need not be a full Config struct,
// as "yaml" or "json".
func printConfig(configData interface{}, format string) {
	switch format {
	case "yaml":
		if yamlData, err := yaml.Marshal(configData); err != nil {
			log.Errorf("Error marshaling config to YAML: %v", err)
		} else {
			fmt.Println(string(yamlData))
		}
	case "json":
		if jsonData, err := json.MarshalIndent(configData, "", "  "); err != nil {
			log.Errorf("Error marshaling config to JSON: %v", err)
		} else {
			fmt.Println(string(jsonData))
		}
	default:
		log.Errorf("Unsupported format: %s. Use 'yaml' or 'json'.", format)
	}
}

// formatValue renders a value for printing; a slice `[]int{1, 2, 3, 4}`
// becomes "[1, 2, 3, 4]" and strings are quoted.
func formatValue(value interface{}) string {
	if value == nil {
		return "none"
	}
	if stringer, ok := value.(fmt.Stringer); ok {
		return stringer.String()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var elements []string
		for i := 0; i < rv.Len(); i++ {
			elements = append(elements, formatValue(rv.Index(i).Interface()))
		}
		return "[" + strings.Join(elements, ", ") + "]"
	case reflect.String:
		return fmt.Sprintf("\"%s\"", value)
	default:
		return fmt.Sprintf("%v", value)
	}
}
