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
	"reflect"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func configSummary(cmd *cobra.Command, args []string) {
	defaultConfig := initConfig(viper.New())
	currentConfig := initConfig(viper.GetViper())

	if diff := compareStructsAsym(currentConfig, defaultConfig); diff != nil {
		printConfig(diff, format)
	}
}

// compareStructsAsym walks two config instances and returns a nested map
// of the fields of v1 whose values differ from v2, or nil.
func compareStructsAsym(v1, v2 interface{}) interface{} {
	val1 := reflect.ValueOf(v1)
	val2 := reflect.ValueOf(v2)

	if val1.Kind() == reflect.Ptr {
		if val1.IsNil() {
			val1 = reflect.Value{}
		} else {
			val1 = val1.Elem()
		}
	}
	if val2.Kind() == reflect.Ptr {
		if val2.IsNil() {
			val2 = reflect.Value{}
		} else {
			val2 = val2.Elem()
		}
	}

	if !val1.IsValid() && !val2.IsValid() {
		return nil
	}
	if !val1.IsValid() || !val2.IsValid() {
		return v1
	}

	if val1.Kind() != reflect.Struct {
		if !reflect.DeepEqual(val1.Interface(), val2.Interface()) {
			return val1.Interface()
		}
		return nil
	}

	diffMap := make(map[string]interface{})
	typeOfVal1 := val1.Type()
	for i := 0; i < val1.NumField(); i++ {
		fieldName := typeOfVal1.Field(i).Name

		var fieldVal2 interface{}
		if field2 := val2.FieldByName(fieldName); field2.IsValid() {
			fieldVal2 = field2.Interface()
		}
		if fieldDiff := compareStructsAsym(val1.Field(i).Interface(), fieldVal2); fieldDiff != nil {
			diffMap[fieldName] = fieldDiff
		}
	}
	if len(diffMap) == 0 {
		return nil
	}
	return diffMap
}
