package config_printer

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Match struct {
	OriginalKey      string
	HighlightedKey   string
	HighlightedValue string
}

func configGet(cmd *cobra.Command, args []string) {
	currentConfig := initConfig(viper.GetViper())

	configValues := make(map[string]string)
	flattenConfig(currentConfig, "", configValues)

	var matches []Match
	for key, valueStr := range configValues {
		highlightedKey := key
		highlightedValue := valueStr
		matchesFound := len(args) == 0

		for _, arg := range args {
			argLower := strings.ToLower(arg)

			if strings.Contains(strings.ToLower(key), argLower) {
				highlightedKey = highlightSubstring(key, arg, color.FgYellow)
				matchesFound = true
			}

			if strings.Contains(strings.ToLower(valueStr), argLower) {
				highlightedValue = highlightSubstring(valueStr, arg, color.FgYellow)
				matchesFound = true
			}
		}

		if matchesFound {
			matches = append(matches, Match{
				OriginalKey:      key,
				HighlightedKey:   highlightedKey,
				HighlightedValue: highlightedValue,
			})
		}
	}

	if len(matches) == 0 && len(args) > 0 {
		fmt.Println("No matching configuration parameters found.")
		return
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].OriginalKey < matches[j].OriginalKey
	})

	for _, match := range matches {
		fmt.Printf("%s: %s\n", match.HighlightedKey, match.HighlightedValue)
	}
}

// flattenConfig recursively flattens the config structure into a
// map of lowercase dotted keys to formatted values.
func flattenConfig(config interface{}, parentKey string, result map[string]string) {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		key := strings.ToLower(field.Name)
		if parentKey != "" {
			key = parentKey + "." + key
		}

		switch fieldValue.Kind() {
		case reflect.Struct:
			flattenConfig(fieldValue.Interface(), key, result)
		case reflect.Ptr:
			if !fieldValue.IsNil() {
				flattenConfig(fieldValue.Interface(), key, result)
			}
		default:
			result[key] = formatValue(fieldValue.Interface())
		}
	}
}

// highlightSubstring highlights all occurrences of substr in s
func highlightSubstring(s, substr string, colorAttr color.Attribute) string {
	sLower := strings.ToLower(s)
	substrLower := strings.ToLower(substr)
	substrLen := len(substr)

	var result strings.Builder
	start := 0
	for {
		idx := strings.Index(sLower[start:], substrLower)
		if idx == -1 {
			result.WriteString(s[start:])
			break
		}

		idx += start
		result.WriteString(s[start:idx])
		result.WriteString(color.New(colorAttr).Sprint(s[idx : idx+substrLen]))
		start = idx + substrLen
	}
	return result.String()
}
