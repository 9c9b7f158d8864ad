// internal/models/lenient.go
package models

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Model output is loosely typed: numbers arrive as strings, lists as comma
// separated text and objects under several names. These helpers read such
// values without failing.

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Lookup returns the first non-nil value stored under any of keys.
func Lookup(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func AsString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// AsFloat accepts numbers and strings that contain a number ("88%", "HR 160").
func AsFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return FirstNumber(t)
	}
	return 0, false
}

func FirstNumber(s string) (float64, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}

func AsBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "required":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

func AsMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return nil
}

// AsStringSlice turns a list (or a single comma separated string) into
// non-empty trimmed strings.
func AsStringSlice(v interface{}) []string {
	if s, ok := v.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return AsStringList(v)
}

// AsStringList is AsStringSlice for free text: a single string is kept
// whole as one element.
func AsStringList(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if s := AsString(item); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func StringAt(m map[string]interface{}, keys ...string) string {
	v, _ := Lookup(m, keys...)
	return AsString(v)
}

func MapAt(m map[string]interface{}, keys ...string) map[string]interface{} {
	for _, k := range keys {
		if sub := AsMap(m[k]); sub != nil {
			return sub
		}
	}
	return nil
}
