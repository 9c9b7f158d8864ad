// internal/models/scoring.go
package models

import (
	"sort"
	"strings"
)

// ScoringResults is the opaque output of the severity score calculators,
// keyed by score name (pews, trap, cameo2, prism3, queensland, tps, chews).
// Each value is usually an object such as {"score": 7, "interpretation": "..."}.
type ScoringResults map[string]interface{}

func (s ScoringResults) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Entry returns the score object whose name matches case-insensitively.
func (s ScoringResults) Entry(name string) map[string]interface{} {
	for k, v := range s {
		if strings.EqualFold(k, name) {
			return AsMap(v)
		}
	}
	return nil
}

// Number reads the first numeric field among keys of the named score. A
// bare numeric entry ("pews": 7) is returned for any key.
func (s ScoringResults) Number(name string, keys ...string) (float64, bool) {
	for k, v := range s {
		if !strings.EqualFold(k, name) {
			continue
		}
		if m := AsMap(v); m != nil {
			for _, key := range keys {
				if f, ok := AsFloat(m[key]); ok {
					return f, true
				}
			}
			return 0, false
		}
		return AsFloat(v)
	}
	return 0, false
}

func (s ScoringResults) Text(name string, keys ...string) string {
	m := s.Entry(name)
	if m == nil {
		return ""
	}
	return StringAt(m, keys...)
}
