// internal/models/carelevel.go
package models

import "strings"

const (
	CareGeneral      = "General"
	CareIntermediate = "Intermediate"
	CareICU          = "ICU"
	CarePICU         = "PICU"
	CareNICU         = "NICU"
)

// NormalizeCareLevel maps free text onto a canonical level. Unrecognised
// values are returned trimmed but otherwise unchanged.
func NormalizeCareLevel(s string) string {
	trimmed := strings.TrimSpace(s)
	l := strings.ToLower(trimmed)
	switch {
	case l == "":
		return ""
	case strings.Contains(l, "nicu") || strings.Contains(l, "neonatal"):
		return CareNICU
	case strings.Contains(l, "picu") || strings.Contains(l, "pediatric intensive") || strings.Contains(l, "pediatric icu") || strings.Contains(l, "paediatric intensive"):
		return CarePICU
	case strings.Contains(l, "intermediate") || strings.Contains(l, "step-down") ||
		strings.Contains(l, "stepdown") || strings.Contains(l, "imcu") || strings.Contains(l, "high dependency"):
		return CareIntermediate
	case strings.Contains(l, "icu") || strings.Contains(l, "intensive") || strings.Contains(l, "critical"):
		return CareICU
	case strings.Contains(l, "general") || strings.Contains(l, "floor") || strings.Contains(l, "ward") || strings.Contains(l, "acute"):
		return CareGeneral
	}
	return trimmed
}

// CareRank orders levels by acuity. PICU and NICU share the top tier.
// Unknown levels rank -1.
func CareRank(level string) int {
	switch NormalizeCareLevel(level) {
	case CareGeneral:
		return 0
	case CareIntermediate:
		return 1
	case CareICU:
		return 2
	case CarePICU, CareNICU:
		return 3
	}
	return -1
}

// EscalateCareLevel returns candidate when it ranks above current.
func EscalateCareLevel(current, candidate string) string {
	if CareRank(candidate) > CareRank(current) {
		return NormalizeCareLevel(candidate)
	}
	return current
}
