package specialty

import (
	"strings"

	"transfer-advisor/internal/models"
)

type taxonomyEntry struct {
	specialty string
	keywords  []string
	primary   []string
}

var taxonomy = []taxonomyEntry{
	{
		specialty: "Cardiology",
		keywords:  []string{"heart", "cardiac", "chest pain", "murmur", "arrhythmia", "tachycardia", "bradycardia"},
		primary:   []string{"heart failure", "cardiac arrest"},
	},
	{
		specialty: "Pulmonology",
		keywords:  []string{"respiratory", "breathing", "lung", "asthma", "pneumonia", "bronchiolitis", "cough"},
		primary:   []string{"respiratory distress", "difficulty breathing"},
	},
	{
		specialty: "Neurology",
		keywords:  []string{"neurological", "seizure", "stroke", "brain", "headache", "altered mental status"},
		primary:   []string{"seizure", "stroke"},
	},
	{
		specialty: "Infectious Disease",
		keywords:  []string{"infection", "fever", "sepsis", "meningitis"},
		primary:   []string{"sepsis", "meningitis"},
	},
}

// RuleBased assesses specialties from keywords in the extracted clinical
// information.
func RuleBased(entities models.ExtractedEntities) models.SpecialtyAssessment {
	text := clinicalText(entities)

	a := models.SpecialtyAssessment{Source: models.SourceRuleBased}
	for _, entry := range taxonomy {
		matched := matching(text, entry.keywords)
		if len(matched) == 0 {
			continue
		}
		importance := models.ImportanceSecondary
		if len(matching(text, entry.primary)) > 0 {
			importance = models.ImportancePrimary
		}
		a.RequiredSpecialties = append(a.RequiredSpecialties, models.SpecialtyNeed{
			Specialty:  entry.specialty,
			Importance: importance,
			Reasoning:  "Keywords found: " + strings.Join(matched, ", "),
		})
	}

	a.RecommendedCareLevel = fallbackCareLevel(entities)
	a.CareLevelReasoning = "Rule-based determination from suggested care level, vital signs and age"
	a.ClinicalSummary = entities.ClinicalInfo.ChiefComplaint
	return a
}

func clinicalText(e models.ExtractedEntities) string {
	parts := []string{e.ClinicalInfo.ChiefComplaint, e.ClinicalInfo.ClinicalHistory}
	parts = append(parts, e.ClinicalInfo.Diagnoses...)
	parts = append(parts, e.CareNeeds.SpecialtyCare...)
	return strings.ToLower(strings.Join(parts, " "))
}

func matching(text string, keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if strings.Contains(text, k) {
			out = append(out, k)
		}
	}
	return out
}

// fallbackCareLevel: a suggested level above General wins, then critical
// vitals mean ICU, then infants under one year mean NICU.
func fallbackCareLevel(e models.ExtractedEntities) string {
	if level := models.NormalizeCareLevel(e.CareNeeds.SuggestedCareLevel); models.CareRank(level) > models.CareRank(models.CareGeneral) {
		return level
	}
	if criticalVitals(e.VitalSigns) {
		return models.CareICU
	}
	if age, ok := e.Demographics.AgeYears(); ok && age < 1 {
		return models.CareNICU
	}
	return models.CareGeneral
}

func criticalVitals(v models.VitalSigns) bool {
	if hr, ok := v.HeartRate(); ok && (hr > 180 || hr < 60) {
		return true
	}
	if rr, ok := v.RespRate(); ok && (rr > 40 || rr < 10) {
		return true
	}
	if o2, ok := v.O2Sat(); ok && o2 < 90 {
		return true
	}
	return false
}
