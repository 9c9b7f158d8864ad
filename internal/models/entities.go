// internal/models/entities.go
package models

import "strings"

const (
	SourceLLM       = "llm"
	SourceRuleBased = "rule_based"
)

type Demographics struct {
	Age    string `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	Weight string `json:"weight,omitempty"`
}

// AgeYears understands "3", "3 years", "18 months", "6 weeks" and "10 days".
func (d Demographics) AgeYears() (float64, bool) {
	n, ok := FirstNumber(d.Age)
	if !ok {
		return 0, false
	}
	l := strings.ToLower(d.Age)
	switch {
	case strings.Contains(l, "month"):
		return n / 12, true
	case strings.Contains(l, "week") || strings.Contains(l, "wk"):
		return n / 52, true
	case strings.Contains(l, "day"):
		return n / 365, true
	}
	return n, true
}

// WeightKg converts pounds when the unit says so.
func (d Demographics) WeightKg() (float64, bool) {
	n, ok := FirstNumber(d.Weight)
	if !ok {
		return 0, false
	}
	l := strings.ToLower(d.Weight)
	if strings.Contains(l, "lb") || strings.Contains(l, "pound") {
		return n * 0.45359237, true
	}
	return n, true
}

type VitalSigns struct {
	HR   string            `json:"hr,omitempty"`
	RR   string            `json:"rr,omitempty"`
	BP   string            `json:"bp,omitempty"`
	Temp string            `json:"temp,omitempty"`
	O2   string            `json:"o2,omitempty"`
	GCS  string            `json:"gcs,omitempty"`
	More map[string]string `json:"more,omitempty"`
}

func (v VitalSigns) HeartRate() (float64, bool) { return FirstNumber(v.HR) }
func (v VitalSigns) RespRate() (float64, bool)  { return FirstNumber(v.RR) }
func (v VitalSigns) O2Sat() (float64, bool)     { return FirstNumber(v.O2) }
func (v VitalSigns) GCSScore() (float64, bool)  { return FirstNumber(v.GCS) }
func (v VitalSigns) TempValue() (float64, bool) { return FirstNumber(v.Temp) }

// SystolicBP reads the first number of "S/D".
func (v VitalSigns) SystolicBP() (float64, bool) { return FirstNumber(v.BP) }

// Present counts the five core vitals that carry a value.
func (v VitalSigns) Present() int {
	n := 0
	for _, s := range []string{v.HR, v.RR, v.BP, v.Temp, v.O2} {
		if s != "" {
			n++
		}
	}
	return n
}

type ClinicalInfo struct {
	ChiefComplaint  string   `json:"chief_complaint,omitempty"`
	ClinicalHistory string   `json:"clinical_history,omitempty"`
	Diagnoses       []string `json:"diagnoses,omitempty"`
	Medications     []string `json:"medications,omitempty"`
	Allergies       []string `json:"allergies,omitempty"`
	Procedures      []string `json:"procedures,omitempty"`
}

type CareNeeds struct {
	SuggestedCareLevel string   `json:"suggested_care_level,omitempty"`
	RequiresVentilator bool     `json:"requires_ventilator,omitempty"`
	Isolation          bool     `json:"isolation,omitempty"`
	Telemetry          bool     `json:"telemetry,omitempty"`
	SpecialtyCare      []string `json:"specialty_care,omitempty"`
}

// ExtractedEntities is produced once per request and passed by value.
type ExtractedEntities struct {
	Demographics Demographics `json:"demographics"`
	VitalSigns   VitalSigns   `json:"vital_signs"`
	ClinicalInfo ClinicalInfo `json:"clinical_info"`
	CareNeeds    CareNeeds    `json:"care_needs"`
	Source       string       `json:"source"`
}

var coreVitalKeys = map[string]bool{
	"hr": true, "heart_rate": true, "pulse": true,
	"rr": true, "respiratory_rate": true, "resp_rate": true,
	"bp": true, "blood_pressure": true,
	"temp": true, "temperature": true,
	"o2": true, "spo2": true, "o2_sat": true, "oxygen_saturation": true,
	"gcs": true,
}

// EntitiesFromMap reads the extraction stage output, accepting the legacy
// "clinical_information" section name.
func EntitiesFromMap(m map[string]interface{}) ExtractedEntities {
	demo := MapAt(m, "demographics", "patient_demographics")
	vitals := MapAt(m, "vital_signs", "vitals")
	clinical := MapAt(m, "clinical_info", "clinical_information")
	care := MapAt(m, "care_needs")

	e := ExtractedEntities{Source: SourceLLM}

	e.Demographics = Demographics{
		Age:    StringAt(demo, "age"),
		Gender: StringAt(demo, "gender", "sex"),
		Weight: StringAt(demo, "weight"),
	}

	e.VitalSigns = VitalSigns{
		HR:   StringAt(vitals, "hr", "heart_rate", "pulse"),
		RR:   StringAt(vitals, "rr", "respiratory_rate", "resp_rate"),
		BP:   StringAt(vitals, "bp", "blood_pressure"),
		Temp: StringAt(vitals, "temp", "temperature"),
		O2:   StringAt(vitals, "o2", "spo2", "o2_sat", "oxygen_saturation"),
		GCS:  StringAt(vitals, "gcs"),
	}
	for k, v := range vitals {
		if coreVitalKeys[k] {
			continue
		}
		if s := AsString(v); s != "" {
			if e.VitalSigns.More == nil {
				e.VitalSigns.More = map[string]string{}
			}
			e.VitalSigns.More[k] = s
		}
	}

	e.ClinicalInfo = ClinicalInfo{
		ChiefComplaint:  StringAt(clinical, "chief_complaint"),
		ClinicalHistory: StringAt(clinical, "clinical_history", "history"),
		Diagnoses:       AsStringSlice(clinical["diagnoses"]),
		Medications:     AsStringSlice(clinical["medications"]),
		Allergies:       AsStringSlice(clinical["allergies"]),
		Procedures:      AsStringSlice(clinical["procedures"]),
	}

	e.CareNeeds = CareNeeds{
		SuggestedCareLevel: NormalizeCareLevel(StringAt(care, "suggested_care_level", "care_level")),
		RequiresVentilator: AsBool(care["requires_ventilator"]),
		Isolation:          AsBool(first(care, "requires_isolation", "isolation")),
		Telemetry:          AsBool(first(care, "requires_telemetry", "telemetry")),
		SpecialtyCare:      AsStringSlice(first(care, "requires_specialty_care", "specialty_care")),
	}

	return e
}

func first(m map[string]interface{}, keys ...string) interface{} {
	v, _ := Lookup(m, keys...)
	return v
}
