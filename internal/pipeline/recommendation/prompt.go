package recommendation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"transfer-advisor/internal/models"
)

const careLevelCriteria = `Care level criteria:
- General: stable patient, routine monitoring, no organ support
- Intermediate: needs closer monitoring or frequent interventions but no organ support
- ICU: organ support or continuous monitoring (adolescents and adult-sized patients)
- PICU: critically ill infants and children needing organ support or invasive monitoring
- NICU: neonates and premature infants needing intensive care`

const scoringRubric = `Score every campus you consider from 1 (poor) to 5 (excellent) on:
- care_level_match: the campus offers the required level of care
- specialty_availability: the required specialties are available
- capacity: beds are available at the required level
- location: distance and transport time from the sending facility
- specific_resources: equipment and programs this patient needs`

const jsonInstructions = `
Respond with ONLY a JSON object, no prose and no markdown, with these fields:
{
  "recommended_campus_id": "campus id",
  "recommended_campus_name": "campus name",
  "recommended_level_of_care": "General | Intermediate | ICU | PICU | NICU",
  "reason": "main reason for the recommendation",
  "confidence_score": 0-100,
  "urgency": "low | medium | high | critical",
  "campus_scores": {"care_level_match": 1-5, "specialty_availability": 1-5, "capacity": 1-5, "location": 1-5, "specific_resources": 1-5},
  "explainability_details": {
    "main_recommendation_reason": "...",
    "alternative_reasons": {"OTHER_CAMPUS_ID": "why it was not chosen"},
    "key_factors_considered": ["..."],
    "confidence_explanation": "..."
  },
  "transport_details": {"mode": "ground | air", "estimated_time_minutes": 0, "special_requirements": ["..."]},
  "transport_considerations": ["..."],
  "required_resources": ["..."],
  "notes": ["..."]
}`

// responseSchema is sent as the structured output format.
var responseSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"recommended_campus_id":     map[string]interface{}{"type": "string"},
		"recommended_campus_name":   map[string]interface{}{"type": "string"},
		"recommended_level_of_care": map[string]interface{}{"type": "string"},
		"reason":                    map[string]interface{}{"type": "string"},
		"confidence_score":          map[string]interface{}{"type": "number"},
		"urgency":                   map[string]interface{}{"type": "string"},
		"campus_scores":             map[string]interface{}{"type": "object"},
		"explainability_details":    map[string]interface{}{"type": "object"},
		"transport_details":         map[string]interface{}{"type": "object"},
		"transport_considerations":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"required_resources":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"notes":                     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
	},
	"required": []interface{}{"recommended_campus_id", "recommended_level_of_care", "reason", "confidence_score"},
}

func buildPrompt(in Input, hospitals []models.Hospital) string {
	var b strings.Builder

	b.WriteString("Recommend the best campus and level of care for this pediatric transfer.\n\n")

	b.WriteString("## Patient\n")
	e := in.Entities
	writeLine(&b, "Age", e.Demographics.Age)
	writeLine(&b, "Gender", e.Demographics.Gender)
	writeLine(&b, "Weight", e.Demographics.Weight)
	writeLine(&b, "Chief complaint", e.ClinicalInfo.ChiefComplaint)
	writeLine(&b, "History", e.ClinicalInfo.ClinicalHistory)
	if len(e.ClinicalInfo.Diagnoses) > 0 {
		writeLine(&b, "Diagnoses", strings.Join(e.ClinicalInfo.Diagnoses, ", "))
	}
	if vitals := vitalsLine(e.VitalSigns); vitals != "" {
		writeLine(&b, "Vital signs", vitals)
	}
	writeLine(&b, "Suggested care level", e.CareNeeds.SuggestedCareLevel)
	if e.CareNeeds.RequiresVentilator {
		b.WriteString("- Requires ventilator\n")
	}

	b.WriteString("\n## Specialty needs\n")
	if len(in.Specialty.RequiredSpecialties) == 0 {
		b.WriteString("- None identified\n")
	}
	for _, s := range in.Specialty.RequiredSpecialties {
		fmt.Fprintf(&b, "- %s (%s)", s.Specialty, s.Importance)
		if s.Reasoning != "" {
			fmt.Fprintf(&b, ": %s", s.Reasoning)
		}
		b.WriteByte('\n')
	}
	writeLine(&b, "Assessed care level", in.Specialty.RecommendedCareLevel)

	b.WriteString("\n## Exclusions\n")
	excluded := in.Exclusions.ExcludedCampuses()
	if len(excluded) == 0 {
		b.WriteString("- No campus is excluded\n")
	}
	for _, id := range excluded {
		ce := in.Exclusions.CampusExclusions[id]
		texts := make([]string, 0, len(ce.ExclusionMatches))
		for _, m := range ce.ExclusionMatches {
			texts = append(texts, m.ExclusionText)
		}
		fmt.Fprintf(&b, "- %s is excluded: %s\n", id, strings.Join(texts, "; "))
	}

	b.WriteString("\n## Available campuses\n")
	for _, h := range hospitals {
		fmt.Fprintf(&b, "- %s (%s): care levels %s; specialties %s",
			h.CampusID, h.Name, strings.Join(h.CareLevels, ", "), strings.Join(h.Specialties, ", "))
		if census := in.censusFor(h); len(census) > 0 {
			fmt.Fprintf(&b, "; beds %s", censusLine(census))
		}
		if in.SendingLocation.Valid() && h.Location.Valid() {
			fmt.Fprintf(&b, "; %.1f km from sending facility", models.HaversineKm(*in.SendingLocation, h.Location))
		}
		b.WriteByte('\n')
	}

	if len(in.HumanSuggestions) > 0 {
		b.WriteString("\n## Clinician suggestions\n")
		writeJSON(&b, in.HumanSuggestions)
	}

	if len(in.Scores) > 0 {
		b.WriteString("\n## Pediatric severity scores\n")
		writeJSON(&b, in.Scores)
	}

	b.WriteString("\n")
	b.WriteString(careLevelCriteria)
	b.WriteString("\n\n")
	b.WriteString(scoringRubric)
	b.WriteString("\n\nNever recommend an excluded campus unless every campus is excluded.\n")
	return b.String()
}

func writeLine(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "- %s: %s\n", label, value)
	}
}

func writeJSON(b *strings.Builder, v interface{}) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	b.Write(raw)
	b.WriteByte('\n')
}

func vitalsLine(v models.VitalSigns) string {
	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+" "+value)
		}
	}
	add("HR", v.HR)
	add("RR", v.RR)
	add("BP", v.BP)
	add("Temp", v.Temp)
	add("SpO2", v.O2)
	add("GCS", v.GCS)
	keys := make([]string, 0, len(v.More))
	for k := range v.More {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, v.More[k])
	}
	return strings.Join(parts, ", ")
}

func censusLine(c models.BedCensus) string {
	units := make([]string, 0, len(c))
	for u := range c {
		units = append(units, u)
	}
	sort.Strings(units)
	parts := make([]string, 0, len(units))
	for _, u := range units {
		parts = append(parts, fmt.Sprintf("%s %d/%d available", u, c[u].Available, c[u].Total))
	}
	return strings.Join(parts, ", ")
}
