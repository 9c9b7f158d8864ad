package extraction

import (
	"regexp"
	"strings"

	"transfer-advisor/internal/models"
)

var (
	ageYearsPattern  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*-?\s*(?:years?|yrs?|yo|y/o)\b`)
	ageMonthsPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s*-?\s*(?:months?|mos?)\b`)
	ageWeeksPattern  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*-?\s*(?:weeks?|wks?)\b`)
	ageDaysPattern   = regexp.MustCompile(`(?i)\b(\d{1,2})\s*-?\s*days?[\s-]*old\b`)

	malePattern   = regexp.MustCompile(`(?i)\b(?:male|boy|man|son|he)\b`)
	femalePattern = regexp.MustCompile(`(?i)\b(?:female|girl|woman|daughter|she)\b`)

	hrPattern     = regexp.MustCompile(`(?i)\b(?:hr|heart rate|pulse)\s*(?:of|is|:|=)?\s*(\d{2,3})`)
	rrPattern     = regexp.MustCompile(`(?i)\b(?:rr|resp(?:iratory)? rate|resp)\s*(?:of|is|:|=)?\s*(\d{1,3})`)
	bpPattern     = regexp.MustCompile(`(?i)\b(?:bp|blood pressure)\s*(?:of|is|:|=)?\s*(\d{2,3})\s*[/\\]\s*(\d{2,3})`)
	tempPattern   = regexp.MustCompile(`(?i)\b(?:temp(?:erature)?)\s*(?:of|is|:|=)?\s*(\d{2,3}(?:\.\d+)?)\s*°?\s*([cf])?\b`)
	o2Pattern     = regexp.MustCompile(`(?i)\b(?:spo2|sp02|o2 sat(?:uration)?|oxygen saturation|o2|sats?|saturation)\s*(?:of|is|:|=)?\s*(\d{2,3})\s*%?`)
	weightPattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(kg|kilograms?|lbs?|pounds?)\b`)
	gcsPattern    = regexp.MustCompile(`(?i)\bgcs\s*(?:of|is|:|=)?\s*(\d{1,2})`)

	ventilatorPattern = regexp.MustCompile(`(?i)\b(?:intubated|ventilat\w*|mechanical ventilation|bipap|cpap)\b`)
	isolationPattern  = regexp.MustCompile(`(?i)\b(?:isolation|contact precautions|droplet precautions|airborne precautions)\b`)
	telemetryPattern  = regexp.MustCompile(`(?i)\b(?:telemetry|cardiac monitor\w*|arrhythmia)\b`)

	nicuPattern = regexp.MustCompile(`(?i)\b(?:nicu|neonatal|newborn|infant)\b`)
	picuPattern = regexp.MustCompile(`(?i)\b(?:picu|pediatric intensive)\b`)
	icuPattern  = regexp.MustCompile(`(?i)\b(?:icu|intensive care|critical care)\b`)
)

// RuleBased extracts what regular expressions can find in text.
func RuleBased(text string) models.ExtractedEntities {
	e := models.ExtractedEntities{Source: models.SourceRuleBased}

	switch {
	case ageYearsPattern.MatchString(text):
		e.Demographics.Age = ageYearsPattern.FindStringSubmatch(text)[1] + " years"
	case ageMonthsPattern.MatchString(text):
		e.Demographics.Age = ageMonthsPattern.FindStringSubmatch(text)[1] + " months"
	case ageWeeksPattern.MatchString(text):
		e.Demographics.Age = ageWeeksPattern.FindStringSubmatch(text)[1] + " weeks"
	case ageDaysPattern.MatchString(text):
		e.Demographics.Age = ageDaysPattern.FindStringSubmatch(text)[1] + " days"
	}

	switch {
	case malePattern.MatchString(text):
		e.Demographics.Gender = "male"
	case femalePattern.MatchString(text):
		e.Demographics.Gender = "female"
	}

	if m := weightPattern.FindStringSubmatch(text); m != nil {
		unit := strings.ToLower(m[2])
		if strings.HasPrefix(unit, "lb") || strings.HasPrefix(unit, "pound") {
			e.Demographics.Weight = m[1] + " lb"
		} else {
			e.Demographics.Weight = m[1] + " kg"
		}
	}

	if m := hrPattern.FindStringSubmatch(text); m != nil {
		e.VitalSigns.HR = m[1]
	}
	if m := rrPattern.FindStringSubmatch(text); m != nil {
		e.VitalSigns.RR = m[1]
	}
	if m := bpPattern.FindStringSubmatch(text); m != nil {
		e.VitalSigns.BP = m[1] + "/" + m[2]
	}
	if m := tempPattern.FindStringSubmatch(text); m != nil {
		e.VitalSigns.Temp = m[1]
		if strings.EqualFold(m[2], "f") {
			e.VitalSigns.Temp += " F"
		}
	}
	if m := o2Pattern.FindStringSubmatch(text); m != nil {
		e.VitalSigns.O2 = m[1] + "%"
	}
	if m := gcsPattern.FindStringSubmatch(text); m != nil {
		e.VitalSigns.GCS = m[1]
	}

	e.ClinicalInfo.ChiefComplaint = firstSentence(text)

	e.CareNeeds.SuggestedCareLevel = keywordCareLevel(text)
	e.CareNeeds.RequiresVentilator = ventilatorPattern.MatchString(text)
	e.CareNeeds.Isolation = isolationPattern.MatchString(text)
	e.CareNeeds.Telemetry = telemetryPattern.MatchString(text)

	return e
}

func keywordCareLevel(text string) string {
	switch {
	case nicuPattern.MatchString(text):
		return models.CareNICU
	case picuPattern.MatchString(text):
		return models.CarePICU
	case icuPattern.MatchString(text):
		return models.CareICU
	}
	return models.CareGeneral
}

// firstSentence ends at the first period followed by whitespace or end of
// text, or at a newline, so decimals like "38.5" stay intact.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			return strings.TrimSpace(text[:i])
		case '.', '!', '?':
			if i == len(text)-1 || text[i+1] == ' ' || text[i+1] == '\n' {
				return strings.TrimSpace(text[:i])
			}
		}
	}
	return text
}
