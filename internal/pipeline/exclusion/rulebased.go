package exclusion

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"transfer-advisor/internal/models"
)

const (
	textMatchConfidence   = 70
	restrictionConfidence = 95
)

var stopWords = map[string]bool{
	"with": true, "without": true, "from": true, "that": true, "this": true, "have": true,
	"been": true, "were": true, "will": true, "than": true, "them": true, "they": true,
	"their": true, "into": true, "when": true, "under": true, "over": true, "more": true,
	"less": true, "only": true, "patient": true, "patients": true, "requiring": true,
	"require": true, "requires": true, "years": true, "year": true, "old": true,
}

// RuleBased matches each campus's criteria against the patient's clinical
// text and age/weight.
func RuleBased(entities models.ExtractedEntities, criteria models.ExclusionCriteria) models.ExclusionEvaluation {
	text := patientText(entities)
	words := wordSet(text)

	eval := models.ExclusionEvaluation{
		CampusExclusions: map[string]models.CampusExclusion{},
		Source:           models.SourceRuleBased,
	}

	for _, campusID := range criteria.CampusIDs() {
		c := criteria[campusID]
		var matches []models.ExclusionMatch

		for _, exclusion := range c.GeneralExclusions {
			if textMatches(exclusion, words) {
				matches = append(matches, models.ExclusionMatch{
					ExclusionText: exclusion,
					Department:    "General",
					Evidence:      "Text match in patient information",
					Confidence:    textMatchConfidence,
				})
			}
		}

		for _, dept := range sortedDepartments(c.Departments) {
			d := c.Departments[dept]
			if age, ok := entities.Demographics.AgeYears(); ok {
				matches = append(matches, restrictionMatches(dept, "Age", "years", age, d.AgeRestrictions)...)
			}
			if weight, ok := entities.Demographics.WeightKg(); ok {
				matches = append(matches, restrictionMatches(dept, "Weight", "kg", weight, d.WeightRestrictions)...)
			}
			for _, exclusion := range d.Exclusions {
				if textMatches(exclusion, words) {
					matches = append(matches, models.ExclusionMatch{
						ExclusionText: exclusion,
						Department:    dept,
						Evidence:      "Text match in patient information",
						Confidence:    textMatchConfidence,
					})
				}
			}
		}

		ce := models.CampusExclusion{
			IsExcluded:       len(matches) > 0,
			ExclusionMatches: matches,
			OverallReasoning: "Not excluded based on rule-based matching",
		}
		if ce.IsExcluded {
			ce.OverallReasoning = "Excluded based on rule-based matching"
		}
		eval.CampusExclusions[campusID] = ce
	}

	eval.RecommendedCampus = fewestMatches(eval, criteria.CampusIDs())
	eval.RecommendationReasoning = "Based on rule-based evaluation due to LLM unavailability"
	return eval
}

func restrictionMatches(dept, label, unit string, value float64, r *models.Restriction) []models.ExclusionMatch {
	if r == nil {
		return nil
	}
	var out []models.ExclusionMatch
	if r.Minimum != nil && value < *r.Minimum {
		out = append(out, models.ExclusionMatch{
			ExclusionText: fmt.Sprintf("%s restriction: minimum %s %s", label, formatNumber(*r.Minimum), unit),
			Department:    dept,
			Evidence:      fmt.Sprintf("Patient %s (%s) below minimum", strings.ToLower(label), formatNumber(value)),
			Confidence:    restrictionConfidence,
		})
	}
	if r.Maximum != nil && value > *r.Maximum {
		out = append(out, models.ExclusionMatch{
			ExclusionText: fmt.Sprintf("%s restriction: maximum %s %s", label, formatNumber(*r.Maximum), unit),
			Department:    dept,
			Evidence:      fmt.Sprintf("Patient %s (%s) above maximum", strings.ToLower(label), formatNumber(value)),
			Confidence:    restrictionConfidence,
		})
	}
	return out
}

// fewestMatches picks the campus with the fewest exclusion matches; ids are
// visited in sorted order so ties go to the lowest id.
func fewestMatches(eval models.ExclusionEvaluation, ids []string) string {
	best, bestCount := "", -1
	for _, id := range ids {
		n := len(eval.CampusExclusions[id].ExclusionMatches)
		if eval.CampusExclusions[id].IsExcluded && n == 0 {
			n = 1
		}
		if bestCount < 0 || n < bestCount {
			best, bestCount = id, n
		}
	}
	return best
}

func patientText(e models.ExtractedEntities) string {
	parts := []string{e.ClinicalInfo.ChiefComplaint, e.ClinicalInfo.ClinicalHistory}
	parts = append(parts, e.ClinicalInfo.Diagnoses...)
	parts = append(parts, e.ClinicalInfo.Procedures...)
	return strings.ToLower(strings.Join(parts, " "))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, w := range tokenize(text) {
		set[w] = true
	}
	return set
}

// textMatches reports whether any significant word of the criterion occurs
// in the patient text. Short words and stop words never count.
func textMatches(criterion string, words map[string]bool) bool {
	for _, w := range tokenize(criterion) {
		if len(w) < 4 || stopWords[w] {
			continue
		}
		if words[w] {
			return true
		}
	}
	return false
}

func sortedDepartments(m map[string]models.DepartmentCriteria) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.1f", f)
}
