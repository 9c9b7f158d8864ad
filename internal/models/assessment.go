// internal/models/assessment.go
package models

import (
	"sort"
	"strings"
)

const (
	ImportancePrimary   = "primary"
	ImportanceSecondary = "secondary"
	ImportanceConsult   = "consult"
)

type SpecialtyNeed struct {
	Specialty  string `json:"specialty_name"`
	Importance string `json:"importance"`
	Reasoning  string `json:"reasoning,omitempty"`
}

type SpecialtyAssessment struct {
	RequiredSpecialties  []SpecialtyNeed `json:"required_specialties"`
	RecommendedCareLevel string          `json:"recommended_care_level"`
	CareLevelReasoning   string          `json:"care_level_reasoning,omitempty"`
	PotentialConditions  []string        `json:"potential_conditions,omitempty"`
	ClinicalSummary      string          `json:"clinical_summary,omitempty"`
	Scores               ScoringResults  `json:"scores,omitempty"`
	Source               string          `json:"source"`
}

func (s SpecialtyAssessment) SpecialtyNames() []string {
	out := make([]string, 0, len(s.RequiredSpecialties))
	for _, n := range s.RequiredSpecialties {
		out = append(out, n.Specialty)
	}
	return out
}

func NormalizeImportance(s string) string {
	l := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(l, "primary"), l == "high", l == "critical", l == "required":
		return ImportancePrimary
	case strings.HasPrefix(l, "consult"), l == "low", l == "optional":
		return ImportanceConsult
	}
	return ImportanceSecondary
}

// SpecialtyFromMap reads the specialty stage output. List entries may be
// objects or bare specialty names.
func SpecialtyFromMap(m map[string]interface{}) SpecialtyAssessment {
	a := SpecialtyAssessment{
		RecommendedCareLevel: NormalizeCareLevel(StringAt(m, "recommended_care_level", "care_level")),
		CareLevelReasoning:   StringAt(m, "care_level_reasoning"),
		PotentialConditions:  AsStringSlice(m["potential_conditions"]),
		ClinicalSummary:      StringAt(m, "clinical_summary"),
		Source:               SourceLLM,
	}

	raw, _ := Lookup(m, "required_specialties", "specialties")
	items, _ := raw.([]interface{})
	for _, item := range items {
		switch t := item.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				a.RequiredSpecialties = append(a.RequiredSpecialties, SpecialtyNeed{Specialty: s, Importance: ImportanceSecondary})
			}
		case map[string]interface{}:
			name := StringAt(t, "specialty", "specialty_name", "name")
			if name == "" {
				continue
			}
			a.RequiredSpecialties = append(a.RequiredSpecialties, SpecialtyNeed{
				Specialty:  name,
				Importance: NormalizeImportance(StringAt(t, "importance", "priority")),
				Reasoning:  StringAt(t, "reasoning", "reason"),
			})
		}
	}

	if scores := MapAt(m, "scores", "scoring_results"); scores != nil {
		a.Scores = ScoringResults(scores)
	}
	return a
}

type ExclusionMatch struct {
	ExclusionText string  `json:"exclusion_text"`
	Department    string  `json:"department,omitempty"`
	Evidence      string  `json:"evidence,omitempty"`
	Confidence    float64 `json:"confidence"`
}

type CampusExclusion struct {
	IsExcluded       bool             `json:"is_excluded"`
	ExclusionMatches []ExclusionMatch `json:"exclusion_matches"`
	OverallReasoning string           `json:"overall_reasoning,omitempty"`
}

type ExclusionEvaluation struct {
	CampusExclusions        map[string]CampusExclusion `json:"campus_exclusions"`
	RecommendedCampus       string                     `json:"recommended_campus,omitempty"`
	RecommendationReasoning string                     `json:"recommendation_reasoning,omitempty"`
	Source                  string                     `json:"source"`
}

// ExcludedCampuses lists excluded campus ids in sorted order.
func (e ExclusionEvaluation) ExcludedCampuses() []string {
	var out []string
	for id, ce := range e.CampusExclusions {
		if ce.IsExcluded {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (e ExclusionEvaluation) IsExcluded(campusID string) bool {
	ce, ok := e.CampusExclusions[campusID]
	return ok && ce.IsExcluded
}

// CheckedExclusions flattens the evaluation into found/not-found checks:
// one per match, and one clear check for each campus without matches.
func (e ExclusionEvaluation) CheckedExclusions() []CheckedExclusion {
	ids := make([]string, 0, len(e.CampusExclusions))
	for id := range e.CampusExclusions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []CheckedExclusion
	for _, id := range ids {
		ce := e.CampusExclusions[id]
		if len(ce.ExclusionMatches) == 0 {
			out = append(out, CheckedExclusion{CampusID: id, Found: ce.IsExcluded})
			continue
		}
		for _, m := range ce.ExclusionMatches {
			out = append(out, CheckedExclusion{CampusID: id, Criterion: m.ExclusionText, Found: true})
		}
	}
	return out
}

type CheckedExclusion struct {
	CampusID  string
	Criterion string
	Found     bool
}

func ExclusionFromMap(m map[string]interface{}) ExclusionEvaluation {
	e := ExclusionEvaluation{
		CampusExclusions:        map[string]CampusExclusion{},
		RecommendedCampus:       StringAt(m, "recommended_campus", "recommended_campus_id"),
		RecommendationReasoning: StringAt(m, "recommendation_reasoning", "reasoning"),
		Source:                  SourceLLM,
	}

	for id, raw := range MapAt(m, "campus_exclusions", "exclusions") {
		cm := AsMap(raw)
		if cm == nil {
			continue
		}
		ce := CampusExclusion{
			IsExcluded:       AsBool(cm["is_excluded"]),
			OverallReasoning: StringAt(cm, "overall_reasoning", "reasoning"),
		}
		items, _ := cm["exclusion_matches"].([]interface{})
		for _, item := range items {
			im := AsMap(item)
			if im == nil {
				if s := AsString(item); s != "" {
					ce.ExclusionMatches = append(ce.ExclusionMatches, ExclusionMatch{ExclusionText: s, Confidence: 50})
				}
				continue
			}
			conf, ok := AsFloat(im["confidence"])
			if !ok {
				conf = 50
			}
			ce.ExclusionMatches = append(ce.ExclusionMatches, ExclusionMatch{
				ExclusionText: StringAt(im, "exclusion_text", "criterion", "text"),
				Department:    StringAt(im, "department"),
				Evidence:      StringAt(im, "evidence"),
				Confidence:    conf,
			})
		}
		e.CampusExclusions[id] = ce
	}
	return e
}

// Restriction bounds a numeric patient attribute; nil ends are open.
type Restriction struct {
	Minimum *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
}

type DepartmentCriteria struct {
	Exclusions         []string     `json:"exclusions" yaml:"exclusions"`
	AgeRestrictions    *Restriction `json:"age_restrictions,omitempty" yaml:"age_restrictions,omitempty"`
	WeightRestrictions *Restriction `json:"weight_restrictions,omitempty" yaml:"weight_restrictions,omitempty"`
}

type CampusCriteria struct {
	CampusID          string                        `json:"campus_id,omitempty" yaml:"campus_id,omitempty"`
	GeneralExclusions []string                      `json:"general_exclusions" yaml:"general_exclusions"`
	Departments       map[string]DepartmentCriteria `json:"departments" yaml:"departments"`
}

// ExclusionCriteria is keyed by campus id.
type ExclusionCriteria map[string]CampusCriteria

func (c ExclusionCriteria) CampusIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
