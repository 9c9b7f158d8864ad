// Package standardizer normalises model recommendation JSON into the
// canonical recommendation shape.
package standardizer

import (
	"fmt"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"
)

const (
	KeyCampusID       = "recommended_campus_id"
	KeyCampusName     = "recommended_campus_name"
	KeyLevelOfCare    = "recommended_level_of_care"
	KeyReason         = "reason"
	KeyConfidence     = "confidence_score"
	KeyExplainability = "explainability_details"
	KeyNotes          = "notes"
	KeyTransport      = "transport_details"
	KeyConditions     = "conditions"

	KeyMainReason     = "main_recommendation_reason"
	KeyAlternatives   = "alternative_reasons"
	KeyKeyFactors     = "key_factors_considered"
	KeyConfidenceExpl = "confidence_explanation"

	// DefaultConfidence is used when the model gives no usable confidence.
	DefaultConfidence = 70.0
)

// alias maps one canonical key to the names older prompts produced. The
// canonical name is always tried first.
type alias struct {
	canonical string
	legacy    []string
}

var aliases = []alias{
	{KeyCampusID, []string{"recommended_campus", "campus_id", "campus", "hospital", "facility", "hospital_id", "facility_id"}},
	{KeyCampusName, []string{"campus_name", "hospital_name", "facility_name"}},
	{KeyLevelOfCare, []string{"care_level", "level_of_care", "recommended_care_level"}},
	{KeyReason, []string{"reasoning", "main_reason", "recommendation_reason", "justification", "rationale"}},
	{KeyConfidence, []string{"confidence", "confidence_level"}},
	{KeyExplainability, []string{"explainability", "explanation"}},
	{KeyNotes, []string{"clinical_notes", "additional_notes"}},
	{KeyTransport, []string{"transport", "transportation"}},
	{KeyConditions, []string{"environmental_conditions"}},
}

var explainabilityAliases = []alias{
	{KeyMainReason, []string{"main_reason", "primary_reason"}},
	{KeyAlternatives, []string{"alternatives", "alternative_campuses"}},
	{KeyKeyFactors, []string{"key_factors", "factors"}},
	{KeyConfidenceExpl, []string{"confidence_reasoning"}},
}

var wrapperKeys = []string{"recommendation", "final_recommendation", "recommendation_data"}

// Report says which canonical fields were filled with defaults.
type Report struct {
	ConfidenceDefaulted bool
	Defaulted           []string
}

type Standardizer struct {
	log logger.Logger
}

func New(log logger.Logger) *Standardizer {
	return &Standardizer{log: logger.Component(log, "standardizer")}
}

// Standardize returns a fully populated canonical map for any input,
// including nil. Applying it to its own output changes nothing.
func (s *Standardizer) Standardize(raw map[string]interface{}) map[string]interface{} {
	out, _ := s.StandardizeWithReport(raw)
	return out
}

func (s *Standardizer) StandardizeWithReport(raw map[string]interface{}) (map[string]interface{}, Report) {
	var report Report
	src := unwrap(raw)

	out := make(map[string]interface{}, len(src)+len(aliases))
	consumed := map[string]bool{}
	for _, a := range aliases {
		consumed[a.canonical] = true
		for _, l := range a.legacy {
			consumed[l] = true
		}
	}
	consumed["excluded_campuses"] = true
	for k, v := range src {
		if !consumed[k] {
			out[k] = v
		}
	}

	campusValue, _ := resolve(src, aliasFor(KeyCampusID))
	campusID, campusName := campusFromValue(campusValue)
	out[KeyCampusID] = campusID
	if campusID == "" {
		report.Defaulted = append(report.Defaulted, KeyCampusID)
	}

	name := stringField(src, KeyCampusName)
	if name == "" {
		name = campusName
	}
	out[KeyCampusName] = name

	out[KeyLevelOfCare] = models.NormalizeCareLevel(stringField(src, KeyLevelOfCare))
	out[KeyReason] = stringField(src, KeyReason)

	confidence, ok := s.confidence(src)
	if !ok {
		report.ConfidenceDefaulted = true
		report.Defaulted = append(report.Defaulted, KeyConfidence)
	}
	out[KeyConfidence] = confidence

	expl, defaulted := s.explainability(src, out[KeyReason].(string))
	if defaulted {
		report.Defaulted = append(report.Defaulted, KeyExplainability)
	}
	if excluded, ok := src["excluded_campuses"]; ok {
		foldExcluded(expl[KeyAlternatives].(map[string]interface{}), excluded)
	}
	out[KeyExplainability] = expl

	notesValue, _ := resolve(src, aliasFor(KeyNotes))
	notes := models.AsStringList(notesValue)
	if notes == nil {
		notes = []string{}
	}
	out[KeyNotes] = toInterfaces(notes)

	out[KeyTransport] = s.objectField(src, KeyTransport, "mode", &report)
	out[KeyConditions] = s.objectField(src, KeyConditions, "", &report)

	if len(report.Defaulted) > 0 {
		s.log.Debug("standardizer filled defaults", map[string]interface{}{
			"fields": report.Defaulted,
		})
	}
	return out, report
}

// unwrap lifts a recommendation nested under a wrapper key (or inside a
// single-element array under that key). Outer keys only fill gaps.
func unwrap(raw map[string]interface{}) map[string]interface{} {
	if raw == nil {
		return map[string]interface{}{}
	}
	for _, key := range wrapperKeys {
		inner := asObject(raw[key])
		if inner == nil {
			continue
		}
		merged := make(map[string]interface{}, len(raw)+len(inner))
		for k, v := range raw {
			if k != key {
				merged[k] = v
			}
		}
		for k, v := range inner {
			merged[k] = v
		}
		return unwrap(merged)
	}
	return raw
}

func asObject(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case []interface{}:
		if len(t) == 1 {
			return models.AsMap(t[0])
		}
	}
	return nil
}

func aliasFor(canonical string) alias {
	for _, a := range aliases {
		if a.canonical == canonical {
			return a
		}
	}
	return alias{canonical: canonical}
}

func resolve(m map[string]interface{}, a alias) (interface{}, bool) {
	keys := append([]string{a.canonical}, a.legacy...)
	return models.Lookup(m, keys...)
}

func stringField(m map[string]interface{}, canonical string) string {
	v, _ := resolve(m, aliasFor(canonical))
	if models.AsMap(v) != nil {
		return ""
	}
	return models.AsString(v)
}

// campusFromValue accepts "CAMPUS_A" or {"id": "CAMPUS_A", "name": "..."}.
func campusFromValue(v interface{}) (string, string) {
	if m := models.AsMap(v); m != nil {
		return models.StringAt(m, "campus_id", "id", "code"), models.StringAt(m, "name", "campus_name")
	}
	return models.AsString(v), ""
}

func (s *Standardizer) confidence(m map[string]interface{}) (float64, bool) {
	v, ok := resolve(m, aliasFor(KeyConfidence))
	if !ok {
		return DefaultConfidence, false
	}
	f, ok := models.AsFloat(v)
	if !ok {
		s.log.Warn("confidence score is not numeric, using default", map[string]interface{}{
			"value": fmt.Sprintf("%v", v),
		})
		return DefaultConfidence, false
	}
	return models.ClampConfidence(f), true
}

func (s *Standardizer) explainability(m map[string]interface{}, reason string) (map[string]interface{}, bool) {
	v, present := resolve(m, aliasFor(KeyExplainability))
	src := models.AsMap(v)
	defaulted := src == nil
	if present && src == nil {
		s.log.Warn("explainability details have the wrong type, using defaults", map[string]interface{}{
			"type": fmt.Sprintf("%T", v),
		})
	}
	if src == nil {
		src = map[string]interface{}{}
	}

	out := make(map[string]interface{}, len(src)+4)
	consumed := map[string]bool{}
	for _, a := range explainabilityAliases {
		consumed[a.canonical] = true
		for _, l := range a.legacy {
			consumed[l] = true
		}
	}
	for k, v := range src {
		if !consumed[k] {
			out[k] = v
		}
	}

	main, _ := resolve(src, explainabilityAliases[0])
	mainReason := models.AsString(main)
	if mainReason == "" {
		mainReason = reason
	}
	out[KeyMainReason] = mainReason

	alternatives, _ := resolve(src, explainabilityAliases[1])
	out[KeyAlternatives] = alternativeReasons(alternatives)

	factors, _ := resolve(src, explainabilityAliases[2])
	list := models.AsStringSlice(factors)
	if list == nil {
		list = []string{}
	}
	out[KeyKeyFactors] = toInterfaces(list)

	confExpl, _ := resolve(src, explainabilityAliases[3])
	if text := models.AsString(confExpl); text != "" {
		out[KeyConfidenceExpl] = text
	} else {
		out[KeyConfidenceExpl] = nil
	}

	return out, defaulted
}

// alternativeReasons accepts a campus->reason object or a list of
// {campus_id, reason} objects or plain strings.
func alternativeReasons(v interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	switch t := v.(type) {
	case map[string]interface{}:
		for k, reason := range t {
			if s := models.AsString(reason); s != "" {
				out[k] = s
			}
		}
	case []interface{}:
		for i, item := range t {
			if m := models.AsMap(item); m != nil {
				id := models.StringAt(m, "campus_id", "campus", "id", "name")
				if id == "" {
					id = fmt.Sprintf("alternative_%d", i+1)
				}
				out[id] = models.StringAt(m, "reason", "reasoning", "explanation")
				continue
			}
			if s := models.AsString(item); s != "" {
				out[fmt.Sprintf("alternative_%d", i+1)] = s
			}
		}
	}
	return out
}

// foldExcluded merges a legacy excluded_campuses list into the
// alternative reasons without overwriting existing entries.
func foldExcluded(alternatives map[string]interface{}, v interface{}) {
	items, _ := v.([]interface{})
	for _, item := range items {
		m := models.AsMap(item)
		if m == nil {
			continue
		}
		id := models.StringAt(m, "campus_id", "name", "campus")
		if id == "" {
			continue
		}
		if _, exists := alternatives[id]; exists {
			continue
		}
		reason := models.StringAt(m, "reason", "reasoning")
		if score, ok := models.AsFloat(m["total_score"]); ok {
			reason = fmt.Sprintf("%s (score: %s)", reason, models.AsString(score))
		}
		alternatives[id] = reason
	}
}

func (s *Standardizer) objectField(m map[string]interface{}, canonical, stringKey string, report *Report) map[string]interface{} {
	v, present := resolve(m, aliasFor(canonical))
	if obj := models.AsMap(v); obj != nil {
		return obj
	}
	if present {
		if str := models.AsString(v); str != "" && stringKey != "" {
			return map[string]interface{}{stringKey: str}
		}
		s.log.Warn("field is not an object, using empty object", map[string]interface{}{
			"field": canonical,
			"type":  fmt.Sprintf("%T", v),
		})
	}
	report.Defaulted = append(report.Defaulted, canonical)
	return map[string]interface{}{}
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
