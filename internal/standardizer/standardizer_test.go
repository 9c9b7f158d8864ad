package standardizer

import (
	"testing"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStandardizer(t *testing.T) *Standardizer {
	return New(logger.NewTestLogger(t))
}

// ==========================
// Defaults
// ==========================

func TestStandardize_EmptyInput(t *testing.T) {
	s := newTestStandardizer(t)

	for _, raw := range []map[string]interface{}{nil, {}} {
		out, report := s.StandardizeWithReport(raw)

		assert.Equal(t, DefaultConfidence, out[KeyConfidence])
		assert.True(t, report.ConfidenceDefaulted)
		assert.Equal(t, map[string]interface{}{}, out[KeyTransport])
		assert.Equal(t, map[string]interface{}{}, out[KeyConditions])
		assert.Equal(t, []interface{}{}, out[KeyNotes])

		expl := out[KeyExplainability].(map[string]interface{})
		assert.Equal(t, []interface{}{}, expl[KeyKeyFactors])
		assert.Equal(t, map[string]interface{}{}, expl[KeyAlternatives])
		assert.Contains(t, expl, KeyConfidenceExpl)
		assert.Nil(t, expl[KeyConfidenceExpl])
		assert.Equal(t, "", expl[KeyMainReason])
	}
}

func TestStandardize_Confidence(t *testing.T) {
	tests := []struct {
		name      string
		raw       map[string]interface{}
		want      float64
		defaulted bool
	}{
		{name: "above range", raw: map[string]interface{}{"confidence_score": 150.0}, want: 100},
		{name: "below range", raw: map[string]interface{}{"confidence_score": -3.0}, want: 0},
		{name: "numeric string", raw: map[string]interface{}{"confidence_score": "85%"}, want: 85},
		{name: "legacy alias", raw: map[string]interface{}{"confidence": 42.0}, want: 42},
		{name: "not a number", raw: map[string]interface{}{"confidence_score": "high"}, want: DefaultConfidence, defaulted: true},
		{name: "missing", raw: map[string]interface{}{"campus": "CAMPUS_A"}, want: DefaultConfidence, defaulted: true},
	}

	s := newTestStandardizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, report := s.StandardizeWithReport(tt.raw)
			assert.Equal(t, tt.want, out[KeyConfidence])
			assert.Equal(t, tt.defaulted, report.ConfidenceDefaulted)
		})
	}
}

// ==========================
// Aliases and shapes
// ==========================

func TestStandardize_Aliases(t *testing.T) {
	tests := []struct {
		name       string
		raw        map[string]interface{}
		wantCampus string
		wantLevel  string
		wantName   string
	}{
		{
			name:       "new names win over legacy",
			raw:        map[string]interface{}{"recommended_campus_id": "CAMPUS_A", "campus": "CAMPUS_B", "care_level": "picu"},
			wantCampus: "CAMPUS_A",
			wantLevel:  models.CarePICU,
		},
		{
			name:       "legacy campus",
			raw:        map[string]interface{}{"recommended_campus": "CAMPUS_C", "level_of_care": "intensive care"},
			wantCampus: "CAMPUS_C",
			wantLevel:  models.CareICU,
		},
		{
			name:       "hospital object",
			raw:        map[string]interface{}{"hospital": map[string]interface{}{"id": "CAMPUS_D", "name": "East"}},
			wantCampus: "CAMPUS_D",
			wantName:   "East",
		},
		{
			name:       "facility",
			raw:        map[string]interface{}{"facility": "CAMPUS_B", "facility_name": "North"},
			wantCampus: "CAMPUS_B",
			wantName:   "North",
		},
	}

	s := newTestStandardizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.Standardize(tt.raw)
			assert.Equal(t, tt.wantCampus, out[KeyCampusID])
			assert.Equal(t, tt.wantLevel, out[KeyLevelOfCare])
			assert.Equal(t, tt.wantName, out[KeyCampusName])
		})
	}
}

func TestStandardize_UnwrapsWrappers(t *testing.T) {
	s := newTestStandardizer(t)

	out := s.Standardize(map[string]interface{}{
		"final_recommendation": []interface{}{
			map[string]interface{}{"recommended_campus_id": "CAMPUS_B", "confidence_score": 81.0},
		},
		"urgency": "high",
	})

	assert.Equal(t, "CAMPUS_B", out[KeyCampusID])
	assert.Equal(t, 81.0, out[KeyConfidence])
	assert.Equal(t, "high", out["urgency"])
	assert.NotContains(t, out, "final_recommendation")
}

func TestStandardize_ExplainabilityShapes(t *testing.T) {
	s := newTestStandardizer(t)

	out := s.Standardize(map[string]interface{}{
		"reason": "closest PICU",
		"explainability": map[string]interface{}{
			"alternative_reasons": []interface{}{
				map[string]interface{}{"campus_id": "CAMPUS_B", "reason": "no PICU beds"},
				"too far",
			},
			"key_factors":            "PICU availability, distance",
			"confidence_explanation": "good data",
		},
		"excluded_campuses": []interface{}{
			map[string]interface{}{"name": "CAMPUS_C", "total_score": 9.0, "reason": "no burn unit"},
			map[string]interface{}{"name": "CAMPUS_B", "reason": "ignored duplicate"},
		},
	})

	expl := out[KeyExplainability].(map[string]interface{})
	assert.Equal(t, "closest PICU", expl[KeyMainReason])
	assert.Equal(t, map[string]interface{}{
		"CAMPUS_B":      "no PICU beds",
		"alternative_2": "too far",
		"CAMPUS_C":      "no burn unit (score: 9)",
	}, expl[KeyAlternatives])
	assert.Equal(t, []interface{}{"PICU availability", "distance"}, expl[KeyKeyFactors])
	assert.Equal(t, "good data", expl[KeyConfidenceExpl])
	assert.NotContains(t, out, "excluded_campuses")
}

func TestStandardize_WrongTypesDefault(t *testing.T) {
	s := newTestStandardizer(t)

	out := s.Standardize(map[string]interface{}{
		"explainability_details": "see notes",
		"transport_details":      "ground ambulance",
		"conditions":             []interface{}{"rain"},
		"notes":                  "single note",
	})

	expl := out[KeyExplainability].(map[string]interface{})
	assert.Equal(t, []interface{}{}, expl[KeyKeyFactors])
	assert.Equal(t, map[string]interface{}{"mode": "ground ambulance"}, out[KeyTransport])
	assert.Equal(t, map[string]interface{}{}, out[KeyConditions])
	assert.Equal(t, []interface{}{"single note"}, out[KeyNotes])
}

func TestStandardize_NotesStringKeptWhole(t *testing.T) {
	s := newTestStandardizer(t)

	out := s.Standardize(map[string]interface{}{
		"explainability_details": map[string]interface{}{
			"key_factors": "PICU availability, distance",
		},
		"notes": "Hold feeds, NPO since 0600, mother at bedside",
	})

	expl := out[KeyExplainability].(map[string]interface{})
	assert.Equal(t, []interface{}{"PICU availability", "distance"}, expl[KeyKeyFactors])
	assert.Equal(t, []interface{}{"Hold feeds, NPO since 0600, mother at bedside"}, out[KeyNotes])

	r := ToRecommendation(out, "req-2")
	assert.Equal(t, []string{"Hold feeds, NPO since 0600, mother at bedside"}, r.Notes)
	assert.Equal(t, []string{"PICU availability", "distance"}, r.Explainability.KeyFactorsConsidered)
}

func TestStandardize_Idempotent(t *testing.T) {
	s := newTestStandardizer(t)

	inputs := []map[string]interface{}{
		{},
		{"recommended_campus": "CAMPUS_A", "confidence": "95", "care_level": "General"},
		{
			"recommendation": map[string]interface{}{
				"campus_id":         "CAMPUS_B",
				"reasoning":         "bed availability",
				"excluded_campuses": []interface{}{map[string]interface{}{"name": "CAMPUS_A", "reason": "full"}},
				"transport":         map[string]interface{}{"mode": "air"},
			},
			"campus_scores": map[string]interface{}{"capacity": 4.0},
		},
	}

	for _, raw := range inputs {
		once := s.Standardize(raw)
		twice := s.Standardize(once)
		assert.Equal(t, once, twice)
	}
}

// ==========================
// Typed conversion
// ==========================

func TestToRecommendation(t *testing.T) {
	s := newTestStandardizer(t)

	fields := s.Standardize(map[string]interface{}{
		"recommended_campus_id":     "CAMPUS_A",
		"recommended_campus_name":   "Main",
		"recommended_level_of_care": "PICU",
		"reason":                    "PICU bed available",
		"confidence_score":          88.0,
		"explainability_details": map[string]interface{}{
			"alternative_reasons":    map[string]interface{}{"CAMPUS_B": "farther"},
			"key_factors_considered": []interface{}{"care level"},
			"confidence_explanation": "complete vitals",
		},
		"transport_details": map[string]interface{}{"mode": "ground", "estimated_time_minutes": "25", "special_requirements": []interface{}{"ventilator"}},
		"conditions":        map[string]interface{}{"weather": "clear"},
	})

	r := ToRecommendation(fields, "req-1")

	assert.Equal(t, "req-1", r.TransferRequestID)
	assert.Equal(t, "CAMPUS_A", r.RecommendedCampusID)
	assert.Equal(t, "Main", r.RecommendedCampusName)
	assert.Equal(t, models.CarePICU, r.RecommendedLevelOfCare)
	assert.Equal(t, 88.0, r.ConfidenceScore)
	assert.Equal(t, "PICU bed available", r.Explainability.MainRecommendationReason)
	assert.Equal(t, "farther", r.Explainability.AlternativeReasons["CAMPUS_B"])
	require.NotNil(t, r.Explainability.ConfidenceExplanation)
	assert.Equal(t, "complete vitals", *r.Explainability.ConfidenceExplanation)
	assert.Equal(t, "ground", r.TransportDetails.Mode)
	require.NotNil(t, r.TransportDetails.EstimatedTimeMinutes)
	assert.Equal(t, 25.0, *r.TransportDetails.EstimatedTimeMinutes)
	assert.Equal(t, []string{"ventilator"}, r.TransportDetails.SpecialRequirements)
	assert.Equal(t, "clear", r.Conditions.Weather)
	assert.Equal(t, []string{}, r.Notes)
}
