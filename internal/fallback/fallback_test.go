package fallback

import (
	"testing"

	"transfer-advisor/internal/common/config"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecommender(t *testing.T) *Recommender {
	t.Helper()
	r, err := NewRecommender(DefaultCampusTable, nil, logger.NewTestLogger(t))
	require.NoError(t, err)
	return r
}

// ==========================
// Error builder
// ==========================

func TestBuildError(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		want       float64
	}{
		{name: "default class", confidence: ConfidenceTerminal, want: 10},
		{name: "below floor", confidence: 0, want: 5},
		{name: "above ceiling", confidence: 90, want: 30},
		{name: "cancelled", confidence: ConfidenceCancelled, want: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := BuildError("req-9", "boom", tt.confidence)

			assert.Equal(t, tt.want, r.ConfidenceScore)
			assert.Equal(t, models.ErrorCampusID, r.RecommendedCampusID)
			assert.True(t, r.IsError())
			assert.Equal(t, "req-9", r.TransferRequestID)
			assert.Equal(t, "Error: boom", r.Reason)
			assert.Equal(t, "boom", r.Explainability.Error)
			assert.NotNil(t, r.Explainability.AlternativeReasons)
			assert.NotNil(t, r.Explainability.KeyFactorsConsidered)
			assert.Equal(t, []string{
				"Error occurred during recommendation generation",
				"Error details: boom",
			}, r.Notes)
			assert.True(t, r.NeedsHumanReview)
		})
	}
}

// ==========================
// Rule-based recommendation
// ==========================

func TestRecommend_Table(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		scores     models.ScoringResults
		wantLevel  string
		wantCampus string
		wantConf   float64
	}{
		{
			name:       "respiratory distress with hypoxia",
			text:       "3-year-old male with severe respiratory distress, SpO2 88%, HR 160",
			wantLevel:  models.CareICU,
			wantCampus: "CAMPUS_A",
			wantConf:   40,
		},
		{
			name:       "neonate",
			text:       "Premature neonate with apnea",
			wantLevel:  models.CareNICU,
			wantCampus: "CAMPUS_A",
			wantConf:   70,
		},
		{
			name:       "picu trauma",
			text:       "Child hit by car, motor vehicle accident",
			wantLevel:  models.CarePICU,
			wantCampus: "CAMPUS_A",
			wantConf:   60,
		},
		{
			name:       "picu without trauma",
			text:       "Child with DKA and vomiting",
			wantLevel:  models.CarePICU,
			wantCampus: "CAMPUS_B",
			wantConf:   60,
		},
		{
			name:       "burns",
			text:       "Scald to forearm from kettle",
			wantLevel:  models.CareGeneral,
			wantCampus: "CAMPUS_C",
			wantConf:   65,
		},
		{
			name:       "neuro",
			text:       "Teen with first seizure, now alert",
			wantLevel:  models.CareICU,
			wantCampus: "CAMPUS_D",
			wantConf:   65,
		},
		{
			name:       "nothing specific",
			text:       "Teen with ankle sprain, vitals normal",
			wantLevel:  models.CareGeneral,
			wantCampus: "CAMPUS_A",
			wantConf:   40,
		},
	}

	r := newRecommender(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := r.Recommend(tt.text, "req-1", tt.scores)

			assert.Equal(t, tt.wantLevel, rec.RecommendedLevelOfCare)
			assert.Equal(t, tt.wantCampus, rec.RecommendedCampusID)
			assert.Equal(t, tt.wantConf, rec.ConfidenceScore)
			assert.Equal(t, models.SourceRuleBased, rec.Explainability.ExtractionMethod)
			require.NotEmpty(t, rec.Notes)
			assert.Contains(t, rec.Notes[0], "RULE-BASED")
			assert.NotEmpty(t, rec.RecommendedCampusName)
		})
	}
}

func TestRecommend_Reason(t *testing.T) {
	r := newRecommender(t)

	rec := r.Recommend("Teen with ankle sprain", "req-1", nil)
	assert.Equal(t, "Rule-based recommendation based on General care level.", rec.Reason)

	rec = r.Recommend("Scald to forearm", "req-1", nil)
	assert.Equal(t, "Rule-based recommendation based on General care level and identified conditions: burns", rec.Reason)
}

func TestRecommend_ScoresOnlyEscalate(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		scores    models.ScoringResults
		wantLevel string
	}{
		{
			name:      "pews 7 forces picu",
			text:      "Teen with ankle sprain",
			scores:    models.ScoringResults{"pews": map[string]interface{}{"total_score": 7.0}},
			wantLevel: models.CarePICU,
		},
		{
			name:      "pews 5 raises to icu",
			text:      "Teen with ankle sprain",
			scores:    models.ScoringResults{"pews": map[string]interface{}{"total_score": 5}},
			wantLevel: models.CareICU,
		},
		{
			name:      "low pews does not lower icu",
			text:      "Respiratory distress, SpO2 85%",
			scores:    models.ScoringResults{"pews": map[string]interface{}{"total_score": 1.0}},
			wantLevel: models.CareICU,
		},
		{
			name:      "trap medium",
			text:      "Teen with ankle sprain",
			scores:    models.ScoringResults{"trap": map[string]interface{}{"risk_level": "Medium"}},
			wantLevel: models.CareICU,
		},
		{
			name:      "queensland recommends picu",
			text:      "Teen with ankle sprain",
			scores:    models.ScoringResults{"queensland": map[string]interface{}{"recommendation": "Consider PICU admission"}},
			wantLevel: models.CarePICU,
		},
		{
			name:      "nested scores key",
			text:      "Teen with ankle sprain",
			scores:    models.ScoringResults{"scores": map[string]interface{}{"chews": map[string]interface{}{"total_score": "4"}}},
			wantLevel: models.CareICU,
		},
		{
			name:      "nicu is not moved by picu rule",
			text:      "Newborn with jaundice",
			scores:    models.ScoringResults{"prism": map[string]interface{}{"total_score": 12.0}},
			wantLevel: models.CareNICU,
		},
	}

	r := newRecommender(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := r.Recommend(tt.text, "req-2", tt.scores)
			assert.Equal(t, tt.wantLevel, rec.RecommendedLevelOfCare)
			assert.GreaterOrEqual(t, models.CareRank(rec.RecommendedLevelOfCare), models.CareRank(r.Assess(tt.text, nil).CareLevel))
		})
	}
}

func TestRecommend_ScoreNotes(t *testing.T) {
	r := newRecommender(t)

	rec := r.Recommend("Teen with ankle sprain", "req-3", models.ScoringResults{
		"pews": map[string]interface{}{"total_score": 8.0, "recommendation": "Urgent review"},
	})

	assert.Contains(t, rec.Notes, "  - PEWS: 8 - Urgent review")
	assert.Contains(t, rec.Notes, "Care level escalated to PICU by score rule pews_picu")
}

func TestNewEscalator_RejectsBadRules(t *testing.T) {
	_, err := NewEscalator([]EscalationRule{{Name: "broken", Condition: `s["pews"] >=`}})
	require.Error(t, err)

	_, err = NewEscalator([]EscalationRule{{Name: "not bool", Condition: `1 + 2`}})
	require.Error(t, err)
}

func TestCampusTableFromConfig(t *testing.T) {
	table := CampusTableFromConfig(config.CampusTableConfig{Burns: "CAMPUS_X"})
	assert.Equal(t, "CAMPUS_X", table.Burns)
	assert.Equal(t, DefaultCampusTable.NICU, table.NICU)
}

func TestDefaultHospitals(t *testing.T) {
	list := newRecommender(t).DefaultHospitals()
	require.Len(t, list, 4)

	ids := make([]string, 0, len(list))
	for _, h := range list {
		ids = append(ids, h.CampusID)
	}
	assert.Equal(t, []string{"CAMPUS_A", "CAMPUS_B", "CAMPUS_C", "CAMPUS_D"}, ids)

	main := list[0]
	assert.Equal(t, "Main Campus", main.Name)
	assert.True(t, main.SupportsCareLevel(models.CareNICU))
	assert.True(t, main.SupportsCareLevel(models.CarePICU))
	assert.True(t, main.HasSpecialty("trauma surgery"))
	assert.True(t, list[1].SupportsCareLevel(models.CarePICU))
	assert.False(t, list[2].SupportsCareLevel(models.CarePICU))
	assert.True(t, list[3].HasSpecialty("Neurology"))
}
