package specialty

import (
	"context"
	"testing"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/llm/llmtest"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline/stage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssessor(t *testing.T, c *llmtest.Completer) *Assessor {
	t.Helper()
	log := logger.NewTestLogger(t)
	return New(stage.NewRunner(c, nil, nil, log), log)
}

func respiratoryPatient() models.ExtractedEntities {
	return models.ExtractedEntities{
		Demographics: models.Demographics{Age: "3 years"},
		VitalSigns:   models.VitalSigns{HR: "160", O2: "88%"},
		ClinicalInfo: models.ClinicalInfo{ChiefComplaint: "Severe respiratory distress with fever"},
		CareNeeds:    models.CareNeeds{SuggestedCareLevel: models.CareGeneral},
		Source:       models.SourceRuleBased,
	}
}

func TestAssess_FromModel(t *testing.T) {
	c := llmtest.Replies(`{
  "required_specialties": [
    {"specialty": "Pulmonology", "importance": "Primary", "reasoning": "hypoxia"},
    "Infectious Disease"
  ],
  "recommended_care_level": "Pediatric ICU",
  "potential_conditions": ["bronchiolitis"]
}`)
	scores := models.ScoringResults{"pews": map[string]interface{}{"total_score": 8}}

	res := newAssessor(t, c).Assess(context.Background(), respiratoryPatient(), scores)

	require.True(t, res.Succeeded())
	a := res.Value
	assert.Equal(t, models.CarePICU, a.RecommendedCareLevel)
	require.Len(t, a.RequiredSpecialties, 2)
	assert.Equal(t, models.ImportancePrimary, a.RequiredSpecialties[0].Importance)
	assert.Equal(t, "Infectious Disease", a.RequiredSpecialties[1].Specialty)
	assert.Equal(t, scores, a.Scores)

	calls := c.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, temperature, calls[0].Temperature)
	assert.Contains(t, calls[0].Messages[1].Content, "Pediatric Severity Scores")
	assert.Contains(t, calls[0].Messages[1].Content, "total_score")
}

func TestAssess_FallbackKeepsScores(t *testing.T) {
	scores := models.ScoringResults{"pews": map[string]interface{}{"total_score": 8}}

	res := newAssessor(t, llmtest.Unreachable()).Assess(context.Background(), respiratoryPatient(), scores)

	assert.Equal(t, stage.OutcomeFallback, res.Outcome)
	assert.Equal(t, models.SourceRuleBased, res.Value.Source)
	assert.Equal(t, scores, res.Value.Scores)
	assert.Equal(t, models.CareICU, res.Value.RecommendedCareLevel)
}

func TestRuleBased_Specialties(t *testing.T) {
	e := models.ExtractedEntities{
		ClinicalInfo: models.ClinicalInfo{
			ChiefComplaint:  "Respiratory distress and new murmur",
			ClinicalHistory: "Fever for two days",
		},
	}

	a := RuleBased(e)

	names := a.SpecialtyNames()
	assert.Equal(t, []string{"Cardiology", "Pulmonology", "Infectious Disease"}, names)
	assert.Equal(t, models.ImportanceSecondary, a.RequiredSpecialties[0].Importance)
	assert.Equal(t, models.ImportancePrimary, a.RequiredSpecialties[1].Importance)
	assert.Contains(t, a.RequiredSpecialties[1].Reasoning, "respiratory")
}

func TestFallbackCareLevel(t *testing.T) {
	tests := []struct {
		name     string
		entities models.ExtractedEntities
		want     string
	}{
		{
			name:     "suggested picu wins",
			entities: models.ExtractedEntities{CareNeeds: models.CareNeeds{SuggestedCareLevel: "PICU"}, VitalSigns: models.VitalSigns{HR: "200"}},
			want:     models.CarePICU,
		},
		{
			name:     "tachycardia",
			entities: models.ExtractedEntities{CareNeeds: models.CareNeeds{SuggestedCareLevel: "General"}, VitalSigns: models.VitalSigns{HR: "190"}},
			want:     models.CareICU,
		},
		{
			name:     "bradypnea",
			entities: models.ExtractedEntities{VitalSigns: models.VitalSigns{RR: "8"}},
			want:     models.CareICU,
		},
		{
			name:     "hypoxia",
			entities: models.ExtractedEntities{VitalSigns: models.VitalSigns{O2: "85%"}},
			want:     models.CareICU,
		},
		{
			name:     "infant",
			entities: models.ExtractedEntities{Demographics: models.Demographics{Age: "4 months"}},
			want:     models.CareNICU,
		},
		{
			name:     "stable child",
			entities: models.ExtractedEntities{Demographics: models.Demographics{Age: "7"}, VitalSigns: models.VitalSigns{HR: "100", O2: "98"}},
			want:     models.CareGeneral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fallbackCareLevel(tt.entities))
		})
	}
}
