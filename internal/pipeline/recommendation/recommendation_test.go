package recommendation

import (
	"context"
	"strings"
	"testing"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/fallback"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/llm/llmtest"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline/stage"
	"transfer-advisor/internal/standardizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioText = "3-year-old male with severe respiratory distress, SpO2 88%, HR 160"

func newGenerator(t *testing.T, c *llmtest.Completer) *Generator {
	t.Helper()
	log := logger.NewTestLogger(t)
	rules, err := fallback.NewRecommender(fallback.DefaultCampusTable, nil, log)
	require.NoError(t, err)
	return New(stage.NewRunner(c, nil, nil, log), standardizer.New(log), rules, log)
}

func testInput() Input {
	return Input{
		RequestID:    "req-42",
		ClinicalText: scenarioText,
		Entities: models.ExtractedEntities{
			Demographics: models.Demographics{Age: "3 years", Gender: "male"},
			VitalSigns:   models.VitalSigns{HR: "160", O2: "88%"},
			ClinicalInfo: models.ClinicalInfo{ChiefComplaint: "severe respiratory distress"},
			CareNeeds:    models.CareNeeds{SuggestedCareLevel: models.CarePICU},
		},
		Specialty: models.SpecialtyAssessment{
			RequiredSpecialties:  []models.SpecialtyNeed{{Specialty: "Pulmonology", Importance: models.ImportancePrimary}},
			RecommendedCareLevel: models.CarePICU,
		},
		Exclusions: models.ExclusionEvaluation{
			CampusExclusions: map[string]models.CampusExclusion{
				"CAMPUS_A": {},
				"CAMPUS_B": {IsExcluded: true, ExclusionMatches: []models.ExclusionMatch{{ExclusionText: "No PICU beds for ventilated patients"}}},
			},
		},
		Hospitals: []models.Hospital{
			{CampusID: "CAMPUS_A", Name: "Main Campus", CareLevels: []string{"General", "PICU", "NICU"}, Location: models.Location{Lat: 40.75, Lon: -73.99}},
			{CampusID: "CAMPUS_B", Name: "North Campus", CareLevels: []string{"General", "PICU"}, Location: models.Location{Lat: 40.85, Lon: -73.90}},
		},
		Census: map[string]models.BedCensus{
			"CAMPUS_A": {"PICU": {Available: 2, Total: 12}},
		},
		SendingLocation: &models.Location{Lat: 40.70, Lon: -74.01},
		Scores:          models.ScoringResults{"pews": map[string]interface{}{"total_score": 6.0}},
	}
}

// ==========================
// Model path
// ==========================

func TestGenerate_FencedWithOutOfRangeConfidence(t *testing.T) {
	c := llmtest.Replies("```json\n{\"recommended_campus_id\":\"CAMPUS_A\",\"confidence_score\":150}\n```")

	res := newGenerator(t, c).Generate(context.Background(), testInput())

	require.True(t, res.Succeeded())
	rec := res.Value
	assert.Equal(t, "CAMPUS_A", rec.RecommendedCampusID)
	assert.Equal(t, 100.0, rec.ConfidenceScore)
	assert.Equal(t, "Main Campus", rec.RecommendedCampusName)
	assert.Equal(t, models.CarePICU, rec.RecommendedLevelOfCare)
	assert.Equal(t, "req-42", rec.TransferRequestID)
	assert.Equal(t, models.SourceLLM, rec.Explainability.ExtractionMethod)
	assert.Equal(t, "fenced_block", res.Strategy)

	calls := c.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].ResponseFormat)
	assert.Equal(t, "json_schema", calls[0].ResponseFormat.Type)
	assert.Equal(t, temperature, calls[0].Temperature)
	assert.Equal(t, maxTokens, calls[0].MaxTokens)
}

func TestGenerate_SingleElementArray(t *testing.T) {
	c := llmtest.Replies(`[{"recommended_campus_id": "CAMPUS_A", "recommended_level_of_care": "PICU", "reason": "PICU bed available", "confidence_score": 82}]`)

	res := newGenerator(t, c).Generate(context.Background(), testInput())

	require.True(t, res.Succeeded())
	assert.False(t, res.Value.IsError())
	assert.Equal(t, "CAMPUS_A", res.Value.RecommendedCampusID)
	assert.Equal(t, 82.0, res.Value.ConfidenceScore)
	assert.Equal(t, "PICU bed available", res.Value.Explainability.MainRecommendationReason)
}

func TestGenerate_RetriesWithoutSchemaWhenRejected(t *testing.T) {
	c := llmtest.New(
		llmtest.Step{Err: &llm.CallFailure{Kind: llm.KindHTTP, StatusCode: 400, Message: "response_format unsupported"}},
		llmtest.Step{Content: `{"recommended_campus_id": "CAMPUS_A", "confidence_score": 77}`},
	)

	res := newGenerator(t, c).Generate(context.Background(), testInput())

	require.True(t, res.Succeeded())
	calls := c.Calls()
	require.Len(t, calls, 2)
	assert.NotNil(t, calls[0].ResponseFormat)
	assert.Nil(t, calls[1].ResponseFormat)
	assert.Contains(t, calls[1].Messages[1].Content, "Respond with ONLY a JSON object")
}

func TestGenerate_RendersScoresAndExtras(t *testing.T) {
	c := llmtest.Replies(`{
  "recommendation": {
    "campus_id": "CAMPUS_A",
    "care_level": "PICU",
    "reasoning": "Closest PICU with capacity",
    "confidence_score": 85,
    "campus_scores": {"care_level_match": 5, "specialty_availability": 4, "capacity": 9, "location": 0, "specific_resources": 4},
    "urgency": "high",
    "transport_considerations": ["Ventilator-capable crew"],
    "required_resources": ["PICU bed", "respiratory therapy"]
  }
}`)

	res := newGenerator(t, c).Generate(context.Background(), testInput())

	require.True(t, res.Succeeded())
	rec := res.Value
	assert.Contains(t, rec.Notes, "Campus scoring: care level match 5/5, specialty availability 4/5, capacity 5/5, location 1/5, specific resources 4/5 (total 19/25)")
	assert.Contains(t, rec.Notes, "Urgency: high")
	assert.Contains(t, rec.Notes, "Transport consideration: Ventilator-capable crew")
	assert.Contains(t, rec.Explainability.KeyFactorsConsidered, "Required resources: PICU bed, respiratory therapy")
	assert.Equal(t, "high", rec.Explainability.Urgency)
}

func TestGenerate_EstimatesMissingConfidence(t *testing.T) {
	c := llmtest.Replies(`{"recommended_campus_id": "CAMPUS_A", "recommended_level_of_care": "PICU", "campus_scores": {"location": 4}}`)

	res := newGenerator(t, c).Generate(context.Background(), testInput())

	require.True(t, res.Succeeded())
	rec := res.Value
	assert.NotEqual(t, standardizer.DefaultConfidence, rec.ConfidenceScore)
	assert.Greater(t, rec.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, rec.ConfidenceScore, 100.0)
	require.NotNil(t, rec.Explainability.ConfidenceExplanation)
	assert.Contains(t, *rec.Explainability.ConfidenceExplanation, "Estimated")
}

func TestGenerate_FlagsExcludedCampus(t *testing.T) {
	c := llmtest.Replies(`{"recommended_campus_id": "CAMPUS_B", "confidence_score": 80}`)

	res := newGenerator(t, c).Generate(context.Background(), testInput())

	require.True(t, res.Succeeded())
	assert.True(t, res.Value.NeedsHumanReview)
	assert.Contains(t, res.Value.ReviewReasons, "recommended campus matched exclusion criteria")
}

// ==========================
// Fallback path
// ==========================

func TestGenerate_FallsBack(t *testing.T) {
	tests := []struct {
		name      string
		completer *llmtest.Completer
		cause     stage.Cause
	}{
		{name: "unreachable", completer: llmtest.Unreachable(), cause: stage.CauseCall},
		{name: "prose", completer: llmtest.Replies("The best campus is probably the main one."), cause: stage.CauseParse},
		{name: "no campus", completer: llmtest.Replies(`{"campus": ""}`), cause: stage.CauseSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newGenerator(t, tt.completer).Generate(context.Background(), testInput())

			assert.Equal(t, stage.OutcomeFallback, res.Outcome)
			assert.Equal(t, tt.cause, res.Cause)
			rec := res.Value
			assert.Contains(t, []string{models.CareICU, models.CarePICU}, rec.RecommendedLevelOfCare)
			assert.Less(t, rec.ConfidenceScore, 70.0)
			assert.Equal(t, models.SourceRuleBased, rec.Explainability.ExtractionMethod)
			assert.Equal(t, "req-42", rec.TransferRequestID)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	in := testInput()
	prompt := buildPrompt(in, in.Hospitals)

	assert.Contains(t, prompt, "Chief complaint: severe respiratory distress")
	assert.Contains(t, prompt, "Pulmonology (primary)")
	assert.Contains(t, prompt, "CAMPUS_B is excluded: No PICU beds for ventilated patients")
	assert.Contains(t, prompt, "PICU 2/12 available")
	assert.Contains(t, prompt, "km from sending facility")
	assert.Contains(t, prompt, "total_score")
	assert.True(t, strings.Contains(prompt, "care_level_match"))
}
