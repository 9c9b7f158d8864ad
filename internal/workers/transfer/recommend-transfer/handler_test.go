package recommendtransfer

import (
	"context"
	"testing"
	"time"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/llm/llmtest"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ==========================
// Mock Implementations
// ==========================

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, req pipeline.Request) pipeline.Response {
	args := m.Called(ctx, req)
	return args.Get(0).(pipeline.Response)
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}

func createTestLogger(t *testing.T) logger.Logger {
	return logger.NewZapAdapter(zaptest.NewLogger(t))
}

// ==========================
// Tests
// ==========================

func TestParseInput(t *testing.T) {
	input, err := parseInput(`{
		"requestId": "req-7",
		"clinicalText": "Infant with seizures",
		"patientData": {"age": 1},
		"sendingFacilityLocation": {"lat": 29.7, "lon": -95.4},
		"scoringResults": {"pews": {"score": 7}},
		"humanSuggestions": {"preferred_campus": "CAMPUS_B"}
	}`)
	require.NoError(t, err)

	assert.Equal(t, "req-7", input.RequestID)
	assert.Equal(t, "Infant with seizures", input.ClinicalText)
	require.NotNil(t, input.SendingFacilityLocation)
	assert.Equal(t, 29.7, input.SendingFacilityLocation.Lat)
	assert.Contains(t, input.ScoringResults, "pews")
	assert.Equal(t, "CAMPUS_B", input.HumanSuggestions["preferred_campus"])

	req := input.toRequest()
	assert.Equal(t, "req-7", req.RequestID)
	assert.Equal(t, input.PatientData, req.PatientData)

	_, err = parseInput(`{not json`)
	assert.Error(t, err)
}

func TestExecute_MapsPipelineResponse(t *testing.T) {
	rec := models.Recommendation{
		TransferRequestID:      "req-1",
		RecommendedCampusID:    "CAMPUS_B",
		RecommendedLevelOfCare: models.CarePICU,
		ConfidenceScore:        42,
	}
	rec.FlagForReview("confidence below review threshold")

	processor := new(MockProcessor)
	processor.On("Process", mock.Anything, mock.MatchedBy(func(req pipeline.Request) bool {
		return req.RequestID == "req-1" && req.ClinicalText == "Child with respiratory distress"
	})).Return(pipeline.Response{
		Success:             true,
		RequestID:           "req-1",
		FinalRecommendation: rec,
		Stages:              []pipeline.StageReport{{Stage: "EntityExtraction", Outcome: "success"}},
	})

	h := NewHandler(createTestConfig(), processor, createTestLogger(t))
	out, err := h.Execute(context.Background(), &Input{RequestID: "req-1", ClinicalText: "Child with respiratory distress"})
	require.NoError(t, err)

	assert.Equal(t, "req-1", out.RequestID)
	assert.True(t, out.Success)
	assert.True(t, out.NeedsHumanReview)
	assert.Equal(t, "CAMPUS_B", out.Recommendation.RecommendedCampusID)
	assert.Len(t, out.Stages, 1)
	processor.AssertExpectations(t)
}

func TestExecute_RejectsMissingClinicalText(t *testing.T) {
	processor := new(MockProcessor)
	h := NewHandler(createTestConfig(), processor, createTestLogger(t))

	_, err := h.Execute(context.Background(), &Input{ClinicalText: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestExecute_WithRuleBasedPipeline(t *testing.T) {
	p, err := pipeline.New(pipeline.Dependencies{
		Completer: llmtest.Unreachable(),
		Logger:    createTestLogger(t),
	})
	require.NoError(t, err)

	h := NewHandler(nil, p, createTestLogger(t))
	out, err := h.Execute(context.Background(), &Input{
		ClinicalText: "Newborn infant, premature, HR 180",
	})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.NotEmpty(t, out.RequestID)
	assert.Equal(t, models.CareNICU, out.Recommendation.RecommendedLevelOfCare)
	assert.Equal(t, "CAMPUS_A", out.Recommendation.RecommendedCampusID)
	assert.NotEmpty(t, out.ErrorMessage)
	assert.Len(t, out.Stages, 4)
}
