package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/observability"
	"transfer-advisor/internal/fallback"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/llm/llmtest"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline/exclusion"
	"transfer-advisor/internal/pipeline/extraction"
	"transfer-advisor/internal/pipeline/recommendation"
	"transfer-advisor/internal/pipeline/specialty"
	"transfer-advisor/internal/pipeline/stage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ==========================
// Test fixtures
// ==========================

const scenarioText = "3-year-old male with severe respiratory distress, SpO2 88%, HR 160"

const (
	extractionReply = `{"demographics":{"age":"3 years","gender":"male"},"vital_signs":{"hr":"160","o2":"88%"},"clinical_info":{"chief_complaint":"severe respiratory distress"},"care_needs":{"suggested_care_level":"ICU"}}`
	specialtyReply  = `{"required_specialties":[{"specialty_name":"Pulmonology","importance":"primary","reasoning":"respiratory distress"}],"recommended_care_level":"ICU","potential_conditions":["respiratory failure"]}`
)

type fakeDirectory struct {
	list  []models.Hospital
	err   error
	calls int
}

func (f *fakeDirectory) List(ctx context.Context) ([]models.Hospital, error) {
	f.calls++
	return f.list, f.err
}

type fakeCensus struct {
	census map[string]models.BedCensus
	err    error
	asked  []string
}

func (f *fakeCensus) Get(ctx context.Context, ids []string) (map[string]models.BedCensus, error) {
	f.asked = ids
	return f.census, f.err
}

type fakeExclusions struct {
	criteria models.ExclusionCriteria
	err      error
}

func (f *fakeExclusions) Criteria(ctx context.Context) (models.ExclusionCriteria, error) {
	return f.criteria, f.err
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, req models.ReviewRequest) ([]models.ReviewDelivery, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).([]models.ReviewDelivery)
	return out, args.Error(1)
}

type panicCompleter struct{}

func (panicCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	panic("model client exploded")
}

func (panicCompleter) Model() string { return "panic" }

// cancellingCompleter cancels the run while the first stage is in flight.
type cancellingCompleter struct {
	cancel context.CancelFunc
}

func (c cancellingCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	c.cancel()
	return nil, &llm.CallFailure{Kind: llm.KindCancelled, Message: "context canceled", Err: context.Canceled}
}

func (cancellingCompleter) Model() string { return "cancelling" }

func newPipeline(t *testing.T, completer llm.Completer, mutate func(*Dependencies)) *Pipeline {
	t.Helper()
	deps := Dependencies{
		Completer: completer,
		Logger:    logger.NewTestLogger(t),
	}
	if mutate != nil {
		mutate(&deps)
	}
	p, err := New(deps)
	require.NoError(t, err)
	return p
}

func outcomes(resp Response) map[string]string {
	out := map[string]string{}
	for _, s := range resp.Stages {
		out[s.Stage] = s.Outcome
	}
	return out
}

// ==========================
// End-to-end scenarios
// ==========================

func TestProcess_UnreachableModelFallsBack(t *testing.T) {
	p := newPipeline(t, llmtest.Unreachable(), nil)

	resp := p.Process(context.Background(), Request{ClinicalText: scenarioText})

	assert.False(t, resp.Success)
	rec := resp.FinalRecommendation
	assert.Contains(t, []string{models.CareICU, models.CarePICU}, rec.RecommendedLevelOfCare)
	assert.Less(t, rec.ConfidenceScore, 70.0)
	assert.False(t, rec.IsError())
	assert.Equal(t, models.SourceRuleBased, rec.Explainability.ExtractionMethod)
	assert.True(t, rec.NeedsHumanReview)
	assert.Contains(t, rec.ReviewReasons, ReviewReasonLowConfidence)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, rec.TransferRequestID)

	assert.Equal(t, map[string]string{
		extraction.Name:     string(stage.OutcomeFallback),
		specialty.Name:      string(stage.OutcomeFallback),
		exclusion.Name:      string(stage.OutcomeSkipped),
		recommendation.Name: string(stage.OutcomeFallback),
	}, outcomes(resp))
	assert.Contains(t, resp.ErrorMessage, extraction.Name)
	assert.NotContains(t, resp.ErrorMessage, exclusion.Name)

	require.NotNil(t, resp.ExtractedEntities)
	assert.Equal(t, models.SourceRuleBased, resp.ExtractedEntities.Source)
	require.NotNil(t, resp.SpecialtyAssessment)
	require.NotNil(t, resp.ExclusionEvaluation)
}

func TestProcess_FencedRecommendationWithOutOfRangeConfidence(t *testing.T) {
	c := llmtest.Replies(
		extractionReply,
		specialtyReply,
		"```json\n{\"recommended_campus_id\":\"CAMPUS_A\",\"confidence_score\":150}\n```",
	)
	p := newPipeline(t, c, nil)

	resp := p.Process(context.Background(), Request{RequestID: "req-b", ClinicalText: scenarioText})

	require.True(t, resp.Success, resp.ErrorMessage)
	rec := resp.FinalRecommendation
	assert.Equal(t, "CAMPUS_A", rec.RecommendedCampusID)
	assert.Equal(t, 100.0, rec.ConfidenceScore)
	assert.Equal(t, "Main Campus", rec.RecommendedCampusName)
	assert.Equal(t, models.CareICU, rec.RecommendedLevelOfCare)
	assert.Equal(t, "req-b", rec.TransferRequestID)
	assert.False(t, rec.NeedsHumanReview)
	assert.Empty(t, resp.ErrorMessage)
	assert.Len(t, c.Calls(), 3)
}

func TestProcess_SingleElementArrayRecommendation(t *testing.T) {
	c := llmtest.Replies(
		extractionReply,
		specialtyReply,
		`[{"recommended_campus_id": "CAMPUS_B", "recommended_level_of_care": "ICU", "reason": "Closest campus with ICU beds", "confidence_score": 78}]`,
	)
	p := newPipeline(t, c, nil)

	resp := p.Process(context.Background(), Request{ClinicalText: scenarioText})

	require.True(t, resp.Success)
	rec := resp.FinalRecommendation
	assert.False(t, rec.IsError())
	assert.Equal(t, "CAMPUS_B", rec.RecommendedCampusID)
	assert.Equal(t, "North Campus", rec.RecommendedCampusName)
	assert.Equal(t, 78.0, rec.ConfidenceScore)
	assert.Equal(t, "Closest campus with ICU beds", rec.Reason)
}

// ==========================
// Failure classes
// ==========================

func TestProcess_ErrorClasses(t *testing.T) {
	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name           string
		completer      func(cancel context.CancelFunc) llm.Completer
		ctx            func() (context.Context, context.CancelFunc)
		text           string
		wantConfidence float64
		wantMessage    string
	}{
		{
			name:           "empty text",
			completer:      func(context.CancelFunc) llm.Completer { return llmtest.Unreachable() },
			text:           "   ",
			wantConfidence: fallback.ConfidenceEmptyInput,
			wantMessage:    "empty",
		},
		{
			name:      "cancelled before start",
			completer: func(context.CancelFunc) llm.Completer { return llmtest.Unreachable() },
			ctx: func() (context.Context, context.CancelFunc) {
				return cancelledCtx, func() {}
			},
			text:           scenarioText,
			wantConfidence: fallback.ConfidenceCancelled,
			wantMessage:    "cancelled",
		},
		{
			name:           "cancelled between stages",
			completer:      func(cancel context.CancelFunc) llm.Completer { return cancellingCompleter{cancel: cancel} },
			text:           scenarioText,
			wantConfidence: fallback.ConfidenceCancelled,
			wantMessage:    "cancelled",
		},
		{
			name:           "panic recovered",
			completer:      func(context.CancelFunc) llm.Completer { return panicCompleter{} },
			text:           scenarioText,
			wantConfidence: fallback.ConfidenceTerminal,
			wantMessage:    "model client exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newCtx := tt.ctx
			if newCtx == nil {
				newCtx = func() (context.Context, context.CancelFunc) {
					return context.WithCancel(context.Background())
				}
			}
			ctx, cancel := newCtx()
			defer cancel()

			p := newPipeline(t, tt.completer(cancel), nil)

			var resp Response
			require.NotPanics(t, func() {
				resp = p.Process(ctx, Request{ClinicalText: tt.text})
			})

			assert.False(t, resp.Success)
			rec := resp.FinalRecommendation
			assert.True(t, rec.IsError())
			assert.Equal(t, tt.wantConfidence, rec.ConfidenceScore)
			assert.Contains(t, resp.ErrorMessage, tt.wantMessage)
			assert.Contains(t, rec.Reason, "Error: ")
			assert.True(t, rec.NeedsHumanReview)
			assert.NotNil(t, rec.Notes)
		})
	}
}

func TestProcess_EmptyTextMakesNoCalls(t *testing.T) {
	c := llmtest.Replies(extractionReply)
	p := newPipeline(t, c, nil)

	resp := p.Process(context.Background(), Request{ClinicalText: ""})
	assert.Equal(t, fallback.ConfidenceEmptyInput, resp.FinalRecommendation.ConfidenceScore)
	assert.Empty(t, c.Calls())
	assert.Nil(t, resp.ExtractedEntities)
}

func TestNew_RequiresCompleter(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
}

// ==========================
// Review policy
// ==========================

func TestProcess_DisagreementLowersConfidence(t *testing.T) {
	c := llmtest.Replies(
		extractionReply,
		specialtyReply,
		`{"recommended_campus_id":"CAMPUS_A","recommended_level_of_care":"General","reason":"Stable for ward care","confidence_score":80}`,
	)
	p := newPipeline(t, c, nil)

	resp := p.Process(context.Background(), Request{ClinicalText: scenarioText})

	rec := resp.FinalRecommendation
	assert.Equal(t, models.CareGeneral, rec.RecommendedLevelOfCare)
	assert.Equal(t, 65.0, rec.ConfidenceScore)
	assert.True(t, rec.NeedsHumanReview)
	assert.Equal(t, []string{ReviewReasonDisagreement}, rec.ReviewReasons)

	found := false
	for _, n := range rec.Notes {
		if strings.Contains(n, "model recommended General") && strings.Contains(n, "suggests ICU") {
			found = true
		}
	}
	assert.True(t, found, "notes: %v", rec.Notes)
}

func TestProcess_CustomPenaltyAndThreshold(t *testing.T) {
	c := llmtest.Replies(
		extractionReply,
		specialtyReply,
		`{"recommended_campus_id":"CAMPUS_A","recommended_level_of_care":"General","confidence_score":80}`,
	)
	p := newPipeline(t, c, func(d *Dependencies) {
		d.DisagreementPenalty = 40
		d.ReviewThreshold = 45
	})

	rec := p.Process(context.Background(), Request{ClinicalText: scenarioText}).FinalRecommendation
	assert.Equal(t, 40.0, rec.ConfidenceScore)
	assert.ElementsMatch(t, []string{ReviewReasonDisagreement, ReviewReasonLowConfidence}, rec.ReviewReasons)
}

func TestProcess_LowConfidenceNotifiesReviewers(t *testing.T) {
	c := llmtest.Replies(
		extractionReply,
		specialtyReply,
		`{"recommended_campus_id":"CAMPUS_A","recommended_level_of_care":"ICU","confidence_score":30}`,
	)
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(req models.ReviewRequest) bool {
		return req.TransferRequestID == "req-low" && req.CampusID == "CAMPUS_A" &&
			len(req.Reasons) == 1 && req.Reasons[0] == ReviewReasonLowConfidence
	})).Return([]models.ReviewDelivery{{Channel: "sns", Status: "sent"}}, nil)

	p := newPipeline(t, c, func(d *Dependencies) { d.Notifier = notifier })

	resp := p.Process(context.Background(), Request{RequestID: "req-low", ClinicalText: scenarioText})

	assert.True(t, resp.Success)
	assert.True(t, resp.FinalRecommendation.NeedsHumanReview)
	require.Len(t, resp.ReviewDeliveries, 1)
	notifier.AssertExpectations(t)
}

func TestProcess_NotifierFailureIsNotFatal(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil, errors.New("sns down"))

	p := newPipeline(t, llmtest.Unreachable(), func(d *Dependencies) { d.Notifier = notifier })

	resp := p.Process(context.Background(), Request{ClinicalText: scenarioText})
	assert.False(t, resp.FinalRecommendation.IsError())
	assert.Empty(t, resp.ReviewDeliveries)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

// ==========================
// Collaborators
// ==========================

func TestProcess_ConsultsCollaborators(t *testing.T) {
	c := llmtest.Replies(
		extractionReply,
		specialtyReply,
		`{"campus_exclusions":{"CAMPUS_R":{"is_excluded":false,"exclusion_matches":[]}},"recommended_campus":"CAMPUS_R"}`,
		`{"recommended_campus_id":"CAMPUS_R","recommended_level_of_care":"ICU","confidence_score":85}`,
	)
	dir := &fakeDirectory{list: []models.Hospital{{
		CampusID:   "CAMPUS_R",
		Name:       "Riverside Campus",
		CareLevels: []string{"General", "ICU", "PICU"},
		Location:   models.Location{Lat: 29.76, Lon: -95.37},
	}}}
	census := &fakeCensus{census: map[string]models.BedCensus{"CAMPUS_R": {"PICU": {Available: 2, Total: 12}}}}
	excl := &fakeExclusions{criteria: models.ExclusionCriteria{
		"CAMPUS_R": {GeneralExclusions: []string{"Burns over 30% BSA"}},
	}}

	p := newPipeline(t, c, func(d *Dependencies) {
		d.Directory = dir
		d.Census = census
		d.Exclusions = excl
	})

	resp := p.Process(context.Background(), Request{
		ClinicalText:            scenarioText,
		SendingFacilityLocation: &models.Location{Lat: 29.70, Lon: -95.40},
	})

	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, "Riverside Campus", resp.FinalRecommendation.RecommendedCampusName)
	assert.Equal(t, string(stage.OutcomeSuccess), outcomes(resp)[exclusion.Name])
	assert.Equal(t, []string{"CAMPUS_R"}, census.asked)
	assert.Equal(t, 1, dir.calls)

	calls := c.Calls()
	require.Len(t, calls, 4)
	prompt := calls[3].Messages[1].Content
	assert.Contains(t, prompt, "CAMPUS_R (Riverside Campus)")
	assert.Contains(t, prompt, "PICU 2/12 available")
	assert.Contains(t, prompt, "km from sending facility")
}

func TestProcess_CollaboratorFailuresDegradeGracefully(t *testing.T) {
	c := llmtest.Replies(
		extractionReply,
		specialtyReply,
		`{"recommended_campus_id":"CAMPUS_A","recommended_level_of_care":"ICU","confidence_score":75}`,
	)
	p := newPipeline(t, c, func(d *Dependencies) {
		d.Directory = &fakeDirectory{err: errors.New("postgres down")}
		d.Census = &fakeCensus{err: errors.New("redis down")}
		d.Exclusions = &fakeExclusions{err: errors.New("elasticsearch down")}
	})

	resp := p.Process(context.Background(), Request{ClinicalText: scenarioText})

	require.True(t, resp.Success)
	assert.Equal(t, string(stage.OutcomeSkipped), outcomes(resp)[exclusion.Name])
	calls := c.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[2].Messages[1].Content, "CAMPUS_A (Main Campus)")
}

func TestProcess_RequestDataTakesPrecedence(t *testing.T) {
	c := llmtest.Replies(
		extractionReply,
		specialtyReply,
		`{"recommended_campus_id":"CAMPUS_X","recommended_level_of_care":"ICU","confidence_score":75}`,
	)
	dir := &fakeDirectory{}
	p := newPipeline(t, c, func(d *Dependencies) { d.Directory = dir })

	resp := p.Process(context.Background(), Request{
		ClinicalText:       scenarioText,
		AvailableHospitals: []models.Hospital{{CampusID: "CAMPUS_X", Name: "Bayside Campus", CareLevels: []string{"ICU"}}},
		CensusData:         map[string]models.BedCensus{"CAMPUS_X": {"ICU": {Available: 1, Total: 10}}},
	})

	assert.Equal(t, 0, dir.calls)
	assert.Equal(t, "Bayside Campus", resp.FinalRecommendation.RecommendedCampusName)
	assert.Contains(t, c.Calls()[2].Messages[1].Content, "ICU 1/10 available")
}

func TestProcess_PatientDataFillsDemographics(t *testing.T) {
	p := newPipeline(t, llmtest.Unreachable(), nil)

	resp := p.Process(context.Background(), Request{
		ClinicalText: "Respiratory distress, HR 170",
		PatientData:  map[string]interface{}{"age": 4.0, "sex": "female", "weight": "16 kg"},
	})

	require.NotNil(t, resp.ExtractedEntities)
	assert.Equal(t, "4", resp.ExtractedEntities.Demographics.Age)
	assert.Equal(t, "female", resp.ExtractedEntities.Demographics.Gender)
	assert.Equal(t, "16 kg", resp.ExtractedEntities.Demographics.Weight)
}

// ==========================
// Tracing
// ==========================

func TestProcess_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	obs, err := observability.New("transfer-advisor-test", prometheus.NewRegistry(), sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(obs.Shutdown)

	p := newPipeline(t, llmtest.Unreachable(), func(d *Dependencies) { d.Observability = obs })
	p.Process(context.Background(), Request{ClinicalText: scenarioText})

	names := map[string]bool{}
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{
		"pipeline.process",
		"stage." + extraction.Name,
		"stage." + specialty.Name,
		"stage." + exclusion.Name,
		"stage." + recommendation.Name,
	} {
		assert.True(t, names[want], "missing span %s", want)
	}
}
