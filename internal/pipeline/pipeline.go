// Package pipeline runs the four recommendation stages end to end and always
// hands the caller a usable recommendation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/metrics"
	"transfer-advisor/internal/common/observability"
	"transfer-advisor/internal/exclusions"
	"transfer-advisor/internal/fallback"
	"transfer-advisor/internal/hospitals"
	"transfer-advisor/internal/jsonrecovery"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline/exclusion"
	"transfer-advisor/internal/pipeline/extraction"
	"transfer-advisor/internal/pipeline/recommendation"
	"transfer-advisor/internal/pipeline/specialty"
	"transfer-advisor/internal/pipeline/stage"
	"transfer-advisor/internal/review"
	"transfer-advisor/internal/standardizer"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultReviewThreshold     = 50.0
	DefaultDisagreementPenalty = 15.0

	ReviewReasonLowConfidence = "confidence below review threshold"
	ReviewReasonDisagreement  = "model and rule-based care levels disagree"
)

// Request mirrors the caller-facing process() signature. Only ClinicalText is
// required; the optional fields take precedence over the collaborators.
type Request struct {
	RequestID               string                      `json:"request_id,omitempty"`
	ClinicalText            string                      `json:"clinical_text"`
	PatientData             map[string]interface{}      `json:"patient_data,omitempty"`
	SendingFacilityLocation *models.Location            `json:"sending_facility_location,omitempty"`
	AvailableHospitals      []models.Hospital           `json:"available_hospitals,omitempty"`
	CensusData              map[string]models.BedCensus `json:"census_data,omitempty"`
	HumanSuggestions        map[string]interface{}      `json:"human_suggestions,omitempty"`
	ScoringResults          models.ScoringResults       `json:"scoring_results,omitempty"`
	ExclusionCriteria       models.ExclusionCriteria    `json:"exclusion_criteria,omitempty"`
}

type StageReport struct {
	Stage    string `json:"stage"`
	Outcome  string `json:"outcome"`
	Cause    string `json:"cause,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Response struct {
	Success             bool                        `json:"success"`
	RequestID           string                      `json:"request_id"`
	ExtractedEntities   *models.ExtractedEntities   `json:"extracted_entities"`
	SpecialtyAssessment *models.SpecialtyAssessment `json:"specialty_assessment"`
	ExclusionEvaluation *models.ExclusionEvaluation `json:"exclusion_evaluation"`
	FinalRecommendation models.Recommendation       `json:"final_recommendation"`
	ErrorMessage        string                      `json:"error_message,omitempty"`
	Stages              []StageReport               `json:"stages"`
	ReviewDeliveries    []models.ReviewDelivery     `json:"review_deliveries,omitempty"`
}

// ReviewNotifier is satisfied by *review.Notifier.
type ReviewNotifier interface {
	Notify(ctx context.Context, req models.ReviewRequest) ([]models.ReviewDelivery, error)
}

// Dependencies wires a Pipeline. Completer and Logger are required; every
// collaborator may be nil.
type Dependencies struct {
	Completer     llm.Completer
	Observability *observability.Observability
	Logger        logger.Logger
	Rules         *fallback.Recommender

	Directory  hospitals.Directory
	Census     hospitals.CensusStore
	Exclusions exclusions.Source
	Notifier   ReviewNotifier

	ReviewThreshold     float64
	DisagreementPenalty float64
}

type Pipeline struct {
	extractor *extraction.Extractor
	assessor  *specialty.Assessor
	evaluator *exclusion.Evaluator
	generator *recommendation.Generator
	rules     *fallback.Recommender

	directory  hospitals.Directory
	census     hospitals.CensusStore
	exclusions exclusions.Source
	notifier   ReviewNotifier

	reviewThreshold     float64
	disagreementPenalty float64

	obs *observability.Observability
	log logger.Logger
}

func New(deps Dependencies) (*Pipeline, error) {
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Completer == nil {
		return nil, errors.New("pipeline requires an llm completer")
	}

	rules := deps.Rules
	if rules == nil {
		var err error
		rules, err = fallback.NewRecommender(fallback.DefaultCampusTable, nil, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("build rule-based recommender: %w", err)
		}
	}

	runner := stage.NewRunner(deps.Completer, jsonrecovery.New(deps.Logger), deps.Observability, deps.Logger)

	p := &Pipeline{
		extractor:           extraction.New(runner, deps.Logger),
		assessor:            specialty.New(runner, deps.Logger),
		evaluator:           exclusion.New(runner, deps.Logger),
		generator:           recommendation.New(runner, standardizer.New(deps.Logger), rules, deps.Logger),
		rules:               rules,
		directory:           deps.Directory,
		census:              deps.Census,
		exclusions:          deps.Exclusions,
		notifier:            deps.Notifier,
		reviewThreshold:     deps.ReviewThreshold,
		disagreementPenalty: deps.DisagreementPenalty,
		obs:                 deps.Observability,
		log:                 logger.Component(deps.Logger, "pipeline"),
	}
	if p.reviewThreshold <= 0 {
		p.reviewThreshold = DefaultReviewThreshold
	}
	if p.disagreementPenalty <= 0 {
		p.disagreementPenalty = DefaultDisagreementPenalty
	}
	return p, nil
}

// Process runs extraction, specialty assessment, exclusion evaluation and
// recommendation generation in order. It never returns without a
// FinalRecommendation; Success is false when any stage left the model path
// or the run failed.
func (p *Pipeline) Process(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	resp.RequestID = requestID

	metrics.PipelineRunsActive.Inc()
	ctx, span := p.obs.Tracer().Start(ctx, "pipeline.process")
	span.SetAttributes(attribute.String("request.id", requestID))

	log := p.log.WithFields(map[string]interface{}{"request_id": requestID})

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			resp = p.errorResponse(resp, fmt.Sprintf("unexpected failure: %v", r), fallback.ConfidenceTerminal)
		}

		outcome := "success"
		switch {
		case resp.FinalRecommendation.IsError():
			outcome = "error"
			span.SetStatus(codes.Error, resp.ErrorMessage)
		case !resp.Success:
			outcome = "fallback"
		}
		elapsed := time.Since(start)
		metrics.PipelineRunsActive.Dec()
		metrics.PipelineDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
		metrics.RecommendationConfidence.Observe(resp.FinalRecommendation.ConfidenceScore)
		p.obs.RecordPipelineRun(ctx, outcome, elapsed)
		span.SetAttributes(
			attribute.String("pipeline.outcome", outcome),
			attribute.String("recommendation.campus_id", resp.FinalRecommendation.RecommendedCampusID),
			attribute.Float64("recommendation.confidence", resp.FinalRecommendation.ConfidenceScore),
		)
		span.End()

		log.Info("pipeline finished", map[string]interface{}{
			"outcome":     outcome,
			"success":     resp.Success,
			"campus_id":   resp.FinalRecommendation.RecommendedCampusID,
			"care_level":  resp.FinalRecommendation.RecommendedLevelOfCare,
			"confidence":  resp.FinalRecommendation.ConfidenceScore,
			"duration_ms": elapsed.Milliseconds(),
		})
	}()

	text := strings.TrimSpace(req.ClinicalText)
	if text == "" {
		log.Warn("empty clinical text", nil)
		return p.errorResponse(resp, "clinical text is empty", fallback.ConfidenceEmptyInput)
	}

	allSucceeded := true
	track := func(name string, outcome stage.Outcome, cause stage.Cause, strategy string, err error) {
		report := StageReport{Stage: name, Outcome: string(outcome), Cause: string(cause), Strategy: strategy}
		if err != nil {
			report.Error = err.Error()
		}
		resp.Stages = append(resp.Stages, report)
		if outcome != stage.OutcomeSuccess && outcome != stage.OutcomeSkipped {
			allSucceeded = false
		}
	}

	// Entity extraction
	if err := ctx.Err(); err != nil {
		return p.cancelledResponse(resp, err)
	}
	extracted := p.extractor.Extract(ctx, text)
	track(extraction.Name, extracted.Outcome, extracted.Cause, extracted.Strategy, extracted.Err)
	entities := mergePatientData(extracted.Value, req.PatientData)
	resp.ExtractedEntities = &entities

	// Specialty assessment
	if err := ctx.Err(); err != nil {
		return p.cancelledResponse(resp, err)
	}
	assessed := p.assessor.Assess(ctx, entities, req.ScoringResults)
	track(specialty.Name, assessed.Outcome, assessed.Cause, assessed.Strategy, assessed.Err)
	resp.SpecialtyAssessment = &assessed.Value

	// Exclusion evaluation
	if err := ctx.Err(); err != nil {
		return p.cancelledResponse(resp, err)
	}
	criteria := req.ExclusionCriteria
	if len(criteria) == 0 {
		criteria = p.loadCriteria(ctx, log)
	}
	evaluated := p.evaluator.Evaluate(ctx, entities, criteria)
	track(exclusion.Name, evaluated.Outcome, evaluated.Cause, evaluated.Strategy, evaluated.Err)
	resp.ExclusionEvaluation = &evaluated.Value

	// Recommendation generation
	if err := ctx.Err(); err != nil {
		return p.cancelledResponse(resp, err)
	}
	hospitalList := req.AvailableHospitals
	if len(hospitalList) == 0 {
		hospitalList = p.loadHospitals(ctx, log)
	}
	census := req.CensusData
	if len(census) == 0 {
		census = p.loadCensus(ctx, hospitalList, log)
	}

	in := recommendation.Input{
		RequestID:        requestID,
		ClinicalText:     text,
		Entities:         entities,
		Specialty:        assessed.Value,
		Exclusions:       evaluated.Value,
		Hospitals:        hospitalList,
		Census:           census,
		SendingLocation:  req.SendingFacilityLocation,
		HumanSuggestions: req.HumanSuggestions,
		Scores:           req.ScoringResults,
	}
	generated := p.generator.Generate(ctx, in)
	track(recommendation.Name, generated.Outcome, generated.Cause, generated.Strategy, generated.Err)

	if err := ctx.Err(); err != nil {
		return p.cancelledResponse(resp, err)
	}

	rec := generated.Value
	if generated.Succeeded() {
		p.checkDisagreement(&rec, text, req.ScoringResults, log)
	}
	if rec.ConfidenceScore < p.reviewThreshold {
		rec.FlagForReview(ReviewReasonLowConfidence)
	}
	rec.EnsureDefaults()

	resp.FinalRecommendation = rec
	resp.Success = allSucceeded
	if !allSucceeded {
		resp.ErrorMessage = degradedMessage(resp.Stages)
	}

	if rec.NeedsHumanReview {
		resp.ReviewDeliveries = p.requestReview(ctx, rec, log)
	}
	return resp
}

// checkDisagreement keeps the model's level but lowers confidence and asks
// for review when the deterministic reading lands in a different acuity tier.
func (p *Pipeline) checkDisagreement(rec *models.Recommendation, text string, scores models.ScoringResults, log logger.Logger) {
	ruleLevel := p.rules.Assess(text, scores).CareLevel
	modelRank, ruleRank := models.CareRank(rec.RecommendedLevelOfCare), models.CareRank(ruleLevel)
	if modelRank < 0 || modelRank == ruleRank {
		return
	}

	before := rec.ConfidenceScore
	rec.ConfidenceScore = models.ClampConfidence(rec.ConfidenceScore - p.disagreementPenalty)
	rec.FlagForReview(ReviewReasonDisagreement)
	rec.AddNote(fmt.Sprintf("Care level disagreement: model recommended %s, rule-based assessment suggests %s",
		rec.RecommendedLevelOfCare, ruleLevel))

	log.Warn("model and rule-based care levels disagree", map[string]interface{}{
		"model_level":       rec.RecommendedLevelOfCare,
		"rule_level":        ruleLevel,
		"confidence_before": before,
		"confidence_after":  rec.ConfidenceScore,
	})
}

func (p *Pipeline) loadCriteria(ctx context.Context, log logger.Logger) models.ExclusionCriteria {
	if p.exclusions == nil {
		return nil
	}
	criteria, err := p.exclusions.Criteria(ctx)
	if err != nil {
		log.Warn("exclusion criteria unavailable, evaluating without them", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return criteria
}

func (p *Pipeline) loadHospitals(ctx context.Context, log logger.Logger) []models.Hospital {
	if p.directory != nil {
		list, err := p.directory.List(ctx)
		if err != nil {
			log.Warn("hospital directory unavailable", map[string]interface{}{"error": err.Error()})
		} else if len(list) > 0 {
			return list
		}
	}
	log.Debug("using built-in campus table", nil)
	return p.rules.DefaultHospitals()
}

func (p *Pipeline) loadCensus(ctx context.Context, list []models.Hospital, log logger.Logger) map[string]models.BedCensus {
	if p.census == nil || len(list) == 0 {
		return nil
	}
	ids := make([]string, 0, len(list))
	for _, h := range list {
		ids = append(ids, h.CampusID)
	}
	census, err := p.census.Get(ctx, ids)
	if err != nil {
		log.Warn("bed census unavailable", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return census
}

func (p *Pipeline) requestReview(ctx context.Context, rec models.Recommendation, log logger.Logger) []models.ReviewDelivery {
	if p.notifier == nil {
		metrics.ReviewRequests.WithLabelValues(firstReason(rec.ReviewReasons), review.StatusDisabled).Inc()
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	deliveries, err := p.notifier.Notify(ctx, review.BuildRequest(rec))
	if err != nil {
		log.Error("review notification failed", map[string]interface{}{"error": err.Error()})
	}
	return deliveries
}

func (p *Pipeline) errorResponse(resp Response, message string, confidence float64) Response {
	resp.Success = false
	resp.ErrorMessage = message
	resp.FinalRecommendation = fallback.BuildError(resp.RequestID, message, confidence)
	return resp
}

func (p *Pipeline) cancelledResponse(resp Response, err error) Response {
	p.log.Warn("pipeline cancelled", map[string]interface{}{
		"request_id": resp.RequestID,
		"error":      err.Error(),
	})
	return p.errorResponse(resp, "request cancelled: "+err.Error(), fallback.ConfidenceCancelled)
}

// mergePatientData fills demographics the text did not mention from the
// structured patient record.
func mergePatientData(e models.ExtractedEntities, data map[string]interface{}) models.ExtractedEntities {
	if len(data) == 0 {
		return e
	}
	if e.Demographics.Age == "" {
		e.Demographics.Age = models.StringAt(data, "age")
	}
	if e.Demographics.Gender == "" {
		e.Demographics.Gender = models.StringAt(data, "gender", "sex")
	}
	if e.Demographics.Weight == "" {
		e.Demographics.Weight = models.StringAt(data, "weight")
	}
	return e
}

func degradedMessage(reports []StageReport) string {
	var degraded []string
	for _, r := range reports {
		if r.Outcome == string(stage.OutcomeFallback) || r.Outcome == string(stage.OutcomeError) {
			degraded = append(degraded, r.Stage)
		}
	}
	return "rule-based fallback used for: " + strings.Join(degraded, ", ")
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return "other"
	}
	return reasons[0]
}
