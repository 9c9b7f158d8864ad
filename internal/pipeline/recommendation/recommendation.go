// Package recommendation produces the final campus recommendation from the
// outputs of the earlier stages.
package recommendation

import (
	"context"
	"fmt"
	"strings"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/validation"
	"transfer-advisor/internal/confidence"
	"transfer-advisor/internal/fallback"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline/stage"
	"transfer-advisor/internal/standardizer"
)

const (
	Name        = "RecommendationGeneration"
	method      = "generate_recommendation"
	temperature = 0.1
	maxTokens   = 2048
)

var schema = validation.MustCompile(Name, validation.AnyOfRequired(
	[]string{
		"recommended_campus_id", "recommended_campus", "campus_id", "campus", "hospital", "facility",
		"recommendation", "final_recommendation", "recommendation_data",
	},
	nil, nil,
))

var campusScoreKeys = []string{"care_level_match", "specialty_availability", "capacity", "location", "specific_resources"}

// Input is everything the recommendation stage consumes. Only Entities and
// ClinicalText are required.
type Input struct {
	RequestID        string
	ClinicalText     string
	Entities         models.ExtractedEntities
	Specialty        models.SpecialtyAssessment
	Exclusions       models.ExclusionEvaluation
	Hospitals        []models.Hospital
	Census           map[string]models.BedCensus
	SendingLocation  *models.Location
	HumanSuggestions map[string]interface{}
	Scores           models.ScoringResults
}

func (in Input) censusFor(h models.Hospital) models.BedCensus {
	if c, ok := in.Census[h.CampusID]; ok {
		return c
	}
	return h.BedCensus
}

func (in Input) hospital(id string) (models.Hospital, bool) {
	for _, h := range in.Hospitals {
		if h.CampusID == id {
			return h, true
		}
	}
	return models.Hospital{}, false
}

type Generator struct {
	runner       *stage.Runner
	standardizer *standardizer.Standardizer
	rules        *fallback.Recommender
	log          logger.Logger
}

func New(runner *stage.Runner, std *standardizer.Standardizer, rules *fallback.Recommender, log logger.Logger) *Generator {
	return &Generator{
		runner:       runner,
		standardizer: std,
		rules:        rules,
		log:          logger.Component(log, Name),
	}
}

// Generate asks the model for a recommendation with structured output,
// retries once in plain JSON mode when the endpoint rejects the schema, and
// falls back to the rule-based recommender.
func (g *Generator) Generate(ctx context.Context, in Input) stage.Result[models.Recommendation] {
	ctx, span := g.runner.Tracer().Start(ctx, "stage."+Name)
	defer span.End()

	prompt := buildPrompt(in, in.Hospitals)
	system := llm.System("You are a pediatric transfer coordinator who recommends the most appropriate hospital campus and level of care.")

	attempt := g.runner.Try(ctx, Name, method, llm.Request{
		Messages:    []llm.Message{system, llm.User(prompt)},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		ResponseFormat: &llm.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &llm.JSONSchema{
				Name:   "transfer_recommendation",
				Schema: responseSchema,
			},
		},
	}, schema)

	if failure, ok := llm.AsCallFailure(attempt.Err); ok && failure.SchemaRejected() {
		g.log.Warn("endpoint rejected structured output, retrying in plain json mode", map[string]interface{}{
			"status_code": failure.StatusCode,
		})
		attempt = g.runner.Try(ctx, Name, method, llm.Request{
			Messages:    []llm.Message{system, llm.User(prompt + jsonInstructions)},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}, schema)
	}

	if attempt.Completion != nil && attempt.Completion.Truncated() {
		g.log.Warn("recommendation output was truncated by the token limit", map[string]interface{}{
			"max_tokens": maxTokens,
			"strategy":   attempt.Strategy,
		})
	}

	var res stage.Result[models.Recommendation]
	if attempt.OK() {
		rec, err := g.fromModel(attempt.Object, in)
		if err == nil {
			res = stage.Result[models.Recommendation]{
				Value:    rec,
				Outcome:  stage.OutcomeSuccess,
				Raw:      attempt.Raw,
				Strategy: attempt.Strategy,
			}
		} else {
			attempt.Cause = stage.CauseSchema
			attempt.Err = err
		}
	}

	if !attempt.OK() {
		g.log.Warn("recommendation falling back to rule-based path", map[string]interface{}{
			"cause": string(attempt.Cause),
			"error": errString(attempt.Err),
		})
		span.RecordError(attempt.Err)
		res = stage.Result[models.Recommendation]{
			Value:    g.ruleBased(in),
			Outcome:  stage.OutcomeFallback,
			Cause:    attempt.Cause,
			Raw:      attempt.Raw,
			Strategy: attempt.Strategy,
			Err:      attempt.Err,
		}
	}

	g.runner.Record(ctx, span, Name, res.Outcome, res.Strategy)
	g.log.Info("recommendation generated", map[string]interface{}{
		"outcome":    string(res.Outcome),
		"campus_id":  res.Value.RecommendedCampusID,
		"care_level": res.Value.RecommendedLevelOfCare,
		"confidence": res.Value.ConfidenceScore,
	})
	return res
}

// RuleBased is the deterministic recommendation for in.
func (g *Generator) RuleBased(in Input) models.Recommendation {
	return g.ruleBased(in)
}

func (g *Generator) ruleBased(in Input) models.Recommendation {
	rec := g.rules.Recommend(in.ClinicalText, in.RequestID, in.Scores)
	if h, ok := in.hospital(rec.RecommendedCampusID); ok && h.Name != "" {
		rec.RecommendedCampusName = h.Name
	}
	if in.Exclusions.IsExcluded(rec.RecommendedCampusID) {
		rec.AddNote(fmt.Sprintf("Warning: %s matched exclusion criteria during evaluation", rec.RecommendedCampusID))
		rec.FlagForReview("rule-based campus matched exclusion criteria")
	}
	return rec
}

func (g *Generator) fromModel(obj map[string]interface{}, in Input) (models.Recommendation, error) {
	fields, report := g.standardizer.StandardizeWithReport(obj)
	rec := standardizer.ToRecommendation(fields, in.RequestID)

	if rec.RecommendedCampusID == "" {
		return rec, fmt.Errorf("recommendation names no campus")
	}
	rec.Explainability.ExtractionMethod = models.SourceLLM

	if rec.RecommendedCampusName == "" {
		if h, ok := in.hospital(rec.RecommendedCampusID); ok {
			rec.RecommendedCampusName = h.Name
		} else {
			rec.RecommendedCampusName = g.rules.CampusName(rec.RecommendedCampusID)
		}
	}

	if rec.RecommendedLevelOfCare == "" {
		level := in.Specialty.RecommendedCareLevel
		if level == "" {
			level = in.Entities.CareNeeds.SuggestedCareLevel
		}
		if level == "" {
			level = models.CareGeneral
		}
		rec.RecommendedLevelOfCare = level
		rec.AddNote("Level of care not stated by the model; using " + level + " from the clinical assessment")
	}

	if rec.Explainability.MainRecommendationReason == "" {
		rec.Explainability.MainRecommendationReason = rec.Reason
	}

	campusScores := models.MapAt(fields, "campus_scores", "scores", "campus_scoring")
	renderCampusScores(&rec, campusScores)
	renderExtras(&rec, fields)

	if in.Exclusions.IsExcluded(rec.RecommendedCampusID) && len(in.Exclusions.ExcludedCampuses()) < len(in.Exclusions.CampusExclusions) {
		rec.AddNote(fmt.Sprintf("Warning: %s matched exclusion criteria during evaluation", rec.RecommendedCampusID))
		rec.FlagForReview("recommended campus matched exclusion criteria")
	}

	if report.ConfidenceDefaulted {
		rec.ConfidenceScore = g.estimate(in, rec, campusScores)
		explanation := "Estimated from data completeness, clinical clarity, exclusion checks, proximity data and severity scores"
		rec.Explainability.ConfidenceExplanation = &explanation
	}

	rec.EnsureDefaults()
	return rec, nil
}

func (g *Generator) estimate(in Input, rec models.Recommendation, campusScores map[string]interface{}) float64 {
	est := confidence.Inputs{
		Entities: in.Entities,
		Scores:   in.Scores,
	}
	if len(in.Exclusions.CampusExclusions) > 0 {
		est.Exclusions = in.Exclusions.CheckedExclusions()
	}
	if in.SendingLocation != nil {
		p := &confidence.Proximity{
			Origin:        in.SendingLocation,
			ETAMinutes:    rec.TransportDetails.EstimatedTimeMinutes,
			TransportMode: rec.TransportDetails.Mode,
			Traffic:       rec.Conditions.Traffic,
			Weather:       rec.Conditions.Weather,
		}
		if h, ok := in.hospital(rec.RecommendedCampusID); ok {
			loc := h.Location
			p.Destination = &loc
			p.DestinationAddress = h.Name
		}
		est.Proximity = p
	}
	if loc, ok := models.AsFloat(campusScores["location"]); ok {
		est.CampusMatchScore = &loc
	}

	value := confidence.Estimate(est)
	g.log.Debug("confidence estimated", map[string]interface{}{
		"campus_id":  rec.RecommendedCampusID,
		"confidence": value,
	})
	return value
}

func renderCampusScores(rec *models.Recommendation, scores map[string]interface{}) {
	if len(scores) == 0 {
		return
	}
	var parts []string
	total := 0.0
	for _, k := range campusScoreKeys {
		v, ok := models.AsFloat(scores[k])
		if !ok {
			continue
		}
		v = clampScore(v)
		total += v
		parts = append(parts, fmt.Sprintf("%s %s/5", strings.ReplaceAll(k, "_", " "), models.AsString(v)))
	}
	if len(parts) == 0 {
		return
	}
	rec.AddNote(fmt.Sprintf("Campus scoring: %s (total %s/25)", strings.Join(parts, ", "), models.AsString(total)))
}

func renderExtras(rec *models.Recommendation, fields map[string]interface{}) {
	if urgency := models.StringAt(fields, "urgency"); urgency != "" {
		rec.Explainability.Urgency = urgency
		rec.AddNote("Urgency: " + urgency)
		rec.Explainability.KeyFactorsConsidered = appendUnique(rec.Explainability.KeyFactorsConsidered, "Urgency: "+urgency)
	}
	for _, c := range models.AsStringSlice(fields["transport_considerations"]) {
		rec.AddNote("Transport consideration: " + c)
	}
	if resources := models.AsStringSlice(fields["required_resources"]); len(resources) > 0 {
		line := "Required resources: " + strings.Join(resources, ", ")
		rec.AddNote(line)
		rec.Explainability.KeyFactorsConsidered = appendUnique(rec.Explainability.KeyFactorsConsidered, line)
	}
}

func clampScore(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
