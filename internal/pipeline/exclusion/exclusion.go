// Package exclusion checks a patient against each campus's exclusion
// criteria.
package exclusion

import (
	"context"
	"encoding/json"
	"strings"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/validation"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline/stage"
)

const (
	Name        = "ExclusionEvaluation"
	method      = "evaluate_exclusions"
	temperature = 0.1
	maxTokens   = 2000
)

var schema = validation.MustCompile(Name, validation.AnyOfRequired(
	[]string{"campus_exclusions", "exclusions"},
	[]string{"campus_exclusions", "exclusions"},
	nil,
))

type Evaluator struct {
	runner *stage.Runner
	log    logger.Logger
}

func New(runner *stage.Runner, log logger.Logger) *Evaluator {
	return &Evaluator{runner: runner, log: logger.Component(log, Name)}
}

// Evaluate returns a skipped result without calling the model when there
// are no criteria to check.
func (e *Evaluator) Evaluate(ctx context.Context, entities models.ExtractedEntities, criteria models.ExclusionCriteria) stage.Result[models.ExclusionEvaluation] {
	if len(criteria) == 0 {
		ctx, span := e.runner.Tracer().Start(ctx, "stage."+Name)
		defer span.End()
		e.runner.Record(ctx, span, Name, stage.OutcomeSkipped, "")
		e.log.Info("no exclusion criteria available, skipping", nil)
		return stage.Result[models.ExclusionEvaluation]{
			Value: models.ExclusionEvaluation{
				CampusExclusions: map[string]models.CampusExclusion{},
				Source:           models.SourceRuleBased,
			},
			Outcome: stage.OutcomeSkipped,
		}
	}

	res := stage.Run(ctx, e.runner, stage.Spec[models.ExclusionEvaluation]{
		Name:   Name,
		Method: method,
		Messages: []llm.Message{
			llm.System("You are a hospital transfer coordinator who checks patients against campus exclusion criteria."),
			llm.User(buildPrompt(entities, criteria)),
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Schema:      schema,
		Decode: func(m map[string]interface{}) (models.ExclusionEvaluation, error) {
			eval := models.ExclusionFromMap(m)
			if eval.RecommendedCampus == "" {
				eval.RecommendedCampus = fewestMatches(eval, criteria.CampusIDs())
			}
			return eval, nil
		},
		Fallback: func() models.ExclusionEvaluation {
			return RuleBased(entities, criteria)
		},
	})

	e.log.Info("exclusion evaluation finished", map[string]interface{}{
		"outcome":            string(res.Outcome),
		"excluded_campuses":  res.Value.ExcludedCampuses(),
		"recommended_campus": res.Value.RecommendedCampus,
	})
	return res
}

func buildPrompt(entities models.ExtractedEntities, criteria models.ExclusionCriteria) string {
	var b strings.Builder
	b.WriteString("Evaluate whether the patient meets any exclusion criteria for each campus.\n\nPatient Information:\n")
	writeJSON(&b, entities)
	b.WriteString("\nExclusion Criteria by Campus:\n")
	writeJSON(&b, criteria)
	b.WriteString(`
Return a JSON object with:
1. campus_exclusions: an object keyed by campus id, each value holding
   - is_excluded: true or false
   - exclusion_matches: list of objects with exclusion_text, department, evidence and confidence (0-100)
   - overall_reasoning: short explanation
2. recommended_campus: the campus id with the fewest exclusions
3. recommendation_reasoning: why that campus

Only report a match when the patient information clearly supports it. Only return the JSON object.`)
	return b.String()
}

func writeJSON(b *strings.Builder, v interface{}) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	b.Write(raw)
	b.WriteByte('\n')
}
