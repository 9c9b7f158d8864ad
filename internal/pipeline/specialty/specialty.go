// Package specialty decides which specialties and which care level a
// patient needs.
package specialty

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/validation"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline/stage"
)

const (
	Name        = "SpecialtyAssessment"
	method      = "assess_specialties"
	temperature = 0.1
	maxTokens   = 1500
)

var schema = validation.MustCompile(Name, validation.AnyOfRequired(
	[]string{"required_specialties", "specialties", "recommended_care_level", "care_level"},
	[]string{"scores"},
	[]string{"required_specialties", "potential_conditions"},
))

type Assessor struct {
	runner *stage.Runner
	log    logger.Logger
}

func New(runner *stage.Runner, log logger.Logger) *Assessor {
	return &Assessor{runner: runner, log: logger.Component(log, Name)}
}

// Assess runs the specialty stage. scores are embedded in the prompt and
// copied into the result unchanged.
func (a *Assessor) Assess(ctx context.Context, entities models.ExtractedEntities, scores models.ScoringResults) stage.Result[models.SpecialtyAssessment] {
	res := stage.Run(ctx, a.runner, stage.Spec[models.SpecialtyAssessment]{
		Name:   Name,
		Method: method,
		Messages: []llm.Message{
			llm.System("You are a pediatric medical specialist with expertise in severity assessment and care level determination."),
			llm.User(buildPrompt(entities, scores)),
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Schema:      schema,
		Decode: func(m map[string]interface{}) (models.SpecialtyAssessment, error) {
			assessment := models.SpecialtyFromMap(m)
			if assessment.RecommendedCareLevel == "" {
				assessment.RecommendedCareLevel = fallbackCareLevel(entities)
			}
			return assessment, nil
		},
		Fallback: func() models.SpecialtyAssessment {
			return RuleBased(entities)
		},
	})

	if len(scores) > 0 {
		res.Value.Scores = scores
	}

	a.log.Info("specialty assessment finished", map[string]interface{}{
		"outcome":     string(res.Outcome),
		"care_level":  res.Value.RecommendedCareLevel,
		"specialties": res.Value.SpecialtyNames(),
	})
	return res
}

func buildPrompt(entities models.ExtractedEntities, scores models.ScoringResults) string {
	var b strings.Builder
	b.WriteString("Based on the following patient information, identify the medical specialties needed and the appropriate level of care.\n\n")

	b.WriteString("Patient Information:\n")
	writeJSON(&b, entities)

	if len(scores) > 0 {
		b.WriteString("\nPediatric Severity Scores:\n")
		writeJSON(&b, scores)
		b.WriteString("\nConsider these scores when determining the care level. Higher scores indicate more severe illness.\n")
	}

	b.WriteString(`
Return a JSON object with:
1. required_specialties: list of objects with specialty, importance ("primary", "secondary" or "consult") and reasoning
2. recommended_care_level: one of "General", "Intermediate", "ICU", "PICU", "NICU"
3. care_level_reasoning: why that level is needed
4. potential_conditions: list of conditions to consider
5. clinical_summary: one or two sentences

Only return the JSON object.`)
	return b.String()
}

func writeJSON(b *strings.Builder, v interface{}) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(b, "%v\n", v)
		return
	}
	b.Write(raw)
	b.WriteByte('\n')
}
