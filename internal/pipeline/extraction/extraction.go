// Package extraction turns free clinical text into ExtractedEntities.
package extraction

import (
	"context"
	"fmt"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/validation"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline/stage"
)

const (
	Name      = "EntityExtraction"
	method    = "extract_entities"
	maxTokens = 2000
)

var schema = validation.MustCompile(Name, validation.AnyOfRequired(
	[]string{"demographics", "vital_signs", "clinical_info", "clinical_information", "care_needs"},
	[]string{"demographics", "vital_signs", "clinical_info", "clinical_information", "care_needs"},
	nil,
))

type Extractor struct {
	runner *stage.Runner
	log    logger.Logger
}

func New(runner *stage.Runner, log logger.Logger) *Extractor {
	return &Extractor{runner: runner, log: logger.Component(log, Name)}
}

func (e *Extractor) Extract(ctx context.Context, text string) stage.Result[models.ExtractedEntities] {
	res := stage.Run(ctx, e.runner, stage.Spec[models.ExtractedEntities]{
		Name:   Name,
		Method: method,
		Messages: []llm.Message{
			llm.System("You are a clinical data extraction assistant. You answer with a single JSON object and nothing else."),
			llm.User(buildPrompt(text)),
		},
		Temperature: 0,
		MaxTokens:   maxTokens,
		Schema:      schema,
		Decode: func(m map[string]interface{}) (models.ExtractedEntities, error) {
			entities := models.EntitiesFromMap(m)
			if entities.CareNeeds.SuggestedCareLevel == "" {
				entities.CareNeeds.SuggestedCareLevel = keywordCareLevel(text)
			}
			return entities, nil
		},
		Fallback: func() models.ExtractedEntities {
			return RuleBased(text)
		},
	})

	e.log.Info("entity extraction finished", map[string]interface{}{
		"outcome":    string(res.Outcome),
		"source":     res.Value.Source,
		"vitals":     res.Value.VitalSigns.Present(),
		"care_level": res.Value.CareNeeds.SuggestedCareLevel,
	})
	return res
}

func buildPrompt(text string) string {
	return fmt.Sprintf(`Extract the following information from the clinical text and return it as JSON.

1. demographics:
   - age: age of the patient with its unit (e.g. "3 years", "6 months")
   - gender: "male", "female" or "unknown"
   - weight: weight in kg if available

2. vital_signs:
   - hr: heart rate
   - rr: respiratory rate
   - bp: blood pressure as "systolic/diastolic"
   - temp: temperature in Celsius
   - o2: oxygen saturation with a percent sign (e.g. "95%%")
   - gcs: Glasgow Coma Scale if reported

3. clinical_info:
   - chief_complaint: main presenting complaint in one sentence
   - clinical_history: brief history in 2-3 sentences
   - diagnoses, medications, allergies, procedures: lists of strings

4. care_needs:
   - suggested_care_level: one of "General", "Intermediate", "ICU", "PICU", "NICU"
   - requires_ventilator, requires_isolation, requires_telemetry: booleans
   - requires_specialty_care: list of specialties mentioned

Only include fields that the text states explicitly.

Clinical text:
%s

JSON output:`, text)
}
