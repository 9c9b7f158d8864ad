package standardizer

import (
	"transfer-advisor/internal/models"
)

// ToRecommendation converts a canonical map (the output of Standardize)
// into the typed recommendation.
func ToRecommendation(fields map[string]interface{}, requestID string) models.Recommendation {
	r := models.Recommendation{
		TransferRequestID:      requestID,
		RecommendedCampusID:    models.StringAt(fields, KeyCampusID),
		RecommendedCampusName:  models.StringAt(fields, KeyCampusName),
		RecommendedLevelOfCare: models.StringAt(fields, KeyLevelOfCare),
		Reason:                 models.StringAt(fields, KeyReason),
		Notes:                  models.AsStringList(fields[KeyNotes]),
	}

	if c, ok := models.AsFloat(fields[KeyConfidence]); ok {
		r.ConfidenceScore = c
	} else {
		r.ConfidenceScore = DefaultConfidence
	}

	expl := models.AsMap(fields[KeyExplainability])
	r.Explainability = models.Explainability{
		MainRecommendationReason: models.StringAt(expl, KeyMainReason),
		AlternativeReasons:       map[string]string{},
		KeyFactorsConsidered:     models.AsStringSlice(expl[KeyKeyFactors]),
		ExtractionMethod:         models.StringAt(expl, "extraction_method"),
		Urgency:                  models.StringAt(expl, "urgency"),
		Error:                    models.StringAt(expl, "error"),
	}
	for id, reason := range models.AsMap(expl[KeyAlternatives]) {
		r.Explainability.AlternativeReasons[id] = models.AsString(reason)
	}
	if text := models.StringAt(expl, KeyConfidenceExpl); text != "" {
		r.Explainability.ConfidenceExplanation = &text
	}

	transport := models.AsMap(fields[KeyTransport])
	r.TransportDetails = models.TransportDetails{
		Mode:                models.StringAt(transport, "mode", "transport_mode"),
		SpecialRequirements: models.AsStringSlice(first(transport, "special_requirements", "requirements")),
	}
	if minutes, ok := models.AsFloat(first(transport, "estimated_time_minutes", "eta_minutes", "estimated_time")); ok {
		r.TransportDetails.EstimatedTimeMinutes = &minutes
	}

	conditions := models.AsMap(fields[KeyConditions])
	r.Conditions = models.Conditions{
		Weather: models.StringAt(conditions, "weather"),
		Traffic: models.StringAt(conditions, "traffic"),
	}

	r.EnsureDefaults()
	return r
}

func first(m map[string]interface{}, keys ...string) interface{} {
	v, _ := models.Lookup(m, keys...)
	return v
}
