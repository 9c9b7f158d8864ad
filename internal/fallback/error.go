// Package fallback builds recommendations without a language model: the
// error-shaped recommendation and the rule-based one.
package fallback

import (
	"transfer-advisor/internal/models"
)

// Error recommendation confidence per failure class.
const (
	ConfidenceEmptyInput = 5.0
	ConfidenceTerminal   = 10.0
	ConfidenceCancelled  = 20.0

	minErrorConfidence = 5.0
	maxErrorConfidence = 30.0
)

// BuildError returns a minimal valid recommendation for the ERROR campus.
// confidence is clamped to [5,30].
func BuildError(requestID, message string, confidence float64) models.Recommendation {
	if confidence < minErrorConfidence {
		confidence = minErrorConfidence
	}
	if confidence > maxErrorConfidence {
		confidence = maxErrorConfidence
	}

	r := models.Recommendation{
		TransferRequestID:     requestID,
		RecommendedCampusID:   models.ErrorCampusID,
		RecommendedCampusName: "Error",
		Reason:                "Error: " + message,
		ConfidenceScore:       confidence,
		Explainability: models.Explainability{
			MainRecommendationReason: "Error: " + message,
			AlternativeReasons:       map[string]string{},
			KeyFactorsConsidered:     []string{},
			Error:                    message,
		},
		Notes: []string{
			"Error occurred during recommendation generation",
			"Error details: " + message,
		},
	}
	explanation := "Recommendation could not be generated; confidence reflects the failure"
	r.Explainability.ConfidenceExplanation = &explanation
	r.FlagForReview("error recommendation")
	r.EnsureDefaults()
	return r
}
