// internal/models/recommendation.go
package models

import "math"

const ErrorCampusID = "ERROR"

type Explainability struct {
	MainRecommendationReason string            `json:"main_recommendation_reason"`
	AlternativeReasons       map[string]string `json:"alternative_reasons"`
	KeyFactorsConsidered     []string          `json:"key_factors_considered"`
	ConfidenceExplanation    *string           `json:"confidence_explanation"`
	ExtractionMethod         string            `json:"extraction_method,omitempty"`
	Urgency                  string            `json:"urgency,omitempty"`
	Error                    string            `json:"error,omitempty"`
}

type TransportDetails struct {
	Mode                 string   `json:"mode,omitempty"`
	EstimatedTimeMinutes *float64 `json:"estimated_time_minutes,omitempty"`
	SpecialRequirements  []string `json:"special_requirements,omitempty"`
}

type Conditions struct {
	Weather string `json:"weather,omitempty"`
	Traffic string `json:"traffic,omitempty"`
}

// Recommendation is the canonical pipeline output.
type Recommendation struct {
	TransferRequestID      string           `json:"transfer_request_id"`
	RecommendedCampusID    string           `json:"recommended_campus_id"`
	RecommendedCampusName  string           `json:"recommended_campus_name"`
	RecommendedLevelOfCare string           `json:"recommended_level_of_care"`
	Reason                 string           `json:"reason"`
	ConfidenceScore        float64          `json:"confidence_score"`
	Explainability         Explainability   `json:"explainability_details"`
	Notes                  []string         `json:"notes"`
	TransportDetails       TransportDetails `json:"transport_details"`
	Conditions             Conditions       `json:"conditions"`
	NeedsHumanReview       bool             `json:"needs_human_review"`
	ReviewReasons          []string         `json:"review_reasons,omitempty"`
}

func (r *Recommendation) AddNote(note string) {
	if note != "" {
		r.Notes = append(r.Notes, note)
	}
}

func (r *Recommendation) FlagForReview(reason string) {
	r.NeedsHumanReview = true
	for _, existing := range r.ReviewReasons {
		if existing == reason {
			return
		}
	}
	r.ReviewReasons = append(r.ReviewReasons, reason)
}

func (r Recommendation) IsError() bool {
	return r.RecommendedCampusID == ErrorCampusID
}

// EnsureDefaults fills nil collections so the value always serialises with
// every canonical field.
func (r *Recommendation) EnsureDefaults() {
	if r.Notes == nil {
		r.Notes = []string{}
	}
	if r.Explainability.AlternativeReasons == nil {
		r.Explainability.AlternativeReasons = map[string]string{}
	}
	if r.Explainability.KeyFactorsConsidered == nil {
		r.Explainability.KeyFactorsConsidered = []string{}
	}
	r.ConfidenceScore = ClampConfidence(r.ConfidenceScore)
}

// ClampConfidence bounds v to [0,100]; NaN becomes 0.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
