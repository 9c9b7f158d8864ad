// internal/workers/transfer/request-transfer-review/models.go
package requesttransferreview

import "transfer-advisor/internal/models"

type Input struct {
	Recommendation models.Recommendation `json:"recommendation"`
	Reasons        []string              `json:"reasons,omitempty"` // added to the recommendation's own
	RequestedBy    string                `json:"requestedBy,omitempty"`
}

type Output struct {
	ReviewID   string                  `json:"reviewId"`
	Status     string                  `json:"status"` // "sent", "failed", "disabled"
	Deliveries []models.ReviewDelivery `json:"deliveries"`
	SentAt     string                  `json:"sentAt"` // ISO 8601
}
