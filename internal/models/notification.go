// internal/models/notification.go
package models

// ReviewRequest asks the transfer center to look at a recommendation before
// it is acted on.
type ReviewRequest struct {
	ID                string   `json:"id"`
	TransferRequestID string   `json:"transferRequestId"`
	CampusID          string   `json:"campusId"`
	CampusName        string   `json:"campusName"`
	CareLevel         string   `json:"careLevel"`
	ConfidenceScore   float64  `json:"confidenceScore"`
	Reasons           []string `json:"reasons"`
	Summary           string   `json:"summary"`
	CreatedAt         string   `json:"createdAt"`
}

type ReviewDelivery struct {
	Channel   string `json:"channel"` // "sns", "ses"
	Status    string `json:"status"`  // "sent", "failed", "disabled"
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}
