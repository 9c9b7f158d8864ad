// internal/workers/transfer/recommend-transfer/models.go
package recommendtransfer

import (
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline"
)

type Input struct {
	RequestID               string                      `json:"requestId,omitempty"`
	ClinicalText            string                      `json:"clinicalText"`
	PatientData             map[string]interface{}      `json:"patientData,omitempty"`
	SendingFacilityLocation *models.Location            `json:"sendingFacilityLocation,omitempty"`
	AvailableHospitals      []models.Hospital           `json:"availableHospitals,omitempty"`
	CensusData              map[string]models.BedCensus `json:"censusData,omitempty"`
	HumanSuggestions        map[string]interface{}      `json:"humanSuggestions,omitempty"`
	ScoringResults          models.ScoringResults       `json:"scoringResults,omitempty"`
	ExclusionCriteria       models.ExclusionCriteria    `json:"exclusionCriteria,omitempty"`
}

type Output struct {
	RequestID        string                 `json:"requestId"`
	Recommendation   models.Recommendation  `json:"recommendation"`
	Success          bool                   `json:"success"`
	NeedsHumanReview bool                   `json:"needsHumanReview"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	Stages           []pipeline.StageReport `json:"stages,omitempty"`
}

func (in Input) toRequest() pipeline.Request {
	return pipeline.Request{
		RequestID:               in.RequestID,
		ClinicalText:            in.ClinicalText,
		PatientData:             in.PatientData,
		SendingFacilityLocation: in.SendingFacilityLocation,
		AvailableHospitals:      in.AvailableHospitals,
		CensusData:              in.CensusData,
		HumanSuggestions:        in.HumanSuggestions,
		ScoringResults:          in.ScoringResults,
		ExclusionCriteria:       in.ExclusionCriteria,
	}
}
