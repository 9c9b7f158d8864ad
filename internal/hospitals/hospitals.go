// Package hospitals provides the campus directory and bed census collaborators
// consumed by the recommendation stage.
package hospitals

import (
	"context"
	"errors"

	"transfer-advisor/internal/models"
)

var (
	ErrDirectoryUnavailable = errors.New("HOSPITAL_DIRECTORY_UNAVAILABLE")
	ErrCensusUnavailable    = errors.New("CENSUS_UNAVAILABLE")
	ErrInvalidHospitalFile  = errors.New("INVALID_HOSPITAL_FILE")
)

// Directory lists the campuses a patient may be transferred to.
type Directory interface {
	List(ctx context.Context) ([]models.Hospital, error)
}

// CensusStore returns bed availability keyed by campus id. Campuses without
// a census entry are omitted from the result.
type CensusStore interface {
	Get(ctx context.Context, campusIDs []string) (map[string]models.BedCensus, error)
}
