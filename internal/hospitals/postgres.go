package hospitals

import (
	"context"
	"database/sql"
	"fmt"

	"transfer-advisor/internal/common/database"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"

	"github.com/lib/pq"
)

const listCampusesQuery = `
	SELECT campus_id, name, care_levels, specialties, latitude, longitude
	FROM campuses
	WHERE active = true
	ORDER BY campus_id
`

// PostgresDirectory reads active campuses from the campuses table.
type PostgresDirectory struct {
	db  *database.PostgresClient
	log logger.Logger
}

func NewPostgresDirectory(db *database.PostgresClient, log logger.Logger) *PostgresDirectory {
	return &PostgresDirectory{db: db, log: logger.Component(log, "hospital-directory")}
}

func (d *PostgresDirectory) List(ctx context.Context) ([]models.Hospital, error) {
	rows, err := d.db.Query(ctx, listCampusesQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	defer rows.Close()

	var out []models.Hospital
	for rows.Next() {
		var (
			h           models.Hospital
			careLevels  pq.StringArray
			specialties pq.StringArray
			lat, lon    sql.NullFloat64
		)
		if err := rows.Scan(&h.CampusID, &h.Name, &careLevels, &specialties, &lat, &lon); err != nil {
			return nil, fmt.Errorf("%w: scan campus: %v", ErrDirectoryUnavailable, err)
		}
		h.CareLevels = []string(careLevels)
		h.Specialties = []string(specialties)
		if lat.Valid && lon.Valid {
			h.Location = models.Location{Lat: lat.Float64, Lon: lon.Float64}
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	d.log.Debug("campuses loaded", map[string]interface{}{"count": len(out)})
	return out, nil
}
