package hospitals

import (
	"context"
	"fmt"
	"os"
	"strings"

	"transfer-advisor/internal/models"

	"gopkg.in/yaml.v3"
)

// FileDirectory serves a campus list loaded once from a YAML or JSON file.
type FileDirectory struct {
	hospitals []models.Hospital
}

func NewFileDirectory(path string) (*FileDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHospitalFile, err)
	}
	list, err := ParseHospitals(raw)
	if err != nil {
		return nil, err
	}
	return &FileDirectory{hospitals: list}, nil
}

func NewStaticDirectory(list []models.Hospital) *FileDirectory {
	return &FileDirectory{hospitals: list}
}

func (d *FileDirectory) List(ctx context.Context) ([]models.Hospital, error) {
	out := make([]models.Hospital, len(d.hospitals))
	copy(out, d.hospitals)
	return out, nil
}

// ParseHospitals accepts a bare list or a document with a top-level
// "hospitals" or "campuses" list. JSON parses as YAML.
func ParseHospitals(raw []byte) ([]models.Hospital, error) {
	var list []models.Hospital
	if err := yaml.Unmarshal(raw, &list); err != nil {
		var doc struct {
			Hospitals []models.Hospital `yaml:"hospitals"`
			Campuses  []models.Hospital `yaml:"campuses"`
		}
		if derr := yaml.Unmarshal(raw, &doc); derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHospitalFile, derr)
		}
		list = doc.Hospitals
		if len(list) == 0 {
			list = doc.Campuses
		}
	}

	out := make([]models.Hospital, 0, len(list))
	for i, h := range list {
		h.CampusID = strings.TrimSpace(h.CampusID)
		if h.CampusID == "" {
			return nil, fmt.Errorf("%w: entry %d has no campus_id", ErrInvalidHospitalFile, i)
		}
		if h.Name == "" {
			h.Name = h.CampusID
		}
		out = append(out, h)
	}
	return out, nil
}
