// Package exclusions loads the per-campus exclusion criteria document used by
// the exclusion evaluation stage.
package exclusions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"transfer-advisor/internal/models"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidCriteriaFile = errors.New("INVALID_EXCLUSION_CRITERIA")
	ErrSourceUnavailable   = errors.New("EXCLUSION_SOURCE_UNAVAILABLE")
)

// Source returns the exclusion criteria keyed by campus id.
type Source interface {
	Criteria(ctx context.Context) (models.ExclusionCriteria, error)
}

type FileSource struct {
	criteria models.ExclusionCriteria
}

func NewFileSource(path string) (*FileSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCriteriaFile, err)
	}
	criteria, err := ParseCriteria(raw)
	if err != nil {
		return nil, err
	}
	return &FileSource{criteria: criteria}, nil
}

func (s *FileSource) Criteria(ctx context.Context) (models.ExclusionCriteria, error) {
	out := make(models.ExclusionCriteria, len(s.criteria))
	for id, c := range s.criteria {
		out[id] = c
	}
	return out, nil
}

// ParseCriteria reads a YAML or JSON document keyed by campus id. A single
// top-level "campuses" key is unwrapped, and a list of entries carrying
// campus_id is accepted in place of the map.
func ParseCriteria(raw []byte) (models.ExclusionCriteria, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCriteriaFile, err)
	}
	if len(doc.Content) == 0 {
		return models.ExclusionCriteria{}, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.MappingNode && len(root.Content) == 2 && root.Content[0].Value == "campuses" {
		root = root.Content[1]
	}

	out := models.ExclusionCriteria{}
	switch root.Kind {
	case yaml.MappingNode:
		var m map[string]models.CampusCriteria
		if err := root.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCriteriaFile, err)
		}
		for id, c := range m {
			if c.CampusID == "" {
				c.CampusID = id
			}
			out[id] = c
		}
	case yaml.SequenceNode:
		var list []models.CampusCriteria
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCriteriaFile, err)
		}
		for i, c := range list {
			id := strings.TrimSpace(c.CampusID)
			if id == "" {
				return nil, fmt.Errorf("%w: entry %d has no campus_id", ErrInvalidCriteriaFile, i)
			}
			out[id] = c
		}
	default:
		return nil, fmt.Errorf("%w: expected a mapping of campuses", ErrInvalidCriteriaFile)
	}
	return out, nil
}
