package exclusions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"transfer-advisor/internal/common/database"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const maxCriteriaDocuments = 200

// ElasticsearchSource reads one document per campus from the criteria index.
type ElasticsearchSource struct {
	es    *database.ElasticsearchClient
	index string
	log   logger.Logger
}

func NewElasticsearchSource(es *database.ElasticsearchClient, index string, log logger.Logger) *ElasticsearchSource {
	return &ElasticsearchSource{es: es, index: index, log: logger.Component(log, "exclusion-source")}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string                `json:"_id"`
			Source models.CampusCriteria `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticsearchSource) Criteria(ctx context.Context) (models.ExclusionCriteria, error) {
	query := map[string]interface{}{
		"size":  maxCriteriaDocuments,
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode criteria query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.es.Client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("%w: search failed: %s", ErrSourceUnavailable, res.Status())
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", ErrSourceUnavailable, err)
	}

	out := models.ExclusionCriteria{}
	for _, hit := range decoded.Hits.Hits {
		c := hit.Source
		id := c.CampusID
		if id == "" {
			id = hit.ID
			c.CampusID = id
		}
		if id == "" {
			continue
		}
		out[id] = c
	}

	s.log.Debug("exclusion criteria loaded", map[string]interface{}{
		"index":    s.index,
		"campuses": len(out),
	})
	return out, nil
}
