package hospitals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transfer-advisor/internal/common/database"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"
)

const censusKeyPrefix = "census:"

func CensusKey(campusID string) string {
	return censusKeyPrefix + campusID
}

// RedisCensusStore keeps one JSON document per campus under census:<id>.
type RedisCensusStore struct {
	redis *database.RedisClient
	ttl   time.Duration
	log   logger.Logger
}

func NewRedisCensusStore(redis *database.RedisClient, ttl time.Duration, log logger.Logger) *RedisCensusStore {
	return &RedisCensusStore{redis: redis, ttl: ttl, log: logger.Component(log, "census-store")}
}

func (s *RedisCensusStore) Get(ctx context.Context, campusIDs []string) (map[string]models.BedCensus, error) {
	out := make(map[string]models.BedCensus, len(campusIDs))
	if len(campusIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(campusIDs))
	for i, id := range campusIDs {
		keys[i] = CensusKey(id)
	}

	values, err := s.redis.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCensusUnavailable, err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var census models.BedCensus
		if err := json.Unmarshal([]byte(raw), &census); err != nil {
			s.log.Warn("skipping malformed census entry", map[string]interface{}{
				"campus_id": campusIDs[i],
				"error":     err.Error(),
			})
			continue
		}
		out[campusIDs[i]] = census
	}
	return out, nil
}

// Put stores the census for one campus. A zero ttl keeps the key forever.
func (s *RedisCensusStore) Put(ctx context.Context, campusID string, census models.BedCensus) error {
	raw, err := json.Marshal(census)
	if err != nil {
		return fmt.Errorf("encode census: %w", err)
	}
	if err := s.redis.Client.Set(ctx, CensusKey(campusID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCensusUnavailable, err)
	}
	return nil
}
