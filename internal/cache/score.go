package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// byteStore is the raw key/value surface shared by every cache tier.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func getComponentScore(ctx context.Context, s byteStore, tenantID, entityID, department string) (*domain.ComponentScore, error) {
	data, err := s.Get(ctx, tenantID, domain.ComponentScoreKey(entityID, department))
	if err != nil || data == nil {
		return nil, err
	}

	var cs domain.ComponentScore
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("failed to decode component score: %w", err)
	}
	return &cs, nil
}

func setComponentScore(ctx context.Context, s byteStore, tenantID, entityID string, cs *domain.ComponentScore, ttl time.Duration) error {
	if cs == nil || cs.Department == "" {
		return fmt.Errorf("component score with a department is required")
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("failed to encode component score: %w", err)
	}
	return s.Set(ctx, tenantID, domain.ComponentScoreKey(entityID, cs.Department), data, ttl)
}
