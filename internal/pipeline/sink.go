package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/master"
)

// Sink publishes scored results on the event bus. A nil Bus discards them.
type Sink struct {
	Bus domain.EventBus
}

// Record publishes every result to TopicScore, and to TopicSignal when its
// direction is not NEUTRAL. Failures are logged and never fail the scoring
// call.
func (s Sink) Record(ctx context.Context, tenantID string, results ...*domain.MasterScoreResult) {
	if s.Bus == nil {
		return
	}
	for _, res := range results {
		if res == nil {
			continue
		}

		payload, err := json.Marshal(res)
		if err != nil {
			slog.Error("failed to encode score", "entity_id", res.EntityID, "error", err)
			continue
		}
		if err := s.Bus.Publish(ctx, tenantID, domain.TopicScore, payload); err != nil {
			slog.Warn("failed to publish score", "entity_id", res.EntityID, "error", err)
		}
		if master.IsSignal(res) {
			if err := s.Bus.Publish(ctx, tenantID, domain.TopicSignal, payload); err != nil {
				slog.Warn("failed to publish signal", "entity_id", res.EntityID, "error", err)
			}
		}
	}
}
