// Package worker scores snapshots delivered over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/master"
	"github.com/opensource-finance/heron/internal/pipeline"
)

// Worker consumes snapshot, trigger and score-request messages per tenant.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	sink     pipeline.Sink

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to consume. Subjects are tenant
	// scoped so at least one is required.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, p *pipeline.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		sink:     pipeline.Sink{Bus: bus},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the scoring topics of every tenant.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return errors.New("worker requires at least one tenant")
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

// startTenantWorker subscribes the handlers of one tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicSnapshot: func(ctx context.Context, msg *domain.Message) error {
			return w.processSnapshot(ctx, tenantID, msg)
		},
		domain.TopicTrigger: func(ctx context.Context, msg *domain.Message) error {
			return w.processTrigger(tenantID, msg)
		},
		domain.TopicScoreRequest: func(ctx context.Context, msg *domain.Message) error {
			return w.processScoreRequest(ctx, tenantID, msg)
		},
	}

	for _, topic := range []string{domain.TopicSnapshot, domain.TopicTrigger, domain.TopicScoreRequest} {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, handlers[topic])
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	slog.Info("tenant worker started", "tenant_id", tenantID)
	return nil
}

func decodeSnapshot(msg *domain.Message) (*domain.SnapshotEvent, error) {
	var ev domain.SnapshotEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("invalid snapshot message %s: %w", msg.ID, err)
	}
	if ev.EntityID == "" {
		return nil, fmt.Errorf("%w: snapshot message %s has no entity_id", pipeline.ErrInvalidRequest, msg.ID)
	}
	return &ev, nil
}

// score runs one snapshot through the pipeline and records the result.
func (w *Worker) score(ctx context.Context, tenantID string, msg *domain.Message, ev *domain.SnapshotEvent) (*domain.MasterScoreResult, error) {
	start := time.Now()

	result, err := w.pipeline.ScoreEntity(ctx, pipeline.Request{
		TenantID: tenantID,
		EntityID: ev.EntityID,
		TraceID:  msg.ID,
		Snapshot: ev.Snapshot,
		Triggers: ev.Triggers,
	})
	if err != nil {
		return nil, err
	}
	w.sink.Record(ctx, tenantID, result)

	slog.Info("snapshot scored",
		"entity_id", ev.EntityID,
		"tenant_id", tenantID,
		"master_score", result.MasterScore,
		"direction", result.Direction,
		"signal", master.IsSignal(result),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// processSnapshot scores a published snapshot.
func (w *Worker) processSnapshot(ctx context.Context, tenantID string, msg *domain.Message) error {
	ev, err := decodeSnapshot(msg)
	if err != nil {
		return err
	}
	_, err = w.score(ctx, tenantID, msg, ev)
	return err
}

// processTrigger marks departments of an entity due.
func (w *Worker) processTrigger(tenantID string, msg *domain.Message) error {
	var ev domain.TriggerEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("invalid trigger message %s: %w", msg.ID, err)
	}
	if ev.EntityID == "" || ev.Kind == "" {
		return fmt.Errorf("trigger message %s requires entity_id and kind", msg.ID)
	}

	departments := w.pipeline.Trigger(tenantID, ev.EntityID, ev.Kind)
	slog.Debug("trigger applied",
		"entity_id", ev.EntityID,
		"kind", ev.Kind,
		"departments", departments,
	)
	return nil
}

// ScoreReply is the reply to a score request.
type ScoreReply struct {
	Result *domain.MasterScoreResult `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

// processScoreRequest scores a snapshot and replies with the result.
func (w *Worker) processScoreRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	var reply ScoreReply
	ev, err := decodeSnapshot(msg)
	if err == nil {
		reply.Result, err = w.score(ctx, tenantID, msg, ev)
	}
	if err != nil {
		reply.Error = err.Error()
	}

	payload, mErr := json.Marshal(reply)
	if mErr != nil {
		return mErr
	}
	if rErr := w.bus.Reply(ctx, msg, payload); rErr != nil {
		return errors.Join(err, rErr)
	}
	return err
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
