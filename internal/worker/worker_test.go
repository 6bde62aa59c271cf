package worker

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/master"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/scoring"
)

func newPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	set, err := scoring.Build(&domain.DepartmentsFile{Departments: []domain.DepartmentConfig{
		{Name: domain.DeptMacro, Kind: domain.KindBlend, Weight: 0.5, Inputs: map[string]float64{"vix_score": 1}},
		{Name: domain.DeptSector, Kind: domain.KindBlend, Weight: 0.5, Inputs: map[string]float64{"sector_score_daily": 1}},
	}}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return pipeline.New(set, master.NewEngine(2.0, 0, set.Names()), pipeline.Options{})
}

func collect(t *testing.T, b domain.EventBus, tenantID, topic string) <-chan *domain.MasterScoreResult {
	t.Helper()
	ch := make(chan *domain.MasterScoreResult, 10)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		var res domain.MasterScoreResult
		if err := json.Unmarshal(msg.Payload, &res); err != nil {
			return err
		}
		ch <- &res
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return ch
}

func receive(t *testing.T, ch <-chan *domain.MasterScoreResult) *domain.MasterScoreResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result")
		return nil
	}
}

func publish(t *testing.T, b domain.EventBus, tenantID, topic string, v interface{}) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := b.Publish(context.Background(), tenantID, topic, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newPipeline(t))
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 3 {
			t.Errorf("expected 3 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("RequiresTenant", func(t *testing.T) {
		w := NewWorker(eventBus, newPipeline(t))
		if err := w.Start(Config{}); err == nil {
			t.Error("expected error without tenants")
		}
	})

	t.Run("ProcessSnapshot", func(t *testing.T) {
		w := NewWorker(eventBus, newPipeline(t))
		if err := w.Start(Config{TenantIDs: []string{"tenant-snap"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		scores := collect(t, eventBus, "tenant-snap", domain.TopicScore)
		signals := collect(t, eventBus, "tenant-snap", domain.TopicSignal)

		publish(t, eventBus, "tenant-snap", domain.TopicSnapshot, domain.SnapshotEvent{
			EntityID: "AAPL",
			Snapshot: domain.Snapshot{"vix_score": 6.0, "sector_score_daily": 4.0},
		})

		res := receive(t, scores)
		if res.EntityID != "AAPL" || res.TenantID != "tenant-snap" {
			t.Errorf("unexpected result: %+v", res)
		}
		if math.Abs(res.MasterScore-5.0) > 1e-9 || res.Direction != domain.DirectionLong {
			t.Errorf("master=%v direction=%s", res.MasterScore, res.Direction)
		}
		if sig := receive(t, signals); sig.EntityID != "AAPL" {
			t.Errorf("signal entity = %s", sig.EntityID)
		}
	})

	t.Run("NeutralIsNotASignal", func(t *testing.T) {
		w := NewWorker(eventBus, newPipeline(t))
		if err := w.Start(Config{TenantIDs: []string{"tenant-flat"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		scores := collect(t, eventBus, "tenant-flat", domain.TopicScore)
		signals := collect(t, eventBus, "tenant-flat", domain.TopicSignal)

		publish(t, eventBus, "tenant-flat", domain.TopicSnapshot, domain.SnapshotEvent{
			EntityID: "FLAT",
			Snapshot: domain.Snapshot{"vix_score": 1.0},
		})

		if res := receive(t, scores); res.Direction != domain.DirectionNeutral {
			t.Errorf("direction = %s, want NEUTRAL", res.Direction)
		}
		select {
		case <-signals:
			t.Error("neutral result published as a signal")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("TriggerRefreshesDepartment", func(t *testing.T) {
		p := newPipeline(t)
		w := NewWorker(eventBus, p)
		if err := w.Start(Config{TenantIDs: []string{"tenant-trig"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ctx := context.Background()
		if _, err := p.ScoreEntity(ctx, pipeline.Request{
			TenantID: "tenant-trig",
			EntityID: "MSFT",
			Snapshot: domain.Snapshot{"vix_score": 2.0, "sector_score_daily": 2.0},
		}); err != nil {
			t.Fatalf("ScoreEntity failed: %v", err)
		}

		publish(t, eventBus, "tenant-trig", domain.TopicTrigger, domain.TriggerEvent{EntityID: "MSFT", Kind: "SECTOR_NEWS"})

		coord := p.Coordinator("tenant-trig")
		deadline := time.Now().Add(time.Second)
		for {
			if rec := coord.State("MSFT", domain.DeptSector); rec.Pending {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("trigger was not applied")
			}
			time.Sleep(5 * time.Millisecond)
		}
		if rec := coord.State("MSFT", domain.DeptMacro); rec.Pending {
			t.Error("macro must not be marked by SECTOR_NEWS")
		}
	})

	t.Run("ScoreRequestReply", func(t *testing.T) {
		w := NewWorker(eventBus, newPipeline(t))
		if err := w.Start(Config{TenantIDs: []string{"tenant-req"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		payload, _ := json.Marshal(domain.SnapshotEvent{
			EntityID: "NVDA",
			Snapshot: domain.Snapshot{"vix_score": -6.0, "sector_score_daily": -4.0},
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		resp, err := eventBus.Request(ctx, "tenant-req", domain.TopicScoreRequest, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var reply ScoreReply
		if err := json.Unmarshal(resp, &reply); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if reply.Error != "" || reply.Result == nil {
			t.Fatalf("unexpected reply: %+v", reply)
		}
		if reply.Result.Direction != domain.DirectionShort {
			t.Errorf("direction = %s, want SHORT", reply.Result.Direction)
		}
	})

	t.Run("ScoreRequestReportsErrors", func(t *testing.T) {
		w := NewWorker(eventBus, newPipeline(t))
		if err := w.Start(Config{TenantIDs: []string{"tenant-bad"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		resp, err := eventBus.Request(ctx, "tenant-bad", domain.TopicScoreRequest, []byte(`{"snapshot":{}}`))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var reply ScoreReply
		if err := json.Unmarshal(resp, &reply); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if reply.Error == "" || reply.Result != nil {
			t.Errorf("expected error reply, got %+v", reply)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, newPipeline(t))
		if err := w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 6 {
			t.Errorf("expected 6 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}
