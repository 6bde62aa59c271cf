package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/expr"
	"github.com/opensource-finance/heron/internal/master"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
)

const (
	maxBodyBytes = 10 << 20
	maxBatchSize = 10000
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	registry *rules.Registry
	sink     pipeline.Sink
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		pipeline: deps.Pipeline,
		registry: deps.Registry,
		sink:     pipeline.Sink{Bus: deps.Bus},
		version:  deps.Version,
	}
}

// ScoreRequest is the request body for POST /v1/score.
type ScoreRequest struct {
	EntityID string          `json:"entity_id"`
	Snapshot domain.Snapshot `json:"snapshot"`
	Triggers []string        `json:"triggers,omitempty"`
}

// ScoreResponse is the response for POST /v1/score.
type ScoreResponse struct {
	Result  *domain.MasterScoreResult `json:"result"`
	Signal  bool                      `json:"signal"`
	Reasons []string                  `json:"reasons,omitempty"`
}

// Score handles POST /v1/score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_id is required")
		return
	}

	result, err := h.pipeline.ScoreEntity(ctx, pipeline.Request{
		TenantID: tenantID,
		EntityID: req.EntityID,
		TraceID:  GetTraceID(ctx),
		Snapshot: req.Snapshot,
		Triggers: req.Triggers,
	})
	if err != nil {
		slog.Error("scoring failed", "entity_id", req.EntityID, "error", err)
		writeError(w, http.StatusInternalServerError, "scoring failed")
		return
	}

	h.sink.Record(ctx, tenantID, result)

	writeJSON(w, http.StatusOK, ScoreResponse{
		Result:  result,
		Signal:  master.IsSignal(result),
		Reasons: master.Reasons(result),
	})
}

// BatchRequest is the request body for POST /v1/score/batch.
type BatchRequest struct {
	Entities     []ScoreRequest `json:"entities"`
	AdvanceCycle bool           `json:"advance_cycle"`

	// MinAbsScore overrides the configured ranking filter.
	MinAbsScore *float64 `json:"min_abs_score,omitempty"`
}

// BatchResponse is the response for POST /v1/score/batch.
type BatchResponse struct {
	Results []*domain.MasterScoreResult `json:"results"`
	Ranked  []*domain.MasterScoreResult `json:"ranked"`
	Count   int                         `json:"count"`
	Signals int                         `json:"signals"`
	Cycle   uint64                      `json:"cycle"`
	TotalMs int64                       `json:"total_ms"`
}

// ScoreBatch scores a universe of entities and ranks the results.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Entities) == 0 {
		writeError(w, http.StatusBadRequest, "entities are required")
		return
	}
	if len(req.Entities) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "too many entities in batch")
		return
	}

	traceID := GetTraceID(ctx)
	reqs := make([]pipeline.Request, len(req.Entities))
	seen := make(map[string]bool, len(req.Entities))
	for i, e := range req.Entities {
		if e.EntityID == "" {
			writeError(w, http.StatusBadRequest, "entity_id is required for every entity")
			return
		}
		if seen[e.EntityID] {
			writeError(w, http.StatusBadRequest, "duplicate entity_id "+e.EntityID)
			return
		}
		seen[e.EntityID] = true
		reqs[i] = pipeline.Request{
			EntityID: e.EntityID,
			TraceID:  traceID,
			Snapshot: e.Snapshot,
			Triggers: e.Triggers,
		}
	}

	results, err := h.pipeline.ScoreUniverse(ctx, tenantID, reqs, req.AdvanceCycle)
	if err != nil {
		slog.Error("batch scoring failed", "entities", len(reqs), "error", err)
		writeError(w, http.StatusInternalServerError, "batch scoring failed")
		return
	}

	h.sink.Record(ctx, tenantID, results...)

	minAbs := h.pipeline.Engine().MinAbsScore
	if req.MinAbsScore != nil {
		minAbs = *req.MinAbsScore
	}
	ranked := master.Rank(results, minAbs)

	signals := 0
	for _, res := range results {
		if master.IsSignal(res) {
			signals++
		}
	}

	resp := BatchResponse{
		Results: results,
		Ranked:  ranked,
		Count:   len(results),
		Signals: signals,
		TotalMs: time.Since(start).Milliseconds(),
	}
	if !h.pipeline.Stateless() {
		resp.Cycle = h.pipeline.Coordinator(tenantID).Cycle()
	}
	writeJSON(w, http.StatusOK, resp)
}

// RankRequest is the request body for POST /v1/rank.
type RankRequest struct {
	Results     []*domain.MasterScoreResult `json:"results"`
	MinAbsScore *float64                    `json:"min_abs_score,omitempty"`
}

// Rank orders previously computed results by conviction.
func (h *Handler) Rank(w http.ResponseWriter, r *http.Request) {
	var req RankRequest
	if !decodeBody(w, r, &req) {
		return
	}

	minAbs := h.pipeline.Engine().MinAbsScore
	if req.MinAbsScore != nil {
		minAbs = *req.MinAbsScore
	}
	ranked := master.Rank(req.Results, minAbs)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ranked": ranked,
		"count":  len(ranked),
	})
}

// TriggerRequest is the request body for POST /v1/triggers.
type TriggerRequest struct {
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
}

// Trigger records a refresh event and reports the departments marked due.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	var req TriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EntityID == "" || req.Kind == "" {
		writeError(w, http.StatusBadRequest, "entity_id and kind are required")
		return
	}
	if h.pipeline.Stateless() {
		writeError(w, http.StatusConflict, "refresh coordination is disabled")
		return
	}

	departments := h.pipeline.Trigger(tenantID, req.EntityID, req.Kind)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity_id":   req.EntityID,
		"kind":        req.Kind,
		"departments": departments,
		"ignored":     len(departments) == 0,
	})
}

// AdvanceCycle crosses the tenant's cycle boundary.
func (h *Handler) AdvanceCycle(w http.ResponseWriter, r *http.Request) {
	if h.pipeline.Stateless() {
		writeError(w, http.StatusConflict, "refresh coordination is disabled")
		return
	}
	cycle := h.pipeline.Coordinator(GetTenantID(r.Context())).AdvanceCycle()
	writeJSON(w, http.StatusOK, map[string]uint64{"cycle": cycle})
}

// EntityDepartments returns the refresh state of every department of an entity.
func (h *Handler) EntityDepartments(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	entityID := chi.URLParam(r, "entityID")

	coord := h.pipeline.Coordinator(tenantID)
	if len(coord.Current(entityID)) == 0 {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity_id":   entityID,
		"cycle":       coord.Cycle(),
		"departments": coord.States(entityID),
	})
}

// EvaluateRequest is the request body for POST /v1/evaluate.
type EvaluateRequest struct {
	Condition string         `json:"condition"`
	Variables map[string]any `json:"variables"`
	Language  string         `json:"language,omitempty"`
}

// EvaluateResponse reports a condition outcome. Error is set when the
// condition could not be parsed or evaluated; such conditions never match.
type EvaluateResponse struct {
	Matched     bool     `json:"matched"`
	Error       string   `json:"error,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
}

// Evaluate evaluates a single condition against variables.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Condition == "" {
		writeError(w, http.StatusBadRequest, "condition is required")
		return
	}
	switch req.Language {
	case "", expr.LangNative, expr.LangCEL:
	default:
		writeError(w, http.StatusBadRequest, "unknown condition language "+req.Language)
		return
	}

	var resp EvaluateResponse
	cond, err := expr.CompileLanguage(req.Language, req.Condition)
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Identifiers = cond.Identifiers()
	matched, err := cond.Eval(req.Variables)
	if err != nil {
		resp.Error = err.Error()
	}
	resp.Matched = err == nil && matched
	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"version":     h.version,
		"tables":      h.registry.Count(),
		"departments": h.pipeline.Departments().Names(),
	})
}

// Ready reports whether every rule table used by a department is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	var missing []string
	for _, name := range h.pipeline.Departments().Tables() {
		if _, ok := h.registry.Get(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":   false,
			"missing": missing,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready": true,
	})
}

// ============================================================================
// RULE TABLE HANDLERS
// ============================================================================

// TableSummary describes a loaded rule table.
type TableSummary struct {
	Name       string     `json:"name"`
	Version    string     `json:"version,omitempty"`
	Scale      [2]float64 `json:"scale"`
	Metrics    int        `json:"metrics"`
	Timeframes []string   `json:"timeframes"`
	Fields     []string   `json:"fields"`
	RefreshOn  []string   `json:"refresh_on,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	Document   string     `json:"document,omitempty"`
}

func summarize(ct *rules.CompiledTable) TableSummary {
	return TableSummary{
		Name:       ct.Name,
		Version:    ct.Version,
		Scale:      [2]float64{ct.Scale.Min, ct.Scale.Max},
		Metrics:    len(ct.Metrics),
		Timeframes: ct.Timeframes,
		Fields:     ct.Fields,
		RefreshOn:  ct.RefreshOn,
		Warnings:   ct.Warnings,
	}
}

// ListTables returns the rule tables currently loaded.
// Tables are loaded from the database at startup and can be reloaded via
// POST /v1/tables/reload.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	tables := make([]TableSummary, 0, len(names))
	for _, name := range names {
		if ct, ok := h.registry.Get(name); ok {
			tables = append(tables, summarize(ct))
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tables": tables,
		"count":  len(tables),
	})
}

// GetTable returns a loaded table with its stored document when available.
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ct, ok := h.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "rule table not found")
		return
	}
	summary := summarize(ct)

	if h.repo != nil {
		stored, err := h.repo.GetRuleTable(r.Context(), rules.GlobalTenantID, name)
		switch {
		case err == nil:
			summary.Document = string(stored.Document)
		case !errors.Is(err, repository.ErrNotFound):
			slog.Warn("failed to load stored rule table", "name", name, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

// CreateTableRequest is the request body for POST /v1/tables.
type CreateTableRequest struct {
	Name     string `json:"name"`
	Format   string `json:"format"`
	Document string `json:"document"`
}

// CreateTable validates a rule table document and stores it globally
// (tenant_id = "*"). Call POST /v1/tables/reload to apply it.
func (h *Handler) CreateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Document == "" {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}
	if req.Format == "" {
		req.Format = rules.FormatYAML
	}
	if req.Format != rules.FormatYAML && req.Format != rules.FormatJSON {
		writeError(w, http.StatusBadRequest, "format must be yaml or json")
		return
	}

	table, err := rules.Parse([]byte(req.Document), req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule table: "+err.Error())
		return
	}
	if req.Name != "" {
		table.Name = req.Name
	}
	if table.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ct, err := h.registry.Validate(table)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule table: "+err.Error())
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	stored := &domain.StoredRuleTable{
		Name:     table.Name,
		Version:  table.Version,
		Format:   req.Format,
		Document: []byte(req.Document),
	}
	if err := h.repo.SaveRuleTable(ctx, rules.GlobalTenantID, stored); err != nil {
		slog.Error("failed to save rule table", "name", table.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule table")
		return
	}

	slog.Info("rule table stored", "name", stored.Name, "version", stored.Version)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"table":   summarize(ct),
		"message": "Rule table stored. Call POST /v1/tables/reload to apply changes.",
	})
}

// DeleteTable disables a stored rule table. Tables used by a department
// cannot be deleted.
func (h *Handler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	for _, used := range h.pipeline.Departments().Tables() {
		if used == name {
			writeError(w, http.StatusConflict, "rule table is used by a department")
			return
		}
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	err := h.repo.DeleteRuleTable(r.Context(), rules.GlobalTenantID, name)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule table not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete rule table", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule table")
		return
	}

	slog.Info("rule table deleted", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadTables replaces the loaded tables with the stored ones in one step.
// On any error the tables in use are kept.
func (h *Handler) ReloadTables(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	names, err := rules.Sync(r.Context(), h.repo, h.registry, h.pipeline.Departments().Tables())
	if err != nil {
		slog.Error("failed to reload rule tables", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rule tables: "+err.Error())
		return
	}

	slog.Info("rule tables reloaded from database", "count", len(names))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rule tables reloaded successfully",
		"tables":  names,
		"count":   len(names),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
