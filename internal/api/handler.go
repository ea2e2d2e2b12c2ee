package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fraudwatch/kestrel/internal/domain"
	"github.com/fraudwatch/kestrel/internal/ensemble"
	"github.com/fraudwatch/kestrel/internal/features"
	"github.com/fraudwatch/kestrel/internal/policy"
	"github.com/fraudwatch/kestrel/internal/registry"
	"github.com/fraudwatch/kestrel/internal/stats"
	"github.com/fraudwatch/kestrel/internal/worker"
)

// decisionCacheTTL bounds read-through caching of served decisions.
const decisionCacheTTL = 5 * time.Minute

// velocityHardLimit is the per-user transactions-per-minute ceiling
// enforced through the cache's windowed counter. Unlike the tx_freq
// feature this count is shared across instances.
const velocityHardLimit = 5

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	engine       *features.Engine
	orchestrator *ensemble.Orchestrator
	policies     *policy.Engine
	registry     *registry.Registry
	recorder     *stats.Recorder
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *features.Engine, orchestrator *ensemble.Orchestrator, policies *policy.Engine, reg *registry.Registry, recorder *stats.Recorder, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		engine:       engine,
		orchestrator: orchestrator,
		policies:     policies,
		registry:     reg,
		recorder:     recorder,
		version:      version,
	}
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	Decision    *domain.EnsembleDecision `json:"decision"`
	PolicyFlags []domain.PolicyFlag      `json:"policyFlags,omitempty"`
	Metadata    struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Score handles POST /score requests: the synchronous scoring path.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	tx := req.ToTransaction(uuid.New().String())

	// Derive features; this commits the transaction to the user's
	// history, so it happens exactly once per request.
	feats := h.engine.Derive(tx.UserID, tx.Amount, tx.Location, tx.DeviceID, tx.Timestamp)

	decision := h.orchestrator.Predict(feats, tx.Location, tx.DeviceID)
	decision.TxID = tx.ID
	decision.UserID = tx.UserID

	var flags []domain.PolicyFlag
	if h.policies != nil {
		flags = h.policies.Evaluate(&policy.Input{
			Amount:        feats[domain.FeatAmount],
			AmountZ:       feats[domain.FeatAmountZ],
			TxFreq:        feats[domain.FeatTxFreq],
			GeoDelta:      feats[domain.FeatGeoDelta],
			DeviceEntropy: feats[domain.FeatDeviceEntropy],
			FraudScore:    decision.FraudScore,
			Location:      tx.Location,
			DeviceID:      tx.DeviceID,
		})
	}

	if h.cache != nil {
		count, err := h.cache.IncrementCounter(ctx, "rate:user:"+tx.UserID, time.Minute)
		if err == nil && count > velocityHardLimit {
			flags = append(flags, domain.PolicyFlag{
				PolicyID: "velocity-hard-limit",
				Name:     "Velocity Hard Limit",
				Reason:   fmt.Sprintf("more than %d transactions in the last minute", velocityHardLimit),
			})
		}
	}

	// Persistence failures do not block the scoring response.
	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
		if err := h.repo.SaveDecision(ctx, decision, feats); err != nil {
			slog.Error("failed to save decision", "decision_id", decision.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetDecision(ctx, decision, decisionCacheTTL); err != nil {
			slog.Warn("failed to cache decision", "decision_id", decision.ID, "error", err)
		}
	}

	if h.recorder != nil {
		h.recorder.Record(decision.FraudScore, decision.IsFraud, decision.Timestamp)
	}

	if h.bus != nil {
		event := worker.ScoredEvent{Decision: decision, PolicyFlags: flags}
		payload, _ := json.Marshal(event)
		if err := h.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
			slog.Error("failed to publish scored event", "tx_id", tx.ID, "error", err)
		}
		if decision.IsFraud || len(flags) > 0 {
			if err := h.bus.Publish(ctx, domain.TopicFraudAlert, payload); err != nil {
				slog.Error("failed to publish fraud alert", "tx_id", tx.ID, "error", err)
			}
		}
	}

	resp := ScoreResponse{
		Decision:    decision,
		PolicyFlags: flags,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetDecision retrieves a decision by ID, cache first.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decisionID := chi.URLParam(r, "id")

	if decisionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision id is required",
		})
		return
	}

	if h.cache != nil {
		if d, err := h.cache.GetDecision(ctx, decisionID); err == nil && d != nil {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	d, err := h.repo.GetDecision(ctx, decisionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get decision", "id", decisionID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	// Repopulate cache for subsequent reads.
	if h.cache != nil {
		_ = h.cache.SetDecision(ctx, d, decisionCacheTTL)
	}

	writeJSON(w, http.StatusOK, d)
}

// GetUserProfile returns the behavioral summary for a user.
func (h *Handler) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	profile := h.engine.Profile(userID)
	if profile.TxCount == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no observed history for user",
		})
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// ListModels returns the model registry entries.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models := h.registry.All()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

// RetrainModels retrains every trainable scorer and refreshes the
// registry entries.
func (h *Handler) RetrainModels(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := h.orchestrator.TrainAll(r.Context()); err != nil {
		slog.Error("retrain failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "retrain failed: " + err.Error(),
		})
		return
	}

	slog.Info("models retrained", "duration_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "models retrained",
		"models":     h.registry.All(),
		"durationMs": time.Since(start).Milliseconds(),
	})
}

// ListPolicies returns the policies currently loaded in the engine.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loaded := h.policies.LoadedPolicies()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// CreatePolicyRequest is the request body for creating a policy.
type CreatePolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Reason      string `json:"reason"`
	Enabled     bool   `json:"enabled"`
}

// CreatePolicy creates a new policy and saves it to the database.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	cfg := &domain.PolicyConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Compiling doubles as validation.
	if err := h.policies.LoadPolicy(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePolicy(ctx, cfg); err != nil {
			slog.Error("failed to save policy", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy",
			})
			return
		}
	}

	slog.Info("policy created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  cfg,
		"message": "Policy created and loaded.",
	})
}

// ReloadPolicies reloads all policies from the database into the engine.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbPolicies, err := h.repo.ListPolicies(ctx)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policies.ReloadPolicies(dbPolicies); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", h.policies.PolicyCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   h.policies.PolicyCount(),
	})
}

// GetStats returns operational statistics over recent scoring activity.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recent":  h.recorder.Summarize(),
		"users":   h.engine.UserCount(),
		"version": h.version,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
