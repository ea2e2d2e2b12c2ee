// Package worker provides async transaction scoring from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fraudwatch/kestrel/internal/domain"
	"github.com/fraudwatch/kestrel/internal/ensemble"
	"github.com/fraudwatch/kestrel/internal/features"
	"github.com/fraudwatch/kestrel/internal/policy"
	"github.com/fraudwatch/kestrel/internal/stats"
)

// velocityHardLimit mirrors the synchronous path: per-user
// transactions-per-minute ceiling enforced through the cache's
// windowed counter.
const velocityHardLimit = 5

// Worker scores transactions published to the submitted topic. It runs
// the same pipeline as the synchronous API path: derive features,
// predict, evaluate policies, persist, then publish the outcome.
type Worker struct {
	bus          domain.EventBus
	repo         domain.Repository
	cache        domain.Cache
	engine       *features.Engine
	orchestrator *ensemble.Orchestrator
	policies     *policy.Engine
	recorder     *stats.Recorder

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async scoring worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, engine *features.Engine, orchestrator *ensemble.Orchestrator, policies *policy.Engine, recorder *stats.Recorder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		repo:         repo,
		cache:        cache,
		engine:       engine,
		orchestrator: orchestrator,
		policies:     policies,
		recorder:     recorder,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribes to the submitted-transaction topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("scoring worker started",
		"topic", domain.TopicTransactionSubmitted,
	)

	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processTransaction(ctx, msg)
}

// ScoredEvent is the payload published after a transaction is scored.
type ScoredEvent struct {
	Decision    *domain.EnsembleDecision `json:"decision"`
	PolicyFlags []domain.PolicyFlag      `json:"policyFlags,omitempty"`
}

// processTransaction runs the scoring pipeline for one submitted
// transaction.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.ScoreRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := req.Validate(); err != nil {
		slog.Warn("rejected submitted transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx := req.ToTransaction(uuid.New().String())

	// 1. Derive features; this also commits the transaction to the
	// user's history.
	feats := w.engine.Derive(tx.UserID, tx.Amount, tx.Location, tx.DeviceID, tx.Timestamp)

	// 2. Score through the ensemble.
	decision := w.orchestrator.Predict(feats, tx.Location, tx.DeviceID)
	decision.TxID = tx.ID
	decision.UserID = tx.UserID

	// 3. Policy overlay.
	var flags []domain.PolicyFlag
	if w.policies != nil {
		flags = w.policies.Evaluate(&policy.Input{
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

	if w.cache != nil {
		count, err := w.cache.IncrementCounter(ctx, "rate:user:"+tx.UserID, time.Minute)
		if err == nil && count > velocityHardLimit {
			flags = append(flags, domain.PolicyFlag{
				PolicyID: "velocity-hard-limit",
				Name:     "Velocity Hard Limit",
				Reason:   fmt.Sprintf("more than %d transactions in the last minute", velocityHardLimit),
			})
		}
	}

	// 4. Persist.
	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
		if err := w.repo.SaveDecision(ctx, decision, feats); err != nil {
			slog.Error("failed to save decision",
				"decision_id", decision.ID,
				"error", err,
			)
		}
	}
	if w.cache != nil {
		if err := w.cache.SetDecision(ctx, decision, 5*time.Minute); err != nil {
			slog.Warn("failed to cache decision",
				"decision_id", decision.ID,
				"error", err,
			)
		}
	}

	if w.recorder != nil {
		w.recorder.Record(decision.FraudScore, decision.IsFraud, decision.Timestamp)
	}

	// 5. Publish outcome.
	event := ScoredEvent{Decision: decision, PolicyFlags: flags}
	payload, _ := json.Marshal(event)
	if err := w.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		slog.Error("failed to publish scored event",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	// 6. Alerts fan out to their own topic.
	if decision.IsFraud || len(flags) > 0 {
		if err := w.bus.Publish(ctx, domain.TopicFraudAlert, payload); err != nil {
			slog.Error("failed to publish fraud alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction scored",
		"tx_id", tx.ID,
		"user_id", tx.UserID,
		"fraud_score", decision.FraudScore,
		"is_fraud", decision.IsFraud,
		"policy_flags", len(flags),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("scoring worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
