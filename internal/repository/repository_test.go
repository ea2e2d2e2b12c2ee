package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fraudwatch/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:        "tx-001",
			UserID:    "user-001",
			Amount:    120.50,
			Location:  "NY",
			DeviceID:  "dev-1",
			Timestamp: time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.Location != tx.Location {
			t.Errorf("expected Location %s, got %s", tx.Location, retrieved.Location)
		}
	})

	t.Run("GetTransactionsByUser", func(t *testing.T) {
		tx2 := &domain.Transaction{
			ID:        "tx-002",
			UserID:    "user-001",
			Amount:    95.00,
			Location:  "NY",
			DeviceID:  "dev-1",
			Timestamp: time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveTransaction(ctx, tx2); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		since := time.Now().Add(-1 * time.Hour)
		transactions, err := repo.GetTransactionsByUser(ctx, "user-001", since)
		if err != nil {
			t.Fatalf("GetTransactionsByUser failed: %v", err)
		}

		if len(transactions) != 2 {
			t.Errorf("expected 2 transactions, got %d", len(transactions))
		}
	})

	t.Run("SaveAndGetDecision", func(t *testing.T) {
		decision := &domain.EnsembleDecision{
			ID:         "dec-001",
			TxID:       "tx-001",
			UserID:     "user-001",
			FraudScore: 0.1234,
			IsFraud:    false,
			Confidence: 0.8911,
			ModelScores: map[string]float64{
				domain.ModelIsolationForest: 0.1,
				domain.ModelXGBoost:         0.15,
				domain.ModelAutoencoder:     0.12,
			},
			ModelWeights: map[string]float64{
				domain.ModelIsolationForest: 0.35,
				domain.ModelXGBoost:         0.45,
				domain.ModelAutoencoder:     0.20,
			},
			Explanations: []domain.Explanation{
				{Feature: "amount", Impact: 0.45, Reason: "Amount within expected user profile"},
			},
			Timestamp: time.Now().UTC(),
		}
		features := domain.FeatureVector{120.5, 0.1, 1, 0, 0}

		if err := repo.SaveDecision(ctx, decision, features); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}

		retrieved, err := repo.GetDecision(ctx, decision.ID)
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}

		if retrieved.FraudScore != decision.FraudScore {
			t.Errorf("expected FraudScore %.4f, got %.4f", decision.FraudScore, retrieved.FraudScore)
		}
		if retrieved.ModelScores[domain.ModelXGBoost] != 0.15 {
			t.Errorf("expected persisted model score, got %v", retrieved.ModelScores)
		}
		if len(retrieved.Explanations) != 1 {
			t.Errorf("expected 1 explanation, got %d", len(retrieved.Explanations))
		}
	})

	t.Run("ModelInfoUpsert", func(t *testing.T) {
		info := &domain.ModelInfo{
			Name:      domain.ModelXGBoost,
			Version:   "1.0.0",
			TrainedAt: time.Now().UTC(),
			Status:    "active",
		}

		if err := repo.SaveModelInfo(ctx, info); err != nil {
			t.Fatalf("SaveModelInfo failed: %v", err)
		}

		info.Version = "1.1.0"
		if err := repo.SaveModelInfo(ctx, info); err != nil {
			t.Fatalf("SaveModelInfo upsert failed: %v", err)
		}

		retrieved, err := repo.GetModelInfo(ctx, domain.ModelXGBoost)
		if err != nil {
			t.Fatalf("GetModelInfo failed: %v", err)
		}
		if retrieved.Version != "1.1.0" {
			t.Errorf("expected upserted version 1.1.0, got %s", retrieved.Version)
		}

		all, err := repo.ListModelInfo(ctx)
		if err != nil {
			t.Fatalf("ListModelInfo failed: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("expected 1 registry entry after upsert, got %d", len(all))
		}
	})

	t.Run("PolicyRoundTrip", func(t *testing.T) {
		policy := &domain.PolicyConfig{
			ID:         "hard-amount-limit",
			Name:       "Hard amount limit",
			Version:    "1.0.0",
			Expression: "amount > 50000.0",
			Reason:     "Amount exceeds hard limit",
			Enabled:    true,
		}

		if err := repo.SavePolicy(ctx, policy); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		retrieved, err := repo.GetPolicy(ctx, policy.ID)
		if err != nil {
			t.Fatalf("GetPolicy failed: %v", err)
		}
		if retrieved.Expression != policy.Expression {
			t.Errorf("expected expression %q, got %q", policy.Expression, retrieved.Expression)
		}
		if !retrieved.Enabled {
			t.Error("expected policy enabled")
		}

		// Disable via upsert and confirm it stays listed.
		policy.Enabled = false
		if err := repo.SavePolicy(ctx, policy); err != nil {
			t.Fatalf("SavePolicy upsert failed: %v", err)
		}

		list, err := repo.ListPolicies(ctx)
		if err != nil {
			t.Fatalf("ListPolicies failed: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 policy, got %d", len(list))
		}
		if list[0].Enabled {
			t.Error("expected policy disabled after upsert")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetDecision(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetModelInfo(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
