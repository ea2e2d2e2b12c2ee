// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fraudwatch/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, user_id, amount, location, device_id, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Amount, tx.Location, tx.DeviceID,
		tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, amount, location, device_id, timestamp, created_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Location, &tx.DeviceID,
		&tx.Timestamp, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// GetTransactionsByUser retrieves a user's transactions since a cutoff,
// newest first.
func (r *SQLRepository) GetTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]*domain.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, amount, location, device_id, timestamp, created_at
		FROM transactions
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Amount, &tx.Location, &tx.DeviceID,
			&tx.Timestamp, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveDecision stores an ensemble decision together with the feature
// vector it was scored on.
func (r *SQLRepository) SaveDecision(ctx context.Context, decision *domain.EnsembleDecision, features domain.FeatureVector) error {
	if decision == nil || decision.ID == "" {
		return fmt.Errorf("%w: decision id is required", domain.ErrInvalidInput)
	}

	modelScores, _ := json.Marshal(decision.ModelScores)
	modelWeights, _ := json.Marshal(decision.ModelWeights)
	explanations, _ := json.Marshal(decision.Explanations)
	featuresJSON, _ := json.Marshal(features)

	isFraud := 0
	if decision.IsFraud {
		isFraud = 1
	}

	query := `
		INSERT INTO decisions (
			id, tx_id, user_id, fraud_score, is_fraud, confidence,
			model_scores, model_weights, explanations, features, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		decision.ID, decision.TxID, decision.UserID,
		decision.FraudScore, isFraud, decision.Confidence,
		string(modelScores), string(modelWeights), string(explanations),
		string(featuresJSON), decision.Timestamp,
	)
	return err
}

// GetDecision retrieves an ensemble decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, decisionID string) (*domain.EnsembleDecision, error) {
	query := `
		SELECT id, tx_id, user_id, fraud_score, is_fraud, confidence,
			   model_scores, model_weights, explanations, timestamp
		FROM decisions
		WHERE id = ?
	`

	var d domain.EnsembleDecision
	var modelScores, modelWeights, explanations string
	var isFraud int

	err := r.db.QueryRowContext(ctx, r.rebind(query), decisionID).Scan(
		&d.ID, &d.TxID, &d.UserID,
		&d.FraudScore, &isFraud, &d.Confidence,
		&modelScores, &modelWeights, &explanations,
		&d.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.IsFraud = isFraud == 1
	json.Unmarshal([]byte(modelScores), &d.ModelScores)
	json.Unmarshal([]byte(modelWeights), &d.ModelWeights)
	json.Unmarshal([]byte(explanations), &d.Explanations)

	return &d, nil
}

// SaveModelInfo upserts a model registry entry.
func (r *SQLRepository) SaveModelInfo(ctx context.Context, info *domain.ModelInfo) error {
	if info == nil || info.Name == "" {
		return fmt.Errorf("%w: model name is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO models (name, version, trained_at, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			trained_at = excluded.trained_at,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		info.Name, info.Version, info.TrainedAt, info.Status, now,
	)
	return err
}

// GetModelInfo retrieves a model registry entry by name.
func (r *SQLRepository) GetModelInfo(ctx context.Context, name string) (*domain.ModelInfo, error) {
	query := `
		SELECT name, version, trained_at, status
		FROM models
		WHERE name = ?
	`

	var info domain.ModelInfo

	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(
		&info.Name, &info.Version, &info.TrainedAt, &info.Status,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &info, nil
}

// ListModelInfo retrieves all model registry entries ordered by name.
func (r *SQLRepository) ListModelInfo(ctx context.Context) ([]*domain.ModelInfo, error) {
	query := `
		SELECT name, version, trained_at, status
		FROM models
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []*domain.ModelInfo
	for rows.Next() {
		var info domain.ModelInfo
		if err := rows.Scan(&info.Name, &info.Version, &info.TrainedAt, &info.Status); err != nil {
			return nil, err
		}
		infos = append(infos, &info)
	}

	return infos, rows.Err()
}

// SavePolicy upserts a policy configuration.
func (r *SQLRepository) SavePolicy(ctx context.Context, policy *domain.PolicyConfig) error {
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("%w: policy id is required", domain.ErrInvalidInput)
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policies (
			id, name, description, version, expression, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, policy.Name, policy.Description, policy.Version,
		policy.Expression, policy.Reason, enabled,
		now, now,
	)
	return err
}

// GetPolicy retrieves a policy configuration by ID.
func (r *SQLRepository) GetPolicy(ctx context.Context, policyID string) (*domain.PolicyConfig, error) {
	query := `
		SELECT id, name, description, version, expression, reason, enabled
		FROM policies
		WHERE id = ?
	`

	var cfg domain.PolicyConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), policyID).Scan(
		&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Version,
		&cfg.Expression, &cfg.Reason, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListPolicies retrieves all policy configurations ordered by name.
// Disabled policies are included so operators can re-enable them.
func (r *SQLRepository) ListPolicies(ctx context.Context) ([]*domain.PolicyConfig, error) {
	query := `
		SELECT id, name, description, version, expression, reason, enabled
		FROM policies
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.PolicyConfig
	for rows.Next() {
		var cfg domain.PolicyConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Version,
			&cfg.Expression, &cfg.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
