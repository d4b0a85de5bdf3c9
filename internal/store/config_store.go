package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"matching-workers/internal/common/database"
	"matching-workers/internal/matching"
)

const uniqueViolation = "23505"

// ConfigStore keeps every weight config version; the highest version of a
// tenant is active. Tenants without rows use the defaults as version 1.
type ConfigStore struct {
	db       *sql.DB
	defaults matching.WeightConfig
	now      matching.Clock
}

func NewConfigStore(db *sql.DB, defaults matching.WeightConfig, now matching.Clock) *ConfigStore {
	if defaults.Version == 0 {
		defaults.Version = 1
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ConfigStore{db: db, defaults: defaults.Clone(), now: now}
}

var _ matching.ConfigProvider = (*ConfigStore)(nil)

const latestConfigQuery = `
	SELECT version, weights, broker_approval, min_score, hot_threshold, max_distance_km, updated_at, updated_by
	FROM weight_configs WHERE tenant_id = $1 ORDER BY version DESC LIMIT 1`

func (s *ConfigStore) Current(ctx context.Context, tenantID string) (matching.WeightConfig, error) {
	return s.latest(s.db.QueryRowContext(ctx, latestConfigQuery, tenantID), tenantID)
}

// Replace inserts the successor version. Two concurrent replacements from the
// same base collide on the (tenant_id, version) key and the loser gets
// ErrConfigVersionMismatch.
func (s *ConfigStore) Replace(ctx context.Context, tenantID string, next matching.WeightConfig) (matching.WeightConfig, error) {
	var out matching.WeightConfig
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		active, err := s.latest(tx.QueryRowContext(ctx, latestConfigQuery, tenantID), tenantID)
		if err != nil {
			return err
		}
		prepared, err := matching.PrepareReplacement(active, next, tenantID, s.now())
		if err != nil {
			return err
		}
		weights, err := json.Marshal(prepared.Weights)
		if err != nil {
			return fmt.Errorf("encode weights: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO weight_configs
				(tenant_id, version, weights, broker_approval, min_score, hot_threshold, max_distance_km, updated_at, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			tenantID, prepared.Version, weights, prepared.BrokerApproval, prepared.MinScore,
			prepared.HotThreshold, prepared.MaxDistanceKm, prepared.UpdatedAt, prepared.UpdatedBy)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: version %d was written concurrently", matching.ErrConfigVersionMismatch, prepared.Version)
		}
		if err != nil {
			return fmt.Errorf("insert weight config: %w", err)
		}
		out = prepared
		return nil
	})
	if err != nil {
		return matching.WeightConfig{}, err
	}
	return out, nil
}

func (s *ConfigStore) latest(row *sql.Row, tenantID string) (matching.WeightConfig, error) {
	var (
		cfg       matching.WeightConfig
		weights   []byte
		updatedBy sql.NullString
	)
	err := row.Scan(&cfg.Version, &weights, &cfg.BrokerApproval, &cfg.MinScore, &cfg.HotThreshold,
		&cfg.MaxDistanceKm, &cfg.UpdatedAt, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		def := s.defaults.Clone()
		def.TenantID = tenantID
		return def, nil
	}
	if err != nil {
		return matching.WeightConfig{}, fmt.Errorf("load weight config: %w", err)
	}
	if err := json.Unmarshal(weights, &cfg.Weights); err != nil {
		return matching.WeightConfig{}, fmt.Errorf("decode weights: %w", err)
	}
	cfg.TenantID = tenantID
	cfg.UpdatedBy = updatedBy.String
	return cfg, nil
}
