package data

import (
	"context"
	"database/sql"
	"errors"
)

// RetentionPolicy is the per-stream retention configuration used by the
// sweep. Multipliers scale RetentionDays per tier; the standard tier is
// always 1.0.
type RetentionPolicy struct {
	StreamName              string  `json:"stream_name"`
	RetentionDays           int     `json:"retention_days"`
	MaxStorageMB            int64   `json:"max_storage_mb"`
	TierCriticalMultiplier  float64 `json:"tier_critical_multiplier"`
	TierImportantMultiplier float64 `json:"tier_important_multiplier"`
	TierEphemeralMultiplier float64 `json:"tier_ephemeral_multiplier"`
	DefaultTier             Tier    `json:"default_tier"`
}

// DefaultRetentionPolicy returns the policy applied to streams with no
// persisted row.
func DefaultRetentionPolicy(streamName string) RetentionPolicy {
	return RetentionPolicy{
		StreamName:              streamName,
		RetentionDays:           30,
		MaxStorageMB:            0,
		TierCriticalMultiplier:  3.0,
		TierImportantMultiplier: 2.0,
		TierEphemeralMultiplier: 0.25,
		DefaultTier:             TierStandard,
	}
}

// Multiplier returns the retention multiplier for a tier.
func (p RetentionPolicy) Multiplier(t Tier) float64 {
	switch t {
	case TierCritical:
		return p.TierCriticalMultiplier
	case TierImportant:
		return p.TierImportantMultiplier
	case TierEphemeral:
		return p.TierEphemeralMultiplier
	default:
		return 1.0
	}
}

type RetentionModel struct {
	DB DBTX
}

func (m RetentionModel) GetPolicy(ctx context.Context, streamName string) (RetentionPolicy, error) {
	query := `
		SELECT stream_name, retention_days, max_storage_mb,
		       tier_critical_multiplier, tier_important_multiplier, tier_ephemeral_multiplier,
		       default_tier
		FROM retention_configs
		WHERE stream_name = ?`

	var p RetentionPolicy
	var tier string
	err := m.DB.QueryRowContext(ctx, query, streamName).Scan(
		&p.StreamName, &p.RetentionDays, &p.MaxStorageMB,
		&p.TierCriticalMultiplier, &p.TierImportantMultiplier, &p.TierEphemeralMultiplier,
		&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultRetentionPolicy(streamName), nil
	}
	if err != nil {
		return p, err
	}
	p.DefaultTier = Tier(tier)
	return p, nil
}

func (m RetentionModel) ListPolicies(ctx context.Context) ([]RetentionPolicy, error) {
	query := `
		SELECT stream_name, retention_days, max_storage_mb,
		       tier_critical_multiplier, tier_important_multiplier, tier_ephemeral_multiplier,
		       default_tier
		FROM retention_configs`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RetentionPolicy
	for rows.Next() {
		var p RetentionPolicy
		var tier string
		if err := rows.Scan(&p.StreamName, &p.RetentionDays, &p.MaxStorageMB,
			&p.TierCriticalMultiplier, &p.TierImportantMultiplier, &p.TierEphemeralMultiplier,
			&tier); err != nil {
			return nil, err
		}
		p.DefaultTier = Tier(tier)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (m RetentionModel) UpsertPolicy(ctx context.Context, p RetentionPolicy) error {
	if p.RetentionDays < 0 || p.MaxStorageMB < 0 {
		return errors.New("invalid retention parameters")
	}
	if !p.DefaultTier.Valid() {
		return errors.New("invalid default tier")
	}

	query := `
		INSERT INTO retention_configs (stream_name, retention_days, max_storage_mb,
			tier_critical_multiplier, tier_important_multiplier, tier_ephemeral_multiplier,
			default_tier, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(stream_name) DO UPDATE SET
			retention_days = excluded.retention_days,
			max_storage_mb = excluded.max_storage_mb,
			tier_critical_multiplier = excluded.tier_critical_multiplier,
			tier_important_multiplier = excluded.tier_important_multiplier,
			tier_ephemeral_multiplier = excluded.tier_ephemeral_multiplier,
			default_tier = excluded.default_tier,
			updated_at = CURRENT_TIMESTAMP`

	_, err := m.DB.ExecContext(ctx, query, p.StreamName, p.RetentionDays, p.MaxStorageMB,
		p.TierCriticalMultiplier, p.TierImportantMultiplier, p.TierEphemeralMultiplier,
		string(p.DefaultTier))
	return err
}
