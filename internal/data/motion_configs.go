package data

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opensensor/lightNVR-sub006/internal/recording"
)

// MotionConfigModel persists per-stream motion recording configuration.
// It satisfies recording.ConfigStore.
type MotionConfigModel struct {
	DB DBTX
}

func (m MotionConfigModel) LoadAll(ctx context.Context) (map[string]recording.StreamConfig, error) {
	query := `
		SELECT stream_name, enabled, pre_buffer_seconds, post_buffer_seconds, max_file_duration
		FROM motion_configs`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]recording.StreamConfig)
	for rows.Next() {
		var name string
		var cfg recording.StreamConfig
		if err := rows.Scan(&name, &cfg.Enabled, &cfg.PreBufferSeconds,
			&cfg.PostBufferSeconds, &cfg.MaxFileDuration); err != nil {
			return nil, err
		}
		out[name] = cfg
	}
	return out, rows.Err()
}

func (m MotionConfigModel) Load(ctx context.Context, streamName string) (recording.StreamConfig, error) {
	query := `
		SELECT enabled, pre_buffer_seconds, post_buffer_seconds, max_file_duration
		FROM motion_configs
		WHERE stream_name = ?`

	var cfg recording.StreamConfig
	err := m.DB.QueryRowContext(ctx, query, streamName).Scan(
		&cfg.Enabled, &cfg.PreBufferSeconds, &cfg.PostBufferSeconds, &cfg.MaxFileDuration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cfg, ErrRecordNotFound
		}
		return cfg, err
	}
	return cfg, nil
}

func (m MotionConfigModel) Save(ctx context.Context, streamName string, cfg recording.StreamConfig) error {
	query := `
		INSERT INTO motion_configs (stream_name, enabled, pre_buffer_seconds, post_buffer_seconds, max_file_duration, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(stream_name) DO UPDATE SET
			enabled = excluded.enabled,
			pre_buffer_seconds = excluded.pre_buffer_seconds,
			post_buffer_seconds = excluded.post_buffer_seconds,
			max_file_duration = excluded.max_file_duration,
			updated_at = CURRENT_TIMESTAMP`

	_, err := m.DB.ExecContext(ctx, query,
		streamName, cfg.Enabled, cfg.PreBufferSeconds, cfg.PostBufferSeconds, cfg.MaxFileDuration)
	return err
}
