package data

import (
	"context"
	"database/sql"
	"time"
)

// Tier classifies a recording's importance for retention purposes.
type Tier string

const (
	TierCritical  Tier = "critical"
	TierImportant Tier = "important"
	TierStandard  Tier = "standard"
	TierEphemeral Tier = "ephemeral"
)

func (t Tier) Valid() bool {
	switch t {
	case TierCritical, TierImportant, TierStandard, TierEphemeral:
		return true
	}
	return false
}

// Recording is persisted metadata for one on-disk recording file.
type Recording struct {
	ID         string     `json:"id"`
	StreamName string     `json:"stream_name"`
	FilePath   string     `json:"file_path"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	SizeBytes  int64      `json:"size_bytes"`
	Complete   bool       `json:"complete"`
	Tier       Tier       `json:"tier"`
	CreatedAt  time.Time  `json:"created_at"`
}

type RecordingModel struct {
	DB DBTX
}

// Insert creates a new, not-yet-finalized recording row.
func (m RecordingModel) Insert(ctx context.Context, r *Recording) error {
	query := `
		INSERT INTO recordings (id, stream_name, file_path, start_time, size_bytes, complete, tier)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := m.DB.ExecContext(ctx, query,
		r.ID, r.StreamName, r.FilePath, r.StartTime.UTC(), r.SizeBytes, r.Complete, string(r.Tier))
	return err
}

// Finalize marks a recording complete with its end time and final size.
func (m RecordingModel) Finalize(ctx context.Context, id string, endTime time.Time, sizeBytes int64) error {
	query := `
		UPDATE recordings
		SET end_time = ?, size_bytes = ?, complete = 1
		WHERE id = ? AND deleted_at IS NULL`

	res, err := m.DB.ExecContext(ctx, query, endTime.UTC(), sizeBytes, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkDeleted soft-deletes a recording row.
func (m RecordingModel) MarkDeleted(ctx context.Context, id string) error {
	query := `UPDATE recordings SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`
	res, err := m.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m RecordingModel) GetByID(ctx context.Context, id string) (*Recording, error) {
	query := `
		SELECT id, stream_name, file_path, start_time, end_time, size_bytes, complete, tier, created_at
		FROM recordings
		WHERE id = ? AND deleted_at IS NULL`

	return m.scanOne(m.DB.QueryRowContext(ctx, query, id))
}

// ListExpired returns completed recordings for one stream and tier whose end
// time is older than cutoff, oldest first.
func (m RecordingModel) ListExpired(ctx context.Context, streamName string, tier Tier, cutoff time.Time) ([]*Recording, error) {
	query := `
		SELECT id, stream_name, file_path, start_time, end_time, size_bytes, complete, tier, created_at
		FROM recordings
		WHERE stream_name = ? AND tier = ? AND complete = 1 AND deleted_at IS NULL AND end_time < ?
		ORDER BY end_time ASC`

	rows, err := m.DB.QueryContext(ctx, query, streamName, string(tier), cutoff.UTC())
	if err != nil {
		return nil, err
	}
	return m.scanAll(rows)
}

// ListByTierOldest returns completed recordings of a tier across all
// streams, oldest first.
func (m RecordingModel) ListByTierOldest(ctx context.Context, tier Tier, limit int) ([]*Recording, error) {
	query := `
		SELECT id, stream_name, file_path, start_time, end_time, size_bytes, complete, tier, created_at
		FROM recordings
		WHERE tier = ? AND complete = 1 AND deleted_at IS NULL
		ORDER BY end_time ASC
		LIMIT ?`

	rows, err := m.DB.QueryContext(ctx, query, string(tier), limit)
	if err != nil {
		return nil, err
	}
	return m.scanAll(rows)
}

// ListOldestForStream returns a stream's completed recordings, oldest first.
func (m RecordingModel) ListOldestForStream(ctx context.Context, streamName string, limit int) ([]*Recording, error) {
	query := `
		SELECT id, stream_name, file_path, start_time, end_time, size_bytes, complete, tier, created_at
		FROM recordings
		WHERE stream_name = ? AND complete = 1 AND deleted_at IS NULL
		ORDER BY end_time ASC
		LIMIT ?`

	rows, err := m.DB.QueryContext(ctx, query, streamName, limit)
	if err != nil {
		return nil, err
	}
	return m.scanAll(rows)
}

// ListCompleted returns completed, not-deleted recordings for the orphan
// reconciliation pass.
func (m RecordingModel) ListCompleted(ctx context.Context, limit int) ([]*Recording, error) {
	query := `
		SELECT id, stream_name, file_path, start_time, end_time, size_bytes, complete, tier, created_at
		FROM recordings
		WHERE complete = 1 AND deleted_at IS NULL
		ORDER BY end_time ASC
		LIMIT ?`

	rows, err := m.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return m.scanAll(rows)
}

// ListStreams returns the distinct stream names with live recordings.
func (m RecordingModel) ListStreams(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT stream_name
		FROM recordings
		WHERE deleted_at IS NULL
		ORDER BY stream_name ASC`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		streams = append(streams, name)
	}
	return streams, rows.Err()
}

// StreamUsageBytes sums the stored size of a stream's live recordings.
func (m RecordingModel) StreamUsageBytes(ctx context.Context, streamName string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size_bytes), 0)
		FROM recordings
		WHERE stream_name = ? AND deleted_at IS NULL`

	var total int64
	err := m.DB.QueryRowContext(ctx, query, streamName).Scan(&total)
	return total, err
}

func (m RecordingModel) scanOne(row *sql.Row) (*Recording, error) {
	var r Recording
	var tier string
	var endTime sql.NullTime

	err := row.Scan(&r.ID, &r.StreamName, &r.FilePath, &r.StartTime, &endTime,
		&r.SizeBytes, &r.Complete, &tier, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		r.EndTime = &t
	}
	r.Tier = Tier(tier)
	return &r, nil
}

func (m RecordingModel) scanAll(rows *sql.Rows) ([]*Recording, error) {
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		var r Recording
		var tier string
		var endTime sql.NullTime
		if err := rows.Scan(&r.ID, &r.StreamName, &r.FilePath, &r.StartTime, &endTime,
			&r.SizeBytes, &r.Complete, &tier, &r.CreatedAt); err != nil {
			return nil, err
		}
		if endTime.Valid {
			t := endTime.Time
			r.EndTime = &t
		}
		r.Tier = Tier(tier)
		out = append(out, &r)
	}
	return out, rows.Err()
}
