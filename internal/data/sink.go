package data

import (
	"context"
	"time"
)

// RecordingSink adapts the recording models to the engine's metadata
// contract. New rows inherit the stream's configured default tier.
type RecordingSink struct {
	Recordings RecordingModel
	Retention  RetentionModel
}

func (s RecordingSink) RecordingStarted(ctx context.Context, id, streamName, path string, startTime time.Time) error {
	tier := TierStandard
	if policy, err := s.Retention.GetPolicy(ctx, streamName); err == nil && policy.DefaultTier.Valid() {
		tier = policy.DefaultTier
	}
	return s.Recordings.Insert(ctx, &Recording{
		ID:         id,
		StreamName: streamName,
		FilePath:   path,
		StartTime:  startTime,
		Tier:       tier,
	})
}

func (s RecordingSink) RecordingFinished(ctx context.Context, id string, endTime time.Time, sizeBytes int64) error {
	return s.Recordings.Finalize(ctx, id, endTime, sizeBytes)
}
