package storage

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/opensensor/lightNVR-sub006/internal/data"
	"github.com/opensensor/lightNVR-sub006/internal/metrics"
)

// RecordingRepository is the metadata-store surface the sweep consumes.
type RecordingRepository interface {
	ListStreams(ctx context.Context) ([]string, error)
	ListExpired(ctx context.Context, streamName string, tier data.Tier, cutoff time.Time) ([]*data.Recording, error)
	ListByTierOldest(ctx context.Context, tier data.Tier, limit int) ([]*data.Recording, error)
	ListOldestForStream(ctx context.Context, streamName string, limit int) ([]*data.Recording, error)
	ListCompleted(ctx context.Context, limit int) ([]*data.Recording, error)
	StreamUsageBytes(ctx context.Context, streamName string) (int64, error)
	MarkDeleted(ctx context.Context, id string) error
}

// PolicyRepository resolves per-stream retention policies.
type PolicyRepository interface {
	GetPolicy(ctx context.Context, streamName string) (data.RetentionPolicy, error)
}

// EvictionNotifier publishes eviction events to an external bus. Optional.
type EvictionNotifier interface {
	RecordingEvicted(streamName, path, reason string)
}

// Health is the storage snapshot refreshed by the heartbeat and sweep.
type Health struct {
	Level          Level     `json:"pressure_level"`
	LevelName      string    `json:"pressure"`
	FreePercent    float64   `json:"free_percent"`
	FreeBytes      uint64    `json:"free_bytes"`
	TotalBytes     uint64    `json:"total_bytes"`
	LastCheck      time.Time `json:"last_check"`
	LastSweep      time.Time `json:"last_sweep"`
	LastDeleted    int       `json:"last_sweep_deleted"`
	LastFreedBytes int64     `json:"last_sweep_freed_bytes"`
}

// SweeperConfig defines sweep cadence.
type SweeperConfig struct {
	StoragePath       string
	SweepInterval     time.Duration
	HeartbeatInterval time.Duration
}

// Sweeper applies the tiered retention policy: age-based cutoffs per tier,
// per-stream storage quotas, ephemeral purging under disk pressure, and
// orphan reconciliation.
type Sweeper struct {
	cfg        SweeperConfig
	recordings RecordingRepository
	policies   PolicyRepository
	probe      SpaceProbe
	notify     EvictionNotifier

	removeFile func(string) error
	statFile   func(string) (fs.FileInfo, error)
	now        func() time.Time

	sweepMu sync.Mutex // one sweep at a time; Run is safe to call concurrently

	mu     sync.Mutex
	health Health

	quit    chan struct{}
	trigger chan struct{}
	wg      sync.WaitGroup
}

const evictionBatchSize = 25

func NewSweeper(cfg SweeperConfig, recordings RecordingRepository, policies PolicyRepository, notify EvictionNotifier) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 60 * time.Second
	}
	return &Sweeper{
		cfg:        cfg,
		recordings: recordings,
		policies:   policies,
		probe:      StatfsProbe,
		notify:     notify,
		removeFile: os.Remove,
		statFile:   os.Stat,
		now:        time.Now,
		quit:       make(chan struct{}),
		trigger:    make(chan struct{}, 1),
	}
}

// Start launches the heartbeat and sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// TriggerNow requests an immediate sweep without waiting for the interval.
func (s *Sweeper) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	s.Heartbeat()

	for {
		select {
		case <-s.quit:
			return
		case <-heartbeat.C:
			s.Heartbeat()
		case <-sweepTicker.C:
			s.sweep()
		case <-s.trigger:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.Run(ctx); err != nil {
		log.Printf("[ERROR] retention sweep failed: %v", err)
	}
}

// Heartbeat refreshes the disk pressure snapshot without deleting anything.
func (s *Sweeper) Heartbeat() Level {
	info, err := s.probe(s.cfg.StoragePath)
	if err != nil {
		log.Printf("[WARN] disk space probe failed: %v", err)
		return s.Health().Level
	}
	level := Classify(info.FreePercent())

	s.mu.Lock()
	s.health.Level = level
	s.health.LevelName = level.String()
	s.health.FreePercent = info.FreePercent()
	s.health.FreeBytes = info.FreeBytes
	s.health.TotalBytes = info.TotalBytes
	s.health.LastCheck = s.now()
	s.mu.Unlock()

	metrics.DiskPressureLevel.Set(float64(level))
	metrics.DiskFreePercent.Set(info.FreePercent())
	return level
}

// Health returns the latest storage snapshot.
func (s *Sweeper) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

var sweepTiers = []data.Tier{data.TierCritical, data.TierImportant, data.TierStandard, data.TierEphemeral}

// Run executes one full retention sweep and returns the number of
// recordings evicted. Safe to invoke concurrently with recording activity
// and with itself.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	now := s.now()
	level := s.Heartbeat()

	evicted := 0
	var freed int64

	streams, err := s.recordings.ListStreams(ctx)
	if err != nil {
		return 0, err
	}

	for _, stream := range streams {
		policy, err := s.policies.GetPolicy(ctx, stream)
		if err != nil {
			log.Printf("[WARN] retention policy lookup failed for stream %s: %v", stream, err)
			policy = data.DefaultRetentionPolicy(stream)
		}

		// Age pass: each tier gets its own cutoff from the stream's base
		// retention window.
		for _, tier := range sweepTiers {
			cutoff := CutoffTime(now, policy.RetentionDays, policy, tier)
			recs, err := s.recordings.ListExpired(ctx, stream, tier, cutoff)
			if err != nil {
				log.Printf("[WARN] expired listing failed for stream %s tier %s: %v", stream, tier, err)
				continue
			}
			for _, rec := range recs {
				if s.evict(ctx, rec, "age") {
					evicted++
					freed += rec.SizeBytes
				}
			}
		}

		// Quota pass: oldest recordings go until the stream fits its byte
		// budget again.
		if policy.MaxStorageMB > 0 {
			e, f := s.enforceQuota(ctx, stream, policy.MaxStorageMB*1024*1024)
			evicted += e
			freed += f
		}
	}

	// Pressure pass: under critical or worse, ephemeral recordings are
	// purged oldest-first regardless of age until pressure recovers.
	if level >= LevelCritical {
		e, f := s.purgeEphemeral(ctx, level)
		evicted += e
		freed += f
	}

	// Orphan pass: rows whose file vanished from disk are retired.
	evicted += s.reconcileOrphans(ctx)

	s.mu.Lock()
	s.health.LastSweep = now
	s.health.LastDeleted = evicted
	s.health.LastFreedBytes = freed
	s.mu.Unlock()

	metrics.RetentionSweepsTotal.Inc()
	metrics.RetentionBytesFreed.Add(float64(freed))
	if evicted > 0 {
		log.Printf("[INFO] retention sweep evicted %d recordings, freed %d bytes", evicted, freed)
	}
	return evicted, nil
}

func (s *Sweeper) enforceQuota(ctx context.Context, stream string, quotaBytes int64) (int, int64) {
	usage, err := s.recordings.StreamUsageBytes(ctx, stream)
	if err != nil {
		log.Printf("[WARN] usage lookup failed for stream %s: %v", stream, err)
		return 0, 0
	}
	if usage <= quotaBytes {
		return 0, 0
	}
	log.Printf("[INFO] stream %s over storage quota (%d > %d bytes), evicting oldest", stream, usage, quotaBytes)

	evicted := 0
	var freed int64
	for usage > quotaBytes {
		batch, err := s.recordings.ListOldestForStream(ctx, stream, evictionBatchSize)
		if err != nil || len(batch) == 0 {
			break
		}
		progress := false
		for _, rec := range batch {
			if usage <= quotaBytes {
				break
			}
			if s.evict(ctx, rec, "quota") {
				usage -= rec.SizeBytes
				freed += rec.SizeBytes
				evicted++
				progress = true
			}
		}
		if !progress {
			break
		}
	}
	return evicted, freed
}

func (s *Sweeper) purgeEphemeral(ctx context.Context, level Level) (int, int64) {
	log.Printf("[WARN] disk pressure %s, purging ephemeral recordings", level)

	evicted := 0
	var freed int64
	for level >= LevelCritical {
		batch, err := s.recordings.ListByTierOldest(ctx, data.TierEphemeral, 1)
		if err != nil || len(batch) == 0 {
			break
		}
		if !s.evict(ctx, batch[0], "pressure") {
			break
		}
		evicted++
		freed += batch[0].SizeBytes
		level = s.Heartbeat()
	}
	return evicted, freed
}

func (s *Sweeper) reconcileOrphans(ctx context.Context) int {
	recs, err := s.recordings.ListCompleted(ctx, 1000)
	if err != nil {
		log.Printf("[WARN] orphan listing failed: %v", err)
		return 0
	}
	orphaned := 0
	for _, rec := range recs {
		if _, err := s.statFile(rec.FilePath); errors.Is(err, fs.ErrNotExist) {
			if err := s.recordings.MarkDeleted(ctx, rec.ID); err != nil {
				log.Printf("[WARN] failed to retire orphaned recording %s: %v", rec.ID, err)
				continue
			}
			metrics.RecordingsEvicted.WithLabelValues("orphan").Inc()
			orphaned++
		}
	}
	if orphaned > 0 {
		log.Printf("[INFO] retired %d orphaned recording entries", orphaned)
	}
	return orphaned
}

// evict removes the file and retires the metadata row. A missing file is
// not an error; a failed metadata update leaves the row for the next sweep.
func (s *Sweeper) evict(ctx context.Context, rec *data.Recording, reason string) bool {
	if err := s.removeFile(rec.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[ERROR] failed to delete recording file %s: %v", rec.FilePath, err)
		return false
	}
	if err := s.recordings.MarkDeleted(ctx, rec.ID); err != nil {
		log.Printf("[WARN] failed to mark recording %s deleted: %v", rec.ID, err)
		return false
	}
	metrics.RecordingsEvicted.WithLabelValues(reason).Inc()
	if s.notify != nil {
		s.notify.RecordingEvicted(rec.StreamName, rec.FilePath, reason)
	}
	log.Printf("[DEBUG] evicted recording %s (stream: %s, tier: %s, reason: %s)",
		rec.ID, rec.StreamName, rec.Tier, reason)
	return true
}
