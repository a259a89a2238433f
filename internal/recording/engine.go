package recording

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensensor/lightNVR-sub006/internal/metrics"
)

const (
	DefaultMaxStreams        = 16
	DefaultQueueCapacity     = 100
	DefaultPoolMemoryMB      = 50
	DefaultPreBufferSeconds  = 5
	DefaultPostBufferSeconds = 10
	DefaultMaxFileDuration   = 300

	// DefaultGracePeriod absorbs brief detection gaps after motion ends
	// before the finalize countdown starts.
	DefaultGracePeriod = 2 * time.Second

	defaultTickInterval = 500 * time.Millisecond
)

var (
	ErrStreamNotFound = errors.New("stream not registered for motion recording")
	ErrEngineStopped  = errors.New("recording engine is shut down")
)

// Recorder is the external MP4 writer collaborator. Start and Stop control
// the container lifecycle; WritePacket receives pre-roll packets flushed
// from the buffer after a recording starts.
type Recorder interface {
	Start(streamName, path, triggerType string) error
	Stop(streamName string) error
	WritePacket(streamName string, pkt Packet) error
}

// ConfigStore persists per-stream motion configuration. Failures are logged
// and never roll back in-memory state.
type ConfigStore interface {
	LoadAll(ctx context.Context) (map[string]StreamConfig, error)
	Save(ctx context.Context, streamName string, cfg StreamConfig) error
}

// MetadataSink receives recording lifecycle metadata for persistence. The
// data layer assigns the stream's retention tier when the row is created.
type MetadataSink interface {
	RecordingStarted(ctx context.Context, id, streamName, path string, startTime time.Time) error
	RecordingFinished(ctx context.Context, id string, endTime time.Time, sizeBytes int64) error
}

// Notifier publishes recording lifecycle events to an external bus.
// Best-effort; a nil Notifier is valid.
type Notifier interface {
	RecordingStarted(streamName, path string)
	RecordingStopped(streamName, path string)
}

// EngineConfig carries process-level engine settings.
type EngineConfig struct {
	StoragePath   string
	MaxStreams    int
	QueueCapacity int
	PoolMemoryMB  int
	GracePeriod   time.Duration
	TickInterval  time.Duration
}

// Engine is the motion-triggered recording engine: it owns the event queue,
// the packet buffer pool, and the per-stream recording contexts, and drives
// the state machine from a single consumer goroutine.
type Engine struct {
	cfg      EngineConfig
	queue    *EventQueue
	pool     *BufferPool
	contexts *contextTable

	recorder Recorder
	configs  ConfigStore
	meta     MetadataSink
	notify   Notifier

	now func() time.Time

	wg       sync.WaitGroup
	stopTick chan struct{}
	stopOnce sync.Once
}

func NewEngine(cfg EngineConfig, recorder Recorder, configs ConfigStore, meta MetadataSink, notify Notifier) *Engine {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	return &Engine{
		cfg:      cfg,
		queue:    NewEventQueue(cfg.QueueCapacity),
		pool:     NewBufferPool(cfg.PoolMemoryMB),
		contexts: newContextTable(cfg.MaxStreams),
		recorder: recorder,
		configs:  configs,
		meta:     meta,
		notify:   notify,
		now:      time.Now,
		stopTick: make(chan struct{}),
	}
}

// Pool exposes the packet buffer pool for hot-reload of its memory cap.
func (e *Engine) Pool() *BufferPool {
	return e.pool
}

// Start loads persisted stream configurations, enables them, and launches
// the event processor and tick goroutines.
func (e *Engine) Start(ctx context.Context) error {
	if e.configs != nil {
		cfgs, err := e.configs.LoadAll(ctx)
		if err != nil {
			log.Printf("[WARN] failed to load motion configs: %v", err)
		}
		for name, cfg := range cfgs {
			if !cfg.Enabled {
				continue
			}
			if err := e.Enable(name, cfg); err != nil {
				log.Printf("[ERROR] failed to enable motion recording for stream %s: %v", name, err)
			}
		}
		if len(cfgs) > 0 {
			log.Printf("[INFO] loaded %d motion recording configurations", len(cfgs))
		}
	}

	e.wg.Add(2)
	go e.processorLoop()
	go e.tickLoop()
	log.Printf("[INFO] motion recording engine started")
	return nil
}

// Shutdown stops the event processor first, then force-stops every active
// recording without holding the table lock during per-context teardown,
// then releases the buffers.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.queue.Shutdown()
		close(e.stopTick)
		e.wg.Wait()

		now := e.now()
		for _, ctx := range e.contexts.all() {
			ctx.mu.Lock()
			if err := e.stopRecordingLocked(ctx, now); err != nil {
				log.Printf("[WARN] shutdown stop failed for stream %s: %v", ctx.streamName, err)
			}
			ctx.mu.Unlock()
			if ctx.buffer != nil {
				e.pool.Remove(ctx.streamName)
			}
		}
		log.Printf("[INFO] motion recording engine shut down")
	})
}

// Enable configures (or re-configures) motion recording for a stream,
// creating its context and pre-roll buffer as needed.
func (e *Engine) Enable(streamName string, cfg StreamConfig) error {
	if streamName == "" {
		return errors.New("stream name is required")
	}
	if cfg.PreBufferSeconds < 0 || cfg.PostBufferSeconds < 0 || cfg.MaxFileDuration < 0 {
		return errors.New("invalid motion recording parameters")
	}

	ctx, err := e.contexts.getOrCreate(streamName)
	if err != nil {
		return err
	}

	ctx.mu.Lock()
	ctx.enabled = cfg.Enabled
	ctx.preBufferSeconds = cfg.PreBufferSeconds
	ctx.postBufferSeconds = cfg.PostBufferSeconds
	ctx.maxFileDuration = cfg.MaxFileDuration

	if cfg.PreBufferSeconds > 0 {
		if ctx.buffer == nil {
			buf, berr := e.pool.Create(streamName, cfg.PreBufferSeconds)
			if berr != nil {
				log.Printf("[WARN] failed to create pre-roll buffer for stream %s: %v", streamName, berr)
				ctx.bufferEnabled = false
			} else {
				ctx.buffer = buf
				ctx.bufferEnabled = true
				if ctx.state == StateIdle {
					ctx.state = StateBuffering
				}
			}
		}
	} else if ctx.buffer != nil {
		e.pool.Remove(streamName)
		ctx.buffer = nil
		ctx.bufferEnabled = false
		if ctx.state == StateBuffering {
			ctx.state = StateIdle
		}
	}
	bufferOn := ctx.bufferEnabled
	ctx.mu.Unlock()

	e.saveConfig(streamName, cfg)
	log.Printf("[INFO] motion recording enabled for stream: %s (pre: %ds, post: %ds, max: %ds, buffer: %t)",
		streamName, cfg.PreBufferSeconds, cfg.PostBufferSeconds, cfg.MaxFileDuration, bufferOn)
	return nil
}

// Disable stops any active recording for the stream and marks it disabled.
// The context and buffer stay allocated; slots are reclaimed only at
// shutdown.
func (e *Engine) Disable(streamName string) error {
	ctx := e.contexts.get(streamName)
	if ctx == nil {
		return nil
	}

	ctx.mu.Lock()
	if err := e.stopRecordingLocked(ctx, e.now()); err != nil {
		log.Printf("[WARN] stop during disable failed for stream %s: %v", streamName, err)
	}
	ctx.enabled = false
	cfg := StreamConfig{
		Enabled:           false,
		PreBufferSeconds:  ctx.preBufferSeconds,
		PostBufferSeconds: ctx.postBufferSeconds,
		MaxFileDuration:   ctx.maxFileDuration,
	}
	ctx.mu.Unlock()

	e.saveConfig(streamName, cfg)
	log.Printf("[INFO] motion recording disabled for stream: %s", streamName)
	return nil
}

func (e *Engine) saveConfig(streamName string, cfg StreamConfig) {
	if e.configs == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.configs.Save(saveCtx, streamName, cfg); err != nil {
		log.Printf("[WARN] failed to persist motion config for stream %s: %v", streamName, err)
	}
}

// ProcessMotionEvent is the sole event-injection entry point. It never
// blocks the caller; queue overflow silently drops the oldest pending
// event.
func (e *Engine) ProcessMotionEvent(streamName string, active bool, timestamp time.Time) error {
	if streamName == "" {
		return errors.New("stream name is required")
	}
	return e.ProcessEvent(MotionEvent{
		StreamName: streamName,
		Active:     active,
		Timestamp:  timestamp,
		Confidence: 1.0,
		EventType:  "motion",
	})
}

// ProcessEvent queues a fully-formed motion event.
func (e *Engine) ProcessEvent(evt MotionEvent) error {
	if evt.StreamName == "" {
		return errors.New("stream name is required")
	}
	if !e.queue.Push(evt) {
		return ErrEngineStopped
	}
	metrics.MotionEventsQueued.Inc()
	return nil
}

// Feed hands one ingested packet to the stream's pre-roll buffer. Returns
// true when the packet was accepted, false when the stream is not buffering
// (which is not an error).
func (e *Engine) Feed(streamName string, pkt Packet, timestamp time.Time) bool {
	ctx := e.contexts.get(streamName)
	if ctx == nil {
		return false
	}

	ctx.mu.Lock()
	buf := ctx.buffer
	ok := ctx.enabled && ctx.bufferEnabled && buf != nil
	ctx.mu.Unlock()
	if !ok {
		return false
	}

	if err := buf.Add(pkt, timestamp); err != nil {
		return false
	}

	// Lazy transition: the first packet moves an idle buffered stream into
	// BUFFERING.
	ctx.mu.Lock()
	if ctx.state == StateIdle && ctx.bufferEnabled {
		ctx.state = StateBuffering
	}
	ctx.mu.Unlock()
	return true
}

// GetState returns a point-in-time snapshot of the stream's state.
func (e *Engine) GetState(streamName string) State {
	ctx := e.contexts.get(streamName)
	if ctx == nil {
		return StateIdle
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.state
}

// GetStats returns the per-stream counters.
func (e *Engine) GetStats(streamName string) (Stats, error) {
	ctx := e.contexts.get(streamName)
	if ctx == nil {
		return Stats{}, ErrStreamNotFound
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return Stats{
		TotalRecordings:    ctx.totalRecordings,
		TotalMotionEvents:  ctx.totalMotionEvents,
		TotalBufferFlushes: ctx.totalBufferFlushes,
	}, nil
}

// GetBufferStats returns the stream's pre-roll buffer snapshot.
func (e *Engine) GetBufferStats(streamName string) (BufferStats, error) {
	ctx := e.contexts.get(streamName)
	if ctx == nil {
		return BufferStats{}, ErrStreamNotFound
	}
	ctx.mu.Lock()
	buf := ctx.buffer
	ctx.mu.Unlock()
	if buf == nil {
		return BufferStats{}, ErrBufferNotFound
	}
	return buf.Stats(), nil
}

// CurrentRecordingPath reports the active output file, if any.
func (e *Engine) CurrentRecordingPath(streamName string) (string, bool) {
	ctx := e.contexts.get(streamName)
	if ctx == nil {
		return "", false
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.currentFilePath == "" {
		return "", false
	}
	return ctx.currentFilePath, true
}

// ForceStop stops any active recording for the stream immediately.
func (e *Engine) ForceStop(streamName string) error {
	ctx := e.contexts.get(streamName)
	if ctx == nil {
		return ErrStreamNotFound
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return e.stopRecordingLocked(ctx, e.now())
}

// --- event processor ---

func (e *Engine) processorLoop() {
	defer e.wg.Done()
	log.Printf("[INFO] motion event processor started")

	for {
		evt, ok := e.queue.Pop()
		if !ok {
			break
		}
		e.handleEvent(evt)
	}

	log.Printf("[INFO] motion event processor stopped")
}

func (e *Engine) tickLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopTick:
			return
		case <-ticker.C:
			e.tickAll(e.now())
			metrics.EventQueueDepth.Set(float64(e.queue.Len()))
			metrics.BufferPoolBytes.Set(float64(e.pool.UsageBytes()))
		}
	}
}

func (e *Engine) handleEvent(evt MotionEvent) {
	ctx := e.contexts.get(evt.StreamName)
	if ctx == nil {
		log.Printf("[WARN] no recording context for stream: %s, skipping event", evt.StreamName)
		return
	}

	ctx.mu.Lock()
	ctx.totalMotionEvents++

	if evt.Active && ctx.enabled {
		switch ctx.state {
		case StateRecording:
			// Overlapping motion extends the current recording.
			ctx.lastMotionTime = evt.Timestamp
		case StateFinalizing:
			// Motion during post-roll cancels finalization; the underlying
			// file keeps going.
			ctx.state = StateRecording
			ctx.lastMotionTime = evt.Timestamp
			log.Printf("[INFO] motion during post-buffer for stream: %s, continuing recording", evt.StreamName)
		default:
			if err := e.startRecordingLocked(ctx, evt.Timestamp); err != nil {
				log.Printf("[ERROR] failed to start motion recording for stream %s: %v", evt.StreamName, err)
				metrics.RecordingStartFailures.Inc()
			}
		}
	} else if !evt.Active {
		ctx.lastMotionTime = evt.Timestamp
	}
	ctx.mu.Unlock()

	e.tickContext(ctx, e.now())
}

// tickAll runs the time-driven transition checks for every context.
func (e *Engine) tickAll(now time.Time) {
	for _, ctx := range e.contexts.all() {
		e.tickContext(ctx, now)
	}
}

func (e *Engine) tickContext(ctx *streamContext, now time.Time) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if !ctx.enabled {
		return
	}

	switch ctx.state {
	case StateRecording:
		if now.Sub(ctx.lastMotionTime) > e.cfg.GracePeriod {
			ctx.state = StateFinalizing
			ctx.stateChangeTime = now
			log.Printf("[INFO] motion ended for stream: %s, entering finalizing state (post-buffer: %ds)",
				ctx.streamName, ctx.postBufferSeconds)
			return
		}
		if ctx.maxFileDuration > 0 &&
			now.Sub(ctx.recordingStart) > time.Duration(ctx.maxFileDuration)*time.Second {
			log.Printf("[INFO] max file duration reached for stream: %s, rotating file", ctx.streamName)
			if err := e.stopRecordingLocked(ctx, now); err != nil {
				log.Printf("[WARN] rotation stop failed for stream %s: %v", ctx.streamName, err)
				return
			}
			if err := e.startRecordingLocked(ctx, now); err != nil {
				log.Printf("[ERROR] rotation restart failed for stream %s: %v", ctx.streamName, err)
			}
		}
	case StateFinalizing:
		if now.Sub(ctx.stateChangeTime) > time.Duration(ctx.postBufferSeconds)*time.Second {
			log.Printf("[INFO] post-buffer timeout for stream: %s, stopping recording", ctx.streamName)
			if err := e.stopRecordingLocked(ctx, now); err != nil {
				log.Printf("[WARN] post-buffer stop failed for stream %s: %v", ctx.streamName, err)
			}
		}
	}
}

// --- internal transitions (caller holds ctx.mu) ---

func (e *Engine) startRecordingLocked(ctx *streamContext, now time.Time) error {
	if ctx.state == StateRecording {
		ctx.lastMotionTime = now
		return nil
	}

	path, err := e.generateRecordingPath(ctx.streamName, now)
	if err != nil {
		return fmt.Errorf("generate recording path: %w", err)
	}

	if err := e.recorder.Start(ctx.streamName, path, "motion"); err != nil {
		return fmt.Errorf("start mp4 recording: %w", err)
	}

	if ctx.bufferEnabled && ctx.buffer != nil && !ctx.bufferFlushed {
		stats := ctx.buffer.Stats()
		log.Printf("[INFO] flushing pre-roll buffer for stream: %s (%d packets, %.1fs)",
			ctx.streamName, stats.PacketCount, stats.Duration.Seconds())
		flushed := ctx.buffer.Flush(func(pkt Packet) error {
			return e.recorder.WritePacket(ctx.streamName, pkt)
		})
		if flushed > 0 {
			ctx.totalBufferFlushes++
			metrics.BufferFlushesTotal.Inc()
		}
		ctx.bufferFlushed = true
	}

	ctx.state = StateRecording
	ctx.recordingStart = now
	ctx.lastMotionTime = now
	ctx.stateChangeTime = now
	ctx.currentFilePath = path
	ctx.currentID = uuid.New().String()
	ctx.totalRecordings++
	metrics.RecordingsStarted.Inc()

	if e.meta != nil {
		metaCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := e.meta.RecordingStarted(metaCtx, ctx.currentID, ctx.streamName, path, now); err != nil {
			log.Printf("[WARN] failed to persist recording metadata for stream %s: %v", ctx.streamName, err)
		}
		cancel()
	}
	if e.notify != nil {
		e.notify.RecordingStarted(ctx.streamName, path)
	}

	log.Printf("[INFO] started motion recording for stream: %s, file: %s", ctx.streamName, path)
	return nil
}

func (e *Engine) stopRecordingLocked(ctx *streamContext, now time.Time) error {
	if ctx.state == StateIdle {
		return nil
	}

	if ctx.state == StateRecording || ctx.state == StateFinalizing {
		if err := e.recorder.Stop(ctx.streamName); err != nil {
			log.Printf("[WARN] failed to stop mp4 recording for stream: %s: %v", ctx.streamName, err)
		}
		if e.meta != nil && ctx.currentID != "" {
			var size int64
			if fi, err := os.Stat(ctx.currentFilePath); err == nil {
				size = fi.Size()
			}
			metaCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := e.meta.RecordingFinished(metaCtx, ctx.currentID, now, size); err != nil {
				log.Printf("[WARN] failed to finalize recording metadata for stream %s: %v", ctx.streamName, err)
			}
			cancel()
		}
		if e.notify != nil && ctx.currentFilePath != "" {
			e.notify.RecordingStopped(ctx.streamName, ctx.currentFilePath)
		}
		metrics.RecordingsStopped.Inc()
	}

	if ctx.bufferEnabled && ctx.buffer != nil {
		ctx.state = StateBuffering
		log.Printf("[INFO] stopped motion recording for stream: %s, returning to buffering", ctx.streamName)
	} else {
		ctx.state = StateIdle
		log.Printf("[INFO] stopped motion recording for stream: %s", ctx.streamName)
	}
	ctx.bufferFlushed = false
	ctx.stateChangeTime = now
	ctx.currentFilePath = ""
	ctx.currentID = ""
	return nil
}

// generateRecordingPath builds stream/year/month/day/stream_timestamp_motion.mp4
// under the storage root, creating directories as needed.
func (e *Engine) generateRecordingPath(streamName string, now time.Time) (string, error) {
	dir := filepath.Join(e.cfg.StoragePath, streamName,
		now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_motion.mp4", streamName, now.Format("20060102_150405"))
	return filepath.Join(dir, name), nil
}
