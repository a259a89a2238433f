package recording

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	stopped  int
	packets  []Packet
	failNext bool
}

func (r *fakeRecorder) Start(streamName, path, triggerType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return errors.New("muxer refused")
	}
	r.started = append(r.started, path)
	return nil
}

func (r *fakeRecorder) Stop(streamName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
	return nil
}

func (r *fakeRecorder) WritePacket(streamName string, pkt Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, pkt)
	return nil
}

func (r *fakeRecorder) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func (r *fakeRecorder) packetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func newTestEngine(t *testing.T, rec *fakeRecorder) (*Engine, time.Time) {
	t.Helper()
	e := NewEngine(EngineConfig{
		StoragePath:   t.TempDir(),
		MaxStreams:    4,
		QueueCapacity: 16,
		PoolMemoryMB:  1,
		GracePeriod:   2 * time.Second,
	}, rec, nil, nil, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }
	return e, base
}

func enableStream(t *testing.T, e *Engine, name string) {
	t.Helper()
	require.NoError(t, e.Enable(name, StreamConfig{
		Enabled:           true,
		PreBufferSeconds:  5,
		PostBufferSeconds: 10,
		MaxFileDuration:   300,
	}))
}

func motion(e *Engine, stream string, active bool, at time.Time) {
	e.now = func() time.Time { return at }
	e.handleEvent(MotionEvent{StreamName: stream, Active: active, Timestamp: at, EventType: "motion"})
}

func TestEngine_SingleMotionEpisode(t *testing.T) {
	rec := &fakeRecorder{}
	e, base := newTestEngine(t, rec)
	enableStream(t, e, "cam-1")
	assert.Equal(t, StateBuffering, e.GetState("cam-1"))

	// Pre-roll traffic before motion.
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i-5) * time.Second)
		assert.True(t, e.Feed("cam-1", Packet{Data: []byte{byte(i)}, PTS: int64(i)}, ts))
	}

	motion(e, "cam-1", true, base)
	assert.Equal(t, StateRecording, e.GetState("cam-1"))
	assert.Equal(t, 1, rec.startCount())
	assert.Equal(t, 5, rec.packetCount(), "pre-roll must be flushed into the recording")

	path, active := e.CurrentRecordingPath("cam-1")
	assert.True(t, active)
	assert.Contains(t, path, "cam-1_20260301_120000_motion.mp4")
	assert.Contains(t, path, "2026")

	// Motion ends; within the grace period nothing changes.
	motion(e, "cam-1", false, base.Add(1*time.Second))
	e.tickAll(base.Add(2 * time.Second))
	assert.Equal(t, StateRecording, e.GetState("cam-1"))

	// Past the grace period the stream enters the post-roll.
	e.tickAll(base.Add(4 * time.Second))
	assert.Equal(t, StateFinalizing, e.GetState("cam-1"))

	// Post-roll expiry stops the recording and resumes buffering.
	e.tickAll(base.Add(15 * time.Second))
	assert.Equal(t, StateBuffering, e.GetState("cam-1"))
	assert.Equal(t, 1, rec.stopped)

	stats, err := e.GetStats("cam-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalRecordings)
	assert.Equal(t, uint64(1), stats.TotalBufferFlushes)
}

func TestEngine_MotionExtendsRecording(t *testing.T) {
	rec := &fakeRecorder{}
	e, base := newTestEngine(t, rec)
	enableStream(t, e, "cam-1")

	motion(e, "cam-1", true, base)
	require.Equal(t, StateRecording, e.GetState("cam-1"))

	// A second burst inside the grace window extends the same file.
	motion(e, "cam-1", true, base.Add(3*time.Second))
	e.tickAll(base.Add(4 * time.Second))
	assert.Equal(t, StateRecording, e.GetState("cam-1"))
	assert.Equal(t, 1, rec.startCount(), "same recording, no new file")

	// Grace expires relative to the second burst.
	e.tickAll(base.Add(6 * time.Second))
	assert.Equal(t, StateFinalizing, e.GetState("cam-1"))

	// Motion during the post-roll cancels finalization on the same file.
	motion(e, "cam-1", true, base.Add(7*time.Second))
	assert.Equal(t, StateRecording, e.GetState("cam-1"))
	assert.Equal(t, 1, rec.startCount())
	assert.Equal(t, 0, rec.stopped)
}

func TestEngine_PreRollFlushedOncePerEpisode(t *testing.T) {
	rec := &fakeRecorder{}
	e, base := newTestEngine(t, rec)
	enableStream(t, e, "cam-1")

	require.True(t, e.Feed("cam-1", Packet{Data: []byte{1}}, base.Add(-time.Second)))
	motion(e, "cam-1", true, base)
	require.Equal(t, 1, rec.packetCount())

	// The buffer keeps filling during the recording, but a repeat trigger
	// must not flush it again into the same episode.
	require.True(t, e.Feed("cam-1", Packet{Data: []byte{2}}, base.Add(time.Second)))
	motion(e, "cam-1", true, base.Add(time.Second))
	assert.Equal(t, 1, rec.packetCount())
}

func TestEngine_FileRotation(t *testing.T) {
	rec := &fakeRecorder{}
	e, base := newTestEngine(t, rec)
	require.NoError(t, e.Enable("cam-1", StreamConfig{
		Enabled:           true,
		PreBufferSeconds:  5,
		PostBufferSeconds: 10,
		MaxFileDuration:   10,
	}))

	motion(e, "cam-1", true, base)
	require.Equal(t, 1, rec.startCount())

	// Continuous motion past the max file duration rotates the file without
	// leaving the recording state.
	motion(e, "cam-1", true, base.Add(10*time.Second))
	e.now = func() time.Time { return base.Add(11 * time.Second) }
	e.tickAll(base.Add(11 * time.Second))

	assert.Equal(t, StateRecording, e.GetState("cam-1"))
	assert.Equal(t, 2, rec.startCount())
	assert.Equal(t, 1, rec.stopped)

	stats, err := e.GetStats("cam-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalRecordings)
}

func TestEngine_FailedStartLeavesStateUnchanged(t *testing.T) {
	rec := &fakeRecorder{failNext: true}
	e, base := newTestEngine(t, rec)
	enableStream(t, e, "cam-1")

	require.True(t, e.Feed("cam-1", Packet{Data: []byte{1}}, base.Add(-time.Second)))
	motion(e, "cam-1", true, base)

	assert.Equal(t, StateBuffering, e.GetState("cam-1"))
	assert.Equal(t, 0, rec.packetCount(), "no flush on failed start")
	stats, err := e.GetStats("cam-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.TotalRecordings)

	// The next trigger succeeds and still carries the pre-roll.
	motion(e, "cam-1", true, base.Add(time.Second))
	assert.Equal(t, StateRecording, e.GetState("cam-1"))
	assert.Equal(t, 1, rec.packetCount())
}

func TestEngine_EventForUnknownStreamIgnored(t *testing.T) {
	rec := &fakeRecorder{}
	e, base := newTestEngine(t, rec)

	motion(e, "ghost", true, base)
	assert.Equal(t, 0, rec.startCount())
	assert.Equal(t, StateIdle, e.GetState("ghost"))
	_, err := e.GetStats("ghost")
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestEngine_DisabledStreamIgnoresMotion(t *testing.T) {
	rec := &fakeRecorder{}
	e, base := newTestEngine(t, rec)
	enableStream(t, e, "cam-1")
	require.NoError(t, e.Disable("cam-1"))

	motion(e, "cam-1", true, base)
	assert.Equal(t, 0, rec.startCount())
	assert.False(t, e.Feed("cam-1", Packet{Data: []byte{1}}, base))
}

func TestEngine_ForceStop(t *testing.T) {
	rec := &fakeRecorder{}
	e, base := newTestEngine(t, rec)
	enableStream(t, e, "cam-1")

	motion(e, "cam-1", true, base)
	require.Equal(t, StateRecording, e.GetState("cam-1"))

	require.NoError(t, e.ForceStop("cam-1"))
	assert.Equal(t, StateBuffering, e.GetState("cam-1"))
	assert.Equal(t, 1, rec.stopped)

	assert.ErrorIs(t, e.ForceStop("ghost"), ErrStreamNotFound)
}

func TestEngine_StreamCapacity(t *testing.T) {
	rec := &fakeRecorder{}
	e, _ := newTestEngine(t, rec)

	for i := 0; i < 4; i++ {
		require.NoError(t, e.Enable(string(rune('a'+i))+"-cam", StreamConfig{Enabled: true, PreBufferSeconds: 1}))
	}
	err := e.Enable("one-too-many", StreamConfig{Enabled: true, PreBufferSeconds: 1})
	assert.ErrorIs(t, err, ErrNoFreeSlot)
}

func TestEngine_ShutdownStopsActiveRecordings(t *testing.T) {
	rec := &fakeRecorder{}
	e, base := newTestEngine(t, rec)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, e.Start(ctx))
	enableStream(t, e, "cam-1")

	motion(e, "cam-1", true, base)
	require.Equal(t, StateRecording, e.GetState("cam-1"))

	e.Shutdown()
	assert.Equal(t, 1, rec.stopped)
	assert.ErrorIs(t, e.ProcessMotionEvent("cam-1", true, base), ErrEngineStopped)

	// Idempotent.
	e.Shutdown()
}
