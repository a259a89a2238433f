package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightNVR-sub006/internal/api"
	"github.com/opensensor/lightNVR-sub006/internal/data"
	"github.com/opensensor/lightNVR-sub006/internal/recording"
	"github.com/opensensor/lightNVR-sub006/internal/storage"
)

// Mock Engine
type mockEngine struct {
	enabled  map[string]recording.StreamConfig
	disabled []string
	events   []recording.MotionEvent
	stopped  []string
	state    recording.State
	statsErr error
}

func newMockEngine() *mockEngine {
	return &mockEngine{enabled: make(map[string]recording.StreamConfig), state: recording.StateBuffering}
}

func (m *mockEngine) Enable(streamName string, cfg recording.StreamConfig) error {
	m.enabled[streamName] = cfg
	return nil
}

func (m *mockEngine) Disable(streamName string) error {
	m.disabled = append(m.disabled, streamName)
	return nil
}

func (m *mockEngine) ProcessEvent(evt recording.MotionEvent) error {
	m.events = append(m.events, evt)
	return nil
}

func (m *mockEngine) GetState(streamName string) recording.State { return m.state }

func (m *mockEngine) GetStats(streamName string) (recording.Stats, error) {
	if m.statsErr != nil {
		return recording.Stats{}, m.statsErr
	}
	return recording.Stats{TotalRecordings: 3, TotalMotionEvents: 7, TotalBufferFlushes: 3}, nil
}

func (m *mockEngine) GetBufferStats(streamName string) (recording.BufferStats, error) {
	return recording.BufferStats{PacketCount: 12, MemoryBytes: 4096, Duration: 5 * time.Second, KeyframeCount: 2}, nil
}

func (m *mockEngine) CurrentRecordingPath(streamName string) (string, bool) { return "", false }

func (m *mockEngine) ForceStop(streamName string) error {
	m.stopped = append(m.stopped, streamName)
	return nil
}

// Mock Config Store
type mockConfigs struct {
	configs map[string]recording.StreamConfig
	saved   map[string]recording.StreamConfig
}

func newMockConfigs() *mockConfigs {
	return &mockConfigs{
		configs: make(map[string]recording.StreamConfig),
		saved:   make(map[string]recording.StreamConfig),
	}
}

func (m *mockConfigs) Load(ctx context.Context, streamName string) (recording.StreamConfig, error) {
	cfg, ok := m.configs[streamName]
	if !ok {
		return cfg, data.ErrRecordNotFound
	}
	return cfg, nil
}

func (m *mockConfigs) Save(ctx context.Context, streamName string, cfg recording.StreamConfig) error {
	m.saved[streamName] = cfg
	return nil
}

// Mock Retention Store
type mockRetention struct {
	policies map[string]data.RetentionPolicy
}

func (m *mockRetention) GetPolicy(ctx context.Context, streamName string) (data.RetentionPolicy, error) {
	if p, ok := m.policies[streamName]; ok {
		return p, nil
	}
	return data.DefaultRetentionPolicy(streamName), nil
}

func (m *mockRetention) ListPolicies(ctx context.Context) ([]data.RetentionPolicy, error) {
	var out []data.RetentionPolicy
	for _, p := range m.policies {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockRetention) UpsertPolicy(ctx context.Context, p data.RetentionPolicy) error {
	if p.RetentionDays < 0 {
		return assert.AnError
	}
	m.policies[p.StreamName] = p
	return nil
}

// Mock Sweeper
type mockSweeper struct {
	triggered int
}

func (m *mockSweeper) Health() storage.Health {
	return storage.Health{Level: storage.LevelWarning, LevelName: "warning", FreePercent: 15.0}
}

func (m *mockSweeper) TriggerNow() { m.triggered++ }

func setup() (*mockEngine, *mockConfigs, *mockRetention, *mockSweeper, http.Handler) {
	eng := newMockEngine()
	cfgs := newMockConfigs()
	ret := &mockRetention{policies: make(map[string]data.RetentionPolicy)}
	sw := &mockSweeper{}
	router := api.NewRouter(&api.Handler{Engine: eng, Configs: cfgs, Retention: ret, Sweeper: sw})
	return eng, cfgs, ret, sw, router
}

func TestPutMotionConfig_EnablesStream(t *testing.T) {
	eng, _, _, _, router := setup()

	body, _ := json.Marshal(recording.StreamConfig{
		Enabled: true, PreBufferSeconds: 5, PostBufferSeconds: 10, MaxFileDuration: 300,
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/streams/cam-1/motion-config", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, eng.enabled, "cam-1")
	assert.Equal(t, 5, eng.enabled["cam-1"].PreBufferSeconds)
}

func TestPutMotionConfig_RejectsNegativeDurations(t *testing.T) {
	_, _, _, _, router := setup()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/streams/cam-1/motion-config",
		bytes.NewReader([]byte(`{"enabled":true,"pre_buffer_seconds":-1}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetMotionConfig_NotFound(t *testing.T) {
	_, _, _, _, router := setup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams/ghost/motion-config", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInjectMotionEvent(t *testing.T) {
	eng, _, _, _, router := setup()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/motion/events",
		bytes.NewReader([]byte(`{"stream_name":"cam-1","active":true}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, eng.events, 1)
	assert.Equal(t, "cam-1", eng.events[0].StreamName)
	assert.True(t, eng.events[0].Active)
	assert.Equal(t, "motion", eng.events[0].EventType)
	assert.False(t, eng.events[0].Timestamp.IsZero())
}

func TestInjectMotionEvent_MissingStream(t *testing.T) {
	_, _, _, _, router := setup()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/motion/events",
		bytes.NewReader([]byte(`{"active":true}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetStreamState(t *testing.T) {
	_, _, _, _, router := setup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams/cam-1/state", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "buffering", got["state"])
	assert.Equal(t, float64(3), got["total_recordings"])
	assert.Equal(t, false, got["recording"])
}

func TestForceStop(t *testing.T) {
	eng, _, _, _, router := setup()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/streams/cam-1/stop", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"cam-1"}, eng.stopped)
}

func TestRetentionRoundTrip(t *testing.T) {
	_, _, ret, _, router := setup()

	body, _ := json.Marshal(data.RetentionPolicy{
		RetentionDays:           14,
		MaxStorageMB:            2048,
		TierCriticalMultiplier:  3.0,
		TierImportantMultiplier: 2.0,
		TierEphemeralMultiplier: 0.25,
		DefaultTier:             data.TierImportant,
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/streams/cam-1/retention", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	// The stream name comes from the URL, not the body.
	assert.Equal(t, "cam-1", ret.policies["cam-1"].StreamName)
	assert.Equal(t, 14, ret.policies["cam-1"].RetentionDays)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/streams/cam-1/retention", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var got data.RetentionPolicy
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, data.TierImportant, got.DefaultTier)
}

func TestStorageHealthAndSweep(t *testing.T) {
	_, _, _, sw, router := setup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/storage/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "warning", got["pressure"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/storage/sweep", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, sw.triggered)
}

func TestHealthEndpoint(t *testing.T) {
	_, _, _, _, router := setup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
