package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensensor/lightNVR-sub006/internal/data"
	"github.com/opensensor/lightNVR-sub006/internal/recording"
)

// EngineControl is the slice of the recording engine the HTTP surface
// needs.
type EngineControl interface {
	Enable(streamName string, cfg recording.StreamConfig) error
	Disable(streamName string) error
	ProcessEvent(evt recording.MotionEvent) error
	GetState(streamName string) recording.State
	GetStats(streamName string) (recording.Stats, error)
	GetBufferStats(streamName string) (recording.BufferStats, error)
	CurrentRecordingPath(streamName string) (string, bool)
	ForceStop(streamName string) error
}

type MotionConfigStore interface {
	Load(ctx context.Context, streamName string) (recording.StreamConfig, error)
	Save(ctx context.Context, streamName string, cfg recording.StreamConfig) error
}

type RetentionStore interface {
	GetPolicy(ctx context.Context, streamName string) (data.RetentionPolicy, error)
	ListPolicies(ctx context.Context) ([]data.RetentionPolicy, error)
	UpsertPolicy(ctx context.Context, p data.RetentionPolicy) error
}

type Handler struct {
	Engine    EngineControl
	Configs   MotionConfigStore
	Retention RetentionStore
	Sweeper   SweepControl
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// GET /api/v1/streams/{name}/motion-config
func (h *Handler) GetMotionConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	cfg, err := h.Configs.Load(r.Context(), name)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "no motion config for stream")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// PUT /api/v1/streams/{name}/motion-config
func (h *Handler) PutMotionConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var cfg recording.StreamConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if cfg.PreBufferSeconds < 0 || cfg.PostBufferSeconds < 0 || cfg.MaxFileDuration < 0 {
		respondError(w, http.StatusBadRequest, "buffer durations must not be negative")
		return
	}

	var err error
	if cfg.Enabled {
		err = h.Engine.Enable(name, cfg)
	} else {
		err = h.Engine.Disable(name)
		if err == nil {
			err = h.Configs.Save(r.Context(), name, cfg)
		}
	}
	if err != nil {
		if errors.Is(err, recording.ErrNoFreeSlot) {
			respondError(w, http.StatusConflict, "stream capacity reached")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// POST /api/v1/motion/events
func (h *Handler) InjectMotionEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamName string     `json:"stream_name"`
		Active     bool       `json:"active"`
		Timestamp  *time.Time `json:"timestamp,omitempty"`
		Confidence float32    `json:"confidence,omitempty"`
		EventType  string     `json:"event_type,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.StreamName == "" {
		respondError(w, http.StatusBadRequest, "stream_name is required")
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	if req.EventType == "" {
		req.EventType = "motion"
	}
	if req.Confidence == 0 {
		req.Confidence = 1.0
	}

	err := h.Engine.ProcessEvent(recording.MotionEvent{
		StreamName: req.StreamName,
		Active:     req.Active,
		Timestamp:  ts,
		Confidence: req.Confidence,
		EventType:  req.EventType,
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// GET /api/v1/streams/{name}/state
func (h *Handler) GetStreamState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	stats, err := h.Engine.GetStats(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown stream")
		return
	}
	state := h.Engine.GetState(name)
	path, recordingNow := h.Engine.CurrentRecordingPath(name)

	respondJSON(w, http.StatusOK, map[string]any{
		"stream_name":          name,
		"state":                state.String(),
		"recording":            recordingNow,
		"current_file":         path,
		"total_recordings":     stats.TotalRecordings,
		"total_motion_events":  stats.TotalMotionEvents,
		"total_buffer_flushes": stats.TotalBufferFlushes,
	})
}

// GET /api/v1/streams/{name}/buffer
func (h *Handler) GetBufferStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	stats, err := h.Engine.GetBufferStats(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "no buffer for stream")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"stream_name":      name,
		"packet_count":     stats.PacketCount,
		"memory_bytes":     stats.MemoryBytes,
		"duration_seconds": stats.Duration.Seconds(),
		"keyframe_count":   stats.KeyframeCount,
	})
}

// POST /api/v1/streams/{name}/stop
func (h *Handler) ForceStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.Engine.ForceStop(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// GET /api/v1/streams/{name}/retention
func (h *Handler) GetRetention(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	policy, err := h.Retention.GetPolicy(r.Context(), name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

// GET /api/v1/retention
func (h *Handler) ListRetention(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Retention.ListPolicies(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if policies == nil {
		policies = []data.RetentionPolicy{}
	}
	respondJSON(w, http.StatusOK, policies)
}

// PUT /api/v1/streams/{name}/retention
func (h *Handler) PutRetention(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var policy data.RetentionPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	policy.StreamName = name

	if err := h.Retention.UpsertPolicy(r.Context(), policy); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, policy)
}
