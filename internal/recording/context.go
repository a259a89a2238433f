package recording

import (
	"errors"
	"log"
	"sync"
	"time"
)

var ErrNoFreeSlot = errors.New("no free recording context slot")

// State is the per-stream recording lifecycle state.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// StreamConfig is the persisted per-stream motion recording configuration.
type StreamConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	PreBufferSeconds  int  `yaml:"pre_buffer_seconds" json:"pre_buffer_seconds"`
	PostBufferSeconds int  `yaml:"post_buffer_seconds" json:"post_buffer_seconds"`
	MaxFileDuration   int  `yaml:"max_file_duration" json:"max_file_duration"`
}

// Stats is the per-stream counter snapshot exposed to callers.
type Stats struct {
	TotalRecordings   uint64 `json:"total_recordings"`
	TotalMotionEvents uint64 `json:"total_motion_events"`
	TotalBufferFlushes uint64 `json:"total_buffer_flushes"`
}

// streamContext holds the mutable recording state for one stream. All fields are
// protected by mu, never by the owning table's lock.
type streamContext struct {
	mu sync.Mutex

	streamName    string
	enabled       bool
	state         State
	bufferEnabled bool
	buffer        *PacketBuffer

	preBufferSeconds  int
	postBufferSeconds int
	maxFileDuration   int

	recordingStart  time.Time
	lastMotionTime  time.Time
	stateChangeTime time.Time
	currentFilePath string
	currentID       string

	totalRecordings    uint64
	totalMotionEvents  uint64
	totalBufferFlushes uint64

	bufferFlushed bool
}

// contextTable is a capacity-bounded registry of per-stream contexts.
// Contexts are created lazily and reclaimed only at engine shutdown. The
// table lock covers lookup and creation only.
type contextTable struct {
	mu       sync.Mutex
	capacity int
	contexts map[string]*streamContext
}

func newContextTable(capacity int) *contextTable {
	if capacity <= 0 {
		capacity = DefaultMaxStreams
	}
	return &contextTable{
		capacity: capacity,
		contexts: make(map[string]*streamContext, capacity),
	}
}

func (t *contextTable) get(streamName string) *streamContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.contexts[streamName]
}

// getOrCreate returns the existing context or claims a free slot.
func (t *contextTable) getOrCreate(streamName string) (*streamContext, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ctx, ok := t.contexts[streamName]; ok {
		return ctx, nil
	}
	if len(t.contexts) >= t.capacity {
		return nil, ErrNoFreeSlot
	}
	ctx := &streamContext{
		streamName:        streamName,
		state:             StateIdle,
		preBufferSeconds:  DefaultPreBufferSeconds,
		postBufferSeconds: DefaultPostBufferSeconds,
		maxFileDuration:   DefaultMaxFileDuration,
	}
	t.contexts[streamName] = ctx
	log.Printf("[INFO] created motion recording context for stream: %s", streamName)
	return ctx, nil
}

// all returns a stable snapshot of registered contexts so callers can walk
// them without holding the table lock.
func (t *contextTable) all() []*streamContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*streamContext, 0, len(t.contexts))
	for _, ctx := range t.contexts {
		out = append(out, ctx)
	}
	return out
}
