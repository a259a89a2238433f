package recording

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/opensensor/lightNVR-sub006/internal/metrics"
)

var (
	ErrPoolExhausted  = errors.New("packet buffer pool memory exhausted")
	ErrBufferExists   = errors.New("packet buffer already exists for stream")
	ErrBufferNotFound = errors.New("packet buffer not found")
)

// Packet is one compressed media packet handed to the engine by the
// ingestion pipeline. Data is owned by the buffer once added.
type Packet struct {
	Data     []byte
	PTS      int64
	Keyframe bool
}

type bufferedPacket struct {
	packet    Packet
	timestamp time.Time
}

// PacketBuffer holds the most recent window of packets for one stream.
// Entries older than the window are dropped lazily on Add. All byte
// accounting is delegated to the owning pool.
type PacketBuffer struct {
	pool       *BufferPool
	streamName string
	window     time.Duration

	mu      sync.Mutex
	entries []bufferedPacket

	memoryBytes    int64
	totalBuffered  uint64
	totalDropped   uint64
	peakMemoryByte int64
}

// BufferStats is a point-in-time snapshot of one stream's buffer.
type BufferStats struct {
	PacketCount   int
	MemoryBytes   int64
	Duration      time.Duration
	KeyframeCount int
}

// BufferPool caps the total memory held by all packet buffers. When an
// insert would exceed the cap, the globally-oldest packet across all
// streams is evicted first. Lock order is always pool then buffer.
type BufferPool struct {
	mu         sync.Mutex
	limitBytes int64
	usageBytes int64
	buffers    map[string]*PacketBuffer

	evictions uint64
}

func NewBufferPool(limitMB int) *BufferPool {
	if limitMB <= 0 {
		limitMB = DefaultPoolMemoryMB
	}
	return &BufferPool{
		limitBytes: int64(limitMB) * 1024 * 1024,
		buffers:    make(map[string]*PacketBuffer),
	}
}

// SetLimitMB updates the pool-wide cap. Existing buffers are not disrupted;
// overage drains through normal eviction on subsequent adds.
func (p *BufferPool) SetLimitMB(limitMB int) {
	if limitMB <= 0 {
		return
	}
	p.mu.Lock()
	old := p.limitBytes
	p.limitBytes = int64(limitMB) * 1024 * 1024
	p.mu.Unlock()
	if old != int64(limitMB)*1024*1024 {
		log.Printf("[INFO] packet buffer pool limit updated: %d MB -> %d MB", old/(1024*1024), limitMB)
	}
}

// Create registers a new buffer covering windowSeconds of traffic.
func (p *BufferPool) Create(streamName string, windowSeconds int) (*PacketBuffer, error) {
	if streamName == "" || windowSeconds <= 0 {
		return nil, errors.New("invalid packet buffer parameters")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.buffers[streamName]; ok {
		return nil, ErrBufferExists
	}
	b := &PacketBuffer{
		pool:       p,
		streamName: streamName,
		window:     time.Duration(windowSeconds) * time.Second,
	}
	p.buffers[streamName] = b
	log.Printf("[INFO] created packet buffer for stream: %s (window: %ds)", streamName, windowSeconds)
	return b, nil
}

// Remove unregisters a buffer and returns its memory to the pool.
func (p *BufferPool) Remove(streamName string) {
	p.mu.Lock()
	b, ok := p.buffers[streamName]
	if ok {
		delete(p.buffers, streamName)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	b.mu.Lock()
	freed := b.memoryBytes
	b.entries = nil
	b.memoryBytes = 0
	b.mu.Unlock()

	p.mu.Lock()
	p.usageBytes -= freed
	p.mu.Unlock()
	log.Printf("[INFO] destroyed packet buffer for stream: %s", streamName)
}

// UsageBytes reports current pool-wide memory usage.
func (p *BufferPool) UsageBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usageBytes
}

// Evictions reports how many packets were evicted to honor the cap.
func (p *BufferPool) Evictions() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictions
}

// reserve accounts size bytes against the cap, evicting the globally-oldest
// packets until the new packet fits. Fails only when nothing is left to
// evict and the packet still does not fit.
func (p *BufferPool) reserve(size int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.usageBytes+size > p.limitBytes {
		victim := p.oldestLocked()
		if victim == nil {
			return ErrPoolExhausted
		}
		freed := victim.dropOldest()
		if freed == 0 {
			return ErrPoolExhausted
		}
		p.usageBytes -= freed
		p.evictions++
		metrics.BufferPoolEvictions.Inc()
	}
	p.usageBytes += size
	return nil
}

// release returns bytes freed by window pruning to the pool.
func (p *BufferPool) release(size int64) {
	if size == 0 {
		return
	}
	p.mu.Lock()
	p.usageBytes -= size
	p.mu.Unlock()
}

// oldestLocked finds the buffer holding the oldest packet pool-wide.
// Caller holds p.mu.
func (p *BufferPool) oldestLocked() *PacketBuffer {
	var victim *PacketBuffer
	var oldest time.Time
	for _, b := range p.buffers {
		t, ok := b.oldestTimestamp()
		if !ok {
			continue
		}
		if victim == nil || t.Before(oldest) {
			victim = b
			oldest = t
		}
	}
	return victim
}

func (b *PacketBuffer) oldestTimestamp() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return time.Time{}, false
	}
	return b.entries[0].timestamp, true
}

// dropOldest removes the front entry and returns its size in bytes.
func (b *PacketBuffer) dropOldest() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return 0
	}
	size := int64(len(b.entries[0].packet.Data))
	b.entries = b.entries[1:]
	b.memoryBytes -= size
	b.totalDropped++
	return size
}

// Add appends a packet captured at ts, pruning entries that fell out of the
// time window. The packet is rejected when the pool cannot make room.
func (b *PacketBuffer) Add(pkt Packet, ts time.Time) error {
	size := int64(len(pkt.Data))

	b.mu.Lock()
	freed := b.pruneLocked(ts)
	b.mu.Unlock()
	b.pool.release(freed)

	if err := b.pool.reserve(size); err != nil {
		log.Printf("[WARN] rejecting packet for stream %s: %v", b.streamName, err)
		return err
	}

	b.mu.Lock()
	b.entries = append(b.entries, bufferedPacket{packet: pkt, timestamp: ts})
	b.memoryBytes += size
	if b.memoryBytes > b.peakMemoryByte {
		b.peakMemoryByte = b.memoryBytes
	}
	b.totalBuffered++
	b.mu.Unlock()
	return nil
}

// pruneLocked drops entries older than the window relative to now and
// returns the bytes freed. Caller holds b.mu.
func (b *PacketBuffer) pruneLocked(now time.Time) int64 {
	cutoff := now.Add(-b.window)
	var freed int64
	i := 0
	for ; i < len(b.entries); i++ {
		if !b.entries[i].timestamp.Before(cutoff) {
			break
		}
		freed += int64(len(b.entries[i].packet.Data))
		b.totalDropped++
	}
	if i > 0 {
		b.entries = b.entries[i:]
		b.memoryBytes -= freed
	}
	return freed
}

// Flush invokes cb once per retained packet in capture order and returns the
// count delivered. The buffer is not cleared: ingestion continues, and
// once-per-episode semantics are enforced by the caller's bufferFlushed
// flag, not here.
func (b *PacketBuffer) Flush(cb func(Packet) error) int {
	b.mu.Lock()
	snapshot := make([]bufferedPacket, len(b.entries))
	copy(snapshot, b.entries)
	b.mu.Unlock()

	flushed := 0
	for _, e := range snapshot {
		if err := cb(e.packet); err != nil {
			log.Printf("[WARN] packet flush callback failed for stream %s: %v", b.streamName, err)
			continue
		}
		flushed++
	}
	return flushed
}

// Stats returns a read-only snapshot; no side effects.
func (b *PacketBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BufferStats{
		PacketCount: len(b.entries),
		MemoryBytes: b.memoryBytes,
	}
	if len(b.entries) > 0 {
		s.Duration = b.entries[len(b.entries)-1].timestamp.Sub(b.entries[0].timestamp)
	}
	for _, e := range b.entries {
		if e.packet.Keyframe {
			s.KeyframeCount++
		}
	}
	return s
}
