package recording

import (
	"log"
	"sync"
	"time"

	"github.com/opensensor/lightNVR-sub006/internal/metrics"
)

// MotionEvent is a single motion state change reported by a detector.
// Events are copied into the queue by value and never shared after push.
type MotionEvent struct {
	StreamName string
	Active     bool
	Timestamp  time.Time
	Confidence float32
	EventType  string
}

// EventQueue is a bounded FIFO of motion events with a single consumer.
// Push never blocks: when the queue is full the oldest pending event is
// dropped to make room. Pop blocks until an event arrives or the queue is
// shut down.
type EventQueue struct {
	mu     sync.Mutex
	ch     chan MotionEvent
	closed bool
	once   sync.Once

	dropped uint64
}

func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &EventQueue{
		ch: make(chan MotionEvent, capacity),
	}
}

// Push inserts an event, evicting the oldest pending event if the queue is
// full. Returns false only after shutdown.
func (q *EventQueue) Push(evt MotionEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	select {
	case q.ch <- evt:
	default:
		// Full: drop the oldest entry, then insert. The drain and insert
		// happen under q.mu so concurrent producers cannot interleave.
		select {
		case old := <-q.ch:
			q.dropped++
			metrics.MotionEventsDropped.Inc()
			log.Printf("[WARN] motion event queue full, dropping oldest event (stream: %s)", old.StreamName)
		default:
		}
		q.ch <- evt
	}
	return true
}

// Pop blocks until an event is available. The second return value is false
// when the queue has been shut down and fully drained.
func (q *EventQueue) Pop() (MotionEvent, bool) {
	evt, ok := <-q.ch
	return evt, ok
}

// Len reports the number of pending events.
func (q *EventQueue) Len() int {
	return len(q.ch)
}

// Dropped reports how many events were evicted by the overflow policy.
func (q *EventQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Shutdown wakes any blocked consumer. Idempotent; pending events remain
// consumable until drained.
func (q *EventQueue) Shutdown() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}
