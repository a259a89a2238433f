package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// LifecycleEvent announces a recording state change on the bus.
type LifecycleEvent struct {
	Event      string    `json:"event"`
	StreamName string    `json:"stream_name"`
	FilePath   string    `json:"file_path,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits recording lifecycle events over NATS with bounded retry.
// It satisfies both the recording engine's notifier and the sweeper's
// eviction notifier.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int) *Publisher {
	return &Publisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *Publisher) RecordingStarted(streamName, path string) {
	p.publish(LifecycleEvent{
		Event:      "recording_started",
		StreamName: streamName,
		FilePath:   path,
		OccurredAt: time.Now().UTC(),
	})
}

func (p *Publisher) RecordingStopped(streamName, path string) {
	p.publish(LifecycleEvent{
		Event:      "recording_stopped",
		StreamName: streamName,
		FilePath:   path,
		OccurredAt: time.Now().UTC(),
	})
}

func (p *Publisher) RecordingEvicted(streamName, path, reason string) {
	p.publish(LifecycleEvent{
		Event:      "recording_evicted",
		StreamName: streamName,
		FilePath:   path,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
}

func (p *Publisher) publish(evt LifecycleEvent) {
	if err := p.Publish(evt); err != nil {
		log.Printf("[WARN] lifecycle publish failed (event: %s, stream: %s): %v",
			evt.Event, evt.StreamName, err)
	}
}

func (p *Publisher) Publish(evt LifecycleEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
