package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensensor/lightNVR-sub006/internal/recording"
)

// MotionMessage is the wire form of a camera motion notification.
type MotionMessage struct {
	StreamName string    `json:"stream_name"`
	Active     bool      `json:"active"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float32   `json:"confidence,omitempty"`
	EventType  string    `json:"event_type,omitempty"`
}

// MotionSink accepts decoded motion events. The recording engine
// implements it.
type MotionSink interface {
	ProcessEvent(evt recording.MotionEvent) error
}

// Subscriber bridges NATS motion notifications into the recording engine,
// collapsing retransmitted duplicates on the way.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	dedup   *Dedup
	sink    MotionSink
	sub     *nats.Subscription
}

func NewSubscriber(conn *nats.Conn, subject string, dedup *Dedup, sink MotionSink) *Subscriber {
	return &Subscriber{
		conn:    conn,
		subject: subject,
		dedup:   dedup,
		sink:    sink,
	}
}

func (s *Subscriber) Start() error {
	sub, err := s.conn.Subscribe(s.subject, s.handle)
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("[INFO] subscribed to motion events on %s", s.subject)
	return nil
}

func (s *Subscriber) Stop() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			log.Printf("[WARN] motion unsubscribe failed: %v", err)
		}
	}
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var m MotionMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Printf("[WARN] dropping malformed motion message: %v", err)
		return
	}
	if m.StreamName == "" {
		log.Printf("[WARN] dropping motion message without stream name")
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.EventType == "" {
		m.EventType = "motion"
	}

	key := BuildDedupKey(m.StreamName, m.EventType, m.Active, m.Timestamp)
	if s.dedup != nil && s.dedup.IsDuplicate(key) {
		log.Printf("[DEBUG] duplicate motion event suppressed (stream: %s)", m.StreamName)
		return
	}

	evt := recording.MotionEvent{
		StreamName: m.StreamName,
		Active:     m.Active,
		Timestamp:  m.Timestamp,
		Confidence: m.Confidence,
		EventType:  m.EventType,
	}
	if err := s.sink.ProcessEvent(evt); err != nil {
		log.Printf("[WARN] motion event rejected (stream: %s): %v", m.StreamName, err)
	}
}
