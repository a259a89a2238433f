package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MotionEventsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_events_queued_total",
		Help: "Total number of motion events pushed into the event queue",
	})

	MotionEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_events_dropped_total",
		Help: "Total number of motion events evicted by the queue overflow policy",
	})

	EventQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "motion_event_queue_depth",
		Help: "Current number of pending motion events",
	})

	RecordingsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_recordings_started_total",
		Help: "Total number of motion recordings started",
	})

	RecordingsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_recordings_stopped_total",
		Help: "Total number of motion recordings stopped",
	})

	RecordingStartFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_recording_start_failures_total",
		Help: "Total number of failed recording start attempts",
	})

	BufferFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packet_buffer_flushes_total",
		Help: "Total number of pre-roll buffer flushes into recordings",
	})

	BufferPoolBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "packet_buffer_pool_bytes",
		Help: "Current memory held by the packet buffer pool",
	})

	BufferPoolEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packet_buffer_pool_evictions_total",
		Help: "Total packets evicted pool-wide to honor the memory cap",
	})
)
