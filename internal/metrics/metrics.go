// Package metrics holds the Prometheus instruments for the stream channels
// and the reconciliation loop. Instruments register with the default
// registry; the API serves them at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowscale_frames_received_total",
		Help: "Complete frames extracted from a stream channel",
	}, []string{"channel"})

	FrameBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowscale_frame_bytes_total",
		Help: "Payload bytes extracted from a stream channel",
	}, []string{"channel"})

	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowscale_connect_attempts_total",
		Help: "Connection attempts started per channel",
	}, []string{"channel"})

	ConnectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shadowscale_connection_status",
		Help: "Connection status per channel (0 none, 1 connecting, 2 connected, 3 error)",
	}, []string{"channel"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowscale_decode_errors_total",
		Help: "Payloads skipped because they could not be decoded",
	}, []string{"channel", "reason"})

	MessagesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowscale_messages_applied_total",
		Help: "Messages applied to the state store by kind",
	}, []string{"kind"})

	EntriesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowscale_entries_rejected_total",
		Help: "Malformed list entries dropped during ingestion",
	}, []string{"field"})

	TensionsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadowscale_tensions_raised_total",
		Help: "Culture tension notifications raised",
	})

	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shadowscale_apply_duration_seconds",
		Help:    "Time spent decoding and applying one message",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shadowscale_tick_duration_seconds",
		Help:    "Time spent in one client tick",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	LiveTiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shadowscale_live_tiles",
		Help: "Tiles currently held by the state store",
	})

	CurrentTurn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shadowscale_turn",
		Help: "Most recent simulation turn applied",
	})

	LogLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowscale_log_lines_total",
		Help: "Log envelopes received on the log channel by level",
	}, []string{"level"})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shadowscale_stream_subscribers",
		Help: "Active SSE and WebSocket event subscribers",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadowscale_events_dropped_total",
		Help: "Events dropped because a subscriber fell behind",
	})

	HistoryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadowscale_history_dropped_total",
		Help: "Turn summaries dropped because the history sink fell behind",
	})
)

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
