package engine

import (
	"log/slog"
	"sync"

	"github.com/talgya/shadowscale/internal/metrics"
	"github.com/talgya/shadowscale/internal/state"
)

// DefaultHistoryQueue is how many summaries may wait for the sink before
// new ones are dropped.
const DefaultHistoryQueue = 256

// historyWriter feeds turn summaries to a HistorySink from its own
// goroutine. The tick goroutine only ever does a non-blocking send.
type historyWriter struct {
	sink  HistorySink
	queue chan state.TurnSummary
	done  chan struct{}
	once  sync.Once
}

func newHistoryWriter(sink HistorySink, size int) *historyWriter {
	if size <= 0 {
		size = DefaultHistoryQueue
	}
	w := &historyWriter{
		sink:  sink,
		queue: make(chan state.TurnSummary, size),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *historyWriter) run() {
	defer close(w.done)
	for s := range w.queue {
		if err := w.sink.SaveSummary(s); err != nil {
			slog.Warn("save turn summary", "turn", s.Turn, "error", err)
		}
	}
}

// Enqueue reports false when the queue is full and s was dropped.
func (w *historyWriter) Enqueue(s state.TurnSummary) bool {
	select {
	case w.queue <- s:
		return true
	default:
		metrics.HistoryDropped.Inc()
		slog.Warn("history queue full, summary dropped", "turn", s.Turn)
		return false
	}
}

// Close stops accepting summaries and waits until the queued ones are saved.
func (w *historyWriter) Close() {
	w.once.Do(func() { close(w.queue) })
	<-w.done
}
