package engine

import (
	"sync"
	"time"

	"github.com/talgya/shadowscale/internal/metrics"
	"github.com/talgya/shadowscale/internal/state"
)

// Event is a notable change in the mirrored world, fanned out to stream
// subscribers.
type Event struct {
	Seq         uint64    `json:"seq"`
	Turn        int64     `json:"turn"`
	Category    string    `json:"category"` // "snapshot", "tile", "entity", "removed", "tension", "grid", "log", "channel"
	Description string    `json:"description"`
	Data        any       `json:"data,omitempty"`
	Time        time.Time `json:"time"`
}

// Broadcaster fans events out to subscribers and keeps the most recent
// ones for catch-up. Publish never blocks: a subscriber whose buffer is
// full misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	seq    uint64
	recent *state.Ring[Event]
	buffer int
}

// NewBroadcaster keeps recent events for catch-up and gives each
// subscriber a channel of the given buffer size.
func NewBroadcaster(recent, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[uint64]chan Event),
		recent: state.NewRing[Event](recent),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() (id uint64, events <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[b.nextID] = ch
	metrics.StreamSubscribers.Inc()
	return b.nextID, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
		metrics.StreamSubscribers.Dec()
	}
}

// Publish stamps e with a sequence number and delivers it.
func (b *Broadcaster) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	e.Seq = b.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.recent.Push(e)
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			metrics.EventsDropped.Inc()
		}
	}
	return e
}

// Recent returns the retained events, oldest first.
func (b *Broadcaster) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recent.Items()
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
