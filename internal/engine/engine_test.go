package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/talgya/shadowscale/internal/config"
	"github.com/talgya/shadowscale/internal/protocol"
	"github.com/talgya/shadowscale/internal/state"
	"github.com/talgya/shadowscale/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const snapshotJSON = `{
	"turn": 3,
	"grid": {"width": 2, "height": 2},
	"tiles": [
		{"entity": 1, "x": 0, "y": 0, "terrain": 0},
		{"entity": 2, "x": 1, "y": 0, "terrain": 6},
		{"entity": 3, "x": 0, "y": 1, "terrain": 6},
		{"entity": 4, "x": 1, "y": 1, "terrain": 20}
	],
	"culture_tensions": [{"layer_id": 1, "kind": "SchismRisk", "severity": 0.8, "timer": 2}]
}`

type memSink struct {
	mu    sync.Mutex
	saved []state.TurnSummary
	err   error
}

func (m *memSink) SaveSummary(s state.TurnSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return m.err
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func refuse(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

func TestClient_Ingest(t *testing.T) {
	sink := &memSink{}
	c := NewClient(config.Default(), Options{Sink: sink, Dial: refuse})

	res, err := c.Ingest([]byte(snapshotJSON))
	require.NoError(t, err)
	assert.Equal(t, protocol.KindSnapshot, res.Kind)
	assert.True(t, res.GridChanged)
	assert.Zero(t, res.Tensions, "snapshots do not raise tensions")

	assert.True(t, c.Layout.Ready())
	assert.Equal(t, 2, c.Layout.Grid().Width)
	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), sink.saved[0].Turn)

	var categories []string
	for _, e := range c.Events.Recent() {
		categories = append(categories, e.Category)
	}
	assert.Equal(t, []string{"grid", "snapshot"}, categories)

	res, err = c.Ingest([]byte(`{"turn": 4, "tile_updates": [{"entity": 2, "x": 1, "y": 0, "terrain": 0}], "tile_removed": [4],
		"culture_tensions": [{"layer_id": 1, "kind": "SchismRisk", "severity": 0.8, "timer": 2}]}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.KindDelta, res.Kind)
	assert.Equal(t, 1, res.Tensions)
	last := c.Events.Recent()
	assert.Equal(t, "tension", last[len(last)-1].Category)
	assert.Equal(t, 3, c.Store.TileCount())

	st := c.Status()
	assert.Equal(t, int64(4), st.Turn)
	assert.Equal(t, uint64(2), st.Applied)
	assert.Equal(t, "127.0.0.1:41001", st.Command)
	require.Len(t, st.Channels, 2)
	assert.Equal(t, "snapshot", st.Channels[0].Name)

	c.Close()
	assert.Equal(t, 2, sink.len(), "close flushes queued summaries")
}

func TestClient_IngestRejected(t *testing.T) {
	c := NewClient(config.Default(), Options{Dial: refuse})

	_, err := c.Ingest([]byte(`{"turn": "soon"}`))
	assert.ErrorIs(t, err, protocol.ErrSchema)
	_, err = c.Ingest([]byte(`not json`))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
	_, err = c.Ingest([]byte(`{"turn":1,"grid":{"width":8000,"height":8000}}`))
	assert.ErrorIs(t, err, protocol.ErrSchema)
	assert.False(t, c.Layout.Ready(), "oversized grid never reaches the layout")
	assert.Zero(t, c.Store.Turn())
	assert.Empty(t, c.Store.History())
}

func TestClient_SinkErrorDoesNotStopApply(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	c := NewClient(config.Default(), Options{Sink: sink, Dial: refuse})
	defer c.Close()
	_, err := c.Ingest([]byte(snapshotJSON))
	require.NoError(t, err)
	assert.Equal(t, 4, c.Store.TileCount())
	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
}

// gateSink blocks every save until release is closed.
type gateSink struct {
	memSink
	release chan struct{}
}

func (g *gateSink) SaveSummary(s state.TurnSummary) error {
	<-g.release
	return g.memSink.SaveSummary(s)
}

func TestClient_SlowSinkDoesNotBlockIngest(t *testing.T) {
	sink := &gateSink{release: make(chan struct{})}
	c := NewClient(config.Default(), Options{Sink: sink, SinkQueue: 4, Dial: refuse})

	start := time.Now()
	for turn := 1; turn <= 10; turn++ {
		_, err := c.Ingest([]byte(fmt.Sprintf(`{"turn": %d, "tile_removed": []}`, turn)))
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, sink.len())
	assert.Equal(t, int64(10), c.Store.Turn())

	close(sink.release)
	c.Close()
	// One summary may already be held by the writer besides the four queued.
	n := sink.len()
	assert.GreaterOrEqual(t, n, 4)
	assert.LessOrEqual(t, n, 5)
	assert.Equal(t, int64(1), sink.saved[0].Turn)
}

func TestClient_Relief(t *testing.T) {
	c := NewClient(config.Default(), Options{Dial: refuse})
	assert.Nil(t, c.Relief(), "no grid yet")

	_, err := c.Ingest([]byte(snapshotJSON))
	require.NoError(t, err)
	hf := c.Relief()
	require.NotNil(t, hf)
	assert.Equal(t, 2, hf.Width)
	assert.Same(t, hf, c.Relief(), "cached until something changes")

	_, err = c.Ingest([]byte(`{"turn": 5, "overlays": {"elevation": [0, 10, 20, 40]}}`))
	require.NoError(t, err)
	hf = c.Relief()
	assert.Equal(t, []float64{0, 0.25, 0.5, 1}, hf.Samples)
}

func TestClient_TickOverStream(t *testing.T) {
	server, client := net.Pipe()
	dial := func(_ context.Context, _, addr string) (net.Conn, error) {
		if addr == "127.0.0.1:41000" {
			return client, nil
		}
		return nil, errors.New("connection refused")
	}
	c := NewClient(config.Default(), Options{Dial: dial})
	defer c.Close()

	go func() {
		_ = transport.WriteFrame(server, []byte(snapshotJSON))
	}()

	require.Eventually(t, func() bool {
		c.Tick(time.Now())
		return c.Store.Turn() == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		c.Tick(time.Now())
		return c.Status().Channels[1].Status == "error"
	}, 2*time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.Equal(t, "connected", st.Channels[0].Status)
	assert.Equal(t, uint64(1), st.Channels[0].Frames)
	assert.Contains(t, st.Channels[1].Line, "127.0.0.1:41002")
	server.Close()
}

func TestClient_Query(t *testing.T) {
	c := NewClient(config.Default(), Options{Dial: refuse})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	var turn int64 = -1
	require.NoError(t, c.Query(ctx, func(c *Client) {
		_, err := c.Ingest([]byte(snapshotJSON))
		assert.NoError(t, err)
		turn = c.Store.Turn()
	}))
	assert.Equal(t, int64(3), turn)

	cancel()
	<-done
	assert.ErrorIs(t, c.Query(context.Background(), func(*Client) {}), ErrStopped)
}

func TestEngine_DoContext(t *testing.T) {
	e := NewEngine(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Do(ctx, func() {}), context.Canceled)
}

func TestEngine_Step(t *testing.T) {
	e := NewEngine(0)
	assert.Equal(t, DefaultInterval, e.Interval)
	var ticks []uint64
	e.OnTick = func(tick uint64, _ time.Time) { ticks = append(ticks, tick) }
	e.Step(time.Now())
	e.Step(time.Now())
	assert.Equal(t, []uint64{1, 2}, ticks)
	assert.Equal(t, uint64(2), e.Tick())
}

func TestTimer(t *testing.T) {
	base := time.Unix(1000, 0)
	tm := NewTimer(2 * time.Second)
	assert.True(t, tm.Due(base), "due immediately")
	assert.False(t, tm.Due(base.Add(time.Second)))
	assert.True(t, tm.Due(base.Add(2*time.Second)))

	tm.SetInterval(5 * time.Second)
	tm.SetInterval(0)
	assert.Equal(t, 5*time.Second, tm.Interval())
	assert.False(t, tm.Due(base.Add(6*time.Second)))

	tm.Reset()
	assert.True(t, tm.Due(base.Add(6*time.Second)))
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(2, 1)
	id, ch := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	first := b.Publish(Event{Category: "tile"})
	b.Publish(Event{Category: "grid"}) // subscriber buffer full, dropped
	b.Publish(Event{Category: "snapshot"})

	got := <-ch
	assert.Equal(t, first.Seq, got.Seq)
	assert.False(t, got.Time.IsZero())

	recent := b.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "grid", recent[0].Category)
	assert.Equal(t, uint64(3), recent[1].Seq)

	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.Subscribers())
	b.Unsubscribe(id)
}
