package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/shadowscale/internal/config"
	"github.com/talgya/shadowscale/internal/logstream"
	"github.com/talgya/shadowscale/internal/metrics"
	"github.com/talgya/shadowscale/internal/protocol"
	"github.com/talgya/shadowscale/internal/state"
	"github.com/talgya/shadowscale/internal/transport"
	"github.com/talgya/shadowscale/internal/world"
)

// HistorySink receives every turn summary the store records.
type HistorySink interface {
	SaveSummary(s state.TurnSummary) error
}

// Client mirrors the remote simulation. All fields are owned by the engine
// goroutine; other goroutines use Query.
type Client struct {
	Store  *state.Store
	Layout *world.Layout
	Logs   *logstream.Buffer
	Events *Broadcaster

	engine   *Engine
	snapshot *Channel
	logs     *Channel
	command  config.Endpoint
	history  *historyWriter

	forwardLogs bool
	relief      *world.HeightField
	reliefDirty bool
	started     time.Time
	lastApply   time.Time
	applied     uint64
}

// Options configures a Client beyond what Config carries.
type Options struct {
	Sink      HistorySink        // Optional history mirror
	SinkQueue int                // Summaries buffered for Sink; 0 selects DefaultHistoryQueue
	Dial      transport.DialFunc // Optional dialer, for tests
}

// NewClient wires the store, layout, channels and engine from cfg.
func NewClient(cfg config.Config, opts Options) *Client {
	tcfg := transport.Config{MaxFrameSize: cfg.MaxFrameSize, Dial: opts.Dial}
	c := &Client{
		Store:       state.New(state.Options{HistorySize: cfg.HistorySize}),
		Layout:      world.NewLayout(cfg.TileScale),
		Logs:        logstream.NewBuffer(cfg.LogCapacity),
		Events:      NewBroadcaster(50, 64),
		engine:      NewEngine(cfg.TickInterval),
		snapshot:    NewChannel(config.ChannelSnapshot, cfg.Endpoint(config.ChannelSnapshot), tcfg, cfg.ReconnectInterval),
		logs:        NewChannel(config.ChannelLog, cfg.Endpoint(config.ChannelLog), tcfg, cfg.ReconnectInterval),
		command:     cfg.Endpoint(config.ChannelCommand),
		forwardLogs: cfg.ForwardLogs,
		reliefDirty: true,
		started:     time.Now(),
	}
	if opts.Sink != nil {
		c.history = newHistoryWriter(opts.Sink, opts.SinkQueue)
	}
	c.engine.OnTick = c.tick
	c.Store.Subscribe(c)
	return c
}

// Run drives the client until ctx is done and then closes both channels.
func (c *Client) Run(ctx context.Context) {
	c.engine.Run(ctx)
	c.Close()
}

// Close drops both stream connections and waits for queued turn summaries
// to reach the history sink.
func (c *Client) Close() {
	c.snapshot.Close()
	c.logs.Close()
	if c.history != nil {
		c.history.Close()
	}
}

// Query runs fn on the engine goroutine, where it may read every field.
func (c *Client) Query(ctx context.Context, fn func(c *Client)) error {
	return c.engine.Do(ctx, func() { fn(c) })
}

// Reconfigure applies the settings that can change while running.
func (c *Client) Reconfigure(cfg config.Config) {
	c.snapshot.SetReconnectInterval(cfg.ReconnectInterval)
	c.logs.SetReconnectInterval(cfg.ReconnectInterval)
	c.forwardLogs = cfg.ForwardLogs
}

// Tick runs one client step by hand. It must not be called while Run is
// active.
func (c *Client) Tick(now time.Time) {
	c.engine.Step(now)
}

func (c *Client) tick(_ uint64, now time.Time) {
	for _, payload := range c.snapshot.Poll(now) {
		if _, err := c.Ingest(payload); err != nil {
			c.decodeFailed(config.ChannelSnapshot, err)
		}
	}
	for _, payload := range c.logs.Poll(now) {
		c.ingestLog(payload)
	}
}

// Ingest decodes one snapshot-channel payload and applies it.
func (c *Client) Ingest(payload []byte) (state.Result, error) {
	start := time.Now()
	msg, err := protocol.Decode(payload)
	if err != nil {
		return state.Result{}, err
	}

	for _, r := range msg.Rejected {
		slog.Debug("entry rejected", "field", r.Field, "index", r.Index, "reason", r.Reason)
		metrics.EntriesRejected.WithLabelValues(r.Field).Inc()
	}

	if msg.Overlays.Present {
		c.reliefDirty = true
	}
	res := c.Store.Apply(msg)
	metrics.ObserveSince(metrics.ApplyDuration, start)
	metrics.MessagesApplied.WithLabelValues(res.Kind.String()).Inc()
	metrics.CurrentTurn.Set(float64(res.Turn))
	metrics.LiveTiles.Set(float64(c.Store.TileCount()))
	metrics.TensionsRaised.Add(float64(res.Tensions))

	if res.Skipped > 0 {
		slog.Warn("skipped malformed entries", "kind", res.Kind.String(), "turn", res.Turn, "skipped", res.Skipped)
	}
	c.applied++
	c.lastApply = start

	if c.history != nil {
		if sum, ok := c.Store.LastSummary(); ok {
			c.history.Enqueue(sum)
		}
	}
	return res, nil
}

func (c *Client) decodeFailed(ch config.Channel, err error) {
	reason := "malformed"
	if errors.Is(err, protocol.ErrSchema) {
		reason = "schema"
	}
	metrics.DecodeErrors.WithLabelValues(string(ch), reason).Inc()
	slog.Warn("payload skipped", "channel", ch, "reason", reason, "error", err)
}

func (c *Client) ingestLog(payload []byte) {
	line, err := logstream.Parse(payload)
	if err != nil {
		c.decodeFailed(config.ChannelLog, err)
		return
	}
	c.Logs.Push(line)
	metrics.LogLines.WithLabelValues(line.SlogLevel().String()).Inc()
	if c.forwardLogs {
		slog.LogAttrs(context.Background(), line.SlogLevel(), line.Message, line.Attrs()...)
	}
	c.publish("log", line.Message, line)
}

func (c *Client) publish(category, desc string, data any) {
	c.Events.Publish(Event{
		Turn:        c.Store.Turn(),
		Category:    category,
		Description: desc,
		Data:        data,
	})
}

// ── state.Observer ──────────────────────────────────────────────────

// TileChanged marks the relief stale and publishes a tile event.
func (c *Client) TileChanged(tile protocol.Tile) {
	c.reliefDirty = true
	c.publish("tile", fmt.Sprintf("tile %d at (%d,%d) is %s", tile.Entity, tile.X, tile.Y,
		world.TerrainName(world.Terrain(tile.Terrain))), tile)
}

// EntityChanged publishes an entity event.
func (c *Client) EntityChanged(coll state.Collection, id int64) {
	c.publish("entity", fmt.Sprintf("%s %d updated", coll, id), entityRef{coll.String(), id})
}

// EntityRemoved publishes a removal event.
func (c *Client) EntityRemoved(coll state.Collection, id int64) {
	if coll == state.CollectionTiles {
		c.reliefDirty = true
	}
	c.publish("removed", fmt.Sprintf("%s %d removed", coll, id), entityRef{coll.String(), id})
}

// TensionRaised publishes a tension event.
func (c *Client) TensionRaised(t protocol.CultureTension) {
	c.publish("tension", fmt.Sprintf("%s on layer %d (severity %.2f)", t.KindLabel(), t.LayerID, t.Severity), t)
}

// SnapshotApplied publishes a snapshot event.
func (c *Client) SnapshotApplied(turn int64) {
	c.reliefDirty = true
	c.publish("snapshot", fmt.Sprintf("snapshot applied at turn %d", turn), nil)
}

// GridResized rebuilds the layout for the new dimensions.
func (c *Client) GridResized(g protocol.Grid) {
	if c.Layout.Rebuild(g.Width, g.Height) {
		slog.Info("layout rebuilt", "width", g.Width, "height", g.Height)
	}
	c.reliefDirty = true
	c.publish("grid", fmt.Sprintf("grid resized to %dx%d", g.Width, g.Height), g)
}

type entityRef struct {
	Collection string `json:"collection"`
	ID         int64  `json:"id"`
}

// Relief returns per-tile heights for the current grid: the elevation
// overlay when the simulation sends one that fits, otherwise procedural
// relief shaped by the mirrored terrain. The result is cached until the
// grid, the overlays or the tiles change.
func (c *Client) Relief() *world.HeightField {
	if !c.reliefDirty && c.relief != nil {
		return c.relief
	}
	g := c.Store.Grid()
	grid := world.Grid{Width: g.Width, Height: g.Height}

	if raster, ok := c.Store.Overlays().Raster("elevation"); ok {
		hf, err := world.NewHeightField(grid.Width, grid.Height, world.NormalizeRaster(raster))
		if err == nil {
			c.relief, c.reliefDirty = hf, false
			return hf
		}
		slog.Debug("elevation overlay ignored", "error", err, "len", len(raster), "grid", grid.String())
	}

	c.relief = world.ReliefField(grid, world.DefaultReliefConfig(), func(col, row int) (world.Terrain, bool) {
		t, ok := c.Store.TileAt(col, row)
		return world.Terrain(t.Terrain), ok
	})
	c.reliefDirty = false
	return c.relief
}

// Status is the client's view of itself for the status endpoint.
type Status struct {
	Turn      int64         `json:"turn"`
	Grid      protocol.Grid `json:"grid"`
	Tiles     int           `json:"tiles"`
	Tick      uint64        `json:"tick"`
	Applied   uint64        `json:"applied"`
	LastApply *time.Time    `json:"last_apply,omitempty"`
	Uptime    string        `json:"uptime"`
	Channels  []ChannelInfo `json:"channels"`
	Command   string        `json:"command_endpoint"`
	LogLines  uint64        `json:"log_lines"`
	Watchers  int           `json:"subscribers"`
}

// Status reports connection and model state.
func (c *Client) Status() Status {
	s := Status{
		Turn:     c.Store.Turn(),
		Grid:     c.Store.Grid(),
		Tiles:    c.Store.TileCount(),
		Tick:     c.engine.Tick(),
		Applied:  c.applied,
		Uptime:   time.Since(c.started).Truncate(time.Second).String(),
		Channels: []ChannelInfo{c.snapshot.Info(), c.logs.Info()},
		Command:  c.command.String(),
		LogLines: c.Logs.Received(),
		Watchers: c.Events.Subscribers(),
	}
	if !c.lastApply.IsZero() {
		t := c.lastApply
		s.LastApply = &t
	}
	return s
}
