// Package api serves the mirrored world over HTTP. Every endpoint is a
// read-only GET; handlers reach the model through engine.Client.Query so
// they never race the tick loop.
package api

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/shadowscale/internal/config"
	"github.com/talgya/shadowscale/internal/engine"
	"github.com/talgya/shadowscale/internal/logstream"
	"github.com/talgya/shadowscale/internal/protocol"
	"github.com/talgya/shadowscale/internal/state"
	"github.com/talgya/shadowscale/internal/world"
)

const (
	maxStreamConns = 8
	catchUpEvents  = 50
	heartbeatEvery = 15 * time.Second
	writeTimeout   = 5 * time.Second
)

// Server serves the client state over HTTP.
type Server struct {
	Client  *engine.Client
	Addr    string
	Limiter *RateLimiter // Optional; nil disables rate limiting

	// Active SSE and WebSocket connection count (atomic).
	streamConns int32
	upgrader    websocket.Upgrader
}

// NewServer creates a server for c listening on addr.
func NewServer(c *engine.Client, addr string, limiter *RateLimiter) *Server {
	return &Server{
		Client:  c,
		Addr:    addr,
		Limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the routed, wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/tiles", s.handleTiles)
	mux.HandleFunc("GET /api/v1/tile/{id}", s.handleTileDetail)
	mux.HandleFunc("GET /api/v1/map", s.handleMap)
	mux.HandleFunc("GET /api/v1/pick", s.handlePick)
	mux.HandleFunc("GET /api/v1/terrain", s.handleTerrain)
	mux.HandleFunc("GET /api/v1/influencers", s.handleInfluencers)
	mux.HandleFunc("GET /api/v1/trade_links", s.handleTradeLinks)
	mux.HandleFunc("GET /api/v1/culture", s.handleCulture)
	mux.HandleFunc("GET /api/v1/discovery", s.handleDiscovery)
	mux.HandleFunc("GET /api/v1/indicators", s.handleIndicators)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/logs", s.handleLogs)

	// Streams are long-lived and bypass the rate limiter.
	stream := http.NewServeMux()
	stream.HandleFunc("GET /api/v1/stream", s.handleStream)
	stream.HandleFunc("GET /api/v1/ws", s.handleWS)
	stream.Handle("GET /metrics", promhttp.Handler())

	var api http.Handler = mux
	if s.Limiter != nil {
		api = RateLimitMiddleware(s.Limiter, mux)
	}
	stream.Handle("/", api)
	return corsMiddleware(stream)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("HTTP API starting", "addr", s.Addr, "rate_limited", s.Limiter != nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	if s.Limiter != nil {
		go s.sweep(ctx)
	}

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdown)
		<-errc
		slog.Info("HTTP API stopped")
		return err
	}
}

func (s *Server) sweep(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Limiter.Sweep(now)
		}
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra origins. Localhost
// dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// query runs fn on the engine goroutine and writes its result as JSON.
// fn returns the HTTP status alongside the body; a non-200 body is the
// error text.
func (s *Server) query(w http.ResponseWriter, r *http.Request, fn func(c *engine.Client) (any, int)) {
	var (
		body   any
		status int
	)
	err := s.Client.Query(r.Context(), func(c *engine.Client) {
		body, status = fn(c)
	})
	if err != nil {
		http.Error(w, "client unavailable", http.StatusServiceUnavailable)
		return
	}
	if status != http.StatusOK {
		http.Error(w, fmt.Sprint(body), status)
		return
	}
	writeJSON(w, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, func(c *engine.Client) (any, int) {
		return c.Status(), http.StatusOK
	})
}

type tileEntry struct {
	protocol.Tile
	TerrainName string   `json:"terrain_name"`
	TagLabels   []string `json:"tag_labels,omitempty"`
}

func describeTile(c *engine.Client, t protocol.Tile) tileEntry {
	e := tileEntry{Tile: t, TerrainName: world.TerrainName(world.Terrain(t.Terrain))}
	world.TagBits(t.Tags, func(bit uint16) {
		e.TagLabels = append(e.TagLabels, c.Store.Labels().Ensure(bit))
	})
	return e
}

// handleTiles lists every tile, optionally only one terrain class with
// ?terrain=<id>.
func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	terrain := -1
	if v := r.URL.Query().Get("terrain"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "terrain must be a non-negative integer", http.StatusBadRequest)
			return
		}
		terrain = n
	}

	s.query(w, r, func(c *engine.Client) (any, int) {
		var tiles []protocol.Tile
		if terrain >= 0 {
			for _, id := range c.Store.TilesByTerrain(terrain) {
				if t, ok := c.Store.Tile(id); ok {
					tiles = append(tiles, t)
				}
			}
		} else {
			tiles = c.Store.Tiles()
		}
		out := make([]tileEntry, 0, len(tiles))
		for _, t := range tiles {
			out = append(out, describeTile(c, t))
		}
		return out, http.StatusOK
	})
}

// handleTileDetail returns one tile with its geometry and neighbors.
func (s *Server) handleTileDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid tile id", http.StatusBadRequest)
		return
	}

	type neighborEntry struct {
		Direction string `json:"direction"`
		Col       int    `json:"col"`
		Row       int    `json:"row"`
		Entity    *int64 `json:"entity,omitempty"`
	}

	s.query(w, r, func(c *engine.Client) (any, int) {
		t, ok := c.Store.Tile(id)
		if !ok {
			return "tile not found", http.StatusNotFound
		}
		detail := map[string]any{
			"tile":  describeTile(c, t),
			"axial": world.OffsetToAxial(t.X, t.Y),
		}
		if c.Layout.Ready() && c.Layout.Grid().InBounds(t.X, t.Y) {
			detail["world"] = c.Layout.World(t.X, t.Y)
			detail["corners"] = c.Layout.WorldCorners(t.X, t.Y)
		}
		if hf := c.Relief(); hf != nil {
			detail["height"] = hf.At(t.X, t.Y)
		}

		grid := c.Layout.Grid()
		neighbors := make([]neighborEntry, 0, 6)
		for dir := world.East; dir <= world.SouthEast; dir++ {
			n := world.Neighbor(t.X, t.Y, dir)
			if !grid.InBounds(n.Col, n.Row) {
				continue
			}
			entry := neighborEntry{Direction: dir.String(), Col: n.Col, Row: n.Row}
			if nt, ok := c.Store.TileAt(n.Col, n.Row); ok {
				entity := nt.Entity
				entry.Entity = &entity
			}
			neighbors = append(neighbors, entry)
		}
		detail["neighbors"] = neighbors
		return detail, http.StatusOK
	})
}

// handleMap returns every tile placed in world space for a map renderer.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	type hexEntry struct {
		Entity  int64   `json:"entity"`
		Col     int     `json:"col"`
		Row     int     `json:"row"`
		X       float64 `json:"x"`
		Z       float64 `json:"z"`
		Terrain int     `json:"terrain"`
		Tags    uint16  `json:"tags,omitempty"`
		Height  float64 `json:"height"`
	}

	s.query(w, r, func(c *engine.Client) (any, int) {
		grid := c.Layout.Grid()
		hf := c.Relief()
		hexes := make([]hexEntry, 0, c.Store.TileCount())
		for _, t := range c.Store.Tiles() {
			if !grid.InBounds(t.X, t.Y) {
				continue
			}
			p := c.Layout.World(t.X, t.Y)
			entry := hexEntry{
				Entity:  t.Entity,
				Col:     t.X,
				Row:     t.Y,
				X:       p.X,
				Z:       p.Z,
				Terrain: t.Terrain,
				Tags:    t.Tags,
			}
			if hf != nil {
				entry.Height = hf.At(t.X, t.Y)
			}
			hexes = append(hexes, entry)
		}
		sx, sz := c.Layout.Scale()
		return map[string]any{
			"turn":    c.Store.Turn(),
			"grid":    grid,
			"scale_x": sx,
			"scale_z": sz,
			"hexes":   hexes,
		}, http.StatusOK
	})
}

// handlePick maps a world-space point to the tile under it.
func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
	z, errZ := strconv.ParseFloat(r.URL.Query().Get("z"), 64)
	if errX != nil || errZ != nil {
		http.Error(w, "x and z must be numbers", http.StatusBadRequest)
		return
	}

	s.query(w, r, func(c *engine.Client) (any, int) {
		col, row, ok := c.Layout.Pick(x, z)
		if !ok {
			return "no tile at point", http.StatusNotFound
		}
		out := map[string]any{"col": col, "row": row}
		if t, found := c.Store.TileAt(col, row); found {
			out["tile"] = describeTile(c, t)
		}
		return out, http.StatusOK
	})
}

// handleTerrain returns the terrain and tag aggregates with labels.
func (s *Server) handleTerrain(w http.ResponseWriter, r *http.Request) {
	type terrainCount struct {
		Terrain int    `json:"terrain"`
		Name    string `json:"name"`
		Count   int    `json:"count"`
	}
	type tagCount struct {
		Bit   uint16 `json:"bit"`
		Label string `json:"label"`
		Count int    `json:"count"`
	}

	s.query(w, r, func(c *engine.Client) (any, int) {
		terrains := make([]terrainCount, 0)
		for id, n := range c.Store.TerrainCounts() {
			terrains = append(terrains, terrainCount{Terrain: id, Name: world.TerrainName(world.Terrain(id)), Count: n})
		}
		slices.SortFunc(terrains, func(a, b terrainCount) int { return cmp.Compare(a.Terrain, b.Terrain) })

		counts := c.Store.TagCounts()
		tags := make([]tagCount, 0, len(counts))
		for _, l := range c.Store.TagLabels() {
			if n := counts[l.Bit]; n > 0 {
				tags = append(tags, tagCount{Bit: l.Bit, Label: l.Label, Count: n})
			}
		}
		return map[string]any{
			"tiles":    c.Store.TileCount(),
			"terrains": terrains,
			"tags":     tags,
			"labels":   c.Store.TagLabels(),
		}, http.StatusOK
	})
}

func (s *Server) handleInfluencers(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, func(c *engine.Client) (any, int) {
		return c.Store.Influencers(), http.StatusOK
	})
}

func (s *Server) handleTradeLinks(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, func(c *engine.Client) (any, int) {
		return c.Store.TradeLinks(), http.StatusOK
	})
}

// handleCulture returns layers and the current tension list.
func (s *Server) handleCulture(w http.ResponseWriter, r *http.Request) {
	type tensionEntry struct {
		protocol.CultureTension
		Label string `json:"label"`
	}

	s.query(w, r, func(c *engine.Client) (any, int) {
		tensions := c.Store.Tensions()
		out := make([]tensionEntry, 0, len(tensions))
		for _, t := range tensions {
			out = append(out, tensionEntry{CultureTension: t, Label: t.KindLabel()})
		}
		return map[string]any{
			"layers":   c.Store.CultureLayers(),
			"tensions": out,
		}, http.StatusOK
	})
}

// handleDiscovery returns every progress entry, or one faction's with
// ?faction=<id>.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var faction *int64
	if v := r.URL.Query().Get("faction"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid faction", http.StatusBadRequest)
			return
		}
		faction = &n
	}

	s.query(w, r, func(c *engine.Client) (any, int) {
		entries := c.Store.DiscoveryProgress()
		if faction == nil {
			if entries == nil {
				entries = []protocol.DiscoveryEntry{}
			}
			return entries, http.StatusOK
		}
		out := []protocol.DiscoveryEntry{}
		for _, e := range entries {
			if e.Faction == *faction {
				out = append(out, e)
			}
		}
		return out, http.StatusOK
	})
}

// handleIndicators returns the world-wide scalar blocks.
func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, func(c *engine.Client) (any, int) {
		return map[string]any{
			"turn":       c.Store.Turn(),
			"axis_bias":  c.Store.AxisBias(),
			"sentiment":  c.Store.Sentiment(),
			"corruption": c.Store.Corruption(),
		}, http.StatusOK
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, func(c *engine.Client) (any, int) {
		hist := c.Store.History()
		if hist == nil {
			hist = []state.TurnSummary{}
		}
		return hist, http.StatusOK
	})
}

// handleLogs returns buffered simulation log lines, optionally filtered
// with ?level=warn.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var minLevel *slog.Level
	if v := r.URL.Query().Get("level"); v != "" {
		l, err := config.ParseLevel(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		minLevel = &l
	}

	s.query(w, r, func(c *engine.Client) (any, int) {
		var lines []logstream.Line
		if minLevel != nil {
			lines = c.Logs.Filter(*minLevel)
		} else {
			lines = c.Logs.Lines()
		}
		if lines == nil {
			lines = []logstream.Line{}
		}
		return map[string]any{
			"received": c.Logs.Received(),
			"lines":    lines,
		}, http.StatusOK
	})
}

// acquireStream reserves one of the shared SSE/WebSocket slots.
func (s *Server) acquireStream() bool {
	if atomic.AddInt32(&s.streamConns, 1) > maxStreamConns {
		atomic.AddInt32(&s.streamConns, -1)
		return false
	}
	return true
}

func (s *Server) releaseStream() {
	atomic.AddInt32(&s.streamConns, -1)
}

// handleStream provides an SSE endpoint for real-time event streaming.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if !s.acquireStream() {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseStream()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.Client.Events
	subID, ch := events.Subscribe()
	defer events.Unsubscribe(subID)

	for _, e := range tail(events.Recent(), catchUpEvents) {
		writeSSEEvent(w, e)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// handleWS streams the same events as handleStream over a WebSocket, one
// JSON event per text message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.acquireStream() {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseStream()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := s.Client.Events
	subID, ch := events.Subscribe()
	defer events.Unsubscribe(subID)
	slog.Info("websocket client connected", "sub_id", subID, "remote", r.RemoteAddr)

	// The read loop only watches for the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e engine.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(e) == nil
	}
	for _, e := range tail(events.Recent(), catchUpEvents) {
		if !send(e) {
			return
		}
	}

	ping := time.NewTicker(heartbeatEvery)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok || !send(e) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-gone:
			slog.Info("websocket client disconnected", "sub_id", subID)
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
	}
}

func tail[T any](items []T, n int) []T {
	if len(items) > n {
		return items[len(items)-n:]
	}
	return items
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, e engine.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Category, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
