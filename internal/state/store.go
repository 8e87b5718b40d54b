// Package state holds the reconciled world model. Store.Apply is the only
// mutation entry point; every derived aggregate is kept exactly consistent
// with the entity records it summarizes.
//
// A Store is not safe for concurrent use. The engine owns it and runs all
// reads and writes on its tick goroutine.
package state

import (
	"time"

	"github.com/talgya/shadowscale/internal/protocol"
	"github.com/talgya/shadowscale/internal/world"
)

// DefaultHistorySize is the number of turn summaries kept when none is set.
const DefaultHistorySize = 32

// Coord is a tile storage coordinate.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Options configures a Store.
type Options struct {
	HistorySize int              // Turn summaries kept (default 32)
	Now         func() time.Time // Clock for summaries (default time.Now)
}

// Store is the canonical world model.
type Store struct {
	turn       int64
	grid       protocol.Grid
	overlays   protocol.Overlays
	axisBias   protocol.AxisBias
	sentiment  protocol.Sentiment
	corruption protocol.Corruption

	// ── Tiles ──────────────────────────────────────────────────────────
	tiles          map[int64]protocol.Tile
	coords         map[Coord]int64
	terrainCounts  map[int]int
	tagCounts      map[uint16]int
	labels         *LabelRegistry
	byTerrain      map[int][]int64
	byTerrainDirty bool

	// ── Other collections ──────────────────────────────────────────────
	influencers   map[int64]protocol.Influencer
	tradeLinks    map[int64]protocol.TradeLink
	cultureLayers map[int64]protocol.CultureLayer
	discovery     map[int64]map[int64]float64
	tensions      []protocol.CultureTension
	tracker       *TensionTracker

	history   *Ring[TurnSummary]
	observers []subscription
	nextSub   uint64
	pending   []func(Observer)
	now       func() time.Time
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		tiles:          make(map[int64]protocol.Tile),
		coords:         make(map[Coord]int64),
		terrainCounts:  make(map[int]int),
		tagCounts:      make(map[uint16]int),
		labels:         NewLabelRegistry(),
		byTerrainDirty: true,
		influencers:    make(map[int64]protocol.Influencer),
		tradeLinks:     make(map[int64]protocol.TradeLink),
		cultureLayers:  make(map[int64]protocol.CultureLayer),
		discovery:      make(map[int64]map[int64]float64),
		tracker:        NewTensionTracker(),
		history:        NewRing[TurnSummary](opts.HistorySize),
		now:            opts.Now,
	}
}

// Result summarizes one Apply.
type Result struct {
	Kind        protocol.Kind
	Turn        int64
	Upserted    int  // Entities inserted or overwritten
	Removed     int  // Entities erased
	Tensions    int  // Tension notifications raised
	Skipped     int  // Entries dropped during ingestion
	GridChanged bool // Grid dimensions differ from before
}

// Apply merges msg into the store. Observers are notified after the whole
// message has been applied, so they always see a consistent model.
func (s *Store) Apply(msg *protocol.Message) Result {
	res := Result{Kind: msg.Kind, Skipped: len(msg.Rejected)}

	s.applyScalars(msg, &res)
	if msg.Kind == protocol.KindDelta {
		s.applyDelta(msg, &res)
	} else {
		s.applySnapshot(msg, &res)
	}
	res.Turn = s.turn

	s.history.Push(TurnSummary{
		Turn:          s.turn,
		Kind:          msg.Kind.String(),
		Tiles:         len(s.tiles),
		Influencers:   len(s.influencers),
		TradeLinks:    len(s.tradeLinks),
		CultureLayers: len(s.cultureLayers),
		Tensions:      res.Tensions,
		Skipped:       res.Skipped,
		AppliedAt:     s.now(),
	})

	pending := s.pending
	s.pending = nil
	for _, fn := range pending {
		s.each(fn)
	}
	return res
}

func (s *Store) notify(fn func(Observer)) {
	if len(s.observers) > 0 {
		s.pending = append(s.pending, fn)
	}
}

// applyScalars handles the fields that overwrite in both message kinds.
func (s *Store) applyScalars(msg *protocol.Message, res *Result) {
	if v, ok := msg.Turn.Get(); ok {
		s.turn = v
	}
	if g, ok := msg.Grid.Get(); ok && g != s.grid {
		s.grid = g
		res.GridChanged = true
		s.notify(func(o Observer) { o.GridResized(g) })
	}
	if o, ok := msg.Overlays.Get(); ok {
		s.overlays = o
		for bit, label := range o.TagLabels {
			s.labels.Upsert(bit, label)
		}
	}
	if v, ok := msg.AxisBias.Get(); ok {
		s.axisBias = v
	}
	if v, ok := msg.Sentiment.Get(); ok {
		s.sentiment = v
	}
	if v, ok := msg.Corruption.Get(); ok {
		s.corruption = v
	}
}

func (s *Store) applySnapshot(msg *protocol.Message, res *Result) {
	if tiles, ok := msg.Tiles.Get(); ok {
		clear(s.tiles)
		clear(s.coords)
		clear(s.terrainCounts)
		clear(s.tagCounts)
		s.byTerrainDirty = true
		for _, t := range tiles {
			s.putTile(t)
		}
		res.Upserted += len(tiles)
	}
	if list, ok := msg.Influencers.Get(); ok {
		res.Upserted += replace(s.influencers, list, func(v protocol.Influencer) int64 { return v.ID })
	}
	if list, ok := msg.TradeLinks.Get(); ok {
		res.Upserted += replace(s.tradeLinks, list, func(v protocol.TradeLink) int64 { return v.Entity })
	}
	if list, ok := msg.CultureLayers.Get(); ok {
		res.Upserted += replace(s.cultureLayers, list, func(v protocol.CultureLayer) int64 { return v.ID })
	}
	if list, ok := msg.DiscoveryProgress.Get(); ok {
		clear(s.discovery)
		for _, e := range list {
			s.putDiscovery(e)
		}
		res.Upserted += len(list)
	}
	if list, ok := msg.CultureTensions.Get(); ok {
		s.tensions = list
	}
	s.tracker.Reset()

	turn := s.turn
	s.notify(func(o Observer) { o.SnapshotApplied(turn) })
}

func (s *Store) applyDelta(msg *protocol.Message, res *Result) {
	for _, t := range msg.TileUpdates.Value {
		s.putTile(t)
		res.Upserted++
		s.notify(func(o Observer) { o.TileChanged(t) })
	}
	for _, id := range msg.TileRemoved.Value {
		if s.removeTile(id) {
			res.Removed++
			s.notifyRemoved(CollectionTiles, id)
		}
	}

	upsertAll(s, res, CollectionInfluencers, s.influencers, msg.InfluencerUpdates.Value,
		func(v protocol.Influencer) int64 { return v.ID })
	removeAll(s, res, CollectionInfluencers, s.influencers, msg.InfluencerRemoved.Value)

	upsertAll(s, res, CollectionTradeLinks, s.tradeLinks, msg.TradeLinkUpdates.Value,
		func(v protocol.TradeLink) int64 { return v.Entity })
	removeAll(s, res, CollectionTradeLinks, s.tradeLinks, msg.TradeLinkRemoved.Value)

	upsertAll(s, res, CollectionCultureLayers, s.cultureLayers, msg.CultureLayerUpdates.Value,
		func(v protocol.CultureLayer) int64 { return v.ID })
	removeAll(s, res, CollectionCultureLayers, s.cultureLayers, msg.CultureLayerRemoved.Value)

	for _, e := range msg.DiscoveryProgressUpdates.Value {
		s.putDiscovery(e)
		res.Upserted++
		faction := e.Faction
		s.notify(func(o Observer) { o.EntityChanged(CollectionDiscovery, faction) })
	}

	if list, ok := msg.CultureTensions.Get(); ok {
		for _, t := range list {
			if s.tracker.Observe(t) {
				res.Tensions++
				s.notify(func(o Observer) { o.TensionRaised(t) })
			}
		}
		s.tensions = list
	}
}

func (s *Store) notifyRemoved(c Collection, id int64) {
	s.notify(func(o Observer) { o.EntityRemoved(c, id) })
}

// replace clears m and refills it from list, returning the entry count.
func replace[V any](m map[int64]V, list []V, key func(V) int64) int {
	clear(m)
	for _, v := range list {
		m[key(v)] = v
	}
	return len(list)
}

func upsertAll[V any](s *Store, res *Result, c Collection, m map[int64]V, list []V, key func(V) int64) {
	for _, v := range list {
		id := key(v)
		m[id] = v
		res.Upserted++
		s.notify(func(o Observer) { o.EntityChanged(c, id) })
	}
}

func removeAll[V any](s *Store, res *Result, c Collection, m map[int64]V, ids []int64) {
	for _, id := range ids {
		if _, ok := m[id]; !ok {
			continue
		}
		delete(m, id)
		res.Removed++
		s.notifyRemoved(c, id)
	}
}

// ── Tile bookkeeping ──────────────────────────────────────────────────

// putTile inserts or overwrites a tile, first reversing the aggregate
// contribution of the record it replaces.
func (s *Store) putTile(t protocol.Tile) {
	if old, ok := s.tiles[t.Entity]; ok {
		s.forgetTile(old)
	}
	s.tiles[t.Entity] = t
	s.coords[Coord{X: t.X, Y: t.Y}] = t.Entity
	s.countTile(t, 1)
}

func (s *Store) removeTile(id int64) bool {
	old, ok := s.tiles[id]
	if !ok {
		return false
	}
	s.forgetTile(old)
	delete(s.tiles, id)
	return true
}

// forgetTile drops the coordinate mapping (only if it still names this
// tile) and reverses the tile's aggregate contribution.
func (s *Store) forgetTile(t protocol.Tile) {
	c := Coord{X: t.X, Y: t.Y}
	if id, ok := s.coords[c]; ok && id == t.Entity {
		delete(s.coords, c)
	}
	s.countTile(t, -1)
}

func (s *Store) countTile(t protocol.Tile, delta int) {
	bump(s.terrainCounts, t.Terrain, delta)
	world.TagBits(t.Tags, func(bit uint16) {
		bump(s.tagCounts, bit, delta)
		if delta > 0 {
			s.labels.Ensure(bit)
		}
	})
	s.byTerrainDirty = true
}

// bump adds delta to m[k], erasing the entry when it reaches zero.
func bump[K comparable](m map[K]int, k K, delta int) {
	n := m[k] + delta
	if n <= 0 {
		delete(m, k)
		return
	}
	m[k] = n
}

func (s *Store) putDiscovery(e protocol.DiscoveryEntry) {
	inner, ok := s.discovery[e.Faction]
	if !ok {
		inner = make(map[int64]float64)
		s.discovery[e.Faction] = inner
	}
	inner[e.Discovery] = e.Progress
}
