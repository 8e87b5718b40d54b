package state

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/shadowscale/internal/protocol"
)

func decode(t *testing.T, payload string) *protocol.Message {
	t.Helper()
	msg, err := protocol.Decode([]byte(payload))
	require.NoError(t, err)
	return msg
}

func encode(t *testing.T, v any) *protocol.Message {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return decode(t, string(raw))
}

func gridSnapshot(t *testing.T, width, height int, terrain func(i int) int) *protocol.Message {
	t.Helper()
	var tiles []protocol.Tile
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			tiles = append(tiles, protocol.Tile{Entity: int64(i), Terrain: terrain(i), X: x, Y: y})
		}
	}
	return encode(t, map[string]any{
		"turn":  1,
		"grid":  protocol.Grid{Width: width, Height: height},
		"tiles": tiles,
	})
}

// checkConsistent recomputes every tile aggregate from the primary map and
// compares it with the incrementally maintained one.
func checkConsistent(t *testing.T, s *Store) {
	t.Helper()
	terrain := map[int]int{}
	tags := map[uint16]int{}
	for _, tile := range s.tiles {
		terrain[tile.Terrain]++
		for bit := uint16(1); bit != 0; bit <<= 1 {
			if tile.Tags&bit != 0 {
				tags[bit]++
			}
		}
	}
	if diff := cmp.Diff(terrain, s.TerrainCounts()); diff != "" {
		t.Fatalf("terrain aggregate drift (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tags, s.TagCounts()); diff != "" {
		t.Fatalf("tag aggregate drift (-want +got):\n%s", diff)
	}

	sum := 0
	for _, n := range s.terrainCounts {
		require.Positive(t, n)
		sum += n
	}
	require.Equal(t, s.TileCount(), sum)

	for c, id := range s.coords {
		tile, ok := s.tiles[id]
		require.True(t, ok, "coord %v points at missing tile %d", c, id)
		require.Equal(t, c, Coord{X: tile.X, Y: tile.Y})
	}
	for bit := range s.tagCounts {
		_, ok := s.labels.Label(bit)
		require.True(t, ok, "bit %d has no label", bit)
	}
}

func TestScenarioA_SnapshotThenRemove(t *testing.T) {
	s := New(Options{})
	res := s.Apply(gridSnapshot(t, 4, 3, func(i int) int { return i % 3 }))

	assert.Equal(t, protocol.KindSnapshot, res.Kind)
	assert.Equal(t, map[int]int{0: 4, 1: 4, 2: 4}, s.TerrainCounts())
	assert.Equal(t, 12, s.TileCount())
	assert.Equal(t, protocol.Grid{Width: 4, Height: 3}, s.Grid())
	checkConsistent(t, s)

	res = s.Apply(decode(t, `{"tile_removed": [0]}`))
	assert.Equal(t, protocol.KindDelta, res.Kind)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 3, s.TerrainCounts()[0])
	assert.Equal(t, 11, s.TileCount())
	_, ok := s.TileAt(0, 0)
	assert.False(t, ok)
	checkConsistent(t, s)
}

func TestScenarioB_TradeLinkUpdateThenRemove(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{"trade_link_updates": [{"entity": 7, "from_faction": 1, "to_faction": 2,
		"knowledge": {"openness": 0.5}, "throughput": 3.0}]}`))

	link, ok := s.TradeLink(7)
	require.True(t, ok)
	assert.Equal(t, 0.5, link.Knowledge.Openness)
	assert.Equal(t, 3.0, link.Throughput)

	s.Apply(decode(t, `{"trade_link_removed": [7]}`))
	assert.Empty(t, s.TradeLinks())
}

func TestScenarioC_TensionDeduplication(t *testing.T) {
	s := New(Options{})
	var raised []protocol.CultureTension
	s.Subscribe(Hooks{OnTensionRaised: func(tn protocol.CultureTension) { raised = append(raised, tn) }})

	tension := func(timer int) *protocol.Message {
		return decode(t, fmt.Sprintf(`{"tile_removed": [], "culture_tensions": [
			{"layer_id": 3, "kind": "schism", "severity": 0.7, "timer": %d}]}`, timer))
	}

	res := s.Apply(tension(5))
	assert.Equal(t, 1, res.Tensions)
	require.Len(t, raised, 1)

	res = s.Apply(tension(5))
	assert.Zero(t, res.Tensions)
	assert.Len(t, raised, 1, "unchanged timer is not announced again")

	res = s.Apply(tension(8))
	assert.Equal(t, 1, res.Tensions)
	require.Len(t, raised, 2)
	assert.Equal(t, int64(8), raised[1].Timer)

	res = s.Apply(tension(6))
	assert.Zero(t, res.Tensions)
	last, _ := s.Tracker().Last(protocol.TensionKey{LayerID: 3, Kind: "schism"})
	assert.Equal(t, int64(8), last, "tracker keeps the maximum")
	assert.Equal(t, int64(6), s.Tensions()[0].Timer, "current list is replaced")
}

func TestSnapshotClearsTensionTracker(t *testing.T) {
	s := New(Options{})
	var raised int
	s.Subscribe(Hooks{OnTensionRaised: func(protocol.CultureTension) { raised++ }})

	s.Apply(decode(t, `{"tile_removed": [], "culture_tensions": [{"layer_id": 1, "kind": "DriftWarning", "timer": 9}]}`))
	require.Equal(t, 1, raised)

	s.Apply(decode(t, `{"culture_tensions": [{"layer_id": 1, "kind": "DriftWarning", "timer": 12}]}`))
	assert.Equal(t, 1, raised, "snapshot tensions are never announced")
	assert.Zero(t, s.Tracker().Len())
	assert.Len(t, s.Tensions(), 1)

	s.Apply(decode(t, `{"tile_removed": [], "culture_tensions": [{"layer_id": 1, "kind": "DriftWarning", "timer": 3}]}`))
	assert.Equal(t, 2, raised, "tracker starts over after a snapshot")
}

func TestUpsertIdempotence(t *testing.T) {
	update := `{
		"tile_updates": [{"entity": 5, "terrain": 2, "terrain_tags": 6, "x": 1, "y": 1}],
		"influencer_updates": [{"id": 4, "name": "Ada", "influence": 0.5, "domains": ["Sentiment"]}],
		"trade_link_updates": [{"entity": 9, "from_faction": 1, "to_faction": 3, "throughput": 2}]
	}`
	once := New(Options{})
	once.Apply(decode(t, update))

	twice := New(Options{})
	twice.Apply(decode(t, update))
	twice.Apply(decode(t, update))

	assert.Equal(t, once.Tiles(), twice.Tiles())
	assert.Equal(t, once.TerrainCounts(), twice.TerrainCounts())
	assert.Equal(t, once.TagCounts(), twice.TagCounts())
	assert.Equal(t, once.Influencers(), twice.Influencers())
	assert.Equal(t, once.TradeLinks(), twice.TradeLinks())
	checkConsistent(t, twice)
}

func TestUpdateThenRemove(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{"tile_updates": [{"entity": 5, "terrain": 2, "x": 3, "y": 4}]}`))
	s.Apply(decode(t, `{"tile_removed": [5]}`))

	_, ok := s.Tile(5)
	assert.False(t, ok)
	_, ok = s.TileAt(3, 4)
	assert.False(t, ok)
	assert.NotContains(t, s.TerrainCounts(), 2)
	assert.Empty(t, s.TerrainCounts())
}

func TestUpdateAndRemoveInOneDelta(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{"tile_updates": [{"entity": 5, "terrain": 2, "x": 3, "y": 4}], "tile_removed": [5]}`))
	assert.Zero(t, s.TileCount())
	checkConsistent(t, s)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	s := New(Options{})
	s.Apply(gridSnapshot(t, 2, 2, func(int) int { return 1 }))
	res := s.Apply(decode(t, `{"tile_removed": [99], "influencer_removed": [1], "culture_layer_removed": [2]}`))
	assert.Zero(t, res.Removed)
	assert.Equal(t, 4, s.TileCount())
}

func TestCoordinateSwap(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{"tiles": [
		{"entity": 1, "terrain": 0, "x": 0, "y": 0},
		{"entity": 2, "terrain": 1, "x": 1, "y": 0}]}`))

	s.Apply(decode(t, `{"tile_updates": [
		{"entity": 1, "terrain": 0, "x": 1, "y": 0},
		{"entity": 2, "terrain": 1, "x": 0, "y": 0}]}`))

	at, ok := s.TileAt(0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(2), at.Entity)
	at, ok = s.TileAt(1, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), at.Entity)
	checkConsistent(t, s)
}

func TestStaleCoordinateNotErased(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{"tiles": [{"entity": 1, "x": 0, "y": 0}]}`))
	// Tile 2 takes the coordinate before tile 1 is removed.
	s.Apply(decode(t, `{"tile_updates": [{"entity": 2, "x": 0, "y": 0}], "tile_removed": [1]}`))

	at, ok := s.TileAt(0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(2), at.Entity)
	checkConsistent(t, s)
}

func TestAggregateConsistency_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := New(Options{})

	for step := 0; step < 400; step++ {
		var payload map[string]any
		switch rng.Intn(6) {
		case 0:
			tiles := []protocol.Tile{}
			for i := 0; i < rng.Intn(20); i++ {
				tiles = append(tiles, randomTile(rng))
			}
			payload = map[string]any{"tiles": tiles}
		case 1, 2:
			ids := []int64{}
			for i := 0; i < rng.Intn(5); i++ {
				ids = append(ids, int64(rng.Intn(30)))
			}
			payload = map[string]any{"tile_removed": ids}
		default:
			var tiles []protocol.Tile
			for i := 0; i < 1+rng.Intn(6); i++ {
				tiles = append(tiles, randomTile(rng))
			}
			payload = map[string]any{"tile_updates": tiles}
		}
		s.Apply(encode(t, payload))
		checkConsistent(t, s)
	}
}

func randomTile(rng *rand.Rand) protocol.Tile {
	return protocol.Tile{
		Entity:  int64(rng.Intn(30)),
		Terrain: rng.Intn(5),
		Tags:    uint16(rng.Intn(1 << 16)),
		X:       rng.Intn(6),
		Y:       rng.Intn(6),
	}
}

func TestSnapshotLeavesAbsentCollections(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{
		"turn": 1,
		"tiles": [{"entity": 1, "x": 0, "y": 0}],
		"influencers": [{"id": 1, "name": "A"}, {"id": 2, "name": "B"}],
		"axis_bias": {"knowledge": 0.1, "trust": 0.2, "equity": 0.3, "agency": 0.4}
	}`))
	s.Apply(decode(t, `{"turn": 2, "influencers": [{"id": 3, "name": "C"}]}`))

	assert.Equal(t, int64(2), s.Turn())
	assert.Equal(t, 1, s.TileCount(), "tiles untouched")
	require.Len(t, s.Influencers(), 1)
	assert.Equal(t, "C", s.Influencers()[0].Name)
	assert.Equal(t, 0.4, s.AxisBias().Agency, "absent scalar untouched")

	s.Apply(decode(t, `{"tiles": []}`))
	assert.Zero(t, s.TileCount(), "present but empty clears")
	assert.Empty(t, s.TerrainCounts())
}

func TestScalarsOverwriteInDeltas(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{
		"turn": 7,
		"tile_removed": [],
		"axis_bias": {"knowledge": 1, "trust": 0, "equity": 0, "agency": 0},
		"sentiment": {"Trust": {"policy": 0.1, "incidents": -0.2, "influencers": 0.3, "total": 0.2,
			"drivers": [{"category": "Policy", "label": "Open borders", "value": 0.1, "weight": 1}]}},
		"corruption": {"entries": [{"subsystem": "Trade", "intensity": 0.3, "incident_id": 4}],
			"reputation_modifier": -0.1, "audit_capacity": 2}
	}`))

	assert.Equal(t, int64(7), s.Turn())
	assert.Equal(t, 1.0, s.AxisBias().Knowledge)
	assert.Equal(t, 0.2, s.Sentiment()["Trust"].Total)
	assert.Len(t, s.Sentiment()["Trust"].Drivers, 1)
	assert.Equal(t, 2, s.Corruption().AuditCapacity)
	assert.Equal(t, "Trade", s.Corruption().Entries[0].Subsystem)
}

func TestDiscoveryProgress(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{"discovery_progress": [
		{"faction": 1, "discovery": 10, "progress": 0.2},
		{"faction": 2, "discovery": 10, "progress": 0.9}]}`))
	s.Apply(decode(t, `{"discovery_progress_updates": [
		{"faction": 1, "discovery": 10, "progress": 0.4},
		{"faction": 1, "discovery": 11, "progress": 3},
		{"discovery": 12, "progress": 0.1}]}`))

	assert.Equal(t, map[int64]float64{10: 0.4, 11: 1}, s.FactionProgress(1))
	v, ok := s.Progress(2, 10)
	require.True(t, ok)
	assert.Equal(t, 0.9, v)
	assert.Equal(t, []protocol.DiscoveryEntry{
		{Faction: 1, Discovery: 10, Progress: 0.4},
		{Faction: 1, Discovery: 11, Progress: 1},
		{Faction: 2, Discovery: 10, Progress: 0.9},
	}, s.DiscoveryProgress())

	s.Apply(decode(t, `{"discovery_progress": []}`))
	assert.Empty(t, s.DiscoveryProgress())
}

func TestMalformedEntriesSkippedIndividually(t *testing.T) {
	s := New(Options{})
	res := s.Apply(decode(t, `{"influencer_updates": [
		{"id": 1, "name": "ok"},
		{"name": "no id"},
		{"id": -2, "name": "negative"},
		{"id": 3, "name": "also ok"}]}`))

	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, res.Upserted)
	assert.Len(t, s.Influencers(), 2)
}

func TestCultureLayers(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{"culture_layers": [
		{"id": 1, "scope": "Global", "owner": "0", "parent": 0},
		{"id": 2, "scope": "Regional", "owner": "7", "parent": 1}]}`))
	s.Apply(decode(t, `{"culture_layer_updates": [{"id": 2, "scope": "Regional", "divergence": 0.6, "parent": 1}],
		"culture_layer_removed": [1]}`))

	layers := s.CultureLayers()
	require.Len(t, layers, 1)
	assert.Equal(t, 0.6, layers[0].Divergence)
	assert.Equal(t, protocol.ScopeRegional, layers[0].Scope)
}

func TestTagLabels(t *testing.T) {
	s := New(Options{})
	s.Apply(decode(t, `{
		"overlays": {"terrain_tag_labels": {"2": "Rivers", "8192": "Ley Line"}},
		"tiles": [{"entity": 1, "x": 0, "y": 0, "terrain_tags": 16385}]
	}`))

	labels := s.TagLabels()
	bits := make([]uint16, len(labels))
	for i, l := range labels {
		bits[i] = l.Bit
	}
	assert.IsIncreasing(t, bits)

	byBit := map[uint16]string{}
	for _, l := range labels {
		byBit[l.Bit] = l.Label
	}
	assert.Equal(t, "Water", byBit[1])
	assert.Equal(t, "Rivers", byBit[2], "server label replaces built-in")
	assert.Equal(t, "Ley Line", byBit[8192])
	assert.Equal(t, "Tag 16384", byBit[16384], "synthesized on first sight")
	assert.Equal(t, map[uint16]int{1: 1, 16384: 1}, s.TagCounts())
}

func TestTilesByTerrain(t *testing.T) {
	s := New(Options{})
	s.Apply(gridSnapshot(t, 3, 2, func(i int) int { return i % 2 }))
	assert.Equal(t, []int64{0, 2, 4}, s.TilesByTerrain(0))
	assert.Equal(t, []int64{1, 3, 5}, s.TilesByTerrain(1))

	s.Apply(decode(t, `{"tile_updates": [{"entity": 2, "terrain": 1, "x": 2, "y": 0}]}`))
	assert.Equal(t, []int64{0, 4}, s.TilesByTerrain(0))
	assert.Equal(t, []int64{1, 2, 3, 5}, s.TilesByTerrain(1))
	assert.Empty(t, s.TilesByTerrain(9))
}

type recorder struct {
	events []string
}

func (r *recorder) TileChanged(tile protocol.Tile) {
	r.events = append(r.events, fmt.Sprintf("tile %d", tile.Entity))
}
func (r *recorder) EntityChanged(c Collection, id int64) {
	r.events = append(r.events, fmt.Sprintf("changed %s %d", c, id))
}
func (r *recorder) EntityRemoved(c Collection, id int64) {
	r.events = append(r.events, fmt.Sprintf("removed %s %d", c, id))
}
func (r *recorder) TensionRaised(t protocol.CultureTension) {
	r.events = append(r.events, fmt.Sprintf("tension %d %s", t.LayerID, t.Kind))
}
func (r *recorder) SnapshotApplied(turn int64) {
	r.events = append(r.events, fmt.Sprintf("snapshot %d", turn))
}
func (r *recorder) GridResized(g protocol.Grid) {
	r.events = append(r.events, fmt.Sprintf("grid %dx%d", g.Width, g.Height))
}

func TestObserverEvents(t *testing.T) {
	s := New(Options{})
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec)

	s.Apply(gridSnapshot(t, 2, 1, func(int) int { return 0 }))
	s.Apply(decode(t, `{"turn": 2, "grid": {"width": 2, "height": 1},
		"tile_updates": [{"entity": 0, "terrain": 3, "x": 0, "y": 0}],
		"tile_removed": [1, 44],
		"influencer_updates": [{"id": 8}],
		"discovery_progress_updates": [{"faction": 4, "discovery": 1, "progress": 0.5}],
		"culture_tensions": [{"layer_id": 2, "kind": "SchismRisk", "timer": 1}]}`))

	assert.Equal(t, []string{
		"grid 2x1",
		"snapshot 1",
		"tile 0",
		"removed tiles 1",
		"changed influencers 8",
		"changed discovery 4",
		"tension 2 SchismRisk",
	}, rec.events)

	unsubscribe()
	s.Apply(decode(t, `{"tile_removed": [0]}`))
	assert.Len(t, rec.events, 7)
}

func TestObserverSeesCompleteModel(t *testing.T) {
	s := New(Options{})
	var countAtNotify int
	s.Subscribe(Hooks{OnTileChanged: func(protocol.Tile) { countAtNotify = s.TileCount() }})
	s.Apply(decode(t, `{"tile_updates": [{"entity": 1, "x": 0, "y": 0}, {"entity": 2, "x": 1, "y": 0}]}`))
	assert.Equal(t, 2, countAtNotify)
}

func TestHistory(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(Options{HistorySize: 3, Now: func() time.Time { return clock }})

	for turn := 1; turn <= 5; turn++ {
		s.Apply(decode(t, fmt.Sprintf(`{"turn": %d, "tile_updates": [{"entity": %d, "x": %d, "y": 0}]}`, turn, turn, turn)))
	}
	h := s.History()
	require.Len(t, h, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{h[0].Turn, h[1].Turn, h[2].Turn})
	assert.Equal(t, "delta", h[2].Kind)
	assert.Equal(t, 5, h[2].Tiles)
	assert.Equal(t, clock, h[2].AppliedAt)

	s.RestoreHistory([]TurnSummary{{Turn: 10}, {Turn: 11}, {Turn: 12}, {Turn: 13}})
	h = s.History()
	assert.Equal(t, []int64{11, 12, 13}, []int64{h[0].Turn, h[1].Turn, h[2].Turn})
	last, ok := s.LastSummary()
	require.True(t, ok)
	assert.Equal(t, int64(13), last.Turn)
}
