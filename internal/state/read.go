package state

import (
	"maps"
	"slices"

	"github.com/talgya/shadowscale/internal/protocol"
)

// Turn returns the last turn number received.
func (s *Store) Turn() int64 { return s.turn }

// Grid returns the announced grid dimensions.
func (s *Store) Grid() protocol.Grid { return s.grid }

// Overlays returns the most recent overlay rasters.
func (s *Store) Overlays() protocol.Overlays { return s.overlays }

// AxisBias returns the latest faction axis bias.
func (s *Store) AxisBias() protocol.AxisBias { return s.axisBias }

// Sentiment returns the latest sentiment axes.
func (s *Store) Sentiment() protocol.Sentiment { return s.sentiment }

// Corruption returns the latest corruption ledger.
func (s *Store) Corruption() protocol.Corruption { return s.corruption }

// TileCount returns the number of live tiles.
func (s *Store) TileCount() int { return len(s.tiles) }

// Labels returns the terrain tag label registry.
func (s *Store) Labels() *LabelRegistry { return s.labels }

// Tracker returns the culture tension tracker.
func (s *Store) Tracker() *TensionTracker { return s.tracker }

// Tile returns the tile with the given entity id.
func (s *Store) Tile(id int64) (protocol.Tile, bool) {
	t, ok := s.tiles[id]
	return t, ok
}

// TileAt returns the live tile stored at (x, y).
func (s *Store) TileAt(x, y int) (protocol.Tile, bool) {
	id, ok := s.coords[Coord{X: x, Y: y}]
	if !ok {
		return protocol.Tile{}, false
	}
	return s.Tile(id)
}

// Tiles returns every tile ordered by entity id.
func (s *Store) Tiles() []protocol.Tile {
	return sortedValues(s.tiles)
}

// TerrainCounts returns a copy of the terrain aggregate.
func (s *Store) TerrainCounts() map[int]int {
	return maps.Clone(s.terrainCounts)
}

// TagCounts returns a copy of the tag bit aggregate.
func (s *Store) TagCounts() map[uint16]int {
	return maps.Clone(s.tagCounts)
}

// TagLabels returns every known tag label in ascending bit order.
func (s *Store) TagLabels() []TagLabel {
	return s.labels.Entries()
}

// TilesByTerrain returns the entity ids of every tile of the given terrain,
// ascending. The index is rebuilt lazily after tiles change.
func (s *Store) TilesByTerrain(terrain int) []int64 {
	if s.byTerrainDirty {
		s.byTerrain = make(map[int][]int64, len(s.terrainCounts))
		for _, id := range slices.Sorted(maps.Keys(s.tiles)) {
			t := s.tiles[id]
			s.byTerrain[t.Terrain] = append(s.byTerrain[t.Terrain], id)
		}
		s.byTerrainDirty = false
	}
	return slices.Clone(s.byTerrain[terrain])
}

// Influencer returns the influencer with the given id.
func (s *Store) Influencer(id int64) (protocol.Influencer, bool) {
	v, ok := s.influencers[id]
	return v, ok
}

// Influencers returns every influencer ordered by id.
func (s *Store) Influencers() []protocol.Influencer {
	return sortedValues(s.influencers)
}

// TradeLink returns the trade link with the given entity id.
func (s *Store) TradeLink(id int64) (protocol.TradeLink, bool) {
	v, ok := s.tradeLinks[id]
	return v, ok
}

// TradeLinks returns every trade link ordered by entity id.
func (s *Store) TradeLinks() []protocol.TradeLink {
	return sortedValues(s.tradeLinks)
}

// CultureLayer returns the culture layer with the given id.
func (s *Store) CultureLayer(id int64) (protocol.CultureLayer, bool) {
	v, ok := s.cultureLayers[id]
	return v, ok
}

// CultureLayers returns every culture layer ordered by id.
func (s *Store) CultureLayers() []protocol.CultureLayer {
	return sortedValues(s.cultureLayers)
}

// DiscoveryProgress returns every progress entry ordered by faction, then
// discovery.
func (s *Store) DiscoveryProgress() []protocol.DiscoveryEntry {
	var out []protocol.DiscoveryEntry
	for _, faction := range slices.Sorted(maps.Keys(s.discovery)) {
		inner := s.discovery[faction]
		for _, d := range slices.Sorted(maps.Keys(inner)) {
			out = append(out, protocol.DiscoveryEntry{Faction: faction, Discovery: d, Progress: inner[d]})
		}
	}
	return out
}

// FactionProgress returns a copy of one faction's discovery map.
func (s *Store) FactionProgress(faction int64) map[int64]float64 {
	return maps.Clone(s.discovery[faction])
}

// Progress returns one faction's progress toward one discovery.
func (s *Store) Progress(faction, discovery int64) (float64, bool) {
	v, ok := s.discovery[faction][discovery]
	return v, ok
}

// Tensions returns the most recently reported tension list.
func (s *Store) Tensions() []protocol.CultureTension {
	return slices.Clone(s.tensions)
}

// History returns the retained turn summaries, oldest first.
func (s *Store) History() []TurnSummary {
	return s.history.Items()
}

func sortedValues[V any](m map[int64]V) []V {
	out := make([]V, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[id])
	}
	return out
}
