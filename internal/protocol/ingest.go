package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// fromFields builds a Message from the top-level fields of a validated
// envelope. Unknown fields are ignored.
func fromFields(fields map[string]json.RawMessage) (*Message, error) {
	m := &Message{Kind: KindSnapshot}
	for name, raw := range fields {
		if IsDelta(name) && !isNull(raw) {
			m.Kind = KindDelta
			break
		}
	}

	in := ingester{msg: m}
	for name, raw := range fields {
		if isNull(raw) {
			continue
		}
		if err := in.field(name, raw); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrMalformed, name, err)
		}
	}
	return m, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}

type ingester struct {
	msg *Message
}

func (in *ingester) reject(field string, index int, reason string) {
	in.msg.Rejected = append(in.msg.Rejected, Rejection{Field: field, Index: index, Reason: reason})
}

func (in *ingester) field(name string, raw json.RawMessage) error {
	m := in.msg
	switch name {
	case "turn":
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		m.Turn = Some(v)
	case "grid":
		var g Grid
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		m.Grid = Some(g)
	case "overlays":
		o, err := decodeOverlays(raw)
		if err != nil {
			return err
		}
		m.Overlays = Some(o)
	case "corruption":
		var c Corruption
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		m.Corruption = Some(c)
	case "sentiment":
		var s Sentiment
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		m.Sentiment = Some(s)
	case "axis_bias":
		var b AxisBias
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		m.AxisBias = Some(b)

	case "tiles":
		m.Tiles = Some(list(in, name, raw, tileFromWire))
	case "tile_updates":
		m.TileUpdates = Some(list(in, name, raw, tileFromWire))
	case "influencers":
		m.Influencers = Some(list(in, name, raw, influencerFromWire))
	case "influencer_updates":
		m.InfluencerUpdates = Some(list(in, name, raw, influencerFromWire))
	case "trade_links":
		m.TradeLinks = Some(list(in, name, raw, tradeLinkFromWire))
	case "trade_link_updates":
		m.TradeLinkUpdates = Some(list(in, name, raw, tradeLinkFromWire))
	case "culture_layers":
		m.CultureLayers = Some(list(in, name, raw, cultureLayerFromWire))
	case "culture_layer_updates":
		m.CultureLayerUpdates = Some(list(in, name, raw, cultureLayerFromWire))
	case "discovery_progress":
		m.DiscoveryProgress = Some(list(in, name, raw, discoveryFromWire))
	case "discovery_progress_updates":
		m.DiscoveryProgressUpdates = Some(list(in, name, raw, discoveryFromWire))
	case "culture_tensions":
		m.CultureTensions = Some(list(in, name, raw, tensionFromWire))

	case "tile_removed":
		m.TileRemoved = Some(list(in, name, raw, idFromWire))
	case "influencer_removed":
		m.InfluencerRemoved = Some(list(in, name, raw, idFromWire))
	case "trade_link_removed":
		m.TradeLinkRemoved = Some(list(in, name, raw, idFromWire))
	case "culture_layer_removed":
		m.CultureLayerRemoved = Some(list(in, name, raw, idFromWire))
	}
	return nil
}

// list decodes each element of a JSON array independently. Elements that
// fail to decode or convert are recorded as rejections and skipped.
func list[W, R any](in *ingester, field string, raw json.RawMessage, conv func(W) (R, string)) []R {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		in.reject(field, -1, err.Error())
		return nil
	}
	out := make([]R, 0, len(items))
	for i, item := range items {
		var w W
		if err := json.Unmarshal(item, &w); err != nil {
			in.reject(field, i, err.Error())
			continue
		}
		r, reason := conv(w)
		if reason != "" {
			in.reject(field, i, reason)
			continue
		}
		out = append(out, r)
	}
	return out
}

func checkID(name string, id *int64) string {
	switch {
	case id == nil:
		return "missing " + name
	case *id < 0:
		return fmt.Sprintf("negative %s %d", name, *id)
	}
	return ""
}

func idFromWire(id *int64) (int64, string) {
	if reason := checkID("id", id); reason != "" {
		return 0, reason
	}
	return *id, ""
}

type tileWire struct {
	Entity         *int64  `json:"entity"`
	Terrain        int     `json:"terrain"`
	TerrainTags    *int64  `json:"terrain_tags"`
	Tags           *int64  `json:"tags"`
	X              *int    `json:"x"`
	Y              *int    `json:"y"`
	Element        int     `json:"element"`
	Temperature    float64 `json:"temperature"`
	Mass           float64 `json:"mass"`
	CultureLayer   int64   `json:"culture_layer"`
	MountainKind   int     `json:"mountain_kind"`
	MountainRelief float64 `json:"mountain_relief"`
}

func tileFromWire(w tileWire) (Tile, string) {
	if reason := checkID("entity", w.Entity); reason != "" {
		return Tile{}, reason
	}
	if w.X == nil || w.Y == nil {
		return Tile{}, "missing coordinates"
	}
	if *w.X < 0 || *w.Y < 0 {
		return Tile{}, fmt.Sprintf("negative coordinates (%d,%d)", *w.X, *w.Y)
	}
	if w.Terrain < 0 {
		return Tile{}, fmt.Sprintf("negative terrain %d", w.Terrain)
	}
	tags := w.TerrainTags
	if tags == nil {
		tags = w.Tags
	}
	var mask uint16
	if tags != nil {
		if *tags < 0 || *tags > math.MaxUint16 {
			return Tile{}, fmt.Sprintf("tag mask %d out of range", *tags)
		}
		mask = uint16(*tags)
	}
	return Tile{
		Entity:         *w.Entity,
		Terrain:        w.Terrain,
		Tags:           mask,
		X:              *w.X,
		Y:              *w.Y,
		Element:        w.Element,
		Temperature:    w.Temperature,
		Mass:           w.Mass,
		CultureLayer:   w.CultureLayer,
		MountainKind:   w.MountainKind,
		MountainRelief: w.MountainRelief,
	}, ""
}

type influencerWire struct {
	ID *int64 `json:"id"`
	Influencer
}

func influencerFromWire(w influencerWire) (Influencer, string) {
	if reason := checkID("id", w.ID); reason != "" {
		return Influencer{}, reason
	}
	inf := w.Influencer
	inf.ID = *w.ID
	return inf, ""
}

type tradeLinkWire struct {
	Entity *int64 `json:"entity"`
	TradeLink
}

func tradeLinkFromWire(w tradeLinkWire) (TradeLink, string) {
	if reason := checkID("entity", w.Entity); reason != "" {
		return TradeLink{}, reason
	}
	link := w.TradeLink
	link.Entity = *w.Entity
	return link, ""
}

type cultureLayerWire struct {
	ID    *int64 `json:"id"`
	Scope string `json:"scope"`
	CultureLayer
}

func cultureLayerFromWire(w cultureLayerWire) (CultureLayer, string) {
	if reason := checkID("id", w.ID); reason != "" {
		return CultureLayer{}, reason
	}
	layer := w.CultureLayer
	layer.ID = *w.ID
	layer.Scope = ParseCultureScope(w.Scope)
	return layer, ""
}

type discoveryWire struct {
	Faction   *int64  `json:"faction"`
	Discovery *int64  `json:"discovery"`
	Progress  float64 `json:"progress"`
}

func discoveryFromWire(w discoveryWire) (DiscoveryEntry, string) {
	if reason := checkID("faction", w.Faction); reason != "" {
		return DiscoveryEntry{}, reason
	}
	if reason := checkID("discovery", w.Discovery); reason != "" {
		return DiscoveryEntry{}, reason
	}
	return DiscoveryEntry{
		Faction:   *w.Faction,
		Discovery: *w.Discovery,
		Progress:  clamp01(w.Progress),
	}, ""
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return min(v, 1)
}

type tensionWire struct {
	LayerID *int64 `json:"layer_id"`
	CultureTension
}

func tensionFromWire(w tensionWire) (CultureTension, string) {
	if reason := checkID("layer_id", w.LayerID); reason != "" {
		return CultureTension{}, reason
	}
	if w.Kind == "" {
		return CultureTension{}, "missing kind"
	}
	t := w.CultureTension
	t.LayerID = *w.LayerID
	return t, ""
}

func decodeOverlays(raw json.RawMessage) (Overlays, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Overlays{}, err
	}
	o := Overlays{Rasters: make(map[string][]float64)}
	for name, v := range fields {
		if name == "terrain_tag_labels" {
			labels, err := decodeTagLabels(v)
			if err != nil {
				return Overlays{}, fmt.Errorf("terrain_tag_labels: %w", err)
			}
			o.TagLabels = labels
			continue
		}
		var raster []float64
		if err := json.Unmarshal(v, &raster); err == nil {
			o.Rasters[name] = raster
			continue
		}
		if o.Extra == nil {
			o.Extra = make(map[string]json.RawMessage)
		}
		o.Extra[name] = v
	}
	return o, nil
}

// decodeTagLabels accepts either {"<bit>": "label"} or
// [{"mask": <bit>, "label": "..."}].
func decodeTagLabels(raw json.RawMessage) (map[uint16]string, error) {
	out := make(map[uint16]string)
	var byKey map[uint16]string
	if err := json.Unmarshal(raw, &byKey); err == nil {
		for bit, label := range byKey {
			if bit != 0 && label != "" {
				out[bit] = label
			}
		}
		return out, nil
	}
	var entries []struct {
		Mask  uint16 `json:"mask"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Mask != 0 && e.Label != "" {
			out[e.Mask] = e.Label
		}
	}
	return out, nil
}
