// Package protocol decodes simulation payloads into typed snapshot and delta
// records. Every top-level field carries an explicit presence marker so the
// state store can tell "absent" from "present and empty".
package protocol

import "encoding/json"

// Opt marks a field as present or absent in a message.
type Opt[T any] struct {
	Value   T
	Present bool
}

// Some returns a present Opt.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Value: v, Present: true}
}

// Get returns the value and whether it was present.
func (o Opt[T]) Get() (T, bool) {
	return o.Value, o.Present
}

// Kind classifies a whole message.
type Kind uint8

const (
	KindSnapshot Kind = iota // Replaces every collection it names
	KindDelta                // Upserts and removes named entities only
)

func (k Kind) String() string {
	if k == KindDelta {
		return "delta"
	}
	return "snapshot"
}

// Message is one decoded payload.
type Message struct {
	Kind Kind

	Turn              Opt[int64]
	Grid              Opt[Grid]
	Overlays          Opt[Overlays]
	Tiles             Opt[[]Tile]
	Influencers       Opt[[]Influencer]
	TradeLinks        Opt[[]TradeLink]
	CultureLayers     Opt[[]CultureLayer]
	DiscoveryProgress Opt[[]DiscoveryEntry]
	CultureTensions   Opt[[]CultureTension]
	Corruption        Opt[Corruption]
	Sentiment         Opt[Sentiment]
	AxisBias          Opt[AxisBias]

	TileUpdates              Opt[[]Tile]
	TileRemoved              Opt[[]int64]
	InfluencerUpdates        Opt[[]Influencer]
	InfluencerRemoved        Opt[[]int64]
	TradeLinkUpdates         Opt[[]TradeLink]
	TradeLinkRemoved         Opt[[]int64]
	CultureLayerUpdates      Opt[[]CultureLayer]
	CultureLayerRemoved      Opt[[]int64]
	DiscoveryProgressUpdates Opt[[]DiscoveryEntry]

	// Rejected lists entries dropped during ingestion. The rest of the
	// message is still usable.
	Rejected []Rejection
}

// Rejection describes one list entry that was not a well-formed record.
type Rejection struct {
	Field  string `json:"field"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Grid is the tile grid dimensions.
type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Overlays holds per-tile rasters and map annotations.
type Overlays struct {
	Rasters   map[string][]float64       `json:"rasters,omitempty"`
	TagLabels map[uint16]string          `json:"terrain_tag_labels,omitempty"`
	Extra     map[string]json.RawMessage `json:"extra,omitempty"`
}

// Raster returns the named raster, falling back to its "_raw" form.
func (o Overlays) Raster(name string) ([]float64, bool) {
	if v, ok := o.Rasters[name+"_raw"]; ok && len(v) > 0 {
		return v, true
	}
	v, ok := o.Rasters[name]
	return v, ok && len(v) > 0
}

// Tile is one grid cell.
type Tile struct {
	Entity         int64   `json:"entity"`
	Terrain        int     `json:"terrain"`
	Tags           uint16  `json:"terrain_tags"`
	X              int     `json:"x"`
	Y              int     `json:"y"`
	Element        int     `json:"element"`
	Temperature    float64 `json:"temperature"`
	Mass           float64 `json:"mass"`
	CultureLayer   int64   `json:"culture_layer"`
	MountainKind   int     `json:"mountain_kind"`
	MountainRelief float64 `json:"mountain_relief"`
}

// Influencer is an influential individual.
type Influencer struct {
	ID               int64              `json:"id"`
	Name             string             `json:"name"`
	Lifecycle        string             `json:"lifecycle"`
	Scope            string             `json:"scope,omitempty"`
	Influence        float64            `json:"influence"`
	GrowthRate       float64            `json:"growth_rate"`
	SupportCharge    float64            `json:"support_charge"`
	SuppressPressure float64            `json:"suppress_pressure"`
	Notoriety        float64            `json:"notoriety"`
	Coherence        float64            `json:"coherence"`
	Supported        bool               `json:"supported"`
	Suppressed       bool               `json:"suppressed"`
	TicksInStatus    int                `json:"ticks_in_status"`
	Domains          []string           `json:"domains"`
	CultureResonance []CultureResonance `json:"culture_resonance"`
}

// CultureResonance is one axis of an influencer's cultural pull.
type CultureResonance struct {
	Axis   string  `json:"axis"`
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
	Output float64 `json:"output"`
}

// TradeLink connects two factions.
type TradeLink struct {
	Entity      int64     `json:"entity"`
	FromFaction int64     `json:"from_faction"`
	ToFaction   int64     `json:"to_faction"`
	Knowledge   Knowledge `json:"knowledge"`
	Throughput  float64   `json:"throughput"`
	Tariff      float64   `json:"tariff"`
	FromTile    int64     `json:"from_tile"`
	ToTile      int64     `json:"to_tile"`
}

// Knowledge is the diffusion state carried by a trade link.
type Knowledge struct {
	Openness      float64 `json:"openness"`
	LeakTimer     int     `json:"leak_timer"`
	LastDiscovery int64   `json:"last_discovery"`
	Decay         float64 `json:"decay"`
}

// CultureScope is the reach of a culture layer.
type CultureScope string

const (
	ScopeGlobal   CultureScope = "Global"
	ScopeRegional CultureScope = "Regional"
	ScopeLocal    CultureScope = "Local"
	ScopeUnknown  CultureScope = "Unknown"
)

// ParseCultureScope normalizes a wire scope; anything unrecognized is ScopeUnknown.
func ParseCultureScope(s string) CultureScope {
	switch CultureScope(s) {
	case ScopeGlobal, ScopeRegional, ScopeLocal:
		return CultureScope(s)
	}
	return ScopeUnknown
}

// CultureLayer is one node of the culture hierarchy.
type CultureLayer struct {
	ID              int64          `json:"id"`
	Scope           CultureScope   `json:"scope"`
	Owner           string         `json:"owner"`
	Parent          int64          `json:"parent"`
	Divergence      float64        `json:"divergence"`
	SoftThreshold   float64        `json:"soft_threshold"`
	HardThreshold   float64        `json:"hard_threshold"`
	TicksAboveSoft  int            `json:"ticks_above_soft"`
	TicksAboveHard  int            `json:"ticks_above_hard"`
	LastUpdatedTick int64          `json:"last_updated_tick"`
	Traits          []CultureTrait `json:"traits"`
}

// CultureTrait is one axis value of a culture layer.
type CultureTrait struct {
	Axis     string  `json:"axis"`
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	Baseline float64 `json:"baseline"`
	Modifier float64 `json:"modifier"`
}

// DiscoveryEntry is one faction's progress toward one discovery.
type DiscoveryEntry struct {
	Faction   int64   `json:"faction"`
	Discovery int64   `json:"discovery"`
	Progress  float64 `json:"progress"`
}

// CultureTension is a divergence warning raised against a layer.
type CultureTension struct {
	LayerID  int64   `json:"layer_id"`
	Kind     string  `json:"kind"`
	Scope    string  `json:"scope,omitempty"`
	Severity float64 `json:"severity"`
	Timer    int64   `json:"timer"`
}

// TensionKey identifies a tension across messages.
type TensionKey struct {
	LayerID int64  `json:"layer_id"`
	Kind    string `json:"kind"`
}

// Key returns the tracker key for t.
func (t CultureTension) Key() TensionKey {
	return TensionKey{LayerID: t.LayerID, Kind: t.Kind}
}

// AxisBias is the player-set bias on the four sentiment axes.
type AxisBias struct {
	Knowledge float64 `json:"knowledge"`
	Trust     float64 `json:"trust"`
	Equity    float64 `json:"equity"`
	Agency    float64 `json:"agency"`
}

// Sentiment maps axis name to its telemetry.
type Sentiment map[string]SentimentAxis

// SentimentAxis breaks one axis total into its contributors.
type SentimentAxis struct {
	Policy      float64           `json:"policy"`
	Incidents   float64           `json:"incidents"`
	Influencers float64           `json:"influencers"`
	Total       float64           `json:"total"`
	Drivers     []SentimentDriver `json:"drivers"`
}

// SentimentDriver is a single named contribution to a sentiment axis.
type SentimentDriver struct {
	Category string  `json:"category"`
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	Weight   float64 `json:"weight"`
}

// Corruption is the corruption ledger.
type Corruption struct {
	Entries            []CorruptionEntry `json:"entries"`
	ReputationModifier float64           `json:"reputation_modifier"`
	AuditCapacity      int               `json:"audit_capacity"`
}

// CorruptionEntry is one active corruption incident.
type CorruptionEntry struct {
	Subsystem         string  `json:"subsystem"`
	Intensity         float64 `json:"intensity"`
	IncidentID        int64   `json:"incident_id"`
	ExposureTimer     int     `json:"exposure_timer"`
	RestitutionWindow int     `json:"restitution_window"`
	LastUpdateTick    int64   `json:"last_update_tick"`
}

var tensionKindLabels = map[string]string{
	"DriftWarning":     "Drift Warning",
	"AssimilationPush": "Assimilation Push",
	"SchismRisk":       "Schism Risk",
}

// KindLabel returns the display label for the tension kind.
func (t CultureTension) KindLabel() string {
	if label, ok := tensionKindLabels[t.Kind]; ok {
		return label
	}
	return t.Kind
}
