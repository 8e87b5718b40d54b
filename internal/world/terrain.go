package world

import (
	"fmt"
	"math/bits"
)

// Terrain is a simulation terrain class id.
type Terrain int

// Terrain classes sent by the simulation.
const (
	TerrainDeepOcean Terrain = iota
	TerrainContinentalShelf
	TerrainInlandSea
	TerrainCoralShelf
	TerrainHydrothermalVentField
	TerrainTidalFlat
	TerrainRiverDelta
	TerrainMangroveSwamp
	TerrainFreshwaterMarsh
	TerrainFloodplain
	TerrainAlluvialPlain
	TerrainPrairieSteppe
	TerrainMixedWoodland
	TerrainBorealTaiga
	TerrainPeatlandHeath
	TerrainHotDesertErg
	TerrainRockyRegDesert
	TerrainSemiAridScrub
	TerrainSaltFlat
	TerrainOasisBasin
	TerrainTundra
	TerrainPeriglacialSteppe
	TerrainGlacier
	TerrainSeasonalSnowfield
	TerrainRollingHills
	TerrainHighPlateau
	TerrainAlpineMountain
	TerrainKarstHighland
	TerrainCanyonBadlands
	TerrainActiveVolcanoSlope
	TerrainBasalticLavaField
	TerrainAshPlain
	TerrainFumaroleBasin
	TerrainImpactCraterField
	TerrainKarstCavernMouth
	TerrainSinkholeField
	TerrainAquiferCeiling
	terrainCount
)

var terrainNames = [terrainCount]string{
	"Deep Ocean", "Continental Shelf", "Inland Sea", "Coral Shelf",
	"Hydrothermal Vent Field", "Tidal Flat", "River Delta", "Mangrove Swamp",
	"Freshwater Marsh", "Floodplain", "Alluvial Plain", "Prairie Steppe",
	"Mixed Woodland", "Boreal Taiga", "Peatland/Heath", "Hot Desert Erg",
	"Rocky Reg Desert", "Semi-Arid Scrub", "Salt Flat", "Oasis Basin",
	"Tundra", "Periglacial Steppe", "Glacier", "Seasonal Snowfield",
	"Rolling Hills", "High Plateau", "Alpine Mountain", "Karst Highland",
	"Canyon Badlands", "Active Volcano Slope", "Basaltic Lava Field",
	"Ash Plain", "Fumarole Basin", "Impact Crater Field",
	"Karst Cavern Mouth", "Sinkhole Field", "Aquifer Ceiling",
}

// TerrainName returns a human-readable name for a terrain id.
func TerrainName(t Terrain) string {
	if t >= 0 && t < terrainCount {
		return terrainNames[t]
	}
	return "Unknown"
}

// IsWater reports whether t is a submerged class.
func (t Terrain) IsWater() bool {
	switch t {
	case TerrainDeepOcean, TerrainContinentalShelf, TerrainInlandSea,
		TerrainCoralShelf, TerrainHydrothermalVentField:
		return true
	}
	return false
}

// IsHighland reports whether t is raised terrain.
func (t Terrain) IsHighland() bool {
	switch t {
	case TerrainRollingHills, TerrainHighPlateau, TerrainAlpineMountain,
		TerrainKarstHighland, TerrainCanyonBadlands, TerrainActiveVolcanoSlope:
		return true
	}
	return false
}

// TerrainTag is one bit of a tile's 16-bit tag mask.
type TerrainTag uint16

const (
	TagWater TerrainTag = 1 << iota
	TagFreshwater
	TagCoastal
	TagWetland
	TagFertile
	TagArid
	TagPolar
	TagHighland
	TagVolcanic
	TagHazardous
	TagSubsurface
	TagHydrothermal
)

var tagNames = map[TerrainTag]string{
	TagWater:        "Water",
	TagFreshwater:   "Freshwater",
	TagCoastal:      "Coastal",
	TagWetland:      "Wetland",
	TagFertile:      "Fertile",
	TagArid:         "Arid",
	TagPolar:        "Polar",
	TagHighland:     "Highland",
	TagVolcanic:     "Volcanic",
	TagHazardous:    "Hazardous",
	TagSubsurface:   "Subsurface",
	TagHydrothermal: "Hydrothermal",
}

// KnownTagLabels returns the built-in label for every named tag bit.
func KnownTagLabels() map[uint16]string {
	out := make(map[uint16]string, len(tagNames))
	for tag, name := range tagNames {
		out[uint16(tag)] = name
	}
	return out
}

// TagLabel returns the label for a single tag bit, synthesizing "Tag N"
// for bits without a built-in name.
func TagLabel(bit uint16) string {
	if name, ok := tagNames[TerrainTag(bit)]; ok {
		return name
	}
	return fmt.Sprintf("Tag %d", bit)
}

// TagBits calls fn once per set bit of mask, lowest first, with the bit value.
func TagBits(mask uint16, fn func(bit uint16)) {
	for mask != 0 {
		bit := uint16(1) << bits.TrailingZeros16(mask)
		fn(bit)
		mask &^= bit
	}
}
