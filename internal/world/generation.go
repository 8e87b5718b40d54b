package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// ReliefConfig holds relief generation parameters.
type ReliefConfig struct {
	Seed        int64   // 0 = derived from grid dimensions
	Octaves     int     // Noise layers
	Frequency   float64 // Base frequency in unit-hex space
	Persistence float64 // Amplitude falloff per octave
	SeaLevel    float64 // Ceiling for water tiles (0.0–1.0)
	HighlandMin float64 // Floor for highland tiles (0.0–1.0)
}

// DefaultReliefConfig returns a gentle, readable relief.
func DefaultReliefConfig() ReliefConfig {
	return ReliefConfig{
		Octaves:     4,
		Frequency:   0.08,
		Persistence: 0.5,
		SeaLevel:    0.25,
		HighlandMin: 0.65,
	}
}

// TerrainAt reports the terrain class of the tile at (col, row). ok is false
// for cells with no tile.
type TerrainAt func(col, row int) (t Terrain, ok bool)

// ReliefField builds a deterministic height field for grid g from layered
// simplex noise, for use when the simulation sends no elevation overlay.
// Terrain shapes the result so water sits low and highlands stand out.
// terrain may be nil, in which case raw noise is used everywhere.
func ReliefField(g Grid, cfg ReliefConfig, terrain TerrainAt) *HeightField {
	if g.Count() == 0 {
		return nil
	}
	def := DefaultReliefConfig()
	if cfg.Octaves <= 0 {
		cfg.Octaves = def.Octaves
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = def.Frequency
	}
	if cfg.Persistence <= 0 {
		cfg.Persistence = def.Persistence
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = int64(g.Width)<<32 | int64(g.Height)
	}
	noise := opensimplex.NewNormalized(seed)

	samples := make([]float64, g.Count())
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			// Sample in hex space so neighbors get correlated heights.
			c := AxialCenter(OffsetToAxial(col, row))
			elev := octaveNoise(noise, c.X, c.Z, cfg.Octaves, cfg.Frequency, cfg.Persistence)

			if terrain != nil {
				if t, ok := terrain(col, row); ok {
					elev = shapeByTerrain(elev, t, cfg)
				}
			}
			samples[g.Index(col, row)] = elev
		}
	}
	return &HeightField{Width: g.Width, Height: g.Height, Samples: samples}
}

// shapeByTerrain squeezes elev into the band that suits the terrain class.
func shapeByTerrain(elev float64, t Terrain, cfg ReliefConfig) float64 {
	switch {
	case t.IsWater():
		return elev * cfg.SeaLevel
	case t.IsHighland():
		return cfg.HighlandMin + elev*(1-cfg.HighlandMin)
	default:
		return cfg.SeaLevel + elev*(cfg.HighlandMin-cfg.SeaLevel)
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return math.Max(0, math.Min(1, total/maxVal))
}
