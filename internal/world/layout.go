package world

import "math"

// DefaultTileScale is the world-space footprint of one tile along each axis.
const DefaultTileScale = 1.0

// Layout maps offset coordinates to scaled world positions so that the whole
// grid fills width*tileScale by height*tileScale, centered on the origin.
// The fit is cached until the grid dimensions change.
type Layout struct {
	tileScale float64
	grid      Grid
	valid     bool

	minX, minZ     float64 // Unit-radius bounding box corner
	scaleX, scaleZ float64
	originX        float64 // World position of the bounding box corner
	originZ        float64
	rebuilds       int
}

// NewLayout creates an empty layout. tileScale <= 0 selects DefaultTileScale.
func NewLayout(tileScale float64) *Layout {
	if tileScale <= 0 {
		tileScale = DefaultTileScale
	}
	return &Layout{tileScale: tileScale}
}

// Rebuild fits the layout to a width x height grid. It reports whether the
// fit was recomputed; unchanged dimensions keep the cached fit.
func (l *Layout) Rebuild(width, height int) bool {
	g := Grid{Width: width, Height: height}
	if l.valid && g == l.grid {
		return false
	}
	l.grid = g
	l.rebuilds++
	if g.Count() == 0 {
		l.valid = true
		l.scaleX, l.scaleZ = 0, 0
		return true
	}

	minX, minZ := math.Inf(1), math.Inf(1)
	maxX, maxZ := math.Inf(-1), math.Inf(-1)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			c := AxialCenter(OffsetToAxial(col, row))
			for _, p := range Corners(c) {
				minX, maxX = min(minX, p.X), max(maxX, p.X)
				minZ, maxZ = min(minZ, p.Z), max(maxZ, p.Z)
			}
		}
	}

	footW := float64(width) * l.tileScale
	footH := float64(height) * l.tileScale
	l.minX, l.minZ = minX, minZ
	l.scaleX = footW / (maxX - minX)
	l.scaleZ = footH / (maxZ - minZ)
	l.originX, l.originZ = -footW/2, -footH/2
	l.valid = true
	return true
}

// Grid returns the dimensions of the current fit.
func (l *Layout) Grid() Grid {
	return l.grid
}

// Scale returns the per-axis scale factors from unit-radius to world space.
func (l *Layout) Scale() (x, z float64) {
	return l.scaleX, l.scaleZ
}

// Rebuilds counts how many times the fit has been recomputed.
func (l *Layout) Rebuilds() int {
	return l.rebuilds
}

// Ready reports whether the layout has a usable fit.
func (l *Layout) Ready() bool {
	return l.valid && l.grid.Count() > 0
}

// ToWorld scales a unit-radius point into world space.
func (l *Layout) ToWorld(p Point) Point {
	return Point{
		X: l.originX + (p.X-l.minX)*l.scaleX,
		Z: l.originZ + (p.Z-l.minZ)*l.scaleZ,
	}
}

// FromWorld is the inverse of ToWorld.
func (l *Layout) FromWorld(p Point) Point {
	return Point{
		X: (p.X-l.originX)/l.scaleX + l.minX,
		Z: (p.Z-l.originZ)/l.scaleZ + l.minZ,
	}
}

// World returns the world-space center of the tile at (col, row).
func (l *Layout) World(col, row int) Point {
	return l.ToWorld(AxialCenter(OffsetToAxial(col, row)))
}

// WorldCorners returns the world-space corners of the tile at (col, row).
func (l *Layout) WorldCorners(col, row int) [6]Point {
	out := Corners(AxialCenter(OffsetToAxial(col, row)))
	for i := range out {
		out[i] = l.ToWorld(out[i])
	}
	return out
}

// Pick returns the tile under world point (x, z). ok is false when the
// layout is empty or the point maps outside the grid.
func (l *Layout) Pick(x, z float64) (col, row int, ok bool) {
	if !l.Ready() {
		return 0, 0, false
	}
	off := AxialToOffset(PickAxial(l.FromWorld(Point{X: x, Z: z})))
	if !l.grid.InBounds(off.Col, off.Row) {
		return off.Col, off.Row, false
	}
	return off.Col, off.Row, true
}
