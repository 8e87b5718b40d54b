// Package world provides the hex grid geometry used to place and pick tiles.
// Storage is row-major offset coordinates (col, row) on a pointy-top,
// odd-row offset layout; distance, neighbor and picking math use axial (q, r).
package world

import "math"

const sqrt3 = 1.7320508075688772

// Offset is a storage coordinate on the rectangular grid.
type Offset struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// floorHalf is floor(n/2) for any sign of n.
func floorHalf(n int) int {
	return n >> 1
}

// OffsetToAxial converts odd-row offset coordinates to axial.
func OffsetToAxial(col, row int) HexCoord {
	return HexCoord{Q: col - floorHalf(row-(row&1)), R: row}
}

// AxialToOffset is the exact inverse of OffsetToAxial.
func AxialToOffset(h HexCoord) Offset {
	return Offset{Col: h.Q + floorHalf(h.R-(h.R&1)), Row: h.R}
}

// Point is a position on the ground plane.
type Point struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// AxialCenter returns the center of h at unit radius.
func AxialCenter(h HexCoord) Point {
	q, r := float64(h.Q), float64(h.R)
	return Point{X: sqrt3*q + sqrt3/2*r, Z: 1.5 * r}
}

// Corner returns corner i (0..5) of the unit hex centered at c.
func Corner(c Point, i int) Point {
	angle := (60*float64(i) + 30) * math.Pi / 180
	return Point{X: c.X + math.Cos(angle), Z: c.Z + math.Sin(angle)}
}

// Corners returns all six corners of the unit hex centered at c.
func Corners(c Point) [6]Point {
	var out [6]Point
	for i := range out {
		out[i] = Corner(c, i)
	}
	return out
}

// CubeRound rounds fractional cube coordinates to the containing hex.
// The component with the largest rounding error is recomputed from the
// other two so that q+r+s stays zero.
func CubeRound(qf, rf, sf float64) HexCoord {
	q, r, s := math.Round(qf), math.Round(rf), math.Round(sf)
	dq, dr, ds := math.Abs(q-qf), math.Abs(r-rf), math.Abs(s-sf)

	switch {
	case dq > dr && dq > ds:
		q = -r - s
	case dr > ds:
		r = -q - s
	}
	return HexCoord{Q: int(q), R: int(r)}
}

// PickAxial returns the hex whose unit-radius center is nearest p.
func PickAxial(p Point) HexCoord {
	rf := p.Z / 1.5
	qf := p.X/sqrt3 - rf/2
	return CubeRound(qf, rf, -qf-rf)
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates,
// indexed by Direction.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Direction names the six neighbors of a pointy-top hex.
type Direction uint8

const (
	East Direction = iota
	NorthEast
	NorthWest
	West
	SouthWest
	SouthEast
)

var directionNames = [...]string{"E", "NE", "NW", "W", "SW", "SE"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return "?"
}

// Odd-row offset deltas, [parity][direction]. Rows grow southward.
var offsetDeltas = [2][6]Offset{
	{{1, 0}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}, {0, 1}},
	{{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {0, 1}, {1, 1}},
}

// Neighbor returns the offset coordinate adjacent to (col, row) in dir.
// The result may lie outside any particular grid.
func Neighbor(col, row int, dir Direction) Offset {
	d := offsetDeltas[row&1][dir%6]
	return Offset{Col: col + d.Col, Row: row + d.Row}
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	return max(dq, dr, ds)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
