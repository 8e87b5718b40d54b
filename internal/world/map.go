package world

import "fmt"

// Grid is the rectangular extent of the tile grid in offset coordinates.
type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InBounds returns true if (col, row) lies within the grid.
func (g Grid) InBounds(col, row int) bool {
	return col >= 0 && row >= 0 && col < g.Width && row < g.Height
}

// Count returns the number of cells in the grid.
func (g Grid) Count() int {
	if g.Width <= 0 || g.Height <= 0 {
		return 0
	}
	return g.Width * g.Height
}

// Index returns the row-major index of (col, row), or -1 when out of bounds.
func (g Grid) Index(col, row int) int {
	if !g.InBounds(col, row) {
		return -1
	}
	return row*g.Width + col
}

// NeighborOr returns the value of the neighbor of (col, row) in dir, or def
// when that neighbor falls outside the grid.
func NeighborOr[T any](g Grid, col, row int, dir Direction, at func(col, row int) T, def T) T {
	n := Neighbor(col, row, dir)
	if !g.InBounds(n.Col, n.Row) {
		return def
	}
	return at(n.Col, n.Row)
}

// String returns a summary of the grid.
func (g Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d, cells=%d)", g.Width, g.Height, g.Count())
}
