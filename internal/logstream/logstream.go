// Package logstream decodes the simulation's log channel. Each frame carries
// one JSON log envelope; the client keeps the most recent ones in a bounded
// buffer for the inspector.
package logstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/talgya/shadowscale/internal/state"
)

// DefaultCapacity is the number of lines kept when none is configured.
const DefaultCapacity = 64

// ErrMalformed means a frame did not hold a log envelope.
var ErrMalformed = errors.New("malformed log envelope")

// Line is one log envelope from the simulation.
type Line struct {
	TimestampMS uint64         `json:"timestamp_ms"`
	Level       string         `json:"level"`
	Target      string         `json:"target"`
	Message     string         `json:"message"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Time returns the envelope timestamp.
func (l Line) Time() time.Time {
	return time.UnixMilli(int64(l.TimestampMS))
}

// SlogLevel maps the envelope level onto slog levels. TRACE folds into
// debug; unknown levels are info.
func (l Line) SlogLevel() slog.Level {
	switch strings.ToUpper(l.Level) {
	case "TRACE", "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Attrs returns the target and fields as slog attributes, fields sorted by key.
func (l Line) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.Fields)+1)
	attrs = append(attrs, slog.String("target", l.Target))
	for _, k := range slices.Sorted(maps.Keys(l.Fields)) {
		attrs = append(attrs, slog.Any(k, l.Fields[k]))
	}
	return attrs
}

// Parse decodes one frame payload.
func Parse(payload []byte) (Line, error) {
	var l Line
	if err := json.Unmarshal(payload, &l); err != nil {
		return Line{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if l.Message == "" && l.Level == "" {
		return Line{}, fmt.Errorf("%w: no level or message", ErrMalformed)
	}
	return l, nil
}

// Buffer keeps the most recent log lines, oldest first.
type Buffer struct {
	ring     *state.Ring[Line]
	received uint64
}

// NewBuffer creates a buffer holding capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{ring: state.NewRing[Line](capacity)}
}

// Push appends a line, evicting the oldest when full.
func (b *Buffer) Push(l Line) {
	b.ring.Push(l)
	b.received++
}

// Lines returns the buffered lines, oldest first.
func (b *Buffer) Lines() []Line {
	return b.ring.Items()
}

// Filter returns buffered lines at or above minLevel, oldest first.
func (b *Buffer) Filter(minLevel slog.Level) []Line {
	var out []Line
	for _, l := range b.ring.Items() {
		if l.SlogLevel() >= minLevel {
			out = append(out, l)
		}
	}
	return out
}

// Received counts every line pushed since creation.
func (b *Buffer) Received() uint64 {
	return b.received
}
