package state

import (
	"slices"

	"github.com/talgya/shadowscale/internal/world"
)

// TagLabel is one entry of the label registry.
type TagLabel struct {
	Bit   uint16 `json:"bit"`
	Label string `json:"label"`
}

// LabelRegistry maps tag bit values to display labels. It starts with the
// built-in terrain tags, accepts labels sent by the simulation, and
// synthesizes "Tag N" for bits seen on a tile without a label.
type LabelRegistry struct {
	labels map[uint16]string
}

// NewLabelRegistry returns a registry seeded with the built-in tags.
func NewLabelRegistry() *LabelRegistry {
	return &LabelRegistry{labels: world.KnownTagLabels()}
}

// Upsert sets the label for bit. Zero bits and empty labels are ignored.
func (r *LabelRegistry) Upsert(bit uint16, label string) {
	if bit == 0 || label == "" {
		return
	}
	r.labels[bit] = label
}

// Ensure returns the label for bit, synthesizing one on first sight.
func (r *LabelRegistry) Ensure(bit uint16) string {
	if label, ok := r.labels[bit]; ok {
		return label
	}
	label := world.TagLabel(bit)
	r.labels[bit] = label
	return label
}

// Label returns the label for bit if one is registered.
func (r *LabelRegistry) Label(bit uint16) (string, bool) {
	label, ok := r.labels[bit]
	return label, ok
}

// Len returns the number of registered labels.
func (r *LabelRegistry) Len() int {
	return len(r.labels)
}

// Entries returns every label in ascending bit order.
func (r *LabelRegistry) Entries() []TagLabel {
	out := make([]TagLabel, 0, len(r.labels))
	for bit, label := range r.labels {
		out = append(out, TagLabel{Bit: bit, Label: label})
	}
	slices.SortFunc(out, func(a, b TagLabel) int { return int(a.Bit) - int(b.Bit) })
	return out
}
