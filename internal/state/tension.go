package state

import "github.com/talgya/shadowscale/internal/protocol"

// TensionTracker remembers the highest timer observed per (layer, kind) so a
// tension repeated across deltas is announced once.
type TensionTracker struct {
	last map[protocol.TensionKey]int64
}

// NewTensionTracker returns an empty tracker.
func NewTensionTracker() *TensionTracker {
	return &TensionTracker{last: make(map[protocol.TensionKey]int64)}
}

// Observe records t and reports whether it is new: a key never seen, or a
// timer strictly above the last observed one.
func (tr *TensionTracker) Observe(t protocol.CultureTension) bool {
	key := t.Key()
	prev, seen := tr.last[key]
	if !seen {
		tr.last[key] = t.Timer
		return true
	}
	if t.Timer <= prev {
		return false
	}
	tr.last[key] = t.Timer
	return true
}

// Last returns the last observed timer for key.
func (tr *TensionTracker) Last(key protocol.TensionKey) (int64, bool) {
	v, ok := tr.last[key]
	return v, ok
}

// Len returns the number of tracked keys.
func (tr *TensionTracker) Len() int {
	return len(tr.last)
}

// Reset forgets every key.
func (tr *TensionTracker) Reset() {
	clear(tr.last)
}
