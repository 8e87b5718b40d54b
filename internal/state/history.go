package state

import "time"

// TurnSummary records the shape of the model after one applied message.
type TurnSummary struct {
	Turn          int64     `json:"turn" db:"turn"`
	Kind          string    `json:"kind" db:"kind"`
	Tiles         int       `json:"tiles" db:"tiles"`
	Influencers   int       `json:"influencers" db:"influencers"`
	TradeLinks    int       `json:"trade_links" db:"trade_links"`
	CultureLayers int       `json:"culture_layers" db:"culture_layers"`
	Tensions      int       `json:"tensions" db:"tensions"`
	Skipped       int       `json:"skipped" db:"skipped"`
	AppliedAt     time.Time `json:"applied_at" db:"applied_at"`
}

// RestoreHistory seeds the history ring with previously saved summaries,
// oldest first. Only the newest entries that fit are kept.
func (s *Store) RestoreHistory(items []TurnSummary) {
	s.history.Reset()
	if extra := len(items) - s.history.Cap(); extra > 0 {
		items = items[extra:]
	}
	for _, it := range items {
		s.history.Push(it)
	}
}

// LastSummary returns the newest turn summary.
func (s *Store) LastSummary() (TurnSummary, bool) {
	return s.history.Last()
}
