package state

import "github.com/talgya/shadowscale/internal/protocol"

// Collection names a keyed entity collection.
type Collection uint8

const (
	CollectionTiles Collection = iota
	CollectionInfluencers
	CollectionTradeLinks
	CollectionCultureLayers
	CollectionDiscovery
)

var collectionNames = [...]string{"tiles", "influencers", "trade_links", "culture_layers", "discovery"}

func (c Collection) String() string {
	if int(c) < len(collectionNames) {
		return collectionNames[c]
	}
	return "unknown"
}

// Observer receives change notifications from Apply. Callbacks run
// synchronously on the applying goroutine and must not call Apply.
//
// Snapshots announce themselves once through SnapshotApplied rather than
// per entity; deltas announce every upserted and removed entity.
type Observer interface {
	TileChanged(tile protocol.Tile)
	EntityChanged(c Collection, id int64)
	EntityRemoved(c Collection, id int64)
	TensionRaised(t protocol.CultureTension)
	SnapshotApplied(turn int64)
	GridResized(g protocol.Grid)
}

// Hooks adapts optional funcs to Observer. Nil fields are skipped.
type Hooks struct {
	OnTileChanged     func(tile protocol.Tile)
	OnEntityChanged   func(c Collection, id int64)
	OnEntityRemoved   func(c Collection, id int64)
	OnTensionRaised   func(t protocol.CultureTension)
	OnSnapshotApplied func(turn int64)
	OnGridResized     func(g protocol.Grid)
}

// TileChanged calls OnTileChanged if set.
func (h Hooks) TileChanged(tile protocol.Tile) {
	if h.OnTileChanged != nil {
		h.OnTileChanged(tile)
	}
}

// EntityChanged calls OnEntityChanged if set.
func (h Hooks) EntityChanged(c Collection, id int64) {
	if h.OnEntityChanged != nil {
		h.OnEntityChanged(c, id)
	}
}

// EntityRemoved calls OnEntityRemoved if set.
func (h Hooks) EntityRemoved(c Collection, id int64) {
	if h.OnEntityRemoved != nil {
		h.OnEntityRemoved(c, id)
	}
}

// TensionRaised calls OnTensionRaised if set.
func (h Hooks) TensionRaised(t protocol.CultureTension) {
	if h.OnTensionRaised != nil {
		h.OnTensionRaised(t)
	}
}

// SnapshotApplied calls OnSnapshotApplied if set.
func (h Hooks) SnapshotApplied(turn int64) {
	if h.OnSnapshotApplied != nil {
		h.OnSnapshotApplied(turn)
	}
}

// GridResized calls OnGridResized if set.
func (h Hooks) GridResized(g protocol.Grid) {
	if h.OnGridResized != nil {
		h.OnGridResized(g)
	}
}

type subscription struct {
	id  uint64
	obs Observer
}

// Subscribe registers o and returns a func that removes it. Observers are
// called in subscription order.
func (s *Store) Subscribe(o Observer) (unsubscribe func()) {
	s.nextSub++
	id := s.nextSub
	s.observers = append(s.observers, subscription{id: id, obs: o})
	return func() {
		for i, sub := range s.observers {
			if sub.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) each(fn func(Observer)) {
	for _, sub := range s.observers {
		fn(sub.obs)
	}
}
