package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/shadowscale/internal/state"
)

func openTemp(t *testing.T, limit int) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"), limit)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveSummary_Trims(t *testing.T) {
	db := openTemp(t, 3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for turn := int64(1); turn <= 5; turn++ {
		require.NoError(t, db.SaveSummary(state.TurnSummary{
			Turn:      turn,
			Kind:      "delta",
			Tiles:     int(turn * 10),
			Tensions:  1,
			AppliedAt: base.Add(time.Duration(turn) * time.Second),
		}))
	}

	rows, err := db.LoadHistory()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), rows[0].Turn)
	assert.Equal(t, int64(5), rows[2].Turn)
	assert.Equal(t, 50, rows[2].Tiles)
	assert.Equal(t, "delta", rows[2].Kind)
	assert.True(t, base.Add(5*time.Second).Equal(rows[2].AppliedAt))

	last, err := db.GetMeta("last_turn")
	require.NoError(t, err)
	assert.Equal(t, "5", last)
}

func TestMeta(t *testing.T) {
	db := openTemp(t, 0)
	_, err := db.GetMeta("missing")
	assert.ErrorIs(t, err, ErrNoMeta)

	require.NoError(t, db.SaveMeta("endpoint", "127.0.0.1:41000"))
	require.NoError(t, db.SaveMeta("endpoint", "10.0.0.2:41000"))
	v, err := db.GetMeta("endpoint")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:41000", v)
}

func TestRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(path, 0)
	require.NoError(t, err)
	for turn := int64(1); turn <= 4; turn++ {
		require.NoError(t, db.SaveSummary(state.TurnSummary{Turn: turn, Kind: "snapshot", AppliedAt: time.Now()}))
	}
	require.NoError(t, db.Close())

	db, err = Open(path, 0)
	require.NoError(t, err)
	defer db.Close()

	store := state.New(state.Options{HistorySize: 2})
	require.NoError(t, db.Restore(store))
	hist := store.History()
	require.Len(t, hist, 2)
	assert.Equal(t, int64(3), hist[0].Turn)
	assert.Equal(t, int64(4), hist[1].Turn)

	_, err = db.GetMeta("session_started")
	assert.NoError(t, err)
}
