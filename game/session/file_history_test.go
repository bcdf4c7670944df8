package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/paper-client/game/protocol"
)

func testRecord(id string, ended time.Time) *GameRecord {
	return &GameRecord{
		ID:           id,
		ServerURL:    "ws://localhost:8080/ws",
		PlayerName:   "Alice",
		OpponentName: "Bob",
		Result:       protocol.Win,
		Score:        "2-1",
		Rounds: []RoundRecord{
			{Number: 1, Result: protocol.Win, YourChoice: protocol.Rock, OpponentChoice: protocol.Scissors},
		},
		Tally:     Tally{Wins: 1},
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   ended,
	}
}

func TestFileHistory(t *testing.T) {
	history, err := NewFileHistory(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record := testRecord("game-1", now)

	t.Run("Save and Load", func(t *testing.T) {
		require.NoError(t, history.Save(record))
		assert.True(t, history.Exists("game-1"))

		loaded, err := history.Load("game-1")
		require.NoError(t, err)
		assert.Equal(t, record.OpponentName, loaded.OpponentName)
		assert.Equal(t, record.Score, loaded.Score)
		assert.Equal(t, record.Rounds, loaded.Rounds)
		assert.True(t, record.EndedAt.Equal(loaded.EndedAt))
		assert.Equal(t, time.Minute, loaded.Duration())
	})

	t.Run("No temp files left behind", func(t *testing.T) {
		matches, err := filepath.Glob(filepath.Join(history.Dir(), "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("ListAll ignores other files", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(history.Dir(), "notes.txt"), []byte("x"), 0644))
		require.NoError(t, os.Mkdir(filepath.Join(history.Dir(), "sub.json"), 0755))

		ids, err := history.ListAll()
		require.NoError(t, err)
		assert.Equal(t, []string{"game-1"}, ids)
	})

	t.Run("Load missing record", func(t *testing.T) {
		_, err := history.Load("missing")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("Rejects path-like IDs", func(t *testing.T) {
		assert.Error(t, history.Save(testRecord("../escape", now)))
		assert.False(t, history.Exists("../game-1"))
		assert.Error(t, history.Save(nil))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, history.Delete("game-1"))
		assert.False(t, history.Exists("game-1"))
		assert.ErrorIs(t, history.Delete("game-1"), ErrRecordNotFound)
	})
}

func TestLoadAll_OrdersByEndTime(t *testing.T) {
	history, err := NewFileHistory(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, history.Save(testRecord("a", base.Add(2*time.Hour))))
	require.NoError(t, history.Save(testRecord("b", base)))
	require.NoError(t, history.Save(testRecord("c", base.Add(time.Hour))))

	records, err := LoadAll(history)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, "c", records[1].ID)
	assert.Equal(t, "a", records[2].ID)
}

func TestNewGameRecord(t *testing.T) {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	game := GameSummary{
		Opponent:  "Bob",
		Result:    protocol.Lose,
		Score:     "1-2",
		Rounds:    []RoundRecord{{Number: 1, Result: protocol.Lose}},
		Tally:     Tally{Losses: 1},
		StartedAt: started,
		EndedAt:   started.Add(30 * time.Second),
	}
	snap := Snapshot{ServerURL: "ws://example/ws", PlayerName: "Alice"}

	r1 := NewGameRecord(snap, game)
	r2 := NewGameRecord(snap, game)

	assert.NotEmpty(t, r1.ID)
	assert.NotEqual(t, r1.ID, r2.ID)
	assert.Equal(t, "Alice", r1.PlayerName)
	assert.Equal(t, "Bob", r1.OpponentName)
	assert.Equal(t, protocol.Lose, r1.Result)
	assert.Equal(t, "1-2", r1.Score)
	assert.Equal(t, 30*time.Second, r1.Duration())
}
