package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wricardo/paper-client/game/protocol"
)

var ErrRecordNotFound = errors.New("game record not found")

// HistoryStore persists finished games.
type HistoryStore interface {
	// Save persists a record, replacing any record with the same ID
	Save(record *GameRecord) error

	// Load retrieves a record by ID
	Load(id string) (*GameRecord, error)

	// Delete removes a record
	Delete(id string) error

	// ListAll returns the IDs of all stored records
	ListAll() ([]string, error)

	// Exists checks if a record exists
	Exists(id string) bool
}

// GameRecord is the stored form of one finished game.
type GameRecord struct {
	ID           string          `json:"id"`
	ServerURL    string          `json:"server_url,omitempty"`
	PlayerName   string          `json:"player_name"`
	OpponentName string          `json:"opponent_name"`
	Result       protocol.Result `json:"result"`
	Score        string          `json:"score,omitempty"`
	Rounds       []RoundRecord   `json:"rounds"`
	Tally        Tally           `json:"tally"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      time.Time       `json:"ended_at"`
}

// NewGameRecord builds a record with a fresh ID from a finished game.
func NewGameRecord(snap Snapshot, game GameSummary) *GameRecord {
	return &GameRecord{
		ID:           uuid.NewString(),
		ServerURL:    snap.ServerURL,
		PlayerName:   snap.PlayerName,
		OpponentName: game.Opponent,
		Result:       game.Result,
		Score:        game.Score,
		Rounds:       append([]RoundRecord(nil), game.Rounds...),
		Tally:        game.Tally,
		StartedAt:    game.StartedAt,
		EndedAt:      game.EndedAt,
	}
}

// Duration is how long the game lasted, or zero when a timestamp is missing.
func (r *GameRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// LoadAll reads every record in store, oldest game first.
func LoadAll(store HistoryStore) ([]*GameRecord, error) {
	ids, err := store.ListAll()
	if err != nil {
		return nil, err
	}

	records := make([]*GameRecord, 0, len(ids))
	for _, id := range ids {
		record, err := store.Load(id)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		records = append(records, record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].EndedAt.Before(records[j].EndedAt)
	})

	return records, nil
}
