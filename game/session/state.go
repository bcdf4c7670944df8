package session

import (
	"fmt"
	"time"

	"github.com/wricardo/paper-client/game/protocol"
)

// State is the client's view of where it is in the lobby/game lifecycle.
type State int

const (
	LoggedOut State = iota
	Connecting
	Lobby
	Waiting
	InRound
	RoundResolved
	GameOver
)

var stateNames = [...]string{
	LoggedOut:     "logged_out",
	Connecting:    "connecting",
	Lobby:         "lobby",
	Waiting:       "waiting",
	InRound:       "in_round",
	RoundResolved: "round_resolved",
	GameOver:      "game_over",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name so snapshots read well as JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", text)
}

// Tally counts round or game outcomes.
type Tally struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

func (t *Tally) add(r protocol.Result) {
	switch r {
	case protocol.Win:
		t.Wins++
	case protocol.Lose:
		t.Losses++
	case protocol.Draw:
		t.Draws++
	}
}

// Total is the number of outcomes counted.
func (t Tally) Total() int { return t.Wins + t.Losses + t.Draws }

// RoundRecord is one resolved round of a game.
type RoundRecord struct {
	Number         int             `json:"number"`
	Result         protocol.Result `json:"result"`
	YourChoice     protocol.Choice `json:"your_choice"`
	OpponentChoice protocol.Choice `json:"opponent_choice"`
}

// GameSummary describes a finished game.
type GameSummary struct {
	Opponent  string          `json:"opponent"`
	Result    protocol.Result `json:"result"`
	Score     string          `json:"score,omitempty"`
	Rounds    []RoundRecord   `json:"rounds"`
	Tally     Tally           `json:"tally"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// Snapshot is a copy of the machine's state and bookkeeping at one instant.
type Snapshot struct {
	State          State                 `json:"state"`
	ServerURL      string                `json:"server_url,omitempty"`
	PlayerName     string                `json:"player_name,omitempty"`
	Opponent       string                `json:"opponent,omitempty"`
	Round          int                   `json:"round"`
	AwaitingResult bool                  `json:"awaiting_result"`
	LastChoice     protocol.Choice       `json:"last_choice,omitempty"`
	LastRound      *protocol.RoundResult `json:"last_round,omitempty"`
	Tally          Tally                 `json:"tally"`
	Rounds         []RoundRecord         `json:"rounds,omitempty"`
	Record         Tally                 `json:"record"`
	LastGame       *GameSummary          `json:"last_game,omitempty"`
	Anomalies      int                   `json:"anomalies"`
}
