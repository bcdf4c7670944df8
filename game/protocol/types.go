package protocol

import (
	"fmt"
	"strings"
)

// Message type tags, client to server.
const (
	TypeJoinLobby  = "join_lobby"
	TypeMakeChoice = "make_choice"
	TypePlayAgain  = "play_again"
	TypeDisconnect = "disconnect"
)

// Message type tags, server to client.
const (
	TypePlayerWaiting = "player_waiting"
	TypeGameStarting  = "game_starting"
	TypeRoundStart    = "round_start"
	TypeRoundResult   = "round_result"
	TypeGameEnded     = "game_ended"
	TypeError         = "error"
)

// Choice is a player's hand for one round.
type Choice string

const (
	Rock     Choice = "rock"
	Paper    Choice = "paper"
	Scissors Choice = "scissors"
)

// Valid reports whether c is one of rock, paper or scissors.
func (c Choice) Valid() bool {
	switch c {
	case Rock, Paper, Scissors:
		return true
	}
	return false
}

// ParseChoice accepts a choice name (any case) or its menu shortcut 1, 2, 3.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "rock", "r":
		return Rock, nil
	case "2", "paper", "p":
		return Paper, nil
	case "3", "scissors", "s":
		return Scissors, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChoice, s)
}

// Result is the outcome of a round or a game from this client's point of view.
type Result string

const (
	Win  Result = "win"
	Lose Result = "lose"
	Draw Result = "draw"
)

// Valid reports whether r is one of win, lose or draw.
func (r Result) Valid() bool {
	switch r {
	case Win, Lose, Draw:
		return true
	}
	return false
}

// OutgoingCommand is a message the client sends to the server.
// The set is closed: JoinLobby, MakeChoice, PlayAgain and Disconnect.
type OutgoingCommand interface {
	Type() string
	isCommand()
}

// JoinLobby asks the server to put the player into matchmaking.
type JoinLobby struct {
	Name string `json:"name"`
}

// MakeChoice submits the player's hand for the current round.
type MakeChoice struct {
	Choice Choice `json:"choice"`
}

// PlayAgain requests a rematch after a game has ended.
type PlayAgain struct{}

// Disconnect tells the server the player is leaving.
type Disconnect struct{}

func (JoinLobby) Type() string  { return TypeJoinLobby }
func (MakeChoice) Type() string { return TypeMakeChoice }
func (PlayAgain) Type() string  { return TypePlayAgain }
func (Disconnect) Type() string { return TypeDisconnect }

func (JoinLobby) isCommand()  {}
func (MakeChoice) isCommand() {}
func (PlayAgain) isCommand()  {}
func (Disconnect) isCommand() {}

// IncomingEvent is a message received from the server.
// Tags the client does not know are represented by Unknown.
type IncomingEvent interface {
	Type() string
	isEvent()
}

// PlayerWaiting means the player is queued and no opponent is available yet.
type PlayerWaiting struct{}

// GameStarting announces a new game against OpponentName.
type GameStarting struct {
	OpponentName string `json:"opponent_name"`
}

// RoundStart opens round RoundNumber (1-based) of the current game.
type RoundStart struct {
	RoundNumber int `json:"round_number"`
}

// RoundResult reports how a round ended.
type RoundResult struct {
	Result         Result `json:"result"`
	YourChoice     Choice `json:"your_choice"`
	OpponentChoice Choice `json:"opponent_choice"`
}

// GameEnded reports the final result of a game. Score is the server's
// summary such as "2-1" and may be empty.
type GameEnded struct {
	Result Result `json:"result"`
	Score  string `json:"score,omitempty"`
}

// ServerError carries an error message. Local is set when the client
// synthesized the event itself because a frame could not be decoded.
type ServerError struct {
	Message string `json:"message"`
	Local   bool   `json:"-"`
}

// Unknown holds a frame whose type tag is not part of the protocol.
type Unknown struct {
	Tag  string
	Data string
}

func (PlayerWaiting) Type() string { return TypePlayerWaiting }
func (GameStarting) Type() string  { return TypeGameStarting }
func (RoundStart) Type() string    { return TypeRoundStart }
func (RoundResult) Type() string   { return TypeRoundResult }
func (GameEnded) Type() string     { return TypeGameEnded }
func (ServerError) Type() string   { return TypeError }
func (u Unknown) Type() string     { return u.Tag }

func (PlayerWaiting) isEvent() {}
func (GameStarting) isEvent()  {}
func (RoundStart) isEvent()    {}
func (RoundResult) isEvent()   {}
func (GameEnded) isEvent()     {}
func (ServerError) isEvent()   {}
func (Unknown) isEvent()       {}
