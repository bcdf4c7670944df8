package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ParseEvent decodes env.Data into the server event selected by env.Type.
// Tags outside the protocol produce Unknown and no error.
func ParseEvent(env Envelope) (IncomingEvent, error) {
	switch env.Type {
	case TypePlayerWaiting:
		return parsePayload[PlayerWaiting](env)
	case TypeGameStarting:
		return parsePayload[GameStarting](env)
	case TypeRoundStart:
		return parsePayload[RoundStart](env)
	case TypeRoundResult:
		return parsePayload[RoundResult](env)
	case TypeGameEnded:
		return parsePayload[GameEnded](env)
	case TypeError:
		return parsePayload[ServerError](env)
	default:
		return Unknown{Tag: env.Type, Data: string(payload(env))}, nil
	}
}

// ParseCommand decodes env.Data into the client command selected by env.Type.
// It is the server-side counterpart of Encode.
func ParseCommand(env Envelope) (OutgoingCommand, error) {
	switch env.Type {
	case TypeJoinLobby:
		return parsePayload[JoinLobby](env)
	case TypeMakeChoice:
		return parsePayload[MakeChoice](env)
	case TypePlayAgain:
		return parsePayload[PlayAgain](env)
	case TypeDisconnect:
		return parsePayload[Disconnect](env)
	default:
		return nil, &PayloadError{Type: env.Type, Err: errors.New("unknown command type")}
	}
}

// DecodeEvent is Decode followed by ParseEvent.
func DecodeEvent(raw []byte) (IncomingEvent, error) {
	env, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return ParseEvent(env)
}

type validator interface {
	validate() error
}

func parsePayload[T any](env Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(payload(env), &v); err != nil {
		var zero T
		return zero, &PayloadError{Type: env.Type, Err: err}
	}
	if c, ok := any(v).(validator); ok {
		if err := c.validate(); err != nil {
			var zero T
			return zero, &PayloadError{Type: env.Type, Err: err}
		}
	}
	return v, nil
}

func payload(env Envelope) json.RawMessage {
	if len(env.Data) == 0 {
		return emptyData
	}
	return env.Data
}

func (c MakeChoice) validate() error {
	if !c.Choice.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChoice, c.Choice)
	}
	return nil
}

func (e RoundStart) validate() error {
	if e.RoundNumber < 1 {
		return fmt.Errorf("round_number must be >= 1, got %d", e.RoundNumber)
	}
	return nil
}

func (e RoundResult) validate() error {
	if !e.Result.Valid() {
		return fmt.Errorf("unknown result %q", e.Result)
	}
	if !e.YourChoice.Valid() {
		return fmt.Errorf("%w: your_choice %q", ErrInvalidChoice, e.YourChoice)
	}
	if !e.OpponentChoice.Valid() {
		return fmt.Errorf("%w: opponent_choice %q", ErrInvalidChoice, e.OpponentChoice)
	}
	return nil
}

func (e GameEnded) validate() error {
	if !e.Result.Valid() {
		return fmt.Errorf("unknown result %q", e.Result)
	}
	return nil
}
