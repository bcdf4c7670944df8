package session

import (
	"fmt"

	"github.com/wricardo/paper-client/game/protocol"
)

// Event is emitted to observers once per machine input. The set is closed.
type Event interface {
	Kind() string
	isSessionEvent()
}

// Transition records the state change an input caused. Anomaly is set when
// the input was not valid from From and the state was forced to To.
type Transition struct {
	From    State `json:"from"`
	To      State `json:"to"`
	Anomaly bool  `json:"anomaly,omitempty"`
}

// Dialing is emitted when Connect handed the URL to the transport.
type Dialing struct {
	Transition
	URL string
}

// Connected is emitted when the transport reports the connection open.
type Connected struct {
	Transition
}

// Issued is emitted after a command was sent.
type Issued struct {
	Transition
	Command protocol.OutgoingCommand
}

// Rejected is emitted when a command or server message was refused in the
// current state. The state is unchanged.
type Rejected struct {
	State   State
	Action  string
	Command protocol.OutgoingCommand
	Message protocol.IncomingEvent
	Err     error
}

// Received is emitted for every known server message, and for frames that
// could not be decoded (Message is then a local ServerError and Err the cause).
type Received struct {
	Transition
	Message protocol.IncomingEvent
	Err     error
}

// UnknownMessage is emitted for frames whose type tag the client does not know.
type UnknownMessage struct {
	State State
	Type  string
	Data  string
}

// TransportFailed is emitted when the connection failed. The machine is reset.
type TransportFailed struct {
	Transition
	Err error
}

// Disconnected is emitted when the connection closed. The machine is reset.
type Disconnected struct {
	Transition
	Code   int
	Reason string
}

func (Dialing) Kind() string         { return "dialing" }
func (Connected) Kind() string       { return "connected" }
func (Issued) Kind() string          { return "issued" }
func (Rejected) Kind() string        { return "rejected" }
func (Received) Kind() string        { return "received" }
func (UnknownMessage) Kind() string  { return "unknown_message" }
func (TransportFailed) Kind() string { return "transport_failed" }
func (Disconnected) Kind() string    { return "disconnected" }

func (Dialing) isSessionEvent()         {}
func (Connected) isSessionEvent()       {}
func (Issued) isSessionEvent()          {}
func (Rejected) isSessionEvent()        {}
func (Received) isSessionEvent()        {}
func (UnknownMessage) isSessionEvent()  {}
func (TransportFailed) isSessionEvent() {}
func (Disconnected) isSessionEvent()    {}

// Observer receives machine events on the goroutine that drives the machine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// TransitionOf returns the transition carried by ev, and false for events
// that never change state.
func TransitionOf(ev Event) (Transition, bool) {
	switch e := ev.(type) {
	case Dialing:
		return e.Transition, true
	case Connected:
		return e.Transition, true
	case Issued:
		return e.Transition, true
	case Received:
		return e.Transition, true
	case TransportFailed:
		return e.Transition, true
	case Disconnected:
		return e.Transition, true
	}
	return Transition{}, false
}

// Describe renders ev as one human readable line.
func Describe(ev Event) string {
	switch e := ev.(type) {
	case Dialing:
		return fmt.Sprintf("connecting to %s", e.URL)
	case Connected:
		return "connected"
	case Issued:
		return fmt.Sprintf("sent %s", describeCommand(e.Command))
	case Rejected:
		return fmt.Sprintf("rejected %s: %v", e.Action, e.Err)
	case Received:
		return describeMessage(e)
	case UnknownMessage:
		return fmt.Sprintf("unknown message %q: %s", e.Type, e.Data)
	case TransportFailed:
		return fmt.Sprintf("connection failed: %v", e.Err)
	case Disconnected:
		if e.Reason != "" {
			return fmt.Sprintf("disconnected (%d): %s", e.Code, e.Reason)
		}
		return fmt.Sprintf("disconnected (%d)", e.Code)
	}
	return ev.Kind()
}

func describeCommand(cmd protocol.OutgoingCommand) string {
	switch c := cmd.(type) {
	case protocol.JoinLobby:
		return fmt.Sprintf("join_lobby as %s", c.Name)
	case protocol.MakeChoice:
		return fmt.Sprintf("choice %s", c.Choice)
	}
	return cmd.Type()
}

func describeMessage(e Received) string {
	var s string
	switch m := e.Message.(type) {
	case protocol.PlayerWaiting:
		s = "waiting for an opponent"
	case protocol.GameStarting:
		s = fmt.Sprintf("game starting against %s", m.OpponentName)
	case protocol.RoundStart:
		s = fmt.Sprintf("round %d", m.RoundNumber)
	case protocol.RoundResult:
		s = fmt.Sprintf("round %s: %s vs %s", m.Result, m.YourChoice, m.OpponentChoice)
	case protocol.GameEnded:
		s = fmt.Sprintf("game over: %s", m.Result)
		if m.Score != "" {
			s += " " + m.Score
		}
	case protocol.ServerError:
		if m.Local {
			s = fmt.Sprintf("bad frame: %v", e.Err)
		} else {
			s = fmt.Sprintf("server error: %s", m.Message)
		}
	default:
		s = e.Message.Type()
	}
	if e.Anomaly {
		s += fmt.Sprintf(" (unexpected in %s)", e.From)
	}
	return s
}
