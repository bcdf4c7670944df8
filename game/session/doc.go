// Package session implements the client session state machine for the Paper
// rock-paper-scissors client.
//
// The session package implements:
//   - The session states from LoggedOut through GameOver
//   - Command validation against the current state (join, choose, play again, disconnect)
//   - Server message handling with a fixed transition table
//   - Anomaly reconciliation for messages that arrive out of state
//   - Per-game bookkeeping: opponent, round number, round results, tally
//   - Match history persistence (HistoryStore, FileHistory)
//
// Core Types:
//
// Machine owns the session state. It sends encoded commands through a
// Transport and is told about connection progress through Opened, Closed and
// TransportFailed. Every input produces exactly one Event for the registered
// Observers.
//
// States:
//
//	LoggedOut -> Connecting -> Lobby -> Waiting -> InRound -> RoundResolved -> GameOver
//	GameOver -> Waiting      (play again)
//	any      -> LoggedOut    (disconnect, transport failure, close)
//
// A server message received in a state outside its valid set still moves the
// machine to the message's target state. The resulting Received event has
// Anomaly set and a warning is logged. Frames that cannot be decoded become a
// local ServerError and never change state.
//
// Concurrency:
//
// Machine is not safe for concurrent use. A single goroutine drains the
// transport and issues commands; see game/service for the host loop.
//
// Usage:
//
//	m := session.NewMachine(transport, session.WithLogger(logger))
//	m.Subscribe(session.ObserverFunc(func(ev session.Event) {
//		fmt.Println(session.Describe(ev))
//	}))
//
//	if err := m.Connect("ws://localhost:8080/ws"); err != nil {
//		return err
//	}
//	for _, ev := range transport.Drain() {
//		// feed Opened / MessageReceived / Closed into the machine
//	}
//	err := m.Issue(protocol.MakeChoice{Choice: protocol.Rock})
package session
