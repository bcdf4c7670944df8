package service

import (
	"time"

	"github.com/wricardo/paper-client/game/session"
)

// EventRecord is one session event as kept in the client's event log
type EventRecord struct {
	Seq     uint64        `json:"seq"`
	Time    time.Time     `json:"time"`
	Kind    string        `json:"kind"`
	State   session.State `json:"state"`
	From    session.State `json:"from"`
	Anomaly bool          `json:"anomaly,omitempty"`
	Type    string        `json:"type,omitempty"` // protocol tag, when the event carries a message or command
	Data    any           `json:"data,omitempty"`
	Summary string        `json:"summary"`
	Error   string        `json:"error,omitempty"`
}

// EventPage is a slice of the event log
type EventPage struct {
	Events []EventRecord `json:"events"`
	// Next is the cursor to pass as `after` to get only newer events
	Next  uint64        `json:"next"`
	State session.State `json:"state"`
	// Dropped is set when events after the cursor were already evicted
	Dropped bool `json:"dropped,omitempty"`
}
