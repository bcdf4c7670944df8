package service

import (
	"context"
	"time"

	"github.com/wricardo/paper-client/game/protocol"
	"github.com/wricardo/paper-client/game/session"
	"github.com/wricardo/paper-client/transport/websocket"
)

// GameService defines the operations the control surfaces (terminal, HTTP,
// MCP) perform on the single game session
type GameService interface {
	// Connection
	Connect(ctx context.Context, url string) (*session.Snapshot, error)
	Disconnect(ctx context.Context) (*session.Snapshot, error)

	// Game commands
	JoinLobby(ctx context.Context, name string) (*session.Snapshot, error)
	MakeChoice(ctx context.Context, choice protocol.Choice) (*session.Snapshot, error)
	PlayAgain(ctx context.Context) (*session.Snapshot, error)

	// Session state
	Snapshot(ctx context.Context) (*session.Snapshot, error)
	Events(ctx context.Context, after uint64, limit int) (*EventPage, error)
	WaitForEvents(ctx context.Context, after uint64, timeout time.Duration) (*EventPage, error)

	// Match history
	History(ctx context.Context, limit int) ([]*session.GameRecord, error)
}

// Transport is the connection the Client drains on every tick
type Transport interface {
	session.Transport
	Drain() []websocket.Event
	Notify() <-chan struct{}
}
