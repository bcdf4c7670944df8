// Package service provides the application layer of the Paper client.
//
// The service package implements:
//   - A Client that owns one session machine and its websocket transport
//   - A sequenced event log for pollers (Events, WaitForEvents)
//   - Optional automatic reconnect with exponential backoff
//   - Match history persistence through a session.HistoryStore
//   - Prometheus metrics for session activity
//
// Core Interfaces:
//
// GameService is what the control surfaces (terminal, HTTP API, MCP tools)
// use. Client is its only implementation.
//
// Architecture:
//
// Client.Run is the single goroutine that touches the session machine. It
// drains the transport queue on every tick or Notify signal and executes
// requests from the other methods one at a time. Callers block until their
// request ran and receive the snapshot taken right after it.
//
// Usage:
//
//	tr := websocket.New(websocket.WithLogger(logger))
//	client := service.NewClient(tr,
//		service.WithLogger(logger),
//		service.WithServerURL("ws://localhost:8080/ws"),
//		service.WithPlayerName("Alice"),
//		service.WithReconnect(&backoff.Backoff{Min: time.Second, Max: 30 * time.Second}))
//
//	go client.Run(ctx)
//
//	snap, err := client.Connect(ctx, "")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	page, err := client.WaitForEvents(ctx, 0, 10*time.Second)
//
// Event Log:
//
// Every session event gets a sequence number starting at 1. The log keeps
// the most recent entries only; EventPage.Dropped tells a poller that it fell
// behind and missed events.
package service
