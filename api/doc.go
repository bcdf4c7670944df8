// Package api provides the local HTTP control API for the Paper client.
//
// The api package implements:
//   - JSON endpoints for the session commands and state
//   - Long polling over the client's event log
//   - Match history listing
//   - A websocket stream of session events (/ws)
//   - Prometheus metrics (/metrics) and a health check
//
// Endpoints:
//
// Session State:
//   - GET /api/state - Current session snapshot
//   - GET /api/events?after=N&limit=M&wait=10s - Events newer than N; wait turns it into a long poll
//   - GET /api/history?limit=N - Most recent finished games
//
// Commands:
//   - POST /api/connect {"url": "ws://..."} - Dial the game server (url optional)
//   - POST /api/join {"name": "Alice"} - Join the lobby
//   - POST /api/choice {"choice": "rock|paper|scissors"} - Play a round
//   - POST /api/play-again - Ask for a rematch
//   - POST /api/disconnect - Leave and close the connection
//
// Other:
//   - GET /ws - Websocket; first frame {"type":"snapshot"}, then {"type":"event"} frames
//   - GET /metrics - Prometheus exposition, when a gatherer is configured
//   - GET /health
//
// Command responses are the snapshot taken right after the command ran.
//
// Usage:
//
//	hub := websocket.NewHub(logger)
//	server := api.NewServer(client, hub, api.WithMetrics(registry))
//	client.OnEvent(server.PublishEvent)
//	go hub.Run(ctx)
//	http.ListenAndServe("127.0.0.1:8090", server)
//
// Error Handling:
//
// Errors are returned as JSON. Refused commands also carry the unchanged state:
//
//	{
//	  "error": "session: make_choice not allowed in state lobby",
//	  "state": {"state": "lobby", ...}
//	}
//
// Status codes: 400 for bad input, 409 for commands not valid in the current
// state, 503 when the client is stopped or the connection is not open, 500
// for transport failures.
package api
