// Package mcp provides the Model Context Protocol surface of the Paper client.
//
// The mcp package implements:
//   - An MCP server whose tools proxy to the local control API (package api)
//   - Plain-text formatting of snapshots, event pages and match history
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//
// The package exposes the following tools for AI agents:
//   - connect: Dial the game server
//   - join_lobby: Enter matchmaking with a name
//   - make_choice: Play rock, paper or scissors
//   - play_again: Queue for a rematch
//   - disconnect: Leave and close the connection
//   - session_state: Current state and score
//   - wait_for_events: Long poll the event log with a cursor
//   - match_history: Finished games
//   - game_instructions: Rules and flow
//
// Transport Modes:
//
//   - Stdio: `paper mcp` serves these tools on stdin/stdout
//   - HTTP: `paper serve` mounts the same server on /mcp
//
// Usage:
//
//	client := mcp.NewClient("http://127.0.0.1:8090")
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//		log.Fatal(err)
//	}
//
// AI Integration:
//
// The game is driven by the server: rounds start when the server says so.
// Agents alternate between a command tool and wait_for_events, passing the
// returned cursor each time so no event is seen twice.
package mcp
