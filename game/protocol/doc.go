// Package protocol defines the wire protocol spoken between the Paper client
// and the game server.
//
// The protocol package implements:
//   - Typed client commands (join_lobby, make_choice, play_again, disconnect)
//   - Typed server events (player_waiting, game_starting, round_start,
//     round_result, game_ended, error)
//   - The envelope codec that wraps every frame as {"type": ..., "data": ...}
//
// Message Protocol:
//
// Every text frame carries exactly one JSON object:
//
//	{"type": "round_result", "data": {"result": "win", "your_choice": "rock", "opponent_choice": "scissors"}}
//
// Decoding is split in two steps. Decode extracts the type tag and the raw
// data object without parsing the payload, so callers can route on the tag
// first. ParseEvent then decodes the payload into the concrete event selected
// by that tag. Unknown tags are returned as Unknown rather than an error.
//
// Usage:
//
//	frame, err := protocol.Encode(protocol.MakeChoice{Choice: protocol.Rock})
//
//	env, err := protocol.Decode(raw)
//	if err != nil {
//		// malformed frame
//	}
//	ev, err := protocol.ParseEvent(env)
//	switch ev := ev.(type) {
//	case protocol.RoundResult:
//		fmt.Println(ev.Result)
//	case protocol.Unknown:
//		fmt.Println("unknown message", ev.Type)
//	}
package protocol
