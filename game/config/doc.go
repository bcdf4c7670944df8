// Package config provides connection profiles for the Paper client.
//
// The config package handles:
//   - The Config type shared by every command (server URL, timeouts, player name)
//   - Named JSON profiles in a config directory
//   - Built-in "local" and "production" profiles
//   - Validation and normalization of server URLs
//
// Profile Format:
//
// A profile is a JSON file named <profile>.json. Missing fields take the
// values of the built-in local profile. Durations use Go syntax:
//
//	{
//	  "description": "LAN party server",
//	  "server_url": "ws://10.0.0.5:8080/ws",
//	  "player_name": "Alice",
//	  "connect_timeout": "5s",
//	  "reconnect": true
//	}
//
// Usage:
//
//	manager, err := config.NewManager("profiles")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	cfg, err := manager.LoadProfile("production")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// List available profiles
//	profiles, err := manager.ListProfiles()
//
// Precedence:
//
// Command line flags and PAPER_* environment variables override the selected
// profile; the profile overrides the built-in defaults.
package config
