// Command validate checks the connection profiles in a config directory
// (default ./configs). For every *.json file it checks:
//   - JSON structure, rejecting unknown fields
//   - The profile name matches the file name
//   - server_url is a ws:// or wss:// URL with a host
//   - Timeouts, when given, are positive
//   - listen_addr, when given, is host:port
//   - player_name has no surrounding whitespace
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/paper-client/game/config"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// validateProfile loads and validates a single profile file.
func validateProfile(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	var cfg config.Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		result.fail("Invalid JSON: %v", err)
		return result
	}

	name := strings.TrimSuffix(result.File, filepath.Ext(result.File))
	if cfg.Name != "" && cfg.Name != name {
		result.fail("name %q does not match file name %q", cfg.Name, name)
	}

	if cfg.ServerURL == "" {
		result.fail("server_url is required")
	} else if _, err := config.ParseServerURL(cfg.ServerURL); err != nil {
		result.fail("%v", err)
	}

	if cfg.ConnectTimeout < 0 {
		result.fail("connect_timeout must be positive, got %s", cfg.ConnectTimeout)
	}
	if cfg.TickInterval < 0 {
		result.fail("tick_interval must be positive, got %s", cfg.TickInterval)
	}

	if cfg.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
			result.fail("listen_addr %q: %v", cfg.ListenAddr, err)
		}
	}

	if cfg.PlayerName != strings.TrimSpace(cfg.PlayerName) {
		result.fail("player_name %q has surrounding whitespace", cfg.PlayerName)
	}

	if result.Valid {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Server: %s", cfg.ServerURL))
		if cfg.PlayerName != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("✓ Player: %s", cfg.PlayerName))
		}
		if cfg.Reconnect {
			result.Errors = append(result.Errors, "✓ Reconnects with backoff")
		}
	}

	return result
}

// main validates every *.json file in the directory given as the first
// argument, printing a concise report and exiting with non-zero status if
// any are invalid.
func main() {
	configDir := "configs"
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	files, err := filepath.Glob(filepath.Join(configDir, "*.json"))
	if err != nil {
		fmt.Printf("Error finding profile files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Printf("No profiles found in %s\n", configDir)
		return
	}

	allValid := true
	for _, file := range files {
		result := validateProfile(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Println("  ❌ " + err)
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All profiles are valid!")
	} else {
		fmt.Println("❌ Some profiles have errors")
		os.Exit(1)
	}
}
