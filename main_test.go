package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/paper-client/game/config"
	"github.com/wricardo/paper-client/game/protocol"
	"github.com/wricardo/paper-client/game/service"
	"github.com/wricardo/paper-client/game/session"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName != "Paper" {
		t.Errorf("Expected app name Paper, got %s", AppName)
	}
}

// fakeFlags stands in for *cli.Command in resolveConfig
type fakeFlags struct {
	strings   map[string]string
	bools     map[string]bool
	durations map[string]time.Duration
}

func (f fakeFlags) String(name string) string          { return f.strings[name] }
func (f fakeFlags) Bool(name string) bool              { return f.bools[name] }
func (f fakeFlags) Duration(name string) time.Duration { return f.durations[name] }
func (f fakeFlags) IsSet(name string) bool {
	_, s := f.strings[name]
	_, b := f.bools[name]
	_, d := f.durations[name]
	return s || b || d
}

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, _, err := resolveConfig(fakeFlags{strings: map[string]string{"profile": config.DefaultProfile}})
	if err != nil {
		t.Fatalf("resolveConfig failed: %v", err)
	}
	if cfg.ServerURL != config.LocalServerURL {
		t.Errorf("Expected %s, got %s", config.LocalServerURL, cfg.ServerURL)
	}
	if cfg.Reconnect {
		t.Error("Local profile should not reconnect")
	}
}

func TestResolveConfig_Overrides(t *testing.T) {
	cfg, _, err := resolveConfig(fakeFlags{
		strings: map[string]string{
			"profile":     "production",
			"server":      "localhost:9000",
			"name":        "Alice",
			"history-dir": "/tmp/paper-history",
		},
		bools:     map[string]bool{"reconnect": false},
		durations: map[string]time.Duration{"connect-timeout": 3 * time.Second},
	})
	if err != nil {
		t.Fatalf("resolveConfig failed: %v", err)
	}

	if cfg.ServerURL != "ws://localhost:9000/ws" {
		t.Errorf("Expected normalized server URL, got %s", cfg.ServerURL)
	}
	if cfg.PlayerName != "Alice" {
		t.Errorf("Expected player Alice, got %s", cfg.PlayerName)
	}
	if cfg.Reconnect {
		t.Error("Expected --reconnect=false to override the production profile")
	}
	if cfg.ConnectTimeout.Std() != 3*time.Second {
		t.Errorf("Expected 3s connect timeout, got %s", cfg.ConnectTimeout)
	}
	if cfg.HistoryDir != "/tmp/paper-history" {
		t.Errorf("Expected history dir override, got %s", cfg.HistoryDir)
	}
}

func TestResolveConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		flags fakeFlags
	}{
		{"unknown profile", fakeFlags{strings: map[string]string{"profile": "nope"}}},
		{"bad server", fakeFlags{strings: map[string]string{"profile": config.DefaultProfile, "server": "ftp://host"}}},
		{"missing config dir", fakeFlags{strings: map[string]string{"profile": config.DefaultProfile, "config-dir": "/non/existent/path"}}},
		{"zero tick", fakeFlags{
			strings:   map[string]string{"profile": config.DefaultProfile},
			durations: map[string]time.Duration{"tick": 0},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := resolveConfig(tt.flags); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		line   string
		action inputAction
		choice protocol.Choice
		err    bool
	}{
		{"", actionNone, "", false},
		{"1", actionChoice, protocol.Rock, false},
		{" P ", actionChoice, protocol.Paper, false},
		{"scissors", actionChoice, protocol.Scissors, false},
		{"play", actionPlayAgain, "", false},
		{"state", actionState, "", false},
		{"history", actionHistory, "", false},
		{"?", actionHelp, "", false},
		{"q", actionQuit, "", false},
		{"lizard", actionNone, "", true},
	}

	for _, tt := range tests {
		action, choice, err := parseInput(tt.line)
		if (err != nil) != tt.err {
			t.Errorf("parseInput(%q) error = %v, want error %v", tt.line, err, tt.err)
		}
		if action != tt.action || choice != tt.choice {
			t.Errorf("parseInput(%q) = %v %q, want %v %q", tt.line, action, choice, tt.action, tt.choice)
		}
	}
}

// promptService records the commands runPrompt issues
type promptService struct {
	service.GameService
	calls       []string
	choiceErr   error
	disconnects int
}

func (p *promptService) MakeChoice(ctx context.Context, choice protocol.Choice) (*session.Snapshot, error) {
	p.calls = append(p.calls, "choice:"+string(choice))
	if p.choiceErr != nil {
		return nil, p.choiceErr
	}
	return &session.Snapshot{State: session.RoundResolved, LastChoice: choice}, nil
}

func (p *promptService) PlayAgain(ctx context.Context) (*session.Snapshot, error) {
	p.calls = append(p.calls, "play_again")
	return &session.Snapshot{State: session.Waiting}, nil
}

func (p *promptService) Snapshot(ctx context.Context) (*session.Snapshot, error) {
	p.calls = append(p.calls, "state")
	return &session.Snapshot{State: session.InRound, PlayerName: "Alice", Opponent: "Bob", Round: 2}, nil
}

func (p *promptService) History(ctx context.Context, limit int) ([]*session.GameRecord, error) {
	p.calls = append(p.calls, "history")
	return []*session.GameRecord{{OpponentName: "Bob", Result: protocol.Win, Score: "2-1", Rounds: make([]session.RoundRecord, 3)}}, nil
}

func (p *promptService) Disconnect(ctx context.Context) (*session.Snapshot, error) {
	p.disconnects++
	return &session.Snapshot{State: session.LoggedOut}, nil
}

func TestRunPrompt(t *testing.T) {
	svc := &promptService{}
	in := bufio.NewScanner(strings.NewReader("1\nstate\nbogus\nplay\nhistory\nquit\n3\n"))
	var out bytes.Buffer

	if err := runPrompt(context.Background(), in, &out, svc); err != nil {
		t.Fatalf("runPrompt failed: %v", err)
	}

	want := []string{"choice:rock", "state", "play_again", "history"}
	if strings.Join(svc.calls, ",") != strings.Join(want, ",") {
		t.Errorf("Expected calls %v, got %v", want, svc.calls)
	}
	if svc.disconnects != 1 {
		t.Errorf("Expected one disconnect on quit, got %d", svc.disconnects)
	}

	text := out.String()
	for _, s := range []string{"opponent: Bob", "round: 2", `unknown command "bogus"`, "vs Bob: WIN 2-1 (3 rounds)"} {
		if !strings.Contains(text, s) {
			t.Errorf("Expected %q in output, got: %s", s, text)
		}
	}
}

func TestRunPrompt_RefusedCommandKeepsGoing(t *testing.T) {
	svc := &promptService{choiceErr: errors.New("session: make_choice not allowed in state lobby")}
	in := bufio.NewScanner(strings.NewReader("rock\n"))
	var out bytes.Buffer

	if err := runPrompt(context.Background(), in, &out, svc); err != nil {
		t.Fatalf("Expected end of input to return nil, got %v", err)
	}
	if !strings.Contains(out.String(), "! session: make_choice not allowed") {
		t.Errorf("Expected refusal to be printed, got: %s", out.String())
	}
}

func TestRunPrompt_StoppedClient(t *testing.T) {
	svc := &promptService{choiceErr: service.ErrStopped}
	in := bufio.NewScanner(strings.NewReader("rock\npaper\n"))

	err := runPrompt(context.Background(), in, io.Discard, svc)
	if !errors.Is(err, service.ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if len(svc.calls) != 1 {
		t.Errorf("Expected prompt to stop after the first failure, got calls %v", svc.calls)
	}
}

func TestEventPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &eventPrinter{out: &out}

	p.print(service.EventRecord{Kind: "received", Type: protocol.TypeRoundStart, State: session.InRound, Summary: "round 1 started"})
	p.print(service.EventRecord{Kind: "rejected", State: session.Lobby, Summary: "make_choice refused", Error: "not allowed"})

	text := out.String()
	for _, s := range []string{"[in_round] round 1 started", "choose: 1=rock", "[lobby] make_choice refused: not allowed"} {
		if !strings.Contains(text, s) {
			t.Errorf("Expected %q in output, got: %s", s, text)
		}
	}

	out.Reset()
	raw := &eventPrinter{out: &out, raw: true}
	raw.print(service.EventRecord{Seq: 7, Kind: "connected", Summary: "connected"})
	if !strings.Contains(out.String(), `"seq":7`) {
		t.Errorf("Expected JSON output, got: %s", out.String())
	}
}

func TestApiReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if !apiReachable(context.Background(), server.URL) {
		t.Error("Expected API to be reachable")
	}
	if apiReachable(context.Background(), "http://127.0.0.1:1") {
		t.Error("Expected closed port to be unreachable")
	}
}

func TestServeControl(t *testing.T) {
	cfg := config.Default()
	cfg.HistoryDir = t.TempDir()

	rt, err := newRuntime(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newRuntime failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	baseURL := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveControl(ctx, rt, ln, false) }()

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", resp.StatusCode)
	}

	resp, err = http.Get(baseURL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"state":"logged_out"`) {
		t.Errorf("Expected logged_out state, got %s", body)
	}

	resp, err = http.Post(baseURL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("POST /mcp failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"id":1`) {
		t.Errorf("Expected JSON-RPC reply from /mcp, got %d %s", resp.StatusCode, body)
	}

	resp, err = http.Get(baseURL + "/mcp")
	if err != nil {
		t.Fatalf("GET /mcp failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET /mcp, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serveControl returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serveControl did not stop")
	}
}
