package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/paper-client/game/service"
	"github.com/wricardo/paper-client/game/session"
)

const (
	defaultWaitSeconds = 10
	maxWaitSeconds     = 55
)

// Client is a thin MCP client that proxies to the control API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the control API at baseURL
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// Long enough for a wait_for_events long poll
			Timeout: (maxWaitSeconds + 5) * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Paper",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Paper - Rock Paper Scissors over MCP

This is a thin client that proxies all requests to a running paper control API.

GAME FLOW:
connect -> join_lobby -> (server pairs you) -> make_choice each round -> game over -> play_again

AVAILABLE TOOLS:
- connect: Connect to the game server
- join_lobby: Enter matchmaking with a player name
- make_choice: Play rock, paper or scissors for the current round
- play_again: Queue for a rematch after a game ends
- disconnect: Leave and close the connection
- session_state: Current state, opponent, round and score
- wait_for_events: Block until something happens (opponent found, round started, result)
- match_history: Finished games
- game_instructions: Rules and tips

The server decides when rounds start. After each command, call wait_for_events
with the returned cursor to see what the server did.`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Connection
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "connect",
		Description: "Connect to the game server. Uses the configured server when url is omitted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Server websocket URL, e.g. ws://localhost:8080/ws (optional)",
				},
			},
		},
	}, c.handleConnect)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "disconnect",
		Description: "Leave the game and close the connection",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleDisconnect)

	// Game commands
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "join_lobby",
		Description: "Join the matchmaking lobby",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Player name shown to the opponent",
				},
			},
			Required: []string{"name"},
		},
	}, c.handleJoinLobby)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "make_choice",
		Description: "Play a hand for the current round",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"choice": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"rock", "paper", "scissors"},
					"description": "Hand to play",
				},
				"intent": map[string]interface{}{
					"type":        "string",
					"description": "Brief explanation of why you picked this hand (optional)",
				},
			},
			Required: []string{"choice"},
		},
	}, c.handleMakeChoice)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "play_again",
		Description: "Queue for a rematch after a game ended",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handlePlayAgain)

	// Session state
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "session_state",
		Description: "Get the current session state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleSessionState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "wait_for_events",
		Description: "Wait for session events newer than a cursor. Returns immediately when events are already available.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"after": map[string]interface{}{
					"type":        "number",
					"description": "Cursor from the previous call (0 for everything)",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "number",
					"description": fmt.Sprintf("How long to wait (default %d, max %d)", defaultWaitSeconds, maxWaitSeconds),
				},
			},
		},
	}, c.handleWaitForEvents)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "match_history",
		Description: "List finished games, most recent last",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Number of games to return (default 10)",
				},
			},
		},
	}, c.handleMatchHistory)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_instructions",
		Description: "Get the rules and how to play through these tools",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// apiError is a non-2xx answer from the control API
type apiError struct {
	Status  int
	Message string
	State   *session.Snapshot
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API error: %d", e.Status)
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string            `json:"error"`
			State *session.Snapshot `json:"state"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &apiError{Status: resp.StatusCode, Message: errResp.Error, State: errResp.State}
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// command posts to a command endpoint and formats the resulting snapshot
func (c *Client) command(ctx context.Context, path string, body interface{}, headline string) (*mcp.CallToolResult, error) {
	var snap session.Snapshot
	if err := c.apiCall(ctx, "POST", path, body, &snap); err != nil {
		return errorResult(err), nil
	}

	return mcp.NewToolResultText(headline + "\n\n" + formatSnapshot(&snap)), nil
}

// errorResult includes the unchanged state when the API sent it back
func errorResult(err error) *mcp.CallToolResult {
	if ae, ok := err.(*apiError); ok && ae.State != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s\n\n%s", ae.Error(), formatSnapshot(ae.State)))
	}
	return mcp.NewToolResultError(err.Error())
}

// arguments returns the tool arguments, empty when the caller sent none
func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	return args
}

// Tool handlers

func (c *Client) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	serverURL, _ := args["url"].(string)

	body := map[string]string{}
	if serverURL != "" {
		body["url"] = serverURL
	}

	return c.command(ctx, "/api/connect", body, "Connecting. Call wait_for_events to see when the connection opens.")
}

func (c *Client) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.command(ctx, "/api/disconnect", nil, "Disconnected.")
}

func (c *Client) handleJoinLobby(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name, _ := args["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	return c.command(ctx, "/api/join", map[string]string{"name": name},
		fmt.Sprintf("Joined the lobby as %s. Waiting for the server to pair you.", name))
}

func (c *Client) handleMakeChoice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	choice, _ := args["choice"].(string)
	intent, _ := args["intent"].(string)

	// Intent is only echoed back
	headline := fmt.Sprintf("Played %s.", strings.ToLower(choice))
	if intent != "" {
		headline += " Intent: " + intent
	}

	return c.command(ctx, "/api/choice", map[string]string{"choice": choice}, headline)
}

func (c *Client) handlePlayAgain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.command(ctx, "/api/play-again", nil, "Queued for a rematch.")
}

func (c *Client) handleSessionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var snap session.Snapshot
	if err := c.apiCall(ctx, "GET", "/api/state", nil, &snap); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSnapshot(&snap)), nil
}

func (c *Client) handleWaitForEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	after := 0.0
	if v, ok := args["after"].(float64); ok && v > 0 {
		after = v
	}
	timeout := float64(defaultWaitSeconds)
	if v, ok := args["timeout_seconds"].(float64); ok && v > 0 {
		timeout = min(v, maxWaitSeconds)
	}

	query := url.Values{}
	query.Set("after", fmt.Sprintf("%d", uint64(after)))
	query.Set("wait", (time.Duration(timeout * float64(time.Second))).String())

	var page service.EventPage
	if err := c.apiCall(ctx, "GET", "/api/events?"+query.Encode(), nil, &page); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatEventPage(&page)), nil
}

func (c *Client) handleMatchHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	limit := 10
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	var history struct {
		Count int                   `json:"count"`
		Games []*session.GameRecord `json:"games"`
	}
	if err := c.apiCall(ctx, "GET", fmt.Sprintf("/api/history?limit=%d", limit), nil, &history); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatHistory(history.Games)), nil
}

func (c *Client) handleGameInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(gameInstructions), nil
}

const gameInstructions = `Paper - Complete Instructions

RULES:
Rock beats scissors, scissors beats paper, paper beats rock. Equal hands draw.
A game is a short series of rounds; the server decides how many and announces
the final result and score (for example "2-1").

GAME FLOW:
1. connect                   -> state connecting, then lobby once the socket opens
2. join_lobby name=<you>     -> the server answers player_waiting (state waiting)
3. the server pairs you      -> game_starting with the opponent name, then round_start
4. make_choice choice=<hand> -> state round_resolved until round_result arrives
5. repeat 4 for each round_start
6. game_ended                -> state game_over with result and score
7. play_again                -> back to waiting for a new opponent

STATES:
logged_out, connecting, lobby, waiting, in_round, round_resolved, game_over

TIPS:
- Commands sent in the wrong state are refused and the state does not change.
- Always pass the cursor from the last wait_for_events call as "after".
- make_choice is only accepted in state in_round, once per round.
- disconnect works from any state and ends the game.

Good luck!`

// Formatting

func formatSnapshot(snap *session.Snapshot) string {
	if snap == nil {
		return "No session state available"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", snap.State)
	if snap.ServerURL != "" {
		fmt.Fprintf(&b, "Server: %s\n", snap.ServerURL)
	}
	if snap.PlayerName != "" {
		fmt.Fprintf(&b, "Player: %s\n", snap.PlayerName)
	}
	if snap.Opponent != "" {
		fmt.Fprintf(&b, "Opponent: %s\n", snap.Opponent)
	}
	if snap.Round > 0 {
		fmt.Fprintf(&b, "Round: %d\n", snap.Round)
	}
	if snap.AwaitingResult {
		fmt.Fprintf(&b, "Played %s, waiting for the result\n", snap.LastChoice)
	}
	if r := snap.LastRound; r != nil {
		fmt.Fprintf(&b, "Last round: %s (you %s, opponent %s)\n", strings.ToUpper(string(r.Result)), r.YourChoice, r.OpponentChoice)
	}
	if snap.Tally.Total() > 0 {
		fmt.Fprintf(&b, "This game: %d won, %d lost, %d drawn\n", snap.Tally.Wins, snap.Tally.Losses, snap.Tally.Draws)
	}
	if g := snap.LastGame; g != nil && snap.State == session.GameOver {
		fmt.Fprintf(&b, "Game over: %s %s against %s\n", strings.ToUpper(string(g.Result)), g.Score, g.Opponent)
	}
	if snap.Record.Total() > 0 {
		fmt.Fprintf(&b, "Record: %d-%d-%d (W-L-D)\n", snap.Record.Wins, snap.Record.Losses, snap.Record.Draws)
	}

	b.WriteString("Next: " + nextStep(snap))
	return b.String()
}

// nextStep suggests the tool to call in the current state
func nextStep(snap *session.Snapshot) string {
	switch snap.State {
	case session.LoggedOut:
		return "connect"
	case session.Connecting:
		return "wait_for_events until connected"
	case session.Lobby:
		return "join_lobby"
	case session.Waiting:
		return "wait_for_events until the game starts"
	case session.InRound:
		return "make_choice"
	case session.RoundResolved:
		return "wait_for_events for the round result"
	case session.GameOver:
		return "play_again or disconnect"
	}
	return "session_state"
}

func formatEventPage(page *service.EventPage) string {
	var b strings.Builder
	if len(page.Events) == 0 {
		b.WriteString("No new events.\n")
	}
	if page.Dropped {
		b.WriteString("(some older events were dropped)\n")
	}
	for _, ev := range page.Events {
		line := fmt.Sprintf("#%d %s", ev.Seq, ev.Summary)
		if ev.Error != "" {
			line += " [" + ev.Error + "]"
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "\nState: %s\nCursor: %d", page.State, page.Next)
	return b.String()
}

func formatHistory(games []*session.GameRecord) string {
	if len(games) == 0 {
		return "No finished games yet"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d game(s):\n", len(games))
	for _, g := range games {
		fmt.Fprintf(&b, "- %s vs %s: %s %s (%d rounds)\n",
			g.EndedAt.Format("2006-01-02 15:04"), g.OpponentName,
			strings.ToUpper(string(g.Result)), g.Score, len(g.Rounds))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
