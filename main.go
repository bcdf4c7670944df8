// Command paper is a client for the Paper rock-paper-scissors game server.
//
// It supports four commands:
//  1. "play" - interactive terminal client (1/2/3 to play, "play" for a rematch, "quit")
//  2. "serve" - keeps one session open and exposes it over a local REST API,
//     an event websocket, Prometheus metrics and an /mcp HTTP endpoint
//  3. "mcp" - runs an MCP stdio server, reusing a running "serve" API or
//     starting an internal one
//  4. "profiles" - lists, shows and saves connection profiles
//
// Settings come from flags, PAPER_* environment variables (a .env file is
// loaded first), then the selected profile.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jpillora/backoff"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/paper-client/api"
	"github.com/wricardo/paper-client/game/config"
	"github.com/wricardo/paper-client/game/service"
	"github.com/wricardo/paper-client/game/session"
	"github.com/wricardo/paper-client/transport/mcp"
	"github.com/wricardo/paper-client/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Paper"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "paper: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the command tree
func newApp() *cli.Command {
	return &cli.Command{
		Name:    "paper",
		Usage:   "rock-paper-scissors client for the Paper game server",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "profile",
				Value:   config.DefaultProfile,
				Usage:   "connection profile to start from",
				Sources: cli.EnvVars("PAPER_PROFILE"),
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "directory with <profile>.json files",
				Sources: cli.EnvVars("PAPER_CONFIG_DIR"),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "game server URL, e.g. ws://localhost:8080/ws",
				Sources: cli.EnvVars("PAPER_SERVER_URL"),
			},
			&cli.StringFlag{
				Name:    "name",
				Usage:   "player name; the client joins the lobby as soon as it connects",
				Sources: cli.EnvVars("PAPER_PLAYER_NAME"),
			},
			&cli.DurationFlag{
				Name:    "connect-timeout",
				Usage:   "give up dialing after this long",
				Sources: cli.EnvVars("PAPER_CONNECT_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "tick",
				Usage:   "how often the connection queue is drained",
				Sources: cli.EnvVars("PAPER_TICK_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "history-dir",
				Usage:   "where finished games are stored",
				Sources: cli.EnvVars("PAPER_HISTORY_DIR"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "control API address for serve and mcp",
				Sources: cli.EnvVars("PAPER_LISTEN_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "reconnect",
				Usage:   "reconnect with backoff when the connection drops",
				Sources: cli.EnvVars("PAPER_RECONNECT"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				Sources: cli.EnvVars("PAPER_DEBUG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "play",
				Usage: "play in the terminal",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "raw", Usage: "print every session event as JSON"},
				},
				Action: runPlay,
			},
			{
				Name:  "serve",
				Usage: "expose the session over a local REST API, websocket and /mcp",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "connect", Usage: "connect to the game server on startup"},
				},
				Action: runServe,
			},
			{
				Name:  "mcp",
				Usage: "run an MCP stdio server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "api",
						Usage:   "control API to proxy to (default: the --listen address)",
						Sources: cli.EnvVars("PAPER_API_URL"),
					},
				},
				Action: runMCP,
			},
			{
				Name:  "profiles",
				Usage: "manage connection profiles",
				Commands: []*cli.Command{
					{Name: "list", Usage: "list profiles", Action: runProfilesList},
					{Name: "show", Usage: "print the resolved settings", ArgsUsage: "[name]", Action: runProfilesShow},
					{Name: "save", Usage: "save the current settings as a profile", ArgsUsage: "<name>", Action: runProfilesSave},
				},
				Action: runProfilesList,
			},
		},
	}
}

// flagSource is the part of *cli.Command that resolveConfig reads
type flagSource interface {
	String(name string) string
	Bool(name string) bool
	Duration(name string) time.Duration
	IsSet(name string) bool
}

// resolveConfig loads the selected profile and applies flag overrides
func resolveConfig(flags flagSource) (*config.Config, *config.Manager, error) {
	manager, err := config.NewManager(flags.String("config-dir"))
	if err != nil {
		return nil, nil, err
	}

	cfg, err := manager.LoadProfile(flags.String("profile"))
	if err != nil {
		return nil, nil, err
	}

	if flags.IsSet("server") {
		u, err := config.NormalizeServerURL(flags.String("server"))
		if err != nil {
			return nil, nil, err
		}
		cfg.ServerURL = u
	}
	if flags.IsSet("name") {
		cfg.PlayerName = flags.String("name")
	}
	if flags.IsSet("connect-timeout") {
		cfg.ConnectTimeout = config.Duration(flags.Duration("connect-timeout"))
	}
	if flags.IsSet("tick") {
		cfg.TickInterval = config.Duration(flags.Duration("tick"))
	}
	if flags.IsSet("history-dir") {
		cfg.HistoryDir = flags.String("history-dir")
	}
	if flags.IsSet("listen") {
		cfg.ListenAddr = flags.String("listen")
	}
	if flags.IsSet("reconnect") {
		cfg.Reconnect = flags.Bool("reconnect")
	}
	if flags.IsSet("debug") {
		cfg.Debug = flags.Bool("debug")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, manager, nil
}

// newLogger writes to stderr so stdout stays free for the game and MCP
func newLogger(debug bool, level zapcore.Level) (*zap.Logger, error) {
	var zc zap.Config
	if debug {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// runtime bundles the long-lived pieces a command needs
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	client   *service.Client
}

func newRuntime(cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tr := websocket.New(
		websocket.WithLogger(logger.Named("transport")),
		websocket.WithConnectTimeout(cfg.ConnectTimeout.Std()))

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithServerURL(cfg.ServerURL),
		service.WithPlayerName(cfg.PlayerName),
		service.WithTickInterval(cfg.TickInterval.Std()),
		service.WithMetrics(service.NewMetrics(registry)),
	}

	if cfg.HistoryDir != "" {
		history, err := session.NewFileHistory(cfg.HistoryDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open match history: %w", err)
		}
		opts = append(opts, service.WithHistory(history))
	}

	if cfg.Reconnect {
		opts = append(opts, service.WithReconnect(&backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		}))
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		client:   service.NewClient(tr, opts...),
	}, nil
}

// runServe runs the control API until interrupted
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Debug, zap.InfoLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}

	return serveControl(ctx, rt, ln, cmd.Bool("connect"))
}

// serveControl serves the REST API, /ws, /metrics and /mcp on ln and runs the
// client until ctx ends
func serveControl(ctx context.Context, rt *runtime, ln net.Listener, connect bool) error {
	logger := rt.logger

	hub := websocket.NewHub(logger.Named("hub"))
	apiServer := api.NewServer(rt.client, hub,
		api.WithLogger(logger.Named("api")),
		api.WithMetrics(rt.registry))
	rt.client.OnEvent(apiServer.PublishEvent)

	baseURL := "http://" + ln.Addr().String()
	mcpClient := mcp.NewClient(baseURL)

	// Main router combines the API and MCP
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient.GetMCPServer()))

	httpServer := &http.Server{
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second, // covers a one minute long poll
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.client.Run(gctx) })
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("control API listening",
		zap.String("api", baseURL+"/api"),
		zap.String("events", "ws://"+ln.Addr().String()+"/ws"),
		zap.String("mcp", baseURL+"/mcp"),
		zap.String("game_server", rt.cfg.ServerURL))

	if connect {
		if _, err := rt.client.Connect(gctx, ""); err != nil {
			logger.Warn("initial connect failed", zap.Error(err))
		}
	}

	err := g.Wait()
	logger.Info("control API stopped")
	return err
}

// mcpHandler answers single JSON-RPC messages posted to /mcp
func mcpHandler(mcpServer *server.MCPServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpServer.HandleMessage(r.Context(), body)
		if response == nil {
			// Notifications have no response
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runMCP serves MCP on stdio. It proxies to a running control API when one
// answers, and starts an internal one on a loopback port otherwise.
func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Debug, zap.WarnLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	apiURL := cmd.String("api")
	if apiURL == "" {
		apiURL = "http://" + cfg.ListenAddr
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if apiReachable(ctx, apiURL) {
		logger.Info("using external control API", zap.String("url", apiURL))
	} else {
		rt, err := newRuntime(cfg, logger)
		if err != nil {
			return err
		}

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		apiURL = "http://" + ln.Addr().String()
		logger.Info("starting internal control API", zap.String("url", apiURL))

		done := make(chan error, 1)
		go func() { done <- serveControl(ctx, rt, ln, false) }()
		defer func() {
			cancel()
			if err := <-done; err != nil {
				logger.Warn("internal control API", zap.Error(err))
			}
		}()
	}

	mcpClient := mcp.NewClient(apiURL)
	return server.ServeStdio(mcpClient.GetMCPServer())
}

// apiReachable reports whether a control API answers /health at baseURL
func apiReachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func runProfilesList(ctx context.Context, cmd *cli.Command) error {
	manager, err := config.NewManager(cmd.String("config-dir"))
	if err != nil {
		return err
	}

	profiles, err := manager.ListProfiles()
	if err != nil {
		return err
	}

	out := os.Stdout
	for _, p := range profiles {
		source := p.Filename
		if p.Builtin {
			source = "built-in"
		}
		fmt.Fprintf(out, "%-12s %-45s %s\n", p.Name, p.ServerURL, source)
	}
	return nil
}

func runProfilesShow(ctx context.Context, cmd *cli.Command) error {
	cfg, manager, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if name := cmd.Args().First(); name != "" {
		if cfg, err = manager.LoadProfile(name); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

func runProfilesSave(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return errors.New("profile name required")
	}

	cfg, manager, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if err := manager.SaveProfile(name, cfg); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "saved profile %s in %s\n", name, manager.Dir())
	return nil
}
