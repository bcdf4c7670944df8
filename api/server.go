package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wricardo/paper-client/game/protocol"
	"github.com/wricardo/paper-client/game/service"
	"github.com/wricardo/paper-client/game/session"
	"github.com/wricardo/paper-client/transport/websocket"
)

const maxWait = time.Minute

// Server represents the local control API
type Server struct {
	service  service.GameService
	hub      *websocket.Hub
	router   *mux.Router
	logger   *zap.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics exposes g on /metrics
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new API server. hub may be nil, in which case /ws is
// not served. When set, the hub must not be running yet.
func NewServer(gameService service.GameService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service: gameService,
		hub:     hub,
		router:  mux.NewRouter(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if hub != nil {
		hub.SetGreeting(s.greeting)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Session state
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/history", s.handleGetHistory).Methods("GET")

	// Commands
	api.HandleFunc("/connect", s.handleConnect).Methods("POST")
	api.HandleFunc("/join", s.handleJoin).Methods("POST")
	api.HandleFunc("/choice", s.handleChoice).Methods("POST")
	api.HandleFunc("/play-again", s.handlePlayAgain).Methods("POST")
	api.HandleFunc("/disconnect", s.handleDisconnect).Methods("POST")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.handleWebSocket)
	}
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// PublishEvent forwards one session event to websocket subscribers
func (s *Server) PublishEvent(rec service.EventRecord) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(hubFrame{Type: "event", Event: &rec})
}

// hubFrame is what /ws subscribers receive
type hubFrame struct {
	Type  string               `json:"type"` // "snapshot" or "event"
	State *session.Snapshot    `json:"state,omitempty"`
	Event *service.EventRecord `json:"event,omitempty"`
}

func (s *Server) greeting() any {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := s.service.Snapshot(ctx)
	if err != nil {
		s.logger.Debug("no snapshot for greeting", zap.Error(err))
		return hubFrame{Type: "snapshot"}
	}
	return hubFrame{Type: "snapshot", State: snap}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP statuses
func statusFor(err error) int {
	var notOpen interface{ NotOpen() bool }
	switch {
	case errors.Is(err, session.ErrInvalidCommand),
		errors.Is(err, protocol.ErrInvalidChoice),
		errors.Is(err, service.ErrNoServerURL),
		errors.Is(err, websocket.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, websocket.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, service.ErrStopped),
		errors.As(err, &notOpen) && notOpen.NotOpen():
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondCommand writes the snapshot after a command, or the error with the
// unchanged snapshot when the command was refused
func (s *Server) respondCommand(w http.ResponseWriter, action string, snap *session.Snapshot, err error) {
	if err != nil {
		s.logger.Info("command failed", zap.String("action", action), zap.Error(err))
		resp := map[string]interface{}{"error": err.Error()}
		if snap != nil {
			resp["state"] = snap
		}
		respondJSON(w, statusFor(err), resp)
		return
	}

	s.logger.Debug("command accepted",
		zap.String("action", action),
		zap.Stringer("state", snap.State))
	respondJSON(w, http.StatusOK, snap)
}

// decodeBody reads an optional JSON body into v
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// State Handlers

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var after uint64
	if v := query.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		after = n
	}

	limit := 0
	if v := query.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}

	var wait time.Duration
	if v := query.Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			respondError(w, http.StatusBadRequest, "wait must be a duration such as 10s")
			return
		}
		wait = min(d, maxWait)
	}

	var (
		page *service.EventPage
		err  error
	)
	if wait > 0 {
		page, err = s.service.WaitForEvents(r.Context(), after, wait)
		if err == nil && limit > 0 && len(page.Events) > limit {
			page.Events = page.Events[:limit]
			page.Next = page.Events[limit-1].Seq
		}
	} else {
		page, err = s.service.Events(r.Context(), after, limit)
	}
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}

	records, err := s.service.History(r.Context(), limit)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(records),
		"games": records,
	})
}

// Command Handlers

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	snap, err := s.service.Connect(r.Context(), req.URL)
	s.respondCommand(w, "connect", snap, err)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	snap, err := s.service.JoinLobby(r.Context(), req.Name)
	s.respondCommand(w, protocol.TypeJoinLobby, snap, err)
}

func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Choice string `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	choice, err := protocol.ParseChoice(req.Choice)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.service.MakeChoice(r.Context(), choice)
	s.respondCommand(w, protocol.TypeMakeChoice, snap, err)
}

func (s *Server) handlePlayAgain(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.PlayAgain(r.Context())
	s.respondCommand(w, protocol.TypePlayAgain, snap, err)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Disconnect(r.Context())
	s.respondCommand(w, protocol.TypeDisconnect, snap, err)
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
