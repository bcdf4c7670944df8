package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The hub only listens on the local control address
		return true
	},
}

// subscriber is one local websocket watching the session event stream
type subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session events out to local websocket subscribers, such as a
// browser page or a bot watching `paper serve`
type Hub struct {
	logger *zap.Logger

	// Registered subscribers
	subscribers map[*subscriber]bool

	// Frames to send to every subscriber
	broadcast chan []byte

	// Register requests from subscribers
	register chan *subscriber

	// Unregister requests from subscribers
	unregister chan *subscriber

	// Greeting builds the first frame a new subscriber receives, if set
	greeting func() any
}

// NewHub creates a new event hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:      logger,
		subscribers: make(map[*subscriber]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
	}
}

// SetGreeting sets the frame sent to each subscriber right after it joins.
// Must be called before Run.
func (h *Hub) SetGreeting(fn func() any) {
	h.greeting = fn
}

// Run starts the hub's event loop and returns when ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for s := range h.subscribers {
			h.unregisterSubscriber(s)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			h.registerSubscriber(s)

		case s := <-h.unregister:
			h.unregisterSubscriber(s)

		case frame := <-h.broadcast:
			for s := range h.subscribers {
				select {
				case s.send <- frame:
				default:
					// Subscriber is not keeping up, drop it
					h.unregisterSubscriber(s)
				}
			}
		}
	}
}

// ServeWS upgrades the request and subscribes it to the event stream
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &subscriber{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	if h.greeting != nil {
		if frame, err := json.Marshal(h.greeting()); err == nil {
			s.send <- frame
		}
	}

	select {
	case h.register <- s:
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go s.writePump()
	go s.readPump()
}

// Publish sends v as JSON to every subscriber. It never blocks; when the
// broadcast buffer is full the frame is dropped.
func (h *Hub) Publish(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to marshal hub frame", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("hub broadcast buffer full, frame dropped")
	}
}

func (h *Hub) registerSubscriber(s *subscriber) {
	h.subscribers[s] = true
	h.logger.Debug("subscriber registered", zap.Int("subscribers", len(h.subscribers)))
}

func (h *Hub) unregisterSubscriber(s *subscriber) {
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.send)
		h.logger.Debug("subscriber unregistered", zap.Int("subscribers", len(h.subscribers)))
	}
}

// readPump discards inbound frames and notices when the subscriber leaves
func (s *subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-time.After(writeWait):
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Debug("subscriber read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards hub frames to the websocket, one frame per message
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
