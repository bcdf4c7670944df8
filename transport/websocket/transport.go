package websocket

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Time to wait for the peer's close frame after we sent ours.
	closeGracePeriod = time.Second

	defaultConnectTimeout = 10 * time.Second
	defaultSendBuffer     = 64
)

var (
	ErrAlreadyConnected = errors.New("websocket: connection already in progress")
	ErrInvalidURL       = errors.New("websocket: url must be ws:// or wss:// with a host")
	ErrBufferFull       = errors.New("websocket: send buffer full")
)

type notOpenError struct{}

func (notOpenError) Error() string { return "websocket: connection is not open" }

// NotOpen marks the error for callers that only know the behavior.
func (notOpenError) NotOpen() bool { return true }

// ErrNotOpen is returned by Send unless the connection is Open.
var ErrNotOpen error = notOpenError{}

// ConnectError reports a failed dial. Timeout is set when the connect
// timeout expired before the handshake completed.
type ConnectError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Timeout {
		return "websocket: connect to " + e.URL + " timed out"
	}
	return "websocket: connect to " + e.URL + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ConnState is the lifecycle of the single connection a Transport owns.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Event is a connection lifecycle event queued for Drain.
type Event interface {
	isTransportEvent()
}

// Opened is queued once the handshake completed.
type Opened struct{}

// MessageReceived carries one inbound text or binary frame.
type MessageReceived struct {
	Data []byte
}

// Errored is queued when a dial fails or the connection breaks.
type Errored struct {
	Err error
}

// Closed is queued when an open (or opening) connection is gone.
type Closed struct {
	Code   int
	Reason string
}

func (Opened) isTransportEvent()          {}
func (MessageReceived) isTransportEvent() {}
func (Errored) isTransportEvent()         {}
func (Closed) isTransportEvent()          {}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithConnectTimeout bounds the dial and handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.connectTimeout = d
		}
	}
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithSendBuffer sets how many outbound frames may be queued.
func WithSendBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.sendBuffer = n
		}
	}
}

// Transport is a websocket client connection with non-blocking Connect,
// Send and Close. Socket goroutines only append to an event queue; the owner
// collects events in arrival order with Drain.
type Transport struct {
	logger         *zap.Logger
	dialer         *websocket.Dialer
	connectTimeout time.Duration
	sendBuffer     int

	mu     sync.Mutex
	state  ConnState
	url    string
	gen    uint64
	send   chan []byte
	cancel context.CancelFunc

	qmu    sync.Mutex
	queue  []queued
	notify chan struct{}
}

// queued is an event tagged with the connection that produced it
type queued struct {
	gen uint64
	ev  Event
}

// New creates a Transport in the Disconnected state.
func New(opts ...Option) *Transport {
	t := &Transport{
		logger:         zap.NewNop(),
		dialer:         websocket.DefaultDialer,
		connectTimeout: defaultConnectTimeout,
		sendBuffer:     defaultSendBuffer,
		notify:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// URL returns the target of the current or last connection.
func (t *Transport) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// Connect starts dialing rawURL and returns immediately. The outcome is
// queued as Opened, or Errored with a *ConnectError.
func (t *Transport) Connect(rawURL string) error {
	if err := validateURL(rawURL); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateDisconnected && t.state != StateClosed {
		return errors.Wrapf(ErrAlreadyConnected, "state %s", t.state)
	}

	t.gen++
	t.state = StateConnecting
	t.url = rawURL

	ctx, cancel := context.WithTimeout(context.Background(), t.connectTimeout)
	t.cancel = cancel

	t.logger.Debug("dialing", zap.String("url", rawURL), zap.Duration("timeout", t.connectTimeout))
	go t.dial(ctx, cancel, t.gen, rawURL)

	return nil
}

// Send queues data for the write pump. It fails with ErrNotOpen unless the
// connection is Open and never blocks.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateOpen {
		return ErrNotOpen
	}

	select {
	case t.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close starts closing the connection and returns immediately. Closing while
// Connecting abandons the dial; Opened is never queued for it. A Closed event
// follows once the connection is gone. Closing an idle Transport is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateConnecting, StateOpen:
		t.logger.Debug("closing", zap.String("url", t.url), zap.Stringer("state", t.state))
		t.state = StateClosing
		t.cancel()
	}
	return nil
}

// Drain returns every queued event in arrival order and empties the queue.
// Events left over from a connection older than the current one are dropped.
func (t *Transport) Drain() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.qmu.Lock()
	defer t.qmu.Unlock()

	var events []Event
	for _, q := range t.queue {
		if q.gen != t.gen {
			t.logger.Debug("dropping stale event", zap.Uint64("gen", q.gen), zap.Uint64("current", t.gen))
			continue
		}
		events = append(events, q.ev)
	}
	t.queue = nil
	return events
}

// Notify is signalled whenever an event is queued. Hosts may select on it
// instead of polling Drain on a timer.
func (t *Transport) Notify() <-chan struct{} {
	return t.notify
}

func (t *Transport) enqueue(gen uint64, events ...Event) {
	t.qmu.Lock()
	for _, ev := range events {
		t.queue = append(t.queue, queued{gen: gen, ev: ev})
	}
	t.qmu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

type dialResult struct {
	conn *websocket.Conn
	resp *http.Response
	err  error
}

func (t *Transport) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, rawURL string) {
	results := make(chan dialResult, 1)
	go func() {
		conn, resp, err := t.dialer.DialContext(ctx, rawURL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		results <- dialResult{conn: conn, resp: resp, err: err}
	}()

	// The handshake does not always watch ctx, so give up on it here.
	var res dialResult
	select {
	case res = <-results:
	case <-ctx.Done():
		res.err = ctx.Err()
		go func() {
			if late := <-results; late.conn != nil {
				late.conn.Close()
			}
		}()
	}
	conn, resp, err := res.conn, res.resp, res.err
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err)
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if t.state == StateClosing {
		if conn != nil {
			conn.Close()
		}
		t.state = StateClosed
		t.logger.Debug("dial abandoned", zap.String("url", rawURL))
		t.enqueue(gen, Closed{Code: websocket.CloseNormalClosure, Reason: "closed while connecting"})
		return
	}

	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			err = errors.Wrapf(err, "status %d", resp.StatusCode)
		}
		t.state = StateClosed
		cerr := &ConnectError{URL: rawURL, Timeout: timedOut, Err: err}
		t.logger.Warn("dial failed", zap.String("url", rawURL), zap.Bool("timeout", timedOut), zap.Error(err))
		t.enqueue(gen, Errored{Err: cerr})
		return
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	send := make(chan []byte, t.sendBuffer)
	t.state = StateOpen
	t.send = send
	t.cancel = runCancel

	t.logger.Info("connected", zap.String("url", rawURL))
	t.enqueue(gen, Opened{})
	go t.run(runCtx, gen, conn, send)
}

// run owns an open connection until either pump stops.
func (t *Transport) run(ctx context.Context, gen uint64, conn *websocket.Conn, send <-chan []byte) {
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return t.readPump(gen, conn)
	})

	group.Go(func() error {
		return t.writePump(child, conn, send)
	})

	err := group.Wait()
	conn.Close()
	t.finish(gen, err)
}

// readPump queues every inbound frame until the connection fails or closes.
func (t *Transport) readPump(gen uint64, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		t.enqueue(gen, MessageReceived{Data: data})
	}
}

// writePump writes queued frames and pings. When ctx ends it sends a close
// frame and gives the peer closeGracePeriod to answer before the read side
// gives up.
func (t *Transport) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return errors.Wrap(err, "write")
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return errors.Wrap(err, "ping")
			}

		case <-ctx.Done():
			flushPending(conn, send)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return nil
			}
			conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
			return nil
		}
	}
}

// flushPending writes frames queued before Close, such as a disconnect notice
func flushPending(conn *websocket.Conn, send <-chan []byte) {
	for {
		select {
		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// finish records the end of connection gen and queues its events.
func (t *Transport) finish(gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		return
	}

	requested := t.state == StateClosing
	t.state = StateClosed
	t.send = nil

	code, reason := websocket.CloseAbnormalClosure, ""
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		code, reason = ce.Code, ce.Text
	case requested:
		code = websocket.CloseNormalClosure
	case err != nil:
		reason = err.Error()
	}

	clean := requested || code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
	if !clean {
		t.logger.Warn("connection lost", zap.String("url", t.url), zap.Int("code", code), zap.Error(err))
		t.enqueue(gen, Errored{Err: errors.Wrap(err, "websocket: connection lost")}, Closed{Code: code, Reason: reason})
		return
	}

	t.logger.Info("connection closed", zap.String("url", t.url), zap.Int("code", code), zap.String("reason", reason))
	t.enqueue(gen, Closed{Code: code, Reason: reason})
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(ErrInvalidURL, err.Error())
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.Wrapf(ErrInvalidURL, "got %q", rawURL)
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
