package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/wricardo/paper-client/game/protocol"
	"github.com/wricardo/paper-client/game/session"
	"github.com/wricardo/paper-client/transport/websocket"
)

var (
	ErrStopped     = errors.New("client is not running")
	ErrNoServerURL = errors.New("no server url configured")
)

const (
	defaultTickInterval = 50 * time.Millisecond
	defaultLogSize      = 512
	defaultEventsLimit  = 100
)

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger for the client and its session machine
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithServerURL sets the URL used when Connect is called without one
func WithServerURL(url string) Option {
	return func(c *Client) { c.serverURL = url }
}

// WithPlayerName makes the client join the lobby as name whenever a
// connection opens
func WithPlayerName(name string) Option {
	return func(c *Client) { c.playerName = name }
}

// WithTickInterval sets how often the transport queue is drained
func WithTickInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithHistory stores every finished game in store
func WithHistory(store session.HistoryStore) Option {
	return func(c *Client) { c.history = store }
}

// WithMetrics records session activity in m
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithReconnect reconnects with b's delays after the connection drops
// unexpectedly
func WithReconnect(b *backoff.Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithLogSize bounds how many events the client keeps for Events and
// WaitForEvents
func WithLogSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.logSize = n
		}
	}
}

// request is a call executed on the owner goroutine
type request struct {
	fn    func() error
	reply chan reply
}

type reply struct {
	snap session.Snapshot
	err  error
}

// Client hosts one session machine. Run owns the machine and the transport
// queue; every other method hands work to Run and waits for the answer, so
// the machine has a single writer.
type Client struct {
	id           string
	transport    Transport
	machine      *session.Machine
	logger       *zap.Logger
	history      session.HistoryStore
	metrics      *Metrics
	backoff      *backoff.Backoff
	tickInterval time.Duration
	logSize      int

	// Owned by the Run goroutine
	serverURL     string
	playerName    string
	wantConnected bool
	retry         *time.Timer

	inbox   chan request
	stopped chan struct{}

	mu        sync.Mutex
	log       []EventRecord
	seq       uint64
	changed   chan struct{}
	listeners []func(EventRecord)
}

var _ GameService = (*Client)(nil)

// NewClient creates a client around tr. Call Run to start it.
func NewClient(tr Transport, opts ...Option) *Client {
	c := &Client{
		id:           uuid.NewString(),
		transport:    tr,
		logger:       zap.NewNop(),
		tickInterval: defaultTickInterval,
		logSize:      defaultLogSize,
		inbox:        make(chan request),
		stopped:      make(chan struct{}),
		changed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(zap.String("client_id", c.id))
	c.machine = session.NewMachine(tr,
		session.WithLogger(c.logger.Named("session")),
		session.WithObserver(session.ObserverFunc(c.onEvent)))

	return c
}

// ID identifies this client in logs and metrics
func (c *Client) ID() string { return c.id }

// OnEvent registers fn to be called on the owner goroutine for every event.
// Must be called before Run.
func (c *Client) OnEvent(fn func(EventRecord)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Run drives the session until ctx ends, then closes the connection
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	defer close(c.stopped)
	defer c.shutdown()

	c.logger.Info("client started", zap.Duration("tick", c.tickInterval))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			c.pump()

		case <-c.transport.Notify():
			c.pump()

		case req := <-c.inbox:
			c.pump()
			err := req.fn()
			req.reply <- reply{snap: c.machine.Snapshot(), err: err}

		case <-c.retryC():
			c.retry = nil
			c.reconnect()
		}
	}
}

// pump feeds every queued transport event to the machine
func (c *Client) pump() {
	for _, ev := range c.transport.Drain() {
		switch e := ev.(type) {
		case websocket.Opened:
			c.machine.Opened()
			if c.backoff != nil {
				c.backoff.Reset()
			}
			if c.playerName != "" {
				if err := c.machine.Issue(protocol.JoinLobby{Name: c.playerName}); err != nil {
					c.logger.Warn("auto join failed", zap.Error(err))
				}
			}
		case websocket.MessageReceived:
			c.machine.HandleRaw(e.Data)
		case websocket.Errored:
			c.machine.TransportFailed(e.Err)
		case websocket.Closed:
			c.machine.Closed(e.Code, e.Reason)
		}
	}
}

func (c *Client) shutdown() {
	c.stopRetry()
	if c.machine.State() != session.LoggedOut {
		if err := c.machine.Issue(protocol.Disconnect{}); err != nil {
			c.logger.Debug("disconnect on shutdown", zap.Error(err))
		}
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("close on shutdown", zap.Error(err))
	}
	c.logger.Info("client stopped")
}

// do runs fn on the owner goroutine and returns the snapshot taken after it
func (c *Client) do(ctx context.Context, fn func() error) (*session.Snapshot, error) {
	req := request{fn: fn, reply: make(chan reply, 1)}

	select {
	case c.inbox <- req:
	case <-c.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return &r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect dials url, or the configured server URL when url is empty
func (c *Client) Connect(ctx context.Context, url string) (*session.Snapshot, error) {
	return c.do(ctx, func() error {
		if url == "" {
			url = c.serverURL
		}
		if url == "" {
			return ErrNoServerURL
		}
		if err := c.machine.Connect(url); err != nil {
			return err
		}
		c.serverURL = url
		c.wantConnected = true
		return nil
	})
}

// Disconnect leaves the game and closes the connection. Automatic
// reconnects stop until the next Connect.
func (c *Client) Disconnect(ctx context.Context) (*session.Snapshot, error) {
	return c.do(ctx, func() error {
		c.wantConnected = false
		c.stopRetry()
		return c.machine.Issue(protocol.Disconnect{})
	})
}

// JoinLobby enters matchmaking as name. The name is reused after reconnects.
func (c *Client) JoinLobby(ctx context.Context, name string) (*session.Snapshot, error) {
	return c.do(ctx, func() error {
		if err := c.machine.Issue(protocol.JoinLobby{Name: name}); err != nil {
			return err
		}
		c.playerName = name
		return nil
	})
}

// MakeChoice submits a hand for the current round
func (c *Client) MakeChoice(ctx context.Context, choice protocol.Choice) (*session.Snapshot, error) {
	return c.do(ctx, func() error {
		return c.machine.Issue(protocol.MakeChoice{Choice: choice})
	})
}

// PlayAgain asks for a rematch after a game ended
func (c *Client) PlayAgain(ctx context.Context) (*session.Snapshot, error) {
	return c.do(ctx, func() error {
		return c.machine.Issue(protocol.PlayAgain{})
	})
}

// Snapshot returns the current session state
func (c *Client) Snapshot(ctx context.Context) (*session.Snapshot, error) {
	return c.do(ctx, func() error { return nil })
}

// Events returns up to limit logged events with a sequence number above after
func (c *Client) Events(ctx context.Context, after uint64, limit int) (*EventPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageLocked(after, limit), nil
}

// WaitForEvents blocks until an event newer than after is logged, the
// timeout passes, or ctx ends. A timeout returns an empty page.
func (c *Client) WaitForEvents(ctx context.Context, after uint64, timeout time.Duration) (*EventPage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		page := c.pageLocked(after, defaultEventsLimit)
		changed := c.changed
		c.mu.Unlock()

		if len(page.Events) > 0 {
			return page, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return page, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// History returns up to limit stored games, most recent last
func (c *Client) History(ctx context.Context, limit int) ([]*session.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.history == nil {
		return []*session.GameRecord{}, nil
	}

	records, err := session.LoadAll(c.history)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func (c *Client) pageLocked(after uint64, limit int) *EventPage {
	if limit <= 0 {
		limit = defaultEventsLimit
	}

	page := &EventPage{Events: []EventRecord{}, Next: after}
	if n := len(c.log); n > 0 {
		page.State = c.log[n-1].State
		page.Dropped = c.log[0].Seq > after+1
	}

	for _, rec := range c.log {
		if rec.Seq <= after {
			continue
		}
		if len(page.Events) == limit {
			break
		}
		page.Events = append(page.Events, rec)
		page.Next = rec.Seq
	}
	return page
}

// onEvent runs on the owner goroutine for every machine event
func (c *Client) onEvent(ev session.Event) {
	state := c.machine.State()
	c.metrics.observe(ev, state)

	switch e := ev.(type) {
	case session.Received:
		if _, ok := e.Message.(protocol.GameEnded); ok {
			c.saveGame()
		}
	case session.TransportFailed:
		c.scheduleReconnect()
	case session.Disconnected:
		if e.From != session.LoggedOut {
			c.scheduleReconnect()
		}
	}

	rec := newEventRecord(ev, state)

	c.mu.Lock()
	c.seq++
	rec.Seq = c.seq
	c.log = append(c.log, rec)
	if len(c.log) > c.logSize {
		c.log = append([]EventRecord(nil), c.log[len(c.log)-c.logSize:]...)
	}
	close(c.changed)
	c.changed = make(chan struct{})
	listeners := c.listeners
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(rec)
	}
}

func (c *Client) saveGame() {
	if c.history == nil {
		return
	}
	game := c.machine.LastGame()
	if game == nil {
		return
	}

	record := session.NewGameRecord(c.machine.Snapshot(), *game)
	if err := c.history.Save(record); err != nil {
		c.logger.Warn("failed to save game record", zap.Error(err))
		return
	}
	c.logger.Debug("game record saved", zap.String("record_id", record.ID))
}

func (c *Client) scheduleReconnect() {
	if c.backoff == nil || !c.wantConnected || c.retry != nil {
		return
	}

	delay := c.backoff.Duration()
	c.retry = time.NewTimer(delay)
	c.logger.Info("reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Float64("attempt", c.backoff.Attempt()))
}

func (c *Client) reconnect() {
	if !c.wantConnected || c.machine.State() != session.LoggedOut {
		return
	}
	c.metrics.reconnect()
	if err := c.machine.Connect(c.serverURL); err != nil {
		c.logger.Warn("reconnect failed", zap.Error(err))
	}
}

func (c *Client) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// retryC is nil, which blocks forever in select, unless a retry is pending
func (c *Client) retryC() <-chan time.Time {
	if c.retry == nil {
		return nil
	}
	return c.retry.C
}

func newEventRecord(ev session.Event, state session.State) EventRecord {
	rec := EventRecord{
		Time:    time.Now(),
		Kind:    ev.Kind(),
		State:   state,
		From:    state,
		Summary: session.Describe(ev),
	}
	if t, ok := session.TransitionOf(ev); ok {
		rec.From = t.From
		rec.Anomaly = t.Anomaly
	}

	switch e := ev.(type) {
	case session.Issued:
		rec.Type = e.Command.Type()
		rec.Data = e.Command
	case session.Received:
		rec.Type = e.Message.Type()
		rec.Data = e.Message
		rec.Error = errString(e.Err)
	case session.Rejected:
		rec.Type = e.Action
		rec.Error = errString(e.Err)
	case session.UnknownMessage:
		rec.Type = e.Type
		rec.Data = e.Data
	case session.TransportFailed:
		rec.Error = errString(e.Err)
	case session.Dialing:
		rec.Data = e.URL
	case session.Disconnected:
		rec.Data = map[string]any{"code": e.Code, "reason": e.Reason}
	}
	return rec
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
