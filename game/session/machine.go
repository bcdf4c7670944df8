package session

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/paper-client/game/protocol"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrRoundOrder        = errors.New("round number did not increase")
	ErrInvalidCommand    = errors.New("invalid command")
)

// TransitionError reports an action the current state does not permit.
type TransitionError struct {
	Action string
	From   State
	Err    error
}

func (e *TransitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s not allowed in state %s: %v", e.Action, e.From, e.Err)
	}
	return fmt.Sprintf("session: %s not allowed in state %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidTransition}
	}
	return []error{ErrInvalidTransition, e.Err}
}

// Transport is the part of the connection the machine drives. Completion of
// Connect and Close is reported back through Opened, Closed and
// TransportFailed by whoever drains the transport.
type Transport interface {
	Connect(url string) error
	Send(data []byte) error
	Close() error
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithObserver subscribes o before the first event.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// WithClock replaces time.Now for game timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine is the client session state machine. It is not safe for concurrent
// use: one goroutine owns it and makes every call.
type Machine struct {
	transport Transport
	logger    *zap.Logger
	observers []Observer
	now       func() time.Time

	state          State
	url            string
	playerName     string
	opponent       string
	round          int
	awaitingResult bool
	lastChoice     protocol.Choice
	lastRound      *protocol.RoundResult
	tally          Tally
	rounds         []RoundRecord
	startedAt      time.Time
	record         Tally
	lastGame       *GameSummary
	anomalies      int
}

// NewMachine creates a machine in LoggedOut that sends through t.
func NewMachine(t Transport, opts ...Option) *Machine {
	m := &Machine{
		transport: t,
		logger:    zap.NewNop(),
		now:       time.Now,
		state:     LoggedOut,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe adds an observer.
func (m *Machine) Subscribe(o Observer) {
	m.observers = append(m.observers, o)
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// LastGame returns the most recently finished game, or nil.
func (m *Machine) LastGame() *GameSummary { return m.lastGame }

// Snapshot copies the current state and bookkeeping.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:          m.state,
		ServerURL:      m.url,
		PlayerName:     m.playerName,
		Opponent:       m.opponent,
		Round:          m.round,
		AwaitingResult: m.awaitingResult,
		LastChoice:     m.lastChoice,
		Tally:          m.tally,
		Record:         m.record,
		Anomalies:      m.anomalies,
	}
	if m.lastRound != nil {
		r := *m.lastRound
		s.LastRound = &r
	}
	if len(m.rounds) > 0 {
		s.Rounds = append([]RoundRecord(nil), m.rounds...)
	}
	if m.lastGame != nil {
		g := *m.lastGame
		g.Rounds = append([]RoundRecord(nil), g.Rounds...)
		s.LastGame = &g
	}
	return s
}

// Connect starts dialing url. Only valid from LoggedOut.
func (m *Machine) Connect(url string) error {
	if m.state != LoggedOut {
		err := &TransitionError{Action: "connect", From: m.state}
		m.reject(Rejected{State: m.state, Action: "connect", Err: err})
		return err
	}

	if err := m.transport.Connect(url); err != nil {
		m.logger.Warn("connect failed", zap.String("url", url), zap.Error(err))
		m.emit(TransportFailed{Transition: Transition{From: LoggedOut, To: LoggedOut}, Err: err})
		return err
	}

	m.url = url
	m.state = Connecting
	m.logger.Info("connecting", zap.String("url", url))
	m.emit(Dialing{Transition: Transition{From: LoggedOut, To: Connecting}, URL: url})
	return nil
}

// Opened is called when the transport reports the connection open.
func (m *Machine) Opened() {
	t := Transition{From: m.state, To: Lobby}
	if m.state != Connecting {
		t.Anomaly = true
		m.anomaly("open", m.state, Lobby)
	}
	m.state = Lobby
	m.logger.Info("connected", zap.String("url", m.url))
	m.emit(Connected{Transition: t})
}

// Issue validates cmd against the current state, sends it and applies the
// resulting transition. A refused command returns a *TransitionError and
// leaves the state unchanged.
func (m *Machine) Issue(cmd protocol.OutgoingCommand) error {
	if cmd == nil {
		err := &TransitionError{Action: "issue", From: m.state, Err: protocol.ErrNilCommand}
		m.reject(Rejected{State: m.state, Action: "issue", Err: err})
		return err
	}

	to, err := m.checkCommand(cmd)
	if err != nil {
		m.reject(Rejected{State: m.state, Action: cmd.Type(), Command: cmd, Err: err})
		return err
	}

	raw, err := protocol.Encode(cmd)
	if err != nil {
		m.reject(Rejected{State: m.state, Action: cmd.Type(), Command: cmd, Err: err})
		return err
	}

	if _, ok := cmd.(protocol.Disconnect); ok {
		m.disconnect(raw)
		return nil
	}

	if err := m.transport.Send(raw); err != nil {
		if isNotOpen(err) {
			m.reject(Rejected{State: m.state, Action: cmd.Type(), Command: cmd, Err: err})
			return err
		}
		m.TransportFailed(err)
		return err
	}

	from := m.state
	switch c := cmd.(type) {
	case protocol.JoinLobby:
		m.playerName = c.Name
	case protocol.MakeChoice:
		m.awaitingResult = true
		m.lastChoice = c.Choice
	}
	m.state = to

	m.logger.Debug("command sent",
		zap.String("type", cmd.Type()),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	m.emit(Issued{Transition: Transition{From: from, To: to}, Command: cmd})
	return nil
}

func (m *Machine) checkCommand(cmd protocol.OutgoingCommand) (State, error) {
	switch c := cmd.(type) {
	case protocol.JoinLobby:
		if c.Name == "" {
			return 0, fmt.Errorf("%w: empty player name", ErrInvalidCommand)
		}
		return m.allow(cmd.Type(), Lobby, Lobby)
	case protocol.MakeChoice:
		if !c.Choice.Valid() {
			return 0, fmt.Errorf("%w: %w", ErrInvalidCommand, protocol.ErrInvalidChoice)
		}
		return m.allow(cmd.Type(), RoundResolved, InRound)
	case protocol.PlayAgain:
		return m.allow(cmd.Type(), Waiting, GameOver)
	case protocol.Disconnect:
		if m.state == LoggedOut {
			return 0, &TransitionError{Action: cmd.Type(), From: m.state}
		}
		return LoggedOut, nil
	}
	return 0, &TransitionError{Action: cmd.Type(), From: m.state, Err: ErrInvalidCommand}
}

func (m *Machine) allow(action string, to State, from ...State) (State, error) {
	if !m.in(from...) {
		return 0, &TransitionError{Action: action, From: m.state}
	}
	return to, nil
}

// disconnect tells the server we are leaving when it can, then closes.
func (m *Machine) disconnect(raw []byte) {
	from := m.state
	if err := m.transport.Send(raw); err != nil && !isNotOpen(err) {
		m.logger.Warn("disconnect notice not sent", zap.Error(err))
	}
	if err := m.transport.Close(); err != nil {
		m.logger.Warn("close failed", zap.Error(err))
	}
	m.reset()
	m.logger.Info("disconnected by client", zap.Stringer("from", from))
	m.emit(Issued{Transition: Transition{From: from, To: LoggedOut}, Command: protocol.Disconnect{}})
}

// HandleRaw decodes one inbound frame and handles it. Undecodable frames
// become a local error event and leave the state unchanged.
func (m *Machine) HandleRaw(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		m.localError(err, raw)
		return
	}
	m.Handle(env)
}

// Handle applies one decoded envelope.
func (m *Machine) Handle(env protocol.Envelope) {
	msg, err := protocol.ParseEvent(env)
	if err != nil {
		m.localError(err, env.Data)
		return
	}

	switch e := msg.(type) {
	case protocol.Unknown:
		m.logger.Warn("unknown message", zap.String("type", e.Tag), zap.Stringer("state", m.state))
		m.emit(UnknownMessage{State: m.state, Type: e.Tag, Data: e.Data})
	case protocol.ServerError:
		m.logger.Warn("server error", zap.String("message", e.Message), zap.Stringer("state", m.state))
		m.emit(Received{Transition: Transition{From: m.state, To: m.state}, Message: e})
	case protocol.PlayerWaiting:
		t := m.enter(e.Type(), Waiting, Lobby, Waiting, GameOver)
		m.awaitingResult = false
		m.emit(Received{Transition: t, Message: e})
	case protocol.GameStarting:
		t := m.enter(e.Type(), InRound, Waiting, Lobby)
		m.startGame(e.OpponentName)
		m.emit(Received{Transition: t, Message: e})
	case protocol.RoundStart:
		m.roundStart(e)
	case protocol.RoundResult:
		m.roundResult(e)
	case protocol.GameEnded:
		m.gameEnded(e)
	}
}

// roundStart is the one server event that is refused rather than forced:
// inside a game, a round number that does not increase is rejected with
// ErrRoundOrder and the state is kept. Outside a game it starts a new one.
func (m *Machine) roundStart(e protocol.RoundStart) {
	valid := m.in(InRound, RoundResolved)
	if valid && e.RoundNumber <= m.round {
		err := &TransitionError{
			Action: e.Type(),
			From:   m.state,
			Err:    fmt.Errorf("%w: got %d after %d", ErrRoundOrder, e.RoundNumber, m.round),
		}
		m.logger.Warn("round out of order",
			zap.Int("round", e.RoundNumber),
			zap.Int("previous", m.round))
		m.reject(Rejected{State: m.state, Action: e.Type(), Message: e, Err: err})
		return
	}
	if !valid {
		// The game_starting for this game was missed.
		m.startGame(m.opponent)
	}

	t := m.enter(e.Type(), InRound, InRound, RoundResolved)
	m.round = e.RoundNumber
	m.awaitingResult = false
	m.lastChoice = ""
	m.emit(Received{Transition: t, Message: e})
}

func (m *Machine) roundResult(e protocol.RoundResult) {
	var t Transition
	if m.state == RoundResolved && m.awaitingResult {
		t = Transition{From: m.state, To: RoundResolved}
	} else {
		t = m.enter(e.Type(), RoundResolved, InRound)
	}
	m.state = RoundResolved
	m.awaitingResult = false

	r := e
	m.lastRound = &r
	m.tally.add(e.Result)
	m.rounds = append(m.rounds, RoundRecord{
		Number:         m.round,
		Result:         e.Result,
		YourChoice:     e.YourChoice,
		OpponentChoice: e.OpponentChoice,
	})
	m.emit(Received{Transition: t, Message: e})
}

func (m *Machine) gameEnded(e protocol.GameEnded) {
	t := m.enter(e.Type(), GameOver, RoundResolved, InRound)
	m.awaitingResult = false
	m.record.add(e.Result)
	m.lastGame = &GameSummary{
		Opponent:  m.opponent,
		Result:    e.Result,
		Score:     e.Score,
		Rounds:    append([]RoundRecord(nil), m.rounds...),
		Tally:     m.tally,
		StartedAt: m.startedAt,
		EndedAt:   m.now(),
	}
	m.logger.Info("game ended",
		zap.String("result", string(e.Result)),
		zap.String("score", e.Score),
		zap.String("opponent", m.opponent))
	m.emit(Received{Transition: t, Message: e})
}

// TransportFailed resets the machine after a connection error.
func (m *Machine) TransportFailed(err error) {
	from := m.state
	if from != LoggedOut {
		if cerr := m.transport.Close(); cerr != nil {
			m.logger.Debug("close after failure", zap.Error(cerr))
		}
	}
	m.reset()
	m.logger.Warn("transport failed", zap.Stringer("from", from), zap.Error(err))
	m.emit(TransportFailed{Transition: Transition{From: from, To: LoggedOut}, Err: err})
}

// Closed resets the machine after the connection closed.
func (m *Machine) Closed(code int, reason string) {
	from := m.state
	m.reset()
	m.logger.Info("connection closed",
		zap.Stringer("from", from),
		zap.Int("code", code),
		zap.String("reason", reason))
	m.emit(Disconnected{Transition: Transition{From: from, To: LoggedOut}, Code: code, Reason: reason})
}

// enter moves to target, flagging an anomaly when the current state is not
// one of valid.
func (m *Machine) enter(msgType string, target State, valid ...State) Transition {
	t := Transition{From: m.state, To: target}
	if !m.in(valid...) {
		t.Anomaly = true
		m.anomaly(msgType, m.state, target)
	}
	m.state = target
	return t
}

func (m *Machine) anomaly(msgType string, from, to State) {
	m.anomalies++
	m.logger.Warn("protocol anomaly",
		zap.String("type", msgType),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

func (m *Machine) startGame(opponent string) {
	m.opponent = opponent
	m.round = 0
	m.awaitingResult = false
	m.lastChoice = ""
	m.lastRound = nil
	m.tally = Tally{}
	m.rounds = nil
	m.startedAt = m.now()
}

func (m *Machine) localError(err error, raw []byte) {
	m.logger.Warn("undecodable frame",
		zap.Stringer("state", m.state),
		zap.ByteString("frame", raw),
		zap.Error(err))
	m.emit(Received{
		Transition: Transition{From: m.state, To: m.state},
		Message:    protocol.ServerError{Local: true},
		Err:        err,
	})
}

func (m *Machine) reject(ev Rejected) {
	m.logger.Info("rejected",
		zap.String("action", ev.Action),
		zap.Stringer("state", ev.State),
		zap.Error(ev.Err))
	m.emit(ev)
}

func (m *Machine) reset() {
	m.state = LoggedOut
	m.opponent = ""
	m.round = 0
	m.awaitingResult = false
	m.lastChoice = ""
	m.lastRound = nil
	m.tally = Tally{}
	m.rounds = nil
}

func (m *Machine) in(states ...State) bool {
	for _, s := range states {
		if m.state == s {
			return true
		}
	}
	return false
}

func (m *Machine) emit(ev Event) {
	for _, o := range m.observers {
		o.OnEvent(ev)
	}
}

// isNotOpen reports whether err means the connection was not open, without
// depending on a particular transport package.
func isNotOpen(err error) bool {
	var n interface{ NotOpen() bool }
	return errors.As(err, &n) && n.NotOpen()
}
