package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/paper-client/game/protocol"
)

type notOpenError struct{}

func (notOpenError) Error() string { return "connection is not open" }
func (notOpenError) NotOpen() bool { return true }

type fakeTransport struct {
	urls       []string
	sent       []string
	closes     int
	connectErr error
	sendErr    error
}

func (f *fakeTransport) Connect(url string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.urls = append(f.urls, url)
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, string(data))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closes++
	return nil
}

type recorder struct {
	events []Event
}

func (r *recorder) OnEvent(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) last(t *testing.T) Event {
	t.Helper()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

func frame(typ, data string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"data":%s}`, typ, data))
}

type harness struct {
	m   *Machine
	tr  *fakeTransport
	rec *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr := &fakeTransport{}
	rec := &recorder{}
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine(tr, WithObserver(rec), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	return &harness{m: m, tr: tr, rec: rec}
}

// driveTo walks the machine through real inputs until it reaches target.
func (h *harness) driveTo(t *testing.T, target State) {
	t.Helper()
	steps := []struct {
		state State
		do    func()
	}{
		{Connecting, func() { require.NoError(t, h.m.Connect("ws://localhost:8080/ws")) }},
		{Lobby, func() { h.m.Opened() }},
		{Waiting, func() {
			require.NoError(t, h.m.Issue(protocol.JoinLobby{Name: "Alice"}))
			h.m.HandleRaw(frame("player_waiting", "{}"))
		}},
		{InRound, func() {
			h.m.HandleRaw(frame("game_starting", `{"opponent_name":"Bob"}`))
			h.m.HandleRaw(frame("round_start", `{"round_number":1}`))
		}},
		{RoundResolved, func() {
			require.NoError(t, h.m.Issue(protocol.MakeChoice{Choice: protocol.Rock}))
			h.m.HandleRaw(frame("round_result", `{"result":"win","your_choice":"rock","opponent_choice":"scissors"}`))
		}},
		{GameOver, func() { h.m.HandleRaw(frame("game_ended", `{"result":"win","score":"1-0"}`)) }},
	}

	if target == LoggedOut {
		return
	}
	for _, step := range steps {
		step.do()
		require.Equal(t, step.state, h.m.State())
		if step.state == target {
			return
		}
	}
	t.Fatalf("cannot drive to %s", target)
}

func TestMachine_StartsLoggedOut(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, LoggedOut, h.m.State())
	assert.Empty(t, h.rec.events)
}

func TestMachine_GameStartingFromLobby(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, Lobby)

	h.m.HandleRaw(frame("game_starting", `{"opponent_name":"Bob"}`))

	assert.Equal(t, InRound, h.m.State())
	ev, ok := h.rec.last(t).(Received)
	require.True(t, ok)
	assert.Equal(t, protocol.GameStarting{OpponentName: "Bob"}, ev.Message)
	assert.Equal(t, Transition{From: Lobby, To: InRound}, ev.Transition)
	assert.Equal(t, "Bob", h.m.Snapshot().Opponent)
}

func TestMachine_MakeChoiceThenRoundResult(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, InRound)

	require.NoError(t, h.m.Issue(protocol.MakeChoice{Choice: protocol.Rock}))
	assert.Equal(t, RoundResolved, h.m.State())
	require.NotEmpty(t, h.tr.sent)
	assert.JSONEq(t, `{"type":"make_choice","data":{"choice":"rock"}}`, h.tr.sent[len(h.tr.sent)-1])
	assert.True(t, h.m.Snapshot().AwaitingResult)

	h.m.HandleRaw(frame("round_result", `{"result":"win","your_choice":"rock","opponent_choice":"scissors"}`))

	assert.Equal(t, RoundResolved, h.m.State())
	ev, ok := h.rec.last(t).(Received)
	require.True(t, ok)
	assert.False(t, ev.Anomaly)
	assert.Equal(t, protocol.RoundResult{
		Result:         protocol.Win,
		YourChoice:     protocol.Rock,
		OpponentChoice: protocol.Scissors,
	}, ev.Message)

	snap := h.m.Snapshot()
	assert.False(t, snap.AwaitingResult)
	assert.Equal(t, Tally{Wins: 1}, snap.Tally)
	require.Len(t, snap.Rounds, 1)
	assert.Equal(t, 1, snap.Rounds[0].Number)
}

func TestMachine_MakeChoiceRejectedOutsideRound(t *testing.T) {
	for _, state := range []State{Lobby, Waiting, GameOver} {
		t.Run(state.String(), func(t *testing.T) {
			h := newHarness(t)
			h.driveTo(t, state)
			sent := len(h.tr.sent)

			err := h.m.Issue(protocol.MakeChoice{Choice: protocol.Paper})

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			var terr *TransitionError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, state, terr.From)
			assert.Equal(t, state, h.m.State())
			assert.Len(t, h.tr.sent, sent)

			rej, ok := h.rec.last(t).(Rejected)
			require.True(t, ok)
			assert.Equal(t, protocol.TypeMakeChoice, rej.Action)
		})
	}
}

func TestMachine_PlayAgainOnlyFromGameOver(t *testing.T) {
	for _, state := range []State{LoggedOut, Connecting, Lobby, Waiting, InRound, RoundResolved} {
		t.Run(state.String(), func(t *testing.T) {
			h := newHarness(t)
			h.driveTo(t, state)

			err := h.m.Issue(protocol.PlayAgain{})
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, state, h.m.State())
		})
	}

	t.Run("game_over", func(t *testing.T) {
		h := newHarness(t)
		h.driveTo(t, GameOver)

		require.NoError(t, h.m.Issue(protocol.PlayAgain{}))
		assert.Equal(t, Waiting, h.m.State())
		assert.JSONEq(t, `{"type":"play_again","data":{}}`, h.tr.sent[len(h.tr.sent)-1])

		h.m.HandleRaw(frame("player_waiting", "{}"))
		ev := h.rec.last(t).(Received)
		assert.False(t, ev.Anomaly)
		assert.Equal(t, Waiting, h.m.State())
	})
}

func TestMachine_RoundNumbersStrictlyIncrease(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, InRound)

	h.m.HandleRaw(frame("round_start", `{"round_number":2}`))
	h.m.HandleRaw(frame("round_start", `{"round_number":3}`))
	assert.Equal(t, 3, h.m.Snapshot().Round)

	for _, n := range []int{3, 2} {
		h.m.HandleRaw(frame("round_start", fmt.Sprintf(`{"round_number":%d}`, n)))

		rej, ok := h.rec.last(t).(Rejected)
		require.True(t, ok, "round %d should be rejected", n)
		assert.ErrorIs(t, rej.Err, ErrRoundOrder)
		assert.ErrorIs(t, rej.Err, ErrInvalidTransition)
		assert.Equal(t, 3, h.m.Snapshot().Round)
		assert.Equal(t, InRound, h.m.State())
	}

	// a new game resets the counter
	h.m.HandleRaw(frame("game_ended", `{"result":"draw"}`))
	require.NoError(t, h.m.Issue(protocol.PlayAgain{}))
	h.m.HandleRaw(frame("game_starting", `{"opponent_name":"Carol"}`))
	h.m.HandleRaw(frame("round_start", `{"round_number":1}`))

	ev, ok := h.rec.last(t).(Received)
	require.True(t, ok)
	assert.Equal(t, protocol.RoundStart{RoundNumber: 1}, ev.Message)
	assert.Equal(t, 1, h.m.Snapshot().Round)
}

func TestMachine_SendWhileClosedIsNotOpen(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, InRound)
	before := h.m.Snapshot()
	h.tr.sendErr = fmt.Errorf("send: %w", notOpenError{})

	err := h.m.Issue(protocol.MakeChoice{Choice: protocol.Scissors})

	require.Error(t, err)
	assert.True(t, isNotOpen(err))
	assert.Equal(t, before, h.m.Snapshot())
	rej, ok := h.rec.last(t).(Rejected)
	require.True(t, ok)
	assert.Equal(t, InRound, rej.State)
	assert.Zero(t, h.tr.closes)
}

func TestMachine_SendFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, InRound)
	h.tr.sendErr = errors.New("broken pipe")

	err := h.m.Issue(protocol.MakeChoice{Choice: protocol.Rock})

	require.Error(t, err)
	assert.Equal(t, LoggedOut, h.m.State())
	assert.Equal(t, 1, h.tr.closes)
	ev, ok := h.rec.last(t).(TransportFailed)
	require.True(t, ok)
	assert.Equal(t, Transition{From: InRound, To: LoggedOut}, ev.Transition)
}

func TestMachine_UndecodableFrameIsLocalError(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		target error
	}{
		{"malformed", `{"type":"round_start","data":{"round_number":1`, protocol.ErrMalformedFrame},
		{"not json", `hello`, protocol.ErrMalformedFrame},
		{"truncated game_ended", `{"type":"game_ended","data":{"result":"win"}`, protocol.ErrMalformedFrame},
		{"trailing bytes", `{"type":"game_ended","data":{"result":"win"}} x`, protocol.ErrMalformedFrame},
		{"bad payload", `{"type":"round_start","data":{"round_number":0}}`, protocol.ErrInvalidPayload},
		{"bad choice", `{"type":"round_result","data":{"result":"win","your_choice":"lizard","opponent_choice":"rock"}}`, protocol.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.driveTo(t, InRound)
			before := h.m.Snapshot()
			count := len(h.rec.events)

			h.m.HandleRaw([]byte(tt.raw))

			require.Len(t, h.rec.events, count+1)
			ev, ok := h.rec.last(t).(Received)
			require.True(t, ok)
			assert.Equal(t, protocol.ServerError{Local: true}, ev.Message)
			assert.ErrorIs(t, ev.Err, tt.target)
			assert.Equal(t, Transition{From: InRound, To: InRound}, ev.Transition)
			assert.Equal(t, before, h.m.Snapshot())
		})
	}
}

func TestMachine_ServerErrorLeavesStateUnchanged(t *testing.T) {
	for _, state := range []State{Lobby, Waiting, InRound, GameOver} {
		t.Run(state.String(), func(t *testing.T) {
			h := newHarness(t)
			h.driveTo(t, state)

			h.m.HandleRaw([]byte(`{"type":"error","data":{"message":"full"}}`))

			assert.Equal(t, state, h.m.State())
			ev, ok := h.rec.last(t).(Received)
			require.True(t, ok)
			assert.Equal(t, protocol.ServerError{Message: "full"}, ev.Message)
			assert.False(t, ev.Anomaly)
		})
	}
}

func TestMachine_UnknownMessage(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, Lobby)

	h.m.HandleRaw(frame("leaderboard", `{"top":["Bob"]}`))

	assert.Equal(t, Lobby, h.m.State())
	ev, ok := h.rec.last(t).(UnknownMessage)
	require.True(t, ok)
	assert.Equal(t, "leaderboard", ev.Type)
	assert.Equal(t, `{"top":["Bob"]}`, ev.Data)
}

func TestMachine_OutOfStateEventsAreForced(t *testing.T) {
	tests := []struct {
		name string
		from State
		raw  []byte
		to   State
	}{
		{"round_result in lobby", Lobby, frame("round_result", `{"result":"lose","your_choice":"rock","opponent_choice":"paper"}`), RoundResolved},
		{"game_ended while waiting", Waiting, frame("game_ended", `{"result":"win"}`), GameOver},
		{"game_starting mid round", InRound, frame("game_starting", `{"opponent_name":"Dan"}`), InRound},
		{"player_waiting mid round", InRound, frame("player_waiting", `{}`), Waiting},
		{"round_start while waiting", Waiting, frame("round_start", `{"round_number":4}`), InRound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.driveTo(t, tt.from)

			h.m.HandleRaw(tt.raw)

			assert.Equal(t, tt.to, h.m.State())
			ev, ok := h.rec.last(t).(Received)
			require.True(t, ok)
			assert.True(t, ev.Anomaly)
			assert.Equal(t, tt.from, ev.From)
			assert.Equal(t, 1, h.m.Snapshot().Anomalies)
		})
	}
}

func TestMachine_RoundResultWithoutChoiceIsAnomaly(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, RoundResolved)

	h.m.HandleRaw(frame("round_result", `{"result":"draw","your_choice":"rock","opponent_choice":"rock"}`))

	ev := h.rec.last(t).(Received)
	assert.True(t, ev.Anomaly)
	assert.Equal(t, RoundResolved, h.m.State())
	assert.Equal(t, Tally{Wins: 1, Draws: 1}, h.m.Snapshot().Tally)
}

func TestMachine_GameEndedRecordsSummary(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, GameOver)

	game := h.m.LastGame()
	require.NotNil(t, game)
	assert.Equal(t, "Bob", game.Opponent)
	assert.Equal(t, protocol.Win, game.Result)
	assert.Equal(t, "1-0", game.Score)
	require.Len(t, game.Rounds, 1)
	assert.Equal(t, protocol.Scissors, game.Rounds[0].OpponentChoice)
	assert.True(t, game.EndedAt.After(game.StartedAt))

	snap := h.m.Snapshot()
	assert.Equal(t, Tally{Wins: 1}, snap.Record)
	assert.Equal(t, "Alice", snap.PlayerName)
}

func TestMachine_Connect(t *testing.T) {
	t.Run("from logged out", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.m.Connect("ws://localhost:8080/ws"))
		assert.Equal(t, Connecting, h.m.State())
		assert.Equal(t, []string{"ws://localhost:8080/ws"}, h.tr.urls)

		ev, ok := h.rec.last(t).(Dialing)
		require.True(t, ok)
		assert.Equal(t, "ws://localhost:8080/ws", ev.URL)
	})

	t.Run("twice", func(t *testing.T) {
		h := newHarness(t)
		h.driveTo(t, Lobby)
		err := h.m.Connect("ws://other/ws")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, Lobby, h.m.State())
		assert.Len(t, h.tr.urls, 1)
	})

	t.Run("transport refuses", func(t *testing.T) {
		h := newHarness(t)
		h.tr.connectErr = errors.New("invalid url")
		require.Error(t, h.m.Connect("http://nope"))
		assert.Equal(t, LoggedOut, h.m.State())
		_, ok := h.rec.last(t).(TransportFailed)
		assert.True(t, ok)
	})
}

func TestMachine_JoinLobbyRequiresName(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, Lobby)

	err := h.m.Issue(protocol.JoinLobby{})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Empty(t, h.tr.sent)

	err = h.m.Issue(nil)
	assert.ErrorIs(t, err, protocol.ErrNilCommand)
}

func TestMachine_Disconnect(t *testing.T) {
	t.Run("mid game", func(t *testing.T) {
		h := newHarness(t)
		h.driveTo(t, InRound)

		require.NoError(t, h.m.Issue(protocol.Disconnect{}))

		assert.Equal(t, LoggedOut, h.m.State())
		assert.Equal(t, 1, h.tr.closes)
		assert.JSONEq(t, `{"type":"disconnect","data":{}}`, h.tr.sent[len(h.tr.sent)-1])
		ev := h.rec.last(t).(Issued)
		assert.Equal(t, Transition{From: InRound, To: LoggedOut}, ev.Transition)
		assert.Zero(t, h.m.Snapshot().Round)
	})

	t.Run("while connecting", func(t *testing.T) {
		h := newHarness(t)
		h.driveTo(t, Connecting)
		h.tr.sendErr = notOpenError{}

		require.NoError(t, h.m.Issue(protocol.Disconnect{}))
		assert.Equal(t, LoggedOut, h.m.State())
		assert.Equal(t, 1, h.tr.closes)
	})

	t.Run("when logged out", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.m.Issue(protocol.Disconnect{}), ErrInvalidTransition)
		assert.Zero(t, h.tr.closes)
	})
}

func TestMachine_ClosedResets(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, RoundResolved)

	h.m.Closed(1006, "abnormal closure")

	assert.Equal(t, LoggedOut, h.m.State())
	ev, ok := h.rec.last(t).(Disconnected)
	require.True(t, ok)
	assert.Equal(t, 1006, ev.Code)
	assert.Equal(t, Transition{From: RoundResolved, To: LoggedOut}, ev.Transition)

	// the machine can connect again
	require.NoError(t, h.m.Connect("ws://localhost:8080/ws"))
	assert.Equal(t, Connecting, h.m.State())
}

func TestMachine_OneEventPerInput(t *testing.T) {
	h := newHarness(t)
	inputs := []func(){
		func() { _ = h.m.Connect("ws://localhost:8080/ws") },
		func() { h.m.Opened() },
		func() { _ = h.m.Issue(protocol.MakeChoice{Choice: protocol.Rock}) },
		func() { _ = h.m.Issue(protocol.JoinLobby{Name: "Alice"}) },
		func() { h.m.HandleRaw(frame("player_waiting", "{}")) },
		func() { h.m.HandleRaw(frame("game_starting", `{"opponent_name":"Bob"}`)) },
		func() { h.m.HandleRaw(frame("round_start", `{"round_number":1}`)) },
		func() { h.m.HandleRaw(frame("round_start", `{"round_number":1}`)) },
		func() { h.m.HandleRaw([]byte("garbage")) },
		func() { h.m.HandleRaw(frame("mystery", "{}")) },
		func() { _ = h.m.Issue(protocol.MakeChoice{Choice: protocol.Rock}) },
		func() { h.m.HandleRaw(frame("round_result", `{"result":"win","your_choice":"rock","opponent_choice":"scissors"}`)) },
		func() { h.m.HandleRaw(frame("game_ended", `{"result":"win"}`)) },
		func() { h.m.TransportFailed(errors.New("reset by peer")) },
		func() { h.m.Closed(1006, "") },
	}

	for i, in := range inputs {
		in()
		assert.Len(t, h.rec.events, i+1, "input %d", i)
	}
}

func TestState_StringAndJSON(t *testing.T) {
	assert.Equal(t, "round_resolved", RoundResolved.String())
	assert.Equal(t, "state(42)", State(42).String())

	data, err := json.Marshal(Snapshot{State: GameOver})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"game_over"`)

	var s State
	require.NoError(t, s.UnmarshalText([]byte("in_round")))
	assert.Equal(t, InRound, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "game starting against Bob", Describe(Received{Message: protocol.GameStarting{OpponentName: "Bob"}}))
	assert.Equal(t, "game over: win 2-1", Describe(Received{Message: protocol.GameEnded{Result: protocol.Win, Score: "2-1"}}))
	assert.Equal(t, "sent choice rock", Describe(Issued{Command: protocol.MakeChoice{Choice: protocol.Rock}}))
	assert.Equal(t, "disconnected (1000)", Describe(Disconnected{Code: 1000}))
	assert.Contains(t, Describe(Received{
		Transition: Transition{From: Lobby, To: RoundResolved, Anomaly: true},
		Message:    protocol.RoundResult{Result: protocol.Win, YourChoice: protocol.Rock, OpponentChoice: protocol.Scissors},
	}), "unexpected in lobby")
}
