package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/paper-client/game/protocol"
	"github.com/wricardo/paper-client/game/service"
	"github.com/wricardo/paper-client/game/session"
)

const promptHelp = `commands:
  1 | r | rock       play rock
  2 | p | paper      play paper
  3 | s | scissors   play scissors
  play               ask for a rematch after a game
  state              show the session
  history            show recent games
  help               this text
  quit               leave and exit`

type inputAction int

const (
	actionNone inputAction = iota
	actionChoice
	actionPlayAgain
	actionState
	actionHistory
	actionHelp
	actionQuit
)

// parseInput maps one line of terminal input to an action
func parseInput(line string) (inputAction, protocol.Choice, error) {
	word := strings.ToLower(strings.TrimSpace(line))
	switch word {
	case "":
		return actionNone, "", nil
	case "play", "again", "play again":
		return actionPlayAgain, "", nil
	case "state", "status":
		return actionState, "", nil
	case "history":
		return actionHistory, "", nil
	case "help", "?":
		return actionHelp, "", nil
	case "quit", "q", "exit":
		return actionQuit, "", nil
	}

	if choice, err := protocol.ParseChoice(word); err == nil {
		return actionChoice, choice, nil
	}
	return actionNone, "", fmt.Errorf("unknown command %q (type help)", word)
}

// syncWriter serializes writes from the prompt and the event listener
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// eventPrinter renders session events as terminal lines
type eventPrinter struct {
	out io.Writer
	raw bool
}

func (p *eventPrinter) print(rec service.EventRecord) {
	if p.raw {
		data, err := json.Marshal(rec)
		if err != nil {
			return
		}
		fmt.Fprintln(p.out, string(data))
		return
	}

	line := rec.Summary
	if rec.Error != "" {
		line += ": " + rec.Error
	}
	fmt.Fprintf(p.out, "[%s] %s\n", rec.State, line)

	if rec.Kind != "received" {
		return
	}
	switch {
	case rec.Type == protocol.TypeRoundStart && rec.State == session.InRound:
		fmt.Fprintln(p.out, "choose: 1=rock 2=paper 3=scissors")
	case rec.State == session.GameOver:
		fmt.Fprintln(p.out, "type play for a rematch or quit to leave")
	}
}

func printSnapshot(out io.Writer, snap *session.Snapshot) {
	fmt.Fprintf(out, "state: %s", snap.State)
	if snap.PlayerName != "" {
		fmt.Fprintf(out, "  player: %s", snap.PlayerName)
	}
	if snap.Opponent != "" {
		fmt.Fprintf(out, "  opponent: %s", snap.Opponent)
	}
	if snap.Round > 0 {
		fmt.Fprintf(out, "  round: %d", snap.Round)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "this game: %d-%d-%d  overall: %d-%d-%d (W-L-D)\n",
		snap.Tally.Wins, snap.Tally.Losses, snap.Tally.Draws,
		snap.Record.Wins, snap.Record.Losses, snap.Record.Draws)
}

// runPrompt reads commands until quit, end of input or a stopped client
func runPrompt(ctx context.Context, lines *bufio.Scanner, out io.Writer, svc service.GameService) error {
	fmt.Fprintln(out, promptHelp)

	for lines.Scan() {
		action, choice, err := parseInput(lines.Text())
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}

		var snap *session.Snapshot
		switch action {
		case actionNone:
			continue
		case actionHelp:
			fmt.Fprintln(out, promptHelp)
			continue
		case actionHistory:
			records, err := svc.History(ctx, 10)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no finished games yet")
			}
			for _, r := range records {
				fmt.Fprintf(out, "%s vs %s: %s %s (%d rounds)\n",
					r.EndedAt.Local().Format("2006-01-02 15:04"), r.OpponentName,
					strings.ToUpper(string(r.Result)), r.Score, len(r.Rounds))
			}
			continue
		case actionQuit:
			if _, err := svc.Disconnect(ctx); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
				return err
			}
			return nil
		case actionChoice:
			snap, err = svc.MakeChoice(ctx, choice)
		case actionPlayAgain:
			snap, err = svc.PlayAgain(ctx)
		case actionState:
			snap, err = svc.Snapshot(ctx)
		}

		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			if errors.Is(err, service.ErrStopped) {
				return err
			}
			continue
		}
		if action == actionState {
			printSnapshot(out, snap)
		}
	}
	return lines.Err()
}

// runPlay connects, joins and hands the terminal to runPrompt
func runPlay(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Debug, zap.WarnLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	out := &syncWriter{w: os.Stdout}
	lines := bufio.NewScanner(os.Stdin)

	for cfg.PlayerName == "" {
		fmt.Fprint(out, "name: ")
		if !lines.Scan() {
			return lines.Err()
		}
		cfg.PlayerName = strings.TrimSpace(lines.Text())
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}

	printer := &eventPrinter{out: out, raw: cmd.Bool("raw")}
	rt.client.OnEvent(printer.print)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- rt.client.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	fmt.Fprintf(out, "connecting to %s as %s\n", cfg.ServerURL, cfg.PlayerName)
	if _, err := rt.client.Connect(ctx, ""); err != nil {
		return err
	}

	return runPrompt(ctx, lines, out, rt.client)
}
