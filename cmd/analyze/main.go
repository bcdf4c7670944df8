// Command analyze prints quick, human-readable statistics about the games
// stored in a match history directory: overall record, results per opponent,
// how often each choice was played and how each choice fared.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/paper-client/game/protocol"
	"github.com/wricardo/paper-client/game/session"
)

// OpponentStats is the record against one opponent.
type OpponentStats struct {
	Name   string
	Games  int
	Record session.Tally
}

// ChoiceStats is how one choice did across every stored round.
type ChoiceStats struct {
	Played  int
	Outcome session.Tally
}

// Summary aggregates a set of game records.
type Summary struct {
	Games         int
	Record        session.Tally // games won, lost, drawn
	Rounds        session.Tally // rounds won, lost, drawn
	Opponents     []*OpponentStats
	Choices       map[protocol.Choice]*ChoiceStats
	OpponentPicks map[protocol.Choice]int
	LongestStreak int
}

func main() {
	cmd := &cli.Command{
		Name:      "analyze",
		Usage:     "summarize stored Paper games",
		ArgsUsage: "[history-dir...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dirs := cmd.Args().Slice()
			if len(dirs) == 0 {
				dirs = []string{"history"}
			}
			for _, dir := range dirs {
				fmt.Printf("\n=== Analyzing %s ===\n", dir)
				if err := analyzeDir(os.Stdout, dir); err != nil {
					fmt.Printf("Error: %v\n", err)
				}
			}
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func analyzeDir(w io.Writer, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	store, err := session.NewFileHistory(dir)
	if err != nil {
		return err
	}
	records, err := session.LoadAll(store)
	if err != nil {
		return err
	}

	printSummary(w, summarize(records))
	return nil
}

func tallyResult(t *session.Tally, r protocol.Result) {
	switch r {
	case protocol.Win:
		t.Wins++
	case protocol.Lose:
		t.Losses++
	case protocol.Draw:
		t.Draws++
	}
}

// summarize expects records oldest first, as LoadAll returns them
func summarize(records []*session.GameRecord) *Summary {
	s := &Summary{
		Choices:       make(map[protocol.Choice]*ChoiceStats),
		OpponentPicks: make(map[protocol.Choice]int),
	}
	for _, c := range []protocol.Choice{protocol.Rock, protocol.Paper, protocol.Scissors} {
		s.Choices[c] = &ChoiceStats{}
	}

	byName := make(map[string]*OpponentStats)
	streak := 0

	for _, rec := range records {
		s.Games++
		tallyResult(&s.Record, rec.Result)

		if rec.Result == protocol.Win {
			streak++
			if streak > s.LongestStreak {
				s.LongestStreak = streak
			}
		} else {
			streak = 0
		}

		opp := byName[rec.OpponentName]
		if opp == nil {
			opp = &OpponentStats{Name: rec.OpponentName}
			byName[rec.OpponentName] = opp
			s.Opponents = append(s.Opponents, opp)
		}
		opp.Games++
		tallyResult(&opp.Record, rec.Result)

		for _, round := range rec.Rounds {
			tallyResult(&s.Rounds, round.Result)
			if cs, ok := s.Choices[round.YourChoice]; ok {
				cs.Played++
				tallyResult(&cs.Outcome, round.Result)
			}
			if round.OpponentChoice != "" {
				s.OpponentPicks[round.OpponentChoice]++
			}
		}
	}

	sort.SliceStable(s.Opponents, func(i, j int) bool {
		if s.Opponents[i].Games != s.Opponents[j].Games {
			return s.Opponents[i].Games > s.Opponents[j].Games
		}
		return s.Opponents[i].Name < s.Opponents[j].Name
	})
	return s
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

func printSummary(w io.Writer, s *Summary) {
	if s.Games == 0 {
		fmt.Fprintln(w, "No games recorded")
		return
	}

	fmt.Fprintf(w, "Games: %d\n", s.Games)
	fmt.Fprintf(w, "Record: %d-%d-%d (W-L-D), %.0f%% won\n",
		s.Record.Wins, s.Record.Losses, s.Record.Draws, percent(s.Record.Wins, s.Games))
	fmt.Fprintf(w, "Rounds: %d-%d-%d (W-L-D)\n", s.Rounds.Wins, s.Rounds.Losses, s.Rounds.Draws)
	fmt.Fprintf(w, "Longest win streak: %d\n", s.LongestStreak)

	fmt.Fprintln(w, "\nOpponents:")
	for i, opp := range s.Opponents {
		if i == 10 {
			fmt.Fprintf(w, "   ... and %d more\n", len(s.Opponents)-10)
			break
		}
		name := opp.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "   %-20s %3d games  %d-%d-%d\n", name, opp.Games,
			opp.Record.Wins, opp.Record.Losses, opp.Record.Draws)
	}

	totalRounds := s.Rounds.Total()
	fmt.Fprintln(w, "\nYour choices:")
	for _, c := range []protocol.Choice{protocol.Rock, protocol.Paper, protocol.Scissors} {
		cs := s.Choices[c]
		fmt.Fprintf(w, "   %-9s %4d (%.0f%%)  won %d, lost %d, drew %d\n", c, cs.Played,
			percent(cs.Played, totalRounds), cs.Outcome.Wins, cs.Outcome.Losses, cs.Outcome.Draws)
	}

	var picks []string
	for _, c := range []protocol.Choice{protocol.Rock, protocol.Paper, protocol.Scissors} {
		picks = append(picks, fmt.Sprintf("%s %d", c, s.OpponentPicks[c]))
	}
	fmt.Fprintf(w, "\nOpponent choices: %s\n", strings.Join(picks, ", "))

	if cs := s.Choices[mostPlayed(s)]; totalRounds > 0 && percent(cs.Played, totalRounds) > 50 {
		fmt.Fprintf(w, "⚠️  WARNING: you play %s in more than half of all rounds\n", mostPlayed(s))
	}
}

func mostPlayed(s *Summary) protocol.Choice {
	best := protocol.Rock
	for _, c := range []protocol.Choice{protocol.Paper, protocol.Scissors} {
		if s.Choices[c].Played > s.Choices[best].Played {
			best = c
		}
	}
	return best
}
