package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/keith/internal/journal"
	"github.com/zulandar/keith/internal/models"
)

func newTurnsCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		kind       string
		limit      int
		asJSON     bool
		since      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "turns",
		Short: "List journaled turns",
		Long:  "Lists the most recent assistant and manual-mode turns from the journal database. Use --since for per-outcome totals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				return runTurnCounts(cmd, configPath, since)
			}
			return runTurns(cmd, configPath, journal.Filter{ChannelID: channel, Kind: kind, Limit: limit}, asJSON)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&channel, "channel", "", "only show turns for this channel")
	cmd.Flags().StringVar(&kind, "kind", "", "only show turns of this kind (assistant, override)")
	cmd.Flags().IntVar(&limit, "limit", journal.DefaultRecentLimit, "maximum number of turns to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print turns as JSON")
	cmd.Flags().DurationVar(&since, "since", 0, "print outcome totals for this window instead of turns")
	return cmd
}

func openJournalFromConfig(cmd *cobra.Command, configPath string) (*journal.Journal, func(), error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, nil, fmt.Errorf("journal is disabled; set journal.enabled in %s", configPath)
	}
	return openJournal(cfg)
}

func runTurns(cmd *cobra.Command, configPath string, f journal.Filter, asJSON bool) error {
	switch f.Kind {
	case "", models.TurnAssistant, models.TurnOverride:
	default:
		return fmt.Errorf("unknown turn kind %q (assistant, override)", f.Kind)
	}

	j, closeDB, err := openJournalFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	turns, err := j.Recent(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(turns)
	}
	if len(turns) == 0 {
		fmt.Fprintln(out, "No turns found.")
		return nil
	}
	printTurns(out, turns)
	return nil
}

func printTurns(out io.Writer, turns []models.Turn) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tCHANNEL\tUSER\tOUTCOME\tDURATION\tTEXT")
	for _, t := range turns {
		user := t.UserName
		if user == "" {
			user = t.UserID
		}
		text := t.Prompt
		if t.Kind == models.TurnOverride {
			text = t.Reply
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			t.Kind,
			t.ChannelID,
			user,
			t.Outcome,
			(time.Duration(t.DurationMs) * time.Millisecond).String(),
			oneLine(text, 50),
		)
	}
	w.Flush()
}

func runTurnCounts(cmd *cobra.Command, configPath string, since time.Duration) error {
	j, closeDB, err := openJournalFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	counts, err := j.Count(cmd.Context(), time.Now().Add(-since))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(counts) == 0 {
		fmt.Fprintf(out, "No turns in the last %s.\n", since)
		return nil
	}
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)

	var total int64
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tCOUNT")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%d\n", o, counts[o])
		total += counts[o]
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	w.Flush()
	return nil
}

// oneLine collapses whitespace and truncates s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
