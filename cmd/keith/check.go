package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/keith/internal/assistant"
	"github.com/zulandar/keith/internal/assistant/openai"
	"github.com/zulandar/keith/internal/config"
)

const verifyTimeout = 15 * time.Second

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check configuration and assistant access",
		Long:  "Runs diagnostic checks before starting keith: config, assistant, operator terminal, and journal database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

// newVerifier builds the assistant verifier. Tests replace it.
var newVerifier = func(cfg *config.Config) (assistant.Verifier, error) {
	return openai.New(openai.ClientOpts{
		APIKey:      cfg.OpenAI.APIKey,
		AssistantID: cfg.OpenAI.AssistantID,
		BaseURL:     cfg.OpenAI.BaseURL,
	})
}

// terminalAttached reports whether the operator prompt could be shown.
var terminalAttached = func() bool {
	return newPrompter() != nil
}

func runCheck(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "keith check")
	fmt.Fprintln(out, "===========")

	var results []checkResult

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		results = append(results, checkResult{"Config", "FAIL", err.Error()})
	} else {
		results = append(results, checkResult{"Config", "PASS", fmt.Sprintf("platform %s, trigger %q", cfg.Platform, cfg.Triggers.AI)})
	}

	if cfg != nil {
		results = append(results, checkAssistant(cmd.Context(), cfg))
		results = append(results, checkOverride(cfg))
		results = append(results, checkJournal(cfg))
	} else {
		results = append(results, checkResult{"Assistant", "FAIL", "skipped (no config)"})
	}

	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	fmt.Fprintf(out, "[%s] %s: %s\n", r.status, r.name, r.detail)
}

func checkAssistant(ctx context.Context, cfg *config.Config) checkResult {
	v, err := newVerifier(cfg)
	if err != nil {
		return checkResult{"Assistant", "FAIL", err.Error()}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	name, err := v.Verify(ctx)
	switch assistant.KindOf(err) {
	case "":
		return checkResult{"Assistant", "PASS", fmt.Sprintf("%s (%s)", name, cfg.OpenAI.AssistantID)}
	case assistant.KindNotFound:
		return checkResult{"Assistant", "FAIL", fmt.Sprintf("assistant %q not found", cfg.OpenAI.AssistantID)}
	case assistant.KindAuth:
		return checkResult{"Assistant", "FAIL", "authentication failed; check the api key"}
	default:
		return checkResult{"Assistant", "FAIL", err.Error()}
	}
}

func checkOverride(cfg *config.Config) checkResult {
	if !cfg.OverrideEnabled() {
		return checkResult{"Manual mode", "PASS", "disabled in config"}
	}
	if !terminalAttached() {
		return checkResult{"Manual mode", "WARN", fmt.Sprintf("no interactive terminal; %s will be ignored", cfg.Triggers.Override)}
	}
	return checkResult{"Manual mode", "PASS", fmt.Sprintf("%s accepted from user %s", cfg.Triggers.Override, cfg.OperatorID)}
}

func checkJournal(cfg *config.Config) checkResult {
	if !cfg.Journal.Enabled {
		return checkResult{"Journal", "PASS", "disabled"}
	}
	_, closeDB, err := openJournal(cfg)
	if err != nil {
		return checkResult{"Journal", "FAIL", err.Error()}
	}
	closeDB()
	return checkResult{"Journal", "PASS", fmt.Sprintf("%s %s", cfg.Journal.Driver, cfg.Journal.DSN)}
}
