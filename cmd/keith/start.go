package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/keith/internal/assistant/openai"
	"github.com/zulandar/keith/internal/config"
	"github.com/zulandar/keith/internal/db"
	"github.com/zulandar/keith/internal/journal"
	"github.com/zulandar/keith/internal/logging"
	"github.com/zulandar/keith/internal/override"
	"github.com/zulandar/keith/internal/override/terminal"
	"github.com/zulandar/keith/internal/statusapi"
	"github.com/zulandar/keith/internal/telegraph"
	discordadapter "github.com/zulandar/keith/internal/telegraph/discord"
	slackadapter "github.com/zulandar/keith/internal/telegraph/slack"
)

func newStartCmd() *cobra.Command {
	var (
		configPath string
		noOverride bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the keith bot",
		Long:  "Connects to the configured chat platform and answers trigger messages until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath, noOverride)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&noOverride, "no-override", false, "disable manual mode even with a terminal attached")
	return cmd
}

var (
	_ telegraph.Journal    = (*journal.Journal)(nil)
	_ telegraph.Pruner     = (*journal.Journal)(nil)
	_ statusapi.TurnLister = (*journal.Journal)(nil)
)

// newPrompter returns the operator prompter, or nil when no terminal is
// attached. Tests replace it.
var newPrompter = func() override.Prompter {
	p := terminal.New(terminal.Opts{})
	if !p.Available() {
		return nil
	}
	return p
}

func runStart(cmd *cobra.Command, configPath string, noOverride bool) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if noOverride {
		off := false
		cfg.Override.Enabled = &off
	}

	logs := logging.Setup(cfg.Log, cmd.ErrOrStderr())
	defer logs.Close()

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	backend, err := openai.New(openai.ClientOpts{
		APIKey:      cfg.OpenAI.APIKey,
		AssistantID: cfg.OpenAI.AssistantID,
		BaseURL:     cfg.OpenAI.BaseURL,
	})
	if err != nil {
		return err
	}

	var prompter override.Prompter
	if cfg.OverrideEnabled() {
		prompter = newPrompter()
	}

	// Interface values stay nil unless the journal opens.
	var (
		jrnl  telegraph.Journal
		turns statusapi.TurnLister
	)
	if cfg.Journal.Enabled {
		j, closeDB, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer closeDB()
		jrnl, turns = j, j
	}

	out := cmd.OutOrStdout()
	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Config:   cfg,
		Adapter:  adapter,
		Backend:  backend,
		Prompter: prompter,
		Journal:  jrnl,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Status.Port > 0 {
		go func() {
			err := statusapi.Start(ctx, statusapi.StartOpts{
				Source: daemon,
				Turns:  turns,
				Port:   cfg.Status.Port,
				Out:    out,
			})
			if err != nil {
				log.Printf("keith: status endpoint: %v", err)
			}
		}()
	}

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (telegraph.Adapter, error) {
	switch cfg.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Discord.BotToken,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	default:
		return nil, fmt.Errorf("keith: unsupported platform %q", cfg.Platform)
	}
}

// openJournal connects to and migrates the journal database.
func openJournal(cfg *config.Config) (*journal.Journal, func(), error) {
	gormDB, err := db.Connect(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("keith: journal: %w", err)
	}
	closeDB := func() {
		if err := db.Close(gormDB); err != nil {
			log.Printf("keith: close journal: %v", err)
		}
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("keith: journal: %w", err)
	}
	j, err := journal.New(gormDB)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return j, closeDB, nil
}
