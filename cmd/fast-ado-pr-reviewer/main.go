package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	azureadapter "github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/adapter/driven/azuredevops"
	githubadapter "github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/adapter/driven/github"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/application"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/config"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/port/driven"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/logging"
)

// CLI is the kong command-line interface structure.
type CLI struct {
	Config   string        `help:"Path to config file" short:"c" type:"path" default:"config.yaml"`
	Interval time.Duration `help:"Polling interval override" short:"i"`

	Run   RunCmd   `cmd:"" default:"1" help:"Start watching and auto-approving pull requests"`
	Setup SetupCmd `cmd:"" help:"Select the reviewer identity used for approvals and save it to the config file"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("fast-ado-pr-reviewer"),
		kong.Description("Automatically approve pull requests from watched authors."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// RunCmd starts the watch loop.
type RunCmd struct {
	WatchedUsers []string `arg:"" optional:"" help:"Override watched_users from the config file"`
}

func (r *RunCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	defer func() {
		if closeErr := closeLog(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing log file: %v\n", closeErr)
		}
	}()

	if len(r.WatchedUsers) > 0 {
		slog.Info("overriding watched users from command line", "count", len(r.WatchedUsers))
		cfg.WatchedUsers = r.WatchedUsers
	}
	interval := cfg.PollInterval
	if cli.Interval > 0 {
		interval = cli.Interval
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	// Only PRs created from here on are eligible for approval.
	startTime := time.Now().UTC()

	slog.Info("starting watch loop",
		"provider", cfg.Provider,
		"organization", cfg.Organization,
		"project", cfg.Project,
		"poll_interval", interval,
		"request_timeout", cfg.RequestTimeout,
	)
	slog.Info("watching pull requests", "users", cfg.WatchedUsers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := application.NewWatchService(client, cfg.WatchedUsers, startTime, interval, cfg.RequestTimeout)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}

// buildClient constructs the HostClient adapter for the configured provider.
func buildClient(cfg *config.Config) (driven.HostClient, error) {
	switch cfg.Provider {
	case config.ProviderAzureDevOps:
		if cfg.ReviewerID == "" {
			return nil, fmt.Errorf("no reviewer_id configured: run `fast-ado-pr-reviewer setup` first")
		}
		return azureadapter.NewClient(
			cfg.Organization,
			cfg.Project,
			cfg.PersonalAccessToken,
			cfg.ReviewerID,
			cfg.ApprovalComment,
			cfg.RequestTimeout,
		), nil
	case config.ProviderGitHub:
		// For GitHub the reviewer_id is the approving account's login; it is
		// only needed to recognize the agent's own reviews, so it may be empty.
		return githubadapter.NewClient(
			cfg.PersonalAccessToken,
			cfg.ReviewerID,
			cfg.Organization,
			cfg.Project,
			cfg.ApprovalComment,
		), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
