package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	azureadapter "github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/adapter/driven/azuredevops"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/config"
)

// SetupCmd interactively resolves the Azure DevOps reviewer identity GUID by
// looking it up on a pull request where the operator is already listed as a
// reviewer, then saves it to the config file.
type SetupCmd struct{}

func (s *SetupCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if cfg.Provider != config.ProviderAzureDevOps {
		return fmt.Errorf("setup is only needed for the %s provider; for %s set reviewer_id to the account login",
			config.ProviderAzureDevOps, config.ProviderGitHub)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := azureadapter.NewClient(
		cfg.Organization,
		cfg.Project,
		cfg.PersonalAccessToken,
		"", // Reviewer ID is what we are here to find.
		cfg.ApprovalComment,
		cfg.RequestTimeout,
	)

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("To find your reviewer identity, provide a pull request number where you are listed as a reviewer.")
	fmt.Print("Enter a PR number: ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	prID, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("invalid PR number %q", strings.TrimSpace(line))
	}

	pr, err := client.GetPullRequest(ctx, prID)
	if err != nil {
		return fmt.Errorf("fetch PR #%d: %w", prID, err)
	}

	reviewers, err := client.ListReviewers(ctx, *pr)
	if err != nil {
		return fmt.Errorf("fetch reviewers for PR #%d: %w", prID, err)
	}
	if len(reviewers) == 0 {
		return fmt.Errorf("no reviewers found on PR #%d: pick a PR where you are already a reviewer", prID)
	}

	fmt.Println("\nAvailable reviewers:")
	for i, reviewer := range reviewers {
		fmt.Printf("%d: %s (ID: %s)\n", i+1, reviewer.DisplayName, reviewer.ID)
	}

	fmt.Print("\nSelect your reviewer number (or 0 to cancel): ")
	line, err = reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 0 || choice > len(reviewers) {
		return fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	if choice == 0 {
		fmt.Println("Selection canceled.")
		return nil
	}

	selected := reviewers[choice-1]
	cfg.ReviewerID = selected.ID
	if err := cfg.Save(cli.Config); err != nil {
		return err
	}

	fmt.Printf("Saved reviewer %s (ID: %s) to %s\n", selected.DisplayName, selected.ID, cli.Config)
	return nil
}
