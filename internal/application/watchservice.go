// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/model"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/port/driven"
)

// WatchService owns the watch-and-approve loop: it polls the hosting API on
// a fixed interval, filters open pull requests down to those created after
// process start by a watched author, and approves each match exactly once.
type WatchService struct {
	client       driven.HostClient
	watchedUsers []string
	startTime    time.Time
	interval     time.Duration
	timeout      time.Duration

	// seen holds IDs of PRs already approved or permanently skipped.
	// Owned exclusively by the loop, in memory only; after a restart the
	// startTime filter re-derives the same decisions.
	seen map[int]struct{}
}

// NewWatchService creates a WatchService. startTime is the eligibility
// cutoff: only PRs created at or after it are ever approved. timeout bounds
// each individual API call within a cycle.
func NewWatchService(client driven.HostClient, watchedUsers []string, startTime time.Time, interval, timeout time.Duration) *WatchService {
	users := make([]string, len(watchedUsers))
	copy(users, watchedUsers)

	return &WatchService{
		client:       client,
		watchedUsers: users,
		startTime:    startTime,
		interval:     interval,
		timeout:      timeout,
		seen:         make(map[int]struct{}),
	}
}

// Start begins the polling loop. It runs an immediate poll, then polls on
// the configured interval. Start blocks until the context is canceled
// (returning nil) or the credential is rejected (returning the AuthError).
// Transient and protocol failures are logged and absorbed.
func (s *WatchService) Start(ctx context.Context) error {
	if err := s.PollOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch service stopped")
			return nil
		case <-ticker.C:
			if err := s.PollOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// PollOnce runs a single poll cycle: list, filter, approve. It returns a
// non-nil error only for fatal conditions (rejected credential); everything
// recoverable is logged and left for the next cycle.
func (s *WatchService) PollOnce(ctx context.Context) error {
	start := time.Now()

	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	prs, err := s.client.ListOpenPullRequests(listCtx)
	cancel()
	if err != nil {
		if driven.IsAuth(err) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("poll cycle failed", "error", err)
		return nil
	}

	var eligible, approved, failed int
	for _, pr := range prs {
		if ctx.Err() != nil {
			return nil
		}
		if _, ok := s.seen[pr.ID]; ok {
			continue
		}

		if pr.CreatedBefore(s.startTime) {
			slog.Debug("skipping pull request created before start",
				"pr", pr.ID,
				"author", pr.Author,
				"created_at", pr.CreatedAt,
			)
			s.seen[pr.ID] = struct{}{}
			continue
		}

		if !s.isWatched(pr.Author) {
			continue
		}

		eligible++
		// Failures are isolated per PR: one failed approval never blocks
		// the others in the same cycle, but a rejected credential stops
		// the loop outright.
		if err := s.approve(ctx, pr); err != nil {
			if driven.IsAuth(err) {
				return err
			}
			failed++
			slog.Error("approval failed, will retry next cycle",
				"pr", pr.ID,
				"author", pr.Author,
				"error", err,
			)
			continue
		}
		approved++
	}

	slog.Info("poll cycle complete",
		"fetched", len(prs),
		"eligible", eligible,
		"approved", approved,
		"failed", failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// approve casts the approval vote for a single PR and records it as seen on
// success. A PR that turns out to be approved already is recorded without a
// second vote.
func (s *WatchService) approve(ctx context.Context, pr model.PullRequest) error {
	stateCtx, cancel := context.WithTimeout(ctx, s.timeout)
	state, err := s.client.ApprovalState(stateCtx, pr)
	cancel()
	switch {
	case err != nil:
		if driven.IsAuth(err) {
			return err
		}
		// The state check is best-effort; approving twice is harmless.
		slog.Warn("approval state check failed, approving anyway", "pr", pr.ID, "error", err)
	case state == model.ApprovalBySelf:
		slog.Info("pull request already approved", "pr", pr.ID, "author", pr.Author)
		s.seen[pr.ID] = struct{}{}
		return nil
	}

	approveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.client.ApprovePullRequest(approveCtx, pr)
	cancel()
	if err != nil {
		return err
	}

	s.seen[pr.ID] = struct{}{}
	slog.Info("pull request approved",
		"pr", pr.ID,
		"author", pr.Author,
		"title", pr.Title,
		"repository", pr.RepositoryName,
	)
	return nil
}

// isWatched reports whether author exactly matches a watched user. The match
// is deliberately case- and whitespace-sensitive: display names on the
// platform are compared verbatim.
func (s *WatchService) isWatched(author string) bool {
	for _, user := range s.watchedUsers {
		if user == author {
			return true
		}
	}
	return false
}
