package model

import "time"

// PullRequest represents an open pull request as reported by the hosting
// platform. It is fetched fresh on every poll cycle and never persisted.
type PullRequest struct {
	ID             int
	Title          string
	Author         string // Display name of the PR creator; matched exactly against the watch list.
	RepositoryID   string
	RepositoryName string
	TargetBranch   string
	CreatedAt      time.Time
}

// CreatedBefore reports whether the PR was created strictly before t.
// The watch loop uses this to skip PRs that predate process start.
func (pr PullRequest) CreatedBefore(t time.Time) bool {
	return pr.CreatedAt.Before(t)
}
