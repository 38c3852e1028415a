// Package github implements the HostClient port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/model"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HostClient = (*Client)(nil)

// Client implements driven.HostClient for GitHub. The organization maps to
// the repository owner and the project to the repository name.
type Client struct {
	gh              *gh.Client
	owner           string
	repo            string
	username        string // Login of the approving account; used for approval-state checks.
	approvalComment string
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token, username, owner, repo, approvalComment string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{
		gh:              client,
		owner:           owner,
		repo:            repo,
		username:        username,
		approvalComment: approvalComment,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, username, owner, repo, approvalComment string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	client.BaseURL = u

	return &Client{
		gh:              client,
		owner:           owner,
		repo:            repo,
		username:        username,
		approvalComment: approvalComment,
	}, nil
}

// ListOpenPullRequests retrieves all open pull requests in the repository,
// newest first. It handles pagination automatically and maps go-github types
// to domain model types.
func (c *Client) ListOpenPullRequests(ctx context.Context) ([]model.PullRequest, error) {
	opts := &gh.PullRequestListOptions{
		State:     "open",
		Sort:      "created",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			PerPage: 100,
		},
	}

	var allPRs []model.PullRequest

	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, classify(fmt.Sprintf("listing pull requests for %s/%s (page %d)", c.owner, c.repo, opts.Page), err)
		}

		logRateLimit(resp, "list", opts.Page, len(prs))

		for _, pr := range prs {
			allPRs = append(allPRs, mapPullRequest(pr, c.repo))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if allPRs == nil {
		allPRs = []model.PullRequest{}
	}

	return allPRs, nil
}

// ApprovePullRequest submits an APPROVE review on the pull request.
func (c *Client) ApprovePullRequest(ctx context.Context, pr model.PullRequest) error {
	review := &gh.PullRequestReviewRequest{
		Event: gh.Ptr("APPROVE"),
		Body:  gh.Ptr(c.approvalComment),
	}

	_, resp, err := c.gh.PullRequests.CreateReview(ctx, c.owner, c.repo, pr.ID, review)
	if err != nil {
		return classify(fmt.Sprintf("approving %s/%s#%d", c.owner, c.repo, pr.ID), err)
	}

	logRateLimit(resp, "create-review", 0, 1)
	return nil
}

// ApprovalState reports whether the pull request already has an APPROVED
// review, distinguishing this agent's account from other reviewers.
func (c *Client) ApprovalState(ctx context.Context, pr model.PullRequest) (model.ApprovalState, error) {
	opts := &gh.ListOptions{PerPage: 100}
	state := model.ApprovalNone

	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, c.owner, c.repo, pr.ID, opts)
		if err != nil {
			return model.ApprovalNone, classify(fmt.Sprintf("listing reviews for %s/%s#%d", c.owner, c.repo, pr.ID), err)
		}

		for _, review := range reviews {
			if review.GetState() != "APPROVED" {
				continue
			}
			if review.GetUser().GetLogin() == c.username {
				return model.ApprovalBySelf, nil
			}
			state = model.ApprovalByOther
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return state, nil
}

// classify maps go-github errors onto the driven error taxonomy.
func classify(op string, err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &driven.TransientError{Op: op, Err: err}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &driven.TransientError{Op: op, Err: err}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch code := ghErr.Response.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return &driven.AuthError{Op: op, Err: err}
		case code == http.StatusTooManyRequests || code >= 500:
			return &driven.TransientError{Op: op, Err: err}
		default:
			return &driven.ProtocolError{Op: op, Err: err}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &driven.TransientError{Op: op, Err: err}
	}

	return &driven.ProtocolError{Op: op, Err: err}
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapPullRequest converts a go-github PullRequest to a domain model PullRequest.
// GitHub has no stable numeric display identity, so the PR number doubles as
// the dedup identifier and the author is the account login.
func mapPullRequest(pr *gh.PullRequest, repo string) model.PullRequest {
	return model.PullRequest{
		ID:             pr.GetNumber(),
		Title:          pr.GetTitle(),
		Author:         pr.GetUser().GetLogin(),
		RepositoryID:   strconv.FormatInt(pr.GetBase().GetRepo().GetID(), 10),
		RepositoryName: repo,
		TargetBranch:   pr.GetBase().GetRef(),
		CreatedAt:      pr.GetCreatedAt().Time,
	}
}
