// Package azuredevops implements the HostClient port against the Azure
// DevOps Git REST API (api-version 7.1).
package azuredevops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/model"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HostClient = (*Client)(nil)

const (
	apiVersion = "7.1"

	// Vote values understood by the reviewers endpoint: 10 = approve,
	// 5 = approve with suggestions, 0 = no vote, -5 = waiting for author,
	// -10 = reject.
	voteApprove = 10
)

// errNotFound marks a 404 from the API. ApprovalState treats it as "no vote
// recorded yet"; everywhere else it surfaces inside a ProtocolError.
var errNotFound = errors.New("not found")

// Client implements driven.HostClient using the Azure DevOps REST API with
// PAT basic auth. Failed calls are retried with exponential backoff; only
// rate limits, server errors, and transport failures are retried.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	authHeader      string
	reviewerID      string
	approvalComment string
	maxRetries      uint64
	initialDelay    time.Duration
}

// NewClient creates an Azure DevOps API client. When the organization
// contains a dot it is taken as a custom or on-premise host; otherwise the
// standard dev.azure.com URL scheme applies. timeout bounds every API call
// so a stalled request cannot block the poll loop indefinitely.
func NewClient(organization, project, pat, reviewerID, approvalComment string, timeout time.Duration) *Client {
	var baseURL string
	if strings.Contains(organization, ".") {
		baseURL = "https://" + organization
	} else {
		baseURL = fmt.Sprintf("https://dev.azure.com/%s/%s", organization, project)
	}

	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		baseURL:         baseURL,
		authHeader:      basicAuthHeader(pat),
		reviewerID:      reviewerID,
		approvalComment: approvalComment,
		maxRetries:      4,
		initialDelay:    time.Second,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. This constructor is intended for testing, allowing injection of an
// httptest server. Retries are kept but start with a near-zero delay.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, pat, reviewerID, approvalComment string) *Client {
	return &Client{
		httpClient:      httpClient,
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		authHeader:      basicAuthHeader(pat),
		reviewerID:      reviewerID,
		approvalComment: approvalComment,
		maxRetries:      4,
		initialDelay:    time.Millisecond,
	}
}

func basicAuthHeader(pat string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+pat))
}

// --- wire types ---

type prListResponse struct {
	Value []prResponse `json:"value"`
}

type prResponse struct {
	PullRequestID int              `json:"pullRequestId"`
	Title         string           `json:"title"`
	CreatedBy     identityResponse `json:"createdBy"`
	CreationDate  string           `json:"creationDate"`
	TargetRefName string           `json:"targetRefName"`
	Repository    repoResponse     `json:"repository"`
}

type repoResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type identityResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type reviewerResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Vote        int    `json:"vote"`
}

type reviewerListResponse struct {
	Value []reviewerResponse `json:"value"`
}

type voteRequest struct {
	Vote    int    `json:"vote"`
	Comment string `json:"comment"`
}

// ListOpenPullRequests retrieves the active pull requests in the configured
// project, newest first.
func (c *Client) ListOpenPullRequests(ctx context.Context) ([]model.PullRequest, error) {
	url := fmt.Sprintf(
		"%s/_apis/git/pullrequests?api-version=%s&searchCriteria.status=active&$top=50&$orderby=creationDate%%20desc",
		c.baseURL, apiVersion,
	)

	var list prListResponse
	if err := c.do(ctx, "list pull requests", http.MethodGet, url, nil, &list); err != nil {
		return nil, err
	}

	prs := make([]model.PullRequest, 0, len(list.Value))
	for _, raw := range list.Value {
		pr, err := mapPullRequest(raw)
		if err != nil {
			return nil, &driven.ProtocolError{Op: "list pull requests", Err: err}
		}
		prs = append(prs, pr)
	}

	slog.Debug("azure devops api call", "op", "list pull requests", "count", len(prs))
	return prs, nil
}

// ApprovePullRequest casts an approve vote (10) on the PR using the
// configured reviewer identity. Re-approving an already-approved PR simply
// overwrites the identical vote on the platform side.
func (c *Client) ApprovePullRequest(ctx context.Context, pr model.PullRequest) error {
	url := c.reviewerURL(pr)
	body := voteRequest{Vote: voteApprove, Comment: c.approvalComment}

	op := fmt.Sprintf("approve pull request #%d", pr.ID)
	if err := c.do(ctx, op, http.MethodPut, url, body, nil); err != nil {
		return err
	}

	slog.Debug("azure devops api call", "op", op, "repository", pr.RepositoryName)
	return nil
}

// ApprovalState reports whether the configured reviewer identity already has
// a positive vote on the PR. A 404 means the reviewer has not voted at all.
func (c *Client) ApprovalState(ctx context.Context, pr model.PullRequest) (model.ApprovalState, error) {
	url := c.reviewerURL(pr)
	op := fmt.Sprintf("check approval for pull request #%d", pr.ID)

	var reviewer reviewerResponse
	if err := c.do(ctx, op, http.MethodGet, url, nil, &reviewer); err != nil {
		if errors.Is(err, errNotFound) {
			return model.ApprovalNone, nil
		}
		return model.ApprovalNone, err
	}

	if reviewer.Vote > 0 {
		return model.ApprovalBySelf, nil
	}
	return model.ApprovalNone, nil
}

// GetPullRequest fetches a single pull request by ID. The project-level
// endpoint is used because the repository ID is not known in advance.
func (c *Client) GetPullRequest(ctx context.Context, id int) (*model.PullRequest, error) {
	url := fmt.Sprintf("%s/_apis/git/pullrequests/%d?api-version=%s", c.baseURL, id, apiVersion)

	var raw prResponse
	op := fmt.Sprintf("get pull request #%d", id)
	if err := c.do(ctx, op, http.MethodGet, url, nil, &raw); err != nil {
		return nil, err
	}

	pr, err := mapPullRequest(raw)
	if err != nil {
		return nil, &driven.ProtocolError{Op: op, Err: err}
	}
	return &pr, nil
}

// ListReviewers returns the reviewers currently attached to the PR. Used by
// the interactive reviewer setup flow to discover the agent's identity ID.
func (c *Client) ListReviewers(ctx context.Context, pr model.PullRequest) ([]model.Reviewer, error) {
	url := fmt.Sprintf(
		"%s/_apis/git/repositories/%s/pullRequests/%d/reviewers?api-version=%s",
		c.baseURL, pr.RepositoryID, pr.ID, apiVersion,
	)

	var list reviewerListResponse
	op := fmt.Sprintf("list reviewers for pull request #%d", pr.ID)
	if err := c.do(ctx, op, http.MethodGet, url, nil, &list); err != nil {
		return nil, err
	}

	reviewers := make([]model.Reviewer, 0, len(list.Value))
	for _, r := range list.Value {
		reviewers = append(reviewers, model.Reviewer{ID: r.ID, DisplayName: r.DisplayName})
	}
	return reviewers, nil
}

func (c *Client) reviewerURL(pr model.PullRequest) string {
	return fmt.Sprintf(
		"%s/_apis/git/repositories/%s/pullRequests/%d/reviewers/%s?api-version=%s",
		c.baseURL, pr.RepositoryID, pr.ID, c.reviewerID, apiVersion,
	)
}

// do executes one API call with retry. Transport failures, 429, and 5xx are
// retried with exponential backoff and jitter; 401/403 map to AuthError,
// 404 to errNotFound, and every other unexpected status or undecodable body
// to ProtocolError, all without retry.
func (c *Client) do(ctx context.Context, op, method, url string, reqBody, out any) error {
	var encoded []byte
	if reqBody != nil {
		var err error
		encoded, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			slog.Warn("retrying api call", "op", op, "attempt", attempt)
		}

		var bodyReader io.Reader
		if encoded != nil {
			bodyReader = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s: build request: %w", op, err))
		}
		req.Header.Set("Authorization", c.authHeader)
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &driven.TransientError{Op: op, Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&driven.AuthError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)})
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(&driven.ProtocolError{Op: op, Err: errNotFound})
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &driven.TransientError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&driven.ProtocolError{Op: op, Err: statusError(resp)})
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(&driven.ProtocolError{Op: op, Err: fmt.Errorf("decode response: %w", err)})
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialDelay
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
}

// statusError reads a bounded amount of the response body for error context.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, text)
}

// mapPullRequest converts a wire-format PR to the domain model.
func mapPullRequest(raw prResponse) (model.PullRequest, error) {
	createdAt, err := time.Parse(time.RFC3339, raw.CreationDate)
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("parse creation date of PR #%d: %w", raw.PullRequestID, err)
	}

	return model.PullRequest{
		ID:             raw.PullRequestID,
		Title:          raw.Title,
		Author:         raw.CreatedBy.DisplayName,
		RepositoryID:   raw.Repository.ID,
		RepositoryName: raw.Repository.Name,
		TargetBranch:   raw.TargetRefName,
		CreatedAt:      createdAt,
	}, nil
}
