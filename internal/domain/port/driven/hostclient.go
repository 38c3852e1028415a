package driven

import (
	"context"

	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/model"
)

// HostClient defines the driven port for the pull-request hosting API.
// The watch loop only ever needs these three operations; platform-specific
// extras (reviewer lookup for setup) live on the concrete adapters.
type HostClient interface {
	// ListOpenPullRequests returns the open pull requests in the configured
	// organization and project.
	ListOpenPullRequests(ctx context.Context) ([]model.PullRequest, error)

	// ApprovePullRequest records an approval vote on the given PR using the
	// configured credential. Approving an already-approved PR is a no-op on
	// the platform side.
	ApprovePullRequest(ctx context.Context, pr model.PullRequest) error

	// ApprovalState reports whether the PR already carries an approval and
	// from whom.
	ApprovalState(ctx context.Context, pr model.PullRequest) (model.ApprovalState, error)
}
