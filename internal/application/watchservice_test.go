package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/application"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/model"
	"github.com/Tom-Shaffer/fast-ado-pr-reviewer/internal/domain/port/driven"
)

// --- Mock implementation ---

type mockHostClient struct {
	list          func(ctx context.Context) ([]model.PullRequest, error)
	approve       func(ctx context.Context, pr model.PullRequest) error
	approvalState func(ctx context.Context, pr model.PullRequest) (model.ApprovalState, error)

	approveCalls []int
}

func (m *mockHostClient) ListOpenPullRequests(ctx context.Context) ([]model.PullRequest, error) {
	return m.list(ctx)
}

func (m *mockHostClient) ApprovePullRequest(ctx context.Context, pr model.PullRequest) error {
	m.approveCalls = append(m.approveCalls, pr.ID)
	if m.approve != nil {
		return m.approve(ctx, pr)
	}
	return nil
}

func (m *mockHostClient) ApprovalState(ctx context.Context, pr model.PullRequest) (model.ApprovalState, error) {
	if m.approvalState != nil {
		return m.approvalState(ctx, pr)
	}
	return model.ApprovalNone, nil
}

func newService(client driven.HostClient, watchedUsers []string, startTime time.Time) *application.WatchService {
	return application.NewWatchService(client, watchedUsers, startTime, time.Hour, time.Second)
}

func pr(id int, author string, createdAt time.Time) model.PullRequest {
	return model.PullRequest{
		ID:        id,
		Author:    author,
		CreatedAt: createdAt,
		Title:     "change",
	}
}

// --- Tests ---

func TestPollOnce_SkipsPRsCreatedBeforeStart(t *testing.T) {
	start := time.Now().UTC()

	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return []model.PullRequest{
				pr(1, "Jane Smith", start.Add(-time.Minute)),
				pr(2, "Jane Smith", start.Add(time.Minute)),
			}, nil
		},
	}

	svc := newService(client, []string{"Jane Smith"}, start)
	require.NoError(t, svc.PollOnce(context.Background()))

	assert.Equal(t, []int{2}, client.approveCalls)
}

func TestPollOnce_SkipsUnwatchedAuthors(t *testing.T) {
	start := time.Now().UTC()

	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return []model.PullRequest{
				pr(1, "Jane Smith", start.Add(time.Minute)),
				pr(2, "Mallory", start.Add(time.Minute)),
				pr(3, "jane smith", start.Add(time.Minute)), // Exact match only.
			}, nil
		},
	}

	svc := newService(client, []string{"Jane Smith"}, start)
	require.NoError(t, svc.PollOnce(context.Background()))

	assert.Equal(t, []int{1}, client.approveCalls)
}

func TestPollOnce_ApprovesExactlyOnceAcrossCycles(t *testing.T) {
	start := time.Now().UTC()

	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return []model.PullRequest{pr(3, "Jane Smith", start.Add(time.Minute))}, nil
		},
	}

	svc := newService(client, []string{"Jane Smith"}, start)
	require.NoError(t, svc.PollOnce(context.Background()))
	require.NoError(t, svc.PollOnce(context.Background()))
	require.NoError(t, svc.PollOnce(context.Background()))

	assert.Equal(t, []int{3}, client.approveCalls, "approve must be called exactly once per PR")
}

func TestPollOnce_RetriesFailedApprovalNextCycle(t *testing.T) {
	start := time.Now().UTC()

	failures := 2
	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return []model.PullRequest{pr(4, "Jane Smith", start.Add(time.Minute))}, nil
		},
	}
	client.approve = func(_ context.Context, _ model.PullRequest) error {
		if failures > 0 {
			failures--
			return &driven.TransientError{Op: "approve", Err: errors.New("connection reset")}
		}
		return nil
	}

	svc := newService(client, []string{"Jane Smith"}, start)
	require.NoError(t, svc.PollOnce(context.Background()))
	require.NoError(t, svc.PollOnce(context.Background()))
	require.NoError(t, svc.PollOnce(context.Background()))
	require.NoError(t, svc.PollOnce(context.Background()))

	// Two failed attempts, one success, then seen.
	assert.Equal(t, []int{4, 4, 4}, client.approveCalls)
}

func TestPollOnce_FailureIsolationBetweenPRs(t *testing.T) {
	start := time.Now().UTC()

	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return []model.PullRequest{
				pr(10, "Jane Smith", start.Add(time.Minute)),
				pr(11, "Jane Smith", start.Add(time.Minute)),
			}, nil
		},
	}
	client.approve = func(_ context.Context, p model.PullRequest) error {
		if p.ID == 10 {
			return &driven.TransientError{Op: "approve", Err: errors.New("boom")}
		}
		return nil
	}

	svc := newService(client, []string{"Jane Smith"}, start)
	require.NoError(t, svc.PollOnce(context.Background()))

	// PR 10 failed but PR 11 was still approved in the same cycle.
	assert.Contains(t, client.approveCalls, 11)

	// Next cycle retries only PR 10.
	client.approveCalls = nil
	client.approve = nil
	require.NoError(t, svc.PollOnce(context.Background()))
	assert.Equal(t, []int{10}, client.approveCalls)
}

func TestPollOnce_ListFailureIsAbsorbed(t *testing.T) {
	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return nil, &driven.TransientError{Op: "list", Err: errors.New("timeout")}
		},
	}

	svc := newService(client, []string{"Jane Smith"}, time.Now().UTC())
	assert.NoError(t, svc.PollOnce(context.Background()))
}

func TestPollOnce_ProtocolFailureIsAbsorbed(t *testing.T) {
	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return nil, &driven.ProtocolError{Op: "list", Err: errors.New("truncated body")}
		},
	}

	svc := newService(client, []string{"Jane Smith"}, time.Now().UTC())
	assert.NoError(t, svc.PollOnce(context.Background()))
}

func TestPollOnce_AuthFailureOnListIsFatal(t *testing.T) {
	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return nil, &driven.AuthError{Op: "list", Err: errors.New("401")}
		},
	}

	svc := newService(client, []string{"Jane Smith"}, time.Now().UTC())
	err := svc.PollOnce(context.Background())

	require.Error(t, err)
	assert.True(t, driven.IsAuth(err))
}

func TestPollOnce_AuthFailureOnApproveIsFatal(t *testing.T) {
	start := time.Now().UTC()

	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return []model.PullRequest{pr(5, "Jane Smith", start.Add(time.Minute))}, nil
		},
	}
	client.approve = func(_ context.Context, _ model.PullRequest) error {
		return &driven.AuthError{Op: "approve", Err: errors.New("credential expired")}
	}

	svc := newService(client, []string{"Jane Smith"}, start)
	err := svc.PollOnce(context.Background())

	require.Error(t, err)
	assert.True(t, driven.IsAuth(err))
}

func TestPollOnce_AlreadyApprovedBySelfIsNotReapproved(t *testing.T) {
	start := time.Now().UTC()

	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return []model.PullRequest{pr(6, "Jane Smith", start.Add(time.Minute))}, nil
		},
		approvalState: func(_ context.Context, _ model.PullRequest) (model.ApprovalState, error) {
			return model.ApprovalBySelf, nil
		},
	}

	svc := newService(client, []string{"Jane Smith"}, start)
	require.NoError(t, svc.PollOnce(context.Background()))
	require.NoError(t, svc.PollOnce(context.Background()))

	assert.Empty(t, client.approveCalls)
}

func TestPollOnce_StateCheckFailureStillApproves(t *testing.T) {
	start := time.Now().UTC()

	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return []model.PullRequest{pr(7, "Jane Smith", start.Add(time.Minute))}, nil
		},
		approvalState: func(_ context.Context, _ model.PullRequest) (model.ApprovalState, error) {
			return model.ApprovalNone, &driven.TransientError{Op: "state", Err: errors.New("flaky")}
		},
	}

	svc := newService(client, []string{"Jane Smith"}, start)
	require.NoError(t, svc.PollOnce(context.Background()))

	assert.Equal(t, []int{7}, client.approveCalls)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return nil, nil
		},
	}

	svc := application.NewWatchService(client, []string{"Jane Smith"}, time.Now().UTC(), 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestStart_ReturnsAuthError(t *testing.T) {
	client := &mockHostClient{
		list: func(_ context.Context) ([]model.PullRequest, error) {
			return nil, &driven.AuthError{Op: "list", Err: errors.New("401")}
		},
	}

	svc := application.NewWatchService(client, []string{"Jane Smith"}, time.Now().UTC(), 10*time.Millisecond, time.Second)

	err := svc.Start(context.Background())

	require.Error(t, err)
	assert.True(t, driven.IsAuth(err))
}
