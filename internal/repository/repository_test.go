package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitlementUpdateIsAtomicPerUser(t *testing.T) {
	repo := NewInMemoryEntitlementRepository(logger.NewNop())
	ctx := context.Background()

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, 7, func(e *domain.Entitlement) error {
				if e.TrialUsed {
					return domain.ErrAlreadyUsed
				}
				e.TrialUsed = true
				return nil
			})
			if err == nil {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted)
}

func TestEntitlementFailedUpdateLeavesNoRecord(t *testing.T) {
	repo := NewInMemoryEntitlementRepository(logger.NewNop())
	ctx := context.Background()

	_, err := repo.Update(ctx, 1, func(e *domain.Entitlement) error { return domain.ErrInvalidInput })
	require.Error(t, err)

	_, err = repo.Get(ctx, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEntitlementGetReturnsCopy(t *testing.T) {
	repo := NewInMemoryEntitlementRepository(logger.NewNop())
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	_, err := repo.Update(ctx, 1, func(e *domain.Entitlement) error {
		e.ExpiresAt = &exp
		return nil
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	*got.ExpiresAt = got.ExpiresAt.Add(-2 * time.Hour)

	again, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again.ExpiresAt.Equal(exp))

	list, err := repo.ListWithWindow(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApprovalTransitionOnlyOnce(t *testing.T) {
	repo := NewInMemoryApprovalRepository(logger.NewNop())
	ctx := context.Background()

	req, err := repo.Create(ctx, domain.ApprovalRequest{UserID: 5, PlanKey: "7d", Status: domain.ApprovalStatusPending})
	require.NoError(t, err)

	first, err := repo.Transition(ctx, req.ID, domain.DecisionApprove, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, first.Status)

	second, err := repo.Transition(ctx, req.ID, domain.DecisionCancel, time.Now())
	assert.True(t, errors.Is(err, ErrAlreadyDecided))
	assert.Equal(t, domain.ApprovalStatusApproved, second.Status)

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovalLatestPending(t *testing.T) {
	repo := NewInMemoryApprovalRepository(logger.NewNop())
	ctx := context.Background()
	now := time.Now()

	_, _ = repo.Create(ctx, domain.ApprovalRequest{UserID: 5, PlanKey: "1d", Status: domain.ApprovalStatusPending, CreatedAt: now.Add(-time.Minute)})
	newer, _ := repo.Create(ctx, domain.ApprovalRequest{UserID: 5, PlanKey: "7d", Status: domain.ApprovalStatusPending, CreatedAt: now})
	_, _ = repo.Create(ctx, domain.ApprovalRequest{UserID: 6, PlanKey: "7d", Status: domain.ApprovalStatusPending, CreatedAt: now.Add(time.Minute)})

	got, err := repo.LatestPending(ctx, 5, "")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	got, err = repo.LatestPending(ctx, 5, "1d")
	require.NoError(t, err)
	assert.Equal(t, "1d", got.PlanKey)

	_, err = repo.LatestPending(ctx, 9, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResourceClaimCommitRelease(t *testing.T) {
	repo := NewInMemoryResourceRepository(logger.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Claim(ctx, "+1 (415) 555-0100", 1))
	assert.True(t, errors.Is(repo.Claim(ctx, "+14155550100", 2), ErrAlreadyTaken))

	res, err := repo.Commit(ctx, domain.Resource{OwnerUserID: 1, PhoneNumber: "+14155550100"})
	require.NoError(t, err)
	assert.Equal(t, "+14155550100", res.PhoneNumber)

	assert.True(t, errors.Is(repo.Claim(ctx, "+14155550100", 2), ErrAlreadyTaken))

	got, err := repo.GetActiveByNumber(ctx, "+1 415 555 0100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.OwnerUserID)

	owned, err := repo.ListActiveByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	require.NoError(t, repo.MarkReleased(ctx, "+14155550100", time.Now()))
	_, err = repo.GetActiveByNumber(ctx, "+14155550100")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResourceReleaseClaim(t *testing.T) {
	repo := NewInMemoryResourceRepository(logger.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Claim(ctx, "+14155550100", 1))
	repo.ReleaseClaim(ctx, "+14155550100")
	assert.NoError(t, repo.Claim(ctx, "+14155550100", 2))
}

func TestSessionRepositoryReplacesWhole(t *testing.T) {
	repo := NewInMemorySessionRepository(logger.NewNop())
	ctx := context.Background()

	repo.SetAwaitingCredential(ctx, 3, true)
	assert.True(t, repo.AwaitingCredential(ctx, 3))

	require.NoError(t, repo.Put(ctx, domain.ProvisioningSession{UserID: 3, DisplayName: "first", Verified: true}))
	assert.False(t, repo.AwaitingCredential(ctx, 3))

	require.NoError(t, repo.Put(ctx, domain.ProvisioningSession{UserID: 3, DisplayName: "second", Verified: true}))
	got, err := repo.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "second", got.DisplayName)

	require.NoError(t, repo.Delete(ctx, 3))
	_, err = repo.Get(ctx, 3)
	assert.True(t, errors.Is(err, ErrNotFound))
}
