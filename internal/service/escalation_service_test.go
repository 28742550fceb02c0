package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leagueops/be-expense-approvals/internal/errors"
	"github.com/leagueops/be-expense-approvals/internal/repository"
)

type escalationFixture struct {
	stages   *mockOverdueStore
	resolver *mockTargetResolver
	audit    *mockAuditStore
	notifier *mockNotifier
	service  *EscalationService
}

func newEscalationFixture() *escalationFixture {
	f := &escalationFixture{
		stages:   &mockOverdueStore{},
		resolver: &mockTargetResolver{},
		audit:    &mockAuditStore{},
		notifier: &mockNotifier{},
	}
	f.service = NewEscalationService(f.stages, f.resolver, f.audit, f.notifier, zerolog.Nop())
	return f
}

func overdueStage(id string, overdueBy time.Duration) *repository.ApprovalStage {
	deadline := time.Now().UTC().Add(-overdueBy)
	started := deadline.Add(-48 * time.Hour)
	return &repository.ApprovalStage{
		ID:             id,
		ExpenseID:      "exp-" + id,
		OrganizationID: "org-1",
		StageNumber:    1,
		Status:         repository.StageStatusPending,
		StageStartedAt: &started,
		StageDeadline:  &deadline,
	}
}

func TestHandleEscalations_NothingOverdue(t *testing.T) {
	f := newEscalationFixture()

	count, err := f.service.HandleEscalations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.notifier.events)
}

func TestHandleEscalations_EscalatesOverdueStage(t *testing.T) {
	f := newEscalationFixture()

	f.stages.listOverdueFunc = func(ctx context.Context, now time.Time) ([]*repository.ApprovalStage, error) {
		return []*repository.ApprovalStage{overdueStage("s1", 6*time.Hour)}, nil
	}
	f.resolver.resolveFunc = func(ctx context.Context, stage *repository.ApprovalStage) (*repository.User, error) {
		return &repository.User{ID: "admin-1", Role: repository.RoleAdmin}, nil
	}

	var gotTarget, gotReason string
	f.stages.escalateFunc = func(ctx context.Context, stageID, escalatedTo, reason string) (bool, error) {
		gotTarget = escalatedTo
		gotReason = reason
		return true, nil
	}

	count, err := f.service.HandleEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, "admin-1", gotTarget)
	// The reason names the overdue duration in hours.
	assert.Contains(t, gotReason, "overdue by 6.0 hours")

	assert.Equal(t, []string{"escalated"}, f.audit.actions())
	require.Len(t, f.notifier.events, 1)
	event := f.notifier.events[0]
	assert.Equal(t, EventApprovalEscalated, event.EventType)
	assert.Equal(t, []string{"admin-1"}, event.Recipients)
	assert.Equal(t, systemActor, event.ActorID)
}

func TestHandleEscalations_SkipsWhenNoTarget(t *testing.T) {
	f := newEscalationFixture()

	f.stages.listOverdueFunc = func(ctx context.Context, now time.Time) ([]*repository.ApprovalStage, error) {
		return []*repository.ApprovalStage{overdueStage("s1", time.Hour)}, nil
	}
	// Default resolver returns nil target.
	escalateCalled := false
	f.stages.escalateFunc = func(ctx context.Context, stageID, escalatedTo, reason string) (bool, error) {
		escalateCalled = true
		return true, nil
	}

	count, err := f.service.HandleEscalations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.False(t, escalateCalled)
	assert.Empty(t, f.notifier.events)
}

func TestHandleEscalations_LostRaceNotCounted(t *testing.T) {
	f := newEscalationFixture()

	f.stages.listOverdueFunc = func(ctx context.Context, now time.Time) ([]*repository.ApprovalStage, error) {
		return []*repository.ApprovalStage{overdueStage("s1", time.Hour)}, nil
	}
	f.resolver.resolveFunc = func(ctx context.Context, stage *repository.ApprovalStage) (*repository.User, error) {
		return &repository.User{ID: "admin-1"}, nil
	}
	// A concurrent decision or sweep already settled the stage.
	f.stages.escalateFunc = func(ctx context.Context, stageID, escalatedTo, reason string) (bool, error) {
		return false, nil
	}

	count, err := f.service.HandleEscalations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.audit.entries)
	assert.Empty(t, f.notifier.events)
}

func TestHandleEscalations_ContinuesPastFailures(t *testing.T) {
	f := newEscalationFixture()

	f.stages.listOverdueFunc = func(ctx context.Context, now time.Time) ([]*repository.ApprovalStage, error) {
		return []*repository.ApprovalStage{
			overdueStage("s1", time.Hour),
			overdueStage("s2", 2*time.Hour),
		}, nil
	}
	f.resolver.resolveFunc = func(ctx context.Context, stage *repository.ApprovalStage) (*repository.User, error) {
		return &repository.User{ID: "admin-1"}, nil
	}
	f.stages.escalateFunc = func(ctx context.Context, stageID, escalatedTo, reason string) (bool, error) {
		if stageID == "s1" {
			return false, errors.New(errors.ErrCodeDatabase, "connection reset")
		}
		return true, nil
	}

	count, err := f.service.HandleEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "exp-s2", f.notifier.events[0].ExpenseID)
}
