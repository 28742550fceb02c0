package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leagueops/be-expense-approvals/internal/repository"
)

// OverdueStore is the slice of stage persistence the sweeper needs.
type OverdueStore interface {
	ListOverdue(ctx context.Context, now time.Time) ([]*repository.ApprovalStage, error)
	// Escalate performs a single atomic conditional update; false means
	// another sweep or a concurrent decision got there first.
	Escalate(ctx context.Context, stageID, escalatedTo, reason string) (bool, error)
}

// EscalationTargetResolver picks the user an overdue stage escalates to.
type EscalationTargetResolver interface {
	ResolveEscalationTarget(ctx context.Context, stage *repository.ApprovalStage) (*repository.User, error)
}

// EscalationService is the periodic sweep over overdue pending stages.
// It is driven on a fixed interval by the composition root.
type EscalationService struct {
	stages   OverdueStore
	resolver EscalationTargetResolver
	audit    AuditStore
	notifier Notifier
	log      zerolog.Logger
}

// NewEscalationService creates a new EscalationService.
func NewEscalationService(
	stages OverdueStore,
	resolver EscalationTargetResolver,
	audit AuditStore,
	notifier Notifier,
	log zerolog.Logger,
) *EscalationService {
	return &EscalationService{
		stages:   stages,
		resolver: resolver,
		audit:    audit,
		notifier: notifier,
		log:      log,
	}
}

// HandleEscalations scans for pending stages whose deadline has passed and
// have not been escalated, reassigns each to its escalation target and
// returns the number escalated. Stages with no resolvable target are skipped
// and logged, not retried within the sweep.
func (s *EscalationService) HandleEscalations(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	overdue, err := s.stages.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, stage := range overdue {
		target, err := s.resolver.ResolveEscalationTarget(ctx, stage)
		if err != nil {
			s.log.Warn().Err(err).
				Str("approval_id", stage.ID).
				Msg("escalation: target resolution failed; skipping")
			continue
		}
		if target == nil {
			s.log.Warn().
				Str("approval_id", stage.ID).
				Str("organization_id", stage.OrganizationID).
				Msg("escalation: no resolvable target; skipping")
			continue
		}

		overdueHours := now.Sub(*stage.StageDeadline).Hours()
		reason := fmt.Sprintf("stage %d overdue by %.1f hours, deadline was %s",
			stage.StageNumber, overdueHours, stage.StageDeadline.Format(time.RFC3339))

		escalated, err := s.stages.Escalate(ctx, stage.ID, target.ID, reason)
		if err != nil {
			s.log.Error().Err(err).
				Str("approval_id", stage.ID).
				Msg("escalation: update failed")
			continue
		}
		if !escalated {
			// Lost the race to a concurrent sweep or decision.
			s.log.Debug().
				Str("approval_id", stage.ID).
				Msg("escalation: stage no longer eligible")
			continue
		}

		count++
		s.log.Info().
			Str("approval_id", stage.ID).
			Str("expense_id", stage.ExpenseID).
			Str("escalated_to", target.ID).
			Float64("overdue_hours", overdueHours).
			Msg("Approval stage escalated")

		s.appendAudit(ctx, &repository.AuditEntry{
			ExpenseID:      stage.ExpenseID,
			StageID:        &stage.ID,
			OrganizationID: stage.OrganizationID,
			Action:         "escalated",
			PerformedBy:    systemActor,
			Metadata: map[string]any{
				"escalated_to":  target.ID,
				"stage_number":  stage.StageNumber,
				"overdue_hours": overdueHours,
			},
		})

		s.notifier.PublishExpenseEvent(
			EventApprovalEscalated, stage.ExpenseID, stage.OrganizationID, systemActor,
			[]string{target.ID},
			map[string]any{"stage_number": stage.StageNumber, "reason": reason})
	}

	return count, nil
}

func (s *EscalationService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("expense_id", entry.ExpenseID).
			Str("action", entry.Action).
			Msg("Failed to write audit entry")
	}
}
