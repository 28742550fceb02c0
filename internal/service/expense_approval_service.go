package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/leagueops/be-expense-approvals/internal/errors"
	"github.com/leagueops/be-expense-approvals/internal/repository"
)

// ApprovalStore handles the sequence-keyed approval records.
type ApprovalStore interface {
	GetPendingByExpenseID(ctx context.Context, expenseID string) (*repository.ExpenseApproval, error)
	Approve(ctx context.Context, approval *repository.ExpenseApproval, actedBy string, notes *string, now time.Time) (*repository.ExpenseApproval, bool, error)
	Reject(ctx context.Context, approval *repository.ExpenseApproval, actedBy, reason, expenseStatus string, now time.Time) (*repository.ExpenseApproval, error)
}

// PaymentQueue enqueues fully approved expenses for payment. Best-effort.
type PaymentQueue interface {
	Enqueue(ctx context.Context, expenseID string) error
}

// ExpenseApprovalService is the simpler approve/reject path over the
// sequence-keyed approval records, with role-based authorization instead of
// the staged workflow's approver snapshot.
type ExpenseApprovalService struct {
	expenses  ExpenseStore
	approvals ApprovalStore
	directory Directory
	payments  PaymentQueue
	audit     AuditStore
	notifier  Notifier
	log       zerolog.Logger
}

// NewExpenseApprovalService creates a new ExpenseApprovalService.
func NewExpenseApprovalService(
	expenses ExpenseStore,
	approvals ApprovalStore,
	directory Directory,
	payments PaymentQueue,
	audit AuditStore,
	notifier Notifier,
	log zerolog.Logger,
) *ExpenseApprovalService {
	return &ExpenseApprovalService{
		expenses:  expenses,
		approvals: approvals,
		directory: directory,
		payments:  payments,
		audit:     audit,
		notifier:  notifier,
		log:       log,
	}
}

// ApproveExpense approves the current pending approval sequence for an
// expense. When the last sequence approves, the expense is approved and
// queued for payment; enqueue failures are logged, never propagated.
func (s *ExpenseApprovalService) ApproveExpense(
	ctx context.Context,
	expenseID, actorID string,
	notes *string,
) (*repository.ExpenseApproval, error) {
	expense, approval, err := s.loadApprovable(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, approval, actorID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updated, complete, err := s.approvals.Approve(ctx, approval, actorID, notes, now)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Int("approval_sequence", approval.ApprovalSequence).
		Bool("fully_approved", complete).
		Msg("Expense approval recorded")

	before := expense.PaymentStatus
	after := expense.PaymentStatus
	if complete {
		after = repository.PaymentStatusApproved

		if err := s.payments.Enqueue(ctx, expenseID); err != nil {
			s.log.Warn().Err(err).
				Str("expense_id", expenseID).
				Msg("payment queue enqueue failed (non-fatal)")
		}

		s.notifier.PublishExpenseEvent(
			EventExpenseApproved, expenseID, expense.OrganizationID, actorID,
			[]string{expense.SubmittedBy},
			map[string]any{"amount_cents": expense.AmountCents})
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:           expenseID,
		OrganizationID:      expense.OrganizationID,
		Action:              "approved",
		PerformedBy:         actorID,
		ExpenseStatusBefore: &before,
		ExpenseStatusAfter:  &after,
		Metadata:            map[string]any{"approval_sequence": approval.ApprovalSequence},
	})

	return updated, nil
}

// RejectExpense rejects the current pending approval sequence, cancels the
// remaining sequences and rejects the expense.
func (s *ExpenseApprovalService) RejectExpense(
	ctx context.Context,
	expenseID, actorID, reason string,
	allowResubmission bool,
) (*repository.ExpenseApproval, error) {
	if reason == "" {
		return nil, errors.InvalidInput("reason", "rejection reason is required")
	}

	expense, approval, err := s.loadApprovable(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, approval, actorID); err != nil {
		return nil, err
	}

	status := repository.PaymentStatusRejected
	if allowResubmission {
		status = repository.PaymentStatusRejectedResubmittable
	}

	now := time.Now().UTC()
	updated, err := s.approvals.Reject(ctx, approval, actorID, reason, status, now)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Int("approval_sequence", approval.ApprovalSequence).
		Str("expense_status", status).
		Msg("Expense rejected")

	before := expense.PaymentStatus
	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:           expenseID,
		OrganizationID:      expense.OrganizationID,
		Action:              "rejected",
		PerformedBy:         actorID,
		ExpenseStatusBefore: &before,
		ExpenseStatusAfter:  &status,
		Metadata: map[string]any{
			"approval_sequence": approval.ApprovalSequence,
			"reason":            reason,
		},
	})

	s.notifier.PublishExpenseEvent(
		EventExpenseRejected, expenseID, expense.OrganizationID, actorID,
		[]string{expense.SubmittedBy},
		map[string]any{"reason": reason, "resubmittable": allowResubmission})

	return updated, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// loadApprovable fetches the expense and its pending approval, enforcing the
// business preconditions with stable error codes.
func (s *ExpenseApprovalService) loadApprovable(ctx context.Context, expenseID string) (*repository.Expense, *repository.ExpenseApproval, error) {
	expense, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}

	switch expense.PaymentStatus {
	case repository.PaymentStatusPending,
		repository.PaymentStatusSubmitted,
		repository.PaymentStatusPendingApproval:
		// approvable
	default:
		return nil, nil, errors.New(errors.ErrCodeInvalidExpenseStatus, "expense is not in an approvable status").
			WithContext("expense_id", expenseID).
			WithContext("payment_status", expense.PaymentStatus)
	}

	approval, err := s.approvals.GetPendingByExpenseID(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}
	if approval == nil {
		return nil, nil, errors.New(errors.ErrCodeNoPendingApproval, "expense has no pending approval").
			WithContext("expense_id", expenseID)
	}

	return expense, approval, nil
}

// authorize allows the designated approver, org-wide administrators, and
// assignment managers within the approval's organization.
func (s *ExpenseApprovalService) authorize(ctx context.Context, approval *repository.ExpenseApproval, actorID string) error {
	if approval.ApproverID != nil && *approval.ApproverID == actorID {
		return nil
	}

	actor, err := s.directory.GetByID(ctx, actorID)
	if err != nil {
		return err
	}

	switch actor.Role {
	case repository.RoleAdmin, repository.RoleSuperAdmin:
		return nil
	case repository.RoleAssignor, repository.RoleAssignmentManager:
		if actor.OrganizationID == approval.OrganizationID {
			return nil
		}
	}

	return errors.New(errors.ErrCodeUnauthorizedApprover, "user is not authorized to act on this approval").
		WithContext("expense_id", approval.ExpenseID).
		WithContext("user_id", actorID)
}

func (s *ExpenseApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("expense_id", entry.ExpenseID).
			Str("action", entry.Action).
			Msg("Failed to write audit entry")
	}
}
