package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/leagueops/be-expense-approvals/internal/errors"
	"github.com/leagueops/be-expense-approvals/internal/repository"
)

// ExpenseStore reads expenses and their payment methods.
type ExpenseStore interface {
	GetByID(ctx context.Context, id string) (*repository.Expense, error)
	GetPaymentMethod(ctx context.Context, id string) (*repository.PaymentMethod, error)
}

// WorkflowStore owns the transactional workflow mutations.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, expense *repository.Expense, cfg *repository.WorkflowConfig, now time.Time) ([]*repository.ApprovalStage, error)
	CreateAutoApproved(ctx context.Context, expense *repository.Expense, reason string, now time.Time) (*repository.ApprovalStage, error)
	ApproveStage(ctx context.Context, stage *repository.ApprovalStage, approverID string, notes *string, approvedAmountCents int64, now time.Time) (updated, next *repository.ApprovalStage, err error)
	RejectStage(ctx context.Context, stage *repository.ApprovalStage, approverID, reason, expenseStatus string, now time.Time) (*repository.ApprovalStage, error)
}

// StageStore reads and mutates individual approval stages.
type StageStore interface {
	GetByID(ctx context.Context, id string) (*repository.ApprovalStage, error)
	GetByExpenseID(ctx context.Context, expenseID string) ([]*repository.ApprovalStage, error)
	GetPendingForUser(ctx context.Context, userID string, filter repository.PendingFilter) ([]*repository.ApprovalStage, error)
	Delegate(ctx context.Context, stageID string, delegate repository.Approver, delegatedBy, reason string) (*repository.ApprovalStage, error)
}

// AuditStore appends and reads the approval audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByExpenseID(ctx context.Context, expenseID string) ([]*repository.AuditEntry, error)
}

// Notifier dispatches workflow notifications. Fire-and-forget: failures are
// the notifier's problem, never the workflow's.
type Notifier interface {
	PublishExpenseEvent(eventType, expenseID, organizationID, actorID string, recipients []string, payload map[string]any)
}

// Notification event types passed to the Notifier.
const (
	EventApprovalRequired  = "approval_required"
	EventExpenseApproved   = "expense_approved"
	EventExpenseRejected   = "expense_rejected"
	EventApprovalDelegated = "approval_delegated"
	EventApprovalEscalated = "approval_escalated"
)

// Decision actions accepted by ProcessApprovalDecision.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Decision carries an approver's verdict on a pending stage.
type Decision struct {
	Action              string
	Notes               *string
	ApprovedAmountCents *int64 // defaults to the expense's claimed amount
	RejectionReason     string
	AllowResubmission   bool
}

// systemActor is recorded as the performer of automatic decisions.
const systemActor = "system"

// WorkflowService instantiates approval workflows and processes decisions on
// them. All collaborators are injected; the service holds no mutable state.
type WorkflowService struct {
	expenses  ExpenseStore
	workflows WorkflowStore
	stages    StageStore
	audit     AuditStore
	directory Directory
	notifier  Notifier
	log       zerolog.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	expenses ExpenseStore,
	workflows WorkflowStore,
	stages StageStore,
	audit AuditStore,
	directory Directory,
	notifier Notifier,
	log zerolog.Logger,
) *WorkflowService {
	return &WorkflowService{
		expenses:  expenses,
		workflows: workflows,
		stages:    stages,
		audit:     audit,
		directory: directory,
		notifier:  notifier,
		log:       log,
	}
}

// ── Workflow instantiation ────────────────────────────────────────────────────

// CreateApprovalWorkflow persists a workflow configuration for an expense in
// one transaction. Auto-approved configurations short-circuit: a single
// system-approved record is written, the expense is approved immediately and
// no pending-work notification is sent.
func (s *WorkflowService) CreateApprovalWorkflow(
	ctx context.Context,
	expenseID string,
	cfg *repository.WorkflowConfig,
	actedBy string,
) ([]*repository.ApprovalStage, error) {
	expense, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if cfg.AutoApproved {
		stage, err := s.workflows.CreateAutoApproved(ctx, expense, cfg.AutoApprovalReason, now)
		if err != nil {
			return nil, err
		}

		s.log.Info().
			Str("expense_id", expense.ID).
			Str("reason", cfg.AutoApprovalReason).
			Msg("Expense auto-approved")

		before := expense.PaymentStatus
		after := repository.PaymentStatusApproved
		s.appendAudit(ctx, &repository.AuditEntry{
			ExpenseID:           expense.ID,
			StageID:             &stage.ID,
			OrganizationID:      expense.OrganizationID,
			Action:              "auto_approved",
			PerformedBy:         systemActor,
			ExpenseStatusBefore: &before,
			ExpenseStatusAfter:  &after,
			Metadata:            map[string]any{"reason": cfg.AutoApprovalReason},
		})

		return []*repository.ApprovalStage{stage}, nil
	}

	if len(cfg.Stages) == 0 {
		return nil, errors.InvalidInput("stages", "workflow configuration has no stages").
			WithContext("expense_id", expenseID)
	}

	stages, err := s.workflows.CreateWorkflow(ctx, expense, cfg, now)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", expense.ID).
		Int("total_stages", len(stages)).
		Str("risk_level", cfg.RiskLevel).
		Msg("Approval workflow created")

	before := expense.PaymentStatus
	after := repository.PaymentStatusPendingApproval
	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:           expense.ID,
		OrganizationID:      expense.OrganizationID,
		Action:              "created",
		PerformedBy:         actedBy,
		ExpenseStatusBefore: &before,
		ExpenseStatusAfter:  &after,
		Metadata:            map[string]any{"total_stages": len(stages)},
	})

	first := stages[0]
	s.notifier.PublishExpenseEvent(
		EventApprovalRequired, expense.ID, expense.OrganizationID, actedBy,
		approverIDs(first.RequiredApprovers),
		map[string]any{
			"stage_number": first.StageNumber,
			"stage_name":   first.StageName,
			"amount_cents": expense.AmountCents,
		})

	return stages, nil
}

// ── Decision processing ───────────────────────────────────────────────────────

// ProcessApprovalDecision applies an approve/reject decision to a pending
// stage. Preconditions are checked in order, each a distinct failure:
// record exists, record is exactly pending (repeat decisions are rejected,
// not silently accepted), acting user is in the snapshotted approver list.
func (s *WorkflowService) ProcessApprovalDecision(
	ctx context.Context,
	approvalID string,
	decision Decision,
	approverID string,
) (*repository.ApprovalStage, error) {
	stage, err := s.stages.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if stage.Status != repository.StageStatusPending {
		return nil, errors.New(errors.ErrCodeAlreadyProcessed, "approval stage is not pending").
			WithContext("approval_id", approvalID).
			WithContext("status", stage.Status)
	}
	if !stage.HasApprover(approverID) {
		return nil, errors.New(errors.ErrCodeUnauthorizedApprover, "user is not a required approver for this stage").
			WithContext("approval_id", approvalID).
			WithContext("user_id", approverID)
	}

	switch decision.Action {
	case DecisionApproved:
		return s.approve(ctx, stage, decision, approverID)
	case DecisionRejected:
		return s.reject(ctx, stage, decision, approverID)
	}
	return nil, errors.InvalidInput("action", "decision action must be approved or rejected")
}

func (s *WorkflowService) approve(
	ctx context.Context,
	stage *repository.ApprovalStage,
	decision Decision,
	approverID string,
) (*repository.ApprovalStage, error) {
	expense, err := s.expenses.GetByID(ctx, stage.ExpenseID)
	if err != nil {
		return nil, err
	}

	// The stage's approval limit is not enforced against the approved amount;
	// the limit is informational at decision time.
	approvedAmount := expense.AmountCents
	if decision.ApprovedAmountCents != nil {
		approvedAmount = *decision.ApprovedAmountCents
	}

	now := time.Now().UTC()
	updated, next, err := s.workflows.ApproveStage(ctx, stage, approverID, decision.Notes, approvedAmount, now)
	if err != nil {
		return nil, err
	}

	complete := next == nil
	s.log.Info().
		Str("expense_id", stage.ExpenseID).
		Int("stage_number", stage.StageNumber).
		Bool("workflow_complete", complete).
		Msg("Approval stage approved")

	before := expense.PaymentStatus
	after := expense.PaymentStatus
	if complete {
		after = repository.PaymentStatusApproved
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:           stage.ExpenseID,
		StageID:             &stage.ID,
		OrganizationID:      stage.OrganizationID,
		Action:              "approved",
		PerformedBy:         approverID,
		ExpenseStatusBefore: &before,
		ExpenseStatusAfter:  &after,
		Metadata: map[string]any{
			"stage_number":          stage.StageNumber,
			"approved_amount_cents": approvedAmount,
		},
	})

	if complete {
		s.notifier.PublishExpenseEvent(
			EventExpenseApproved, expense.ID, expense.OrganizationID, approverID,
			[]string{expense.SubmittedBy},
			map[string]any{"amount_cents": expense.AmountCents})
	} else {
		s.notifier.PublishExpenseEvent(
			EventApprovalRequired, expense.ID, expense.OrganizationID, approverID,
			approverIDs(next.RequiredApprovers),
			map[string]any{
				"stage_number": next.StageNumber,
				"stage_name":   next.StageName,
				"amount_cents": expense.AmountCents,
			})
	}

	return updated, nil
}

func (s *WorkflowService) reject(
	ctx context.Context,
	stage *repository.ApprovalStage,
	decision Decision,
	approverID string,
) (*repository.ApprovalStage, error) {
	if decision.RejectionReason == "" {
		return nil, errors.InvalidInput("rejection_reason", "rejection reason is required")
	}

	expense, err := s.expenses.GetByID(ctx, stage.ExpenseID)
	if err != nil {
		return nil, err
	}

	status := repository.PaymentStatusRejected
	if decision.AllowResubmission {
		status = repository.PaymentStatusRejectedResubmittable
	}

	now := time.Now().UTC()
	updated, err := s.workflows.RejectStage(ctx, stage, approverID, decision.RejectionReason, status, now)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", stage.ExpenseID).
		Int("stage_number", stage.StageNumber).
		Str("expense_status", status).
		Msg("Approval stage rejected; remaining stages cancelled")

	before := expense.PaymentStatus
	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:           stage.ExpenseID,
		StageID:             &stage.ID,
		OrganizationID:      stage.OrganizationID,
		Action:              "rejected",
		PerformedBy:         approverID,
		ExpenseStatusBefore: &before,
		ExpenseStatusAfter:  &status,
		Metadata: map[string]any{
			"stage_number": stage.StageNumber,
			"reason":       decision.RejectionReason,
		},
	})

	s.notifier.PublishExpenseEvent(
		EventExpenseRejected, expense.ID, expense.OrganizationID, approverID,
		[]string{expense.SubmittedBy},
		map[string]any{"reason": decision.RejectionReason, "resubmittable": decision.AllowResubmission})

	return updated, nil
}

// ── Delegation ────────────────────────────────────────────────────────────────

// DelegateApproval hands a pending stage to another user. The delegate is
// appended to the approver snapshot (at most once) and the stage stays
// pending so the delegate acts through the normal decision path. Only the
// delegate is notified.
func (s *WorkflowService) DelegateApproval(
	ctx context.Context,
	approvalID, delegateToID, delegatedByID, reason string,
) (*repository.ApprovalStage, error) {
	if reason == "" {
		return nil, errors.InvalidInput("reason", "delegation reason is required")
	}

	stage, err := s.stages.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if stage.Status != repository.StageStatusPending {
		return nil, errors.New(errors.ErrCodeAlreadyProcessed, "approval stage is not pending").
			WithContext("approval_id", approvalID).
			WithContext("status", stage.Status)
	}
	if !stage.DelegationAllowed {
		return nil, errors.New(errors.ErrCodeDelegationFailed, "delegation is not allowed at this stage").
			WithContext("approval_id", approvalID)
	}
	if !stage.HasApprover(delegatedByID) {
		return nil, errors.New(errors.ErrCodeUnauthorizedApprover, "user is not a required approver for this stage").
			WithContext("approval_id", approvalID).
			WithContext("user_id", delegatedByID)
	}

	delegate, err := s.directory.GetByID(ctx, delegateToID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDelegationFailed, "delegate user lookup failed")
	}

	updated, err := s.stages.Delegate(ctx, stage.ID, delegate.Snapshot(), delegatedByID, reason)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", stage.ExpenseID).
		Int("stage_number", stage.StageNumber).
		Str("delegated_to", delegateToID).
		Msg("Approval stage delegated")

	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:      stage.ExpenseID,
		StageID:        &stage.ID,
		OrganizationID: stage.OrganizationID,
		Action:         "delegated",
		PerformedBy:    delegatedByID,
		Metadata: map[string]any{
			"delegated_to": delegateToID,
			"reason":       reason,
			"stage_number": stage.StageNumber,
		},
	})

	s.notifier.PublishExpenseEvent(
		EventApprovalDelegated, stage.ExpenseID, stage.OrganizationID, delegatedByID,
		[]string{delegateToID},
		map[string]any{"stage_number": stage.StageNumber, "reason": reason})

	return updated, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetPendingApprovalsForUser returns the active stages awaiting the user.
func (s *WorkflowService) GetPendingApprovalsForUser(
	ctx context.Context,
	userID string,
	filter repository.PendingFilter,
) ([]*repository.ApprovalStage, error) {
	return s.stages.GetPendingForUser(ctx, userID, filter)
}

// GetApprovalHistory returns the full audit trail for an expense.
func (s *WorkflowService) GetApprovalHistory(ctx context.Context, expenseID string) ([]*repository.AuditEntry, error) {
	return s.audit.GetByExpenseID(ctx, expenseID)
}

// GetWorkflowStages returns all stages for an expense in order.
func (s *WorkflowService) GetWorkflowStages(ctx context.Context, expenseID string) ([]*repository.ApprovalStage, error) {
	return s.stages.GetByExpenseID(ctx, expenseID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// appendAudit writes an audit entry and logs a warning on failure; audit
// problems never fail the parent operation.
func (s *WorkflowService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("expense_id", entry.ExpenseID).
			Str("action", entry.Action).
			Msg("Failed to write audit entry")
	}
}

func approverIDs(approvers []repository.Approver) []string {
	ids := make([]string, 0, len(approvers))
	for _, a := range approvers {
		ids = append(ids, a.ID)
	}
	return ids
}
