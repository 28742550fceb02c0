package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/errors"
)

// ApprovalStageRepository handles reads and single-stage mutations on
// persisted approval stages. Multi-row transactional operations (workflow
// creation, decision processing) live in WorkflowRepository.
type ApprovalStageRepository struct {
	db *database.DB
}

// NewApprovalStageRepository creates a new ApprovalStageRepository.
func NewApprovalStageRepository(db *database.DB) *ApprovalStageRepository {
	return &ApprovalStageRepository{db: db}
}

// PendingFilter narrows GetPendingForUser results.
type PendingFilter struct {
	OrganizationID string
	OverdueOnly    bool
	Limit          int
}

const stageColumns = `
	id, expense_id, organization_id,
	stage_number, total_stages, stage_name, is_parallel,
	required_approvers, min_approvals_required, all_must_approve,
	status, stage_started_at, stage_deadline,
	deadline_hours, escalation_hours, escalation_target,
	conditions, approval_limit_cents, can_modify_amount, delegation_allowed,
	approver_id, approved_at, approved_amount_cents,
	rejected_at, notes, rejection_reason,
	delegated_to, delegated_by, delegated_at, delegation_reason,
	escalated_to, escalated_at, escalation_reason,
	risk_level, created_at, updated_at
`

// GetByID retrieves a stage by primary key.
func (r *ApprovalStageRepository) GetByID(ctx context.Context, id string) (*ApprovalStage, error) {
	query := `SELECT ` + stageColumns + ` FROM expense_approval_stages WHERE id = $1`

	stage, err := scanStage(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.ErrCodeApprovalNotFound, "approval record not found").
			WithContext("approval_id", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get approval stage")
	}
	return stage, nil
}

// GetByExpenseID returns all stages for an expense ordered by stage_number.
func (r *ApprovalStageRepository) GetByExpenseID(ctx context.Context, expenseID string) ([]*ApprovalStage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM expense_approval_stages
		WHERE expense_id = $1
		ORDER BY stage_number ASC
	`

	rows, err := r.db.Query(ctx, query, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get approval stages")
	}
	defer rows.Close()

	return scanStageRows(rows)
}

// GetPendingForUser returns active pending stages where the user appears in
// the required-approver snapshot or is the delegate, oldest deadline first.
func (r *ApprovalStageRepository) GetPendingForUser(ctx context.Context, userID string, filter PendingFilter) ([]*ApprovalStage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM expense_approval_stages
		WHERE status = 'pending'
		  AND stage_started_at IS NOT NULL
		  AND (required_approvers @> jsonb_build_array(jsonb_build_object('id', $1::text))
		       OR delegated_to = $1)
	`
	args := []any{userID}

	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		query += ` AND organization_id = $2`
	}
	if filter.OverdueOnly {
		query += ` AND stage_deadline < NOW()`
	}
	query += ` ORDER BY stage_deadline ASC NULLS LAST, created_at ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get pending approvals")
	}
	defer rows.Close()

	return scanStageRows(rows)
}

// ListOverdue returns pending stages whose deadline has passed and which have
// not yet been escalated.
func (r *ApprovalStageRepository) ListOverdue(ctx context.Context, now time.Time) ([]*ApprovalStage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM expense_approval_stages
		WHERE status = 'pending'
		  AND stage_deadline IS NOT NULL
		  AND stage_deadline < $1
		  AND escalated_at IS NULL
		ORDER BY stage_deadline ASC
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to list overdue stages")
	}
	defer rows.Close()

	return scanStageRows(rows)
}

// Delegate records delegation metadata and appends the delegate to the
// required-approver snapshot (idempotent), leaving the stage pending so the
// delegate can act through the normal decision path. The row is locked for
// the duration of the transaction.
func (r *ApprovalStageRepository) Delegate(
	ctx context.Context,
	stageID string,
	delegate Approver,
	delegatedBy, reason string,
) (*ApprovalStage, error) {
	var updated *ApprovalStage

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		lockQuery := `SELECT ` + stageColumns + ` FROM expense_approval_stages WHERE id = $1 FOR UPDATE`
		stage, err := scanStage(tx.QueryRow(ctx, lockQuery, stageID))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.New(errors.ErrCodeApprovalNotFound, "approval record not found").
				WithContext("approval_id", stageID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to lock approval stage")
		}

		if stage.Status != StageStatusPending {
			return errors.New(errors.ErrCodeAlreadyProcessed, "approval stage is not pending").
				WithContext("status", stage.Status)
		}

		approversJSON, err := json.Marshal(stage.DelegateSnapshot(delegate))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDelegationFailed, "failed to marshal approvers")
		}

		updateQuery := `
			UPDATE expense_approval_stages
			SET required_approvers = $2,
			    delegated_to       = $3,
			    delegated_by       = $4,
			    delegated_at       = NOW(),
			    delegation_reason  = $5,
			    status             = 'pending',
			    updated_at         = NOW()
			WHERE id = $1
			RETURNING ` + stageColumns + `
		`

		updated, err = scanStage(tx.QueryRow(ctx, updateQuery,
			stageID, approversJSON, delegate.ID, delegatedBy, reason))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDelegationFailed, "failed to delegate approval stage")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Escalate reassigns an overdue pending stage to the escalation target.
// A single conditional update is the commit point: the escalated_at IS NULL
// guard makes concurrent sweeps escalate a stage at most once. Returns false
// when another sweep (or a decision) got there first.
func (r *ApprovalStageRepository) Escalate(ctx context.Context, stageID, escalatedTo, reason string) (bool, error) {
	query := `
		UPDATE expense_approval_stages
		SET status            = 'escalated',
		    escalated_to      = $2,
		    escalated_at      = NOW(),
		    escalation_reason = $3,
		    updated_at        = NOW()
		WHERE id = $1
		  AND status = 'pending'
		  AND escalated_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, stageID, escalatedTo, reason)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeEscalationFailed, "failed to escalate approval stage")
	}
	return tag.RowsAffected() > 0, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type stageScanner interface {
	Scan(dest ...any) error
}

func scanStage(sc stageScanner) (*ApprovalStage, error) {
	s := &ApprovalStage{}
	var approversJSON, conditionsJSON []byte

	err := sc.Scan(
		&s.ID,
		&s.ExpenseID,
		&s.OrganizationID,
		&s.StageNumber,
		&s.TotalStages,
		&s.StageName,
		&s.IsParallel,
		&approversJSON,
		&s.MinApprovalsRequired,
		&s.AllMustApprove,
		&s.Status,
		&s.StageStartedAt,
		&s.StageDeadline,
		&s.DeadlineHours,
		&s.EscalationHours,
		&s.EscalationTarget,
		&conditionsJSON,
		&s.ApprovalLimitCents,
		&s.CanModifyAmount,
		&s.DelegationAllowed,
		&s.ApproverID,
		&s.ApprovedAt,
		&s.ApprovedAmountCents,
		&s.RejectedAt,
		&s.Notes,
		&s.RejectionReason,
		&s.DelegatedTo,
		&s.DelegatedBy,
		&s.DelegatedAt,
		&s.DelegationReason,
		&s.EscalatedTo,
		&s.EscalatedAt,
		&s.EscalationReason,
		&s.RiskLevel,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(approversJSON) > 0 {
		if err := json.Unmarshal(approversJSON, &s.RequiredApprovers); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to unmarshal required approvers")
		}
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &s.Conditions); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to unmarshal stage conditions")
		}
	}
	return s, nil
}

func scanStageRows(rows pgx.Rows) ([]*ApprovalStage, error) {
	var stages []*ApprovalStage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to scan approval stage")
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to read approval stages")
	}
	return stages, nil
}
