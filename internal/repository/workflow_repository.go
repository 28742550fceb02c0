package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/errors"
)

// WorkflowRepository owns the multi-row transactional operations of the
// workflow lifecycle: instantiation, decision processing and the reject
// cascade. Every method here is all-or-nothing.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const stageInsertQuery = `
	INSERT INTO expense_approval_stages
	    (expense_id, organization_id,
	     stage_number, total_stages, stage_name, is_parallel,
	     required_approvers, min_approvals_required, all_must_approve,
	     status, stage_started_at, stage_deadline,
	     deadline_hours, escalation_hours, escalation_target,
	     conditions, approval_limit_cents, can_modify_amount, delegation_allowed,
	     approver_id, approved_at, notes, risk_level)
	VALUES ($1, $2,
	        $3, $4, $5, $6,
	        $7, $8, $9,
	        $10, $11, $12,
	        $13, $14, $15,
	        $16, $17, $18, $19,
	        $20, $21, $22, $23)
	RETURNING ` + stageColumns + `
`

// stageActivation computes the initial status and timing for a stage at
// instantiation. Stage 1 starts pending with a live deadline from its
// deadline-hours; every later stage is inert until its predecessor approves.
func stageActivation(def StageDefinition, now time.Time) (status string, startedAt, deadline *time.Time) {
	if def.StageNumber != 1 {
		return StageStatusNotStarted, nil, nil
	}
	d := now.Add(time.Duration(def.DeadlineHours) * time.Hour)
	return StageStatusPending, &now, &d
}

// CreateWorkflow persists a stage list for an expense in one transaction.
// Stage 1 is activated (pending, started, deadline from its deadline-hours);
// later stages are inserted not_started with null start and deadline.
func (r *WorkflowRepository) CreateWorkflow(
	ctx context.Context,
	expense *Expense,
	cfg *WorkflowConfig,
	now time.Time,
) ([]*ApprovalStage, error) {
	var created []*ApprovalStage

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		for _, def := range cfg.Stages {
			approversJSON, err := json.Marshal(def.Approvers)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabase, "failed to marshal required approvers")
			}
			conditionsJSON, err := json.Marshal(def.Conditions)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabase, "failed to marshal stage conditions")
			}

			status, startedAt, deadline := stageActivation(def, now)

			stage, err := scanStage(tx.QueryRow(ctx, stageInsertQuery,
				expense.ID,
				expense.OrganizationID,
				def.StageNumber,
				len(cfg.Stages),
				def.Name,
				false,
				approversJSON,
				def.MinApprovalsRequired,
				def.AllMustApprove,
				status,
				startedAt,
				deadline,
				def.DeadlineHours,
				def.EscalationHours,
				def.EscalationTarget,
				conditionsJSON,
				def.ApprovalLimitCents,
				def.CanModifyAmount,
				def.DelegationAllowed,
				nil,
				nil,
				nil,
				cfg.RiskLevel,
			))
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabase, "failed to create approval stage")
			}
			created = append(created, stage)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateAutoApproved inserts a single system-approved record and marks the
// expense approved, in one transaction. No approver is recorded.
func (r *WorkflowRepository) CreateAutoApproved(
	ctx context.Context,
	expense *Expense,
	reason string,
	now time.Time,
) (*ApprovalStage, error) {
	var created *ApprovalStage

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		approversJSON, _ := json.Marshal([]Approver{})
		conditionsJSON, _ := json.Marshal(StageConditions{})

		stage, err := scanStage(tx.QueryRow(ctx, stageInsertQuery,
			expense.ID,
			expense.OrganizationID,
			1,
			1,
			"Auto-Approval",
			false,
			approversJSON,
			0,
			false,
			StageStatusApproved,
			&now,
			nil,
			0,
			0,
			"",
			conditionsJSON,
			nil,
			false,
			false,
			nil,
			&now,
			&reason,
			RiskLevelLow,
		))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to create auto-approval record")
		}
		created = stage

		return approveExpenseTx(ctx, tx, expense.ID, nil, now)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ApproveStage records an approval on a pending stage and drives progression:
// the next stage is activated, or the expense is approved when this was the
// last stage. The pending-status guard on the update is the concurrency
// control; zero rows affected means another decision won.
//
// An activated stage's deadline is derived from its escalation_hours, not
// its deadline_hours.
func (r *WorkflowRepository) ApproveStage(
	ctx context.Context,
	stage *ApprovalStage,
	approverID string,
	notes *string,
	approvedAmountCents int64,
	now time.Time,
) (updated, next *ApprovalStage, err error) {
	err = r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		approveQuery := `
			UPDATE expense_approval_stages
			SET status                = 'approved',
			    approver_id           = $2,
			    approved_at           = $3,
			    approved_amount_cents = $4,
			    notes                 = $5,
			    updated_at            = NOW()
			WHERE id = $1
			  AND status = 'pending'
			RETURNING ` + stageColumns + `
		`

		updated, err = scanStage(tx.QueryRow(ctx, approveQuery,
			stage.ID, approverID, now, approvedAmountCents, notes))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.New(errors.ErrCodeAlreadyProcessed, "approval stage already processed").
				WithContext("approval_id", stage.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to approve stage")
		}

		if stage.StageNumber < stage.TotalStages {
			activateQuery := `
				UPDATE expense_approval_stages
				SET status           = 'pending',
				    stage_started_at = $3,
				    stage_deadline   = $3 + make_interval(hours => escalation_hours),
				    updated_at       = NOW()
				WHERE expense_id = $1
				  AND stage_number = $2
				  AND status = 'not_started'
				RETURNING ` + stageColumns + `
			`

			next, err = scanStage(tx.QueryRow(ctx, activateQuery,
				stage.ExpenseID, stage.StageNumber+1, now))
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.New(errors.ErrCodeDatabase, "next stage missing or already active").
					WithContext("expense_id", stage.ExpenseID).
					WithContext("stage_number", stage.StageNumber+1)
			}
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabase, "failed to activate next stage")
			}
			return nil
		}

		return approveExpenseTx(ctx, tx, stage.ExpenseID, &approverID, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, next, nil
}

// RejectStage records a rejection on a pending stage, cancels every later
// stage and marks the expense rejected, in one transaction.
func (r *WorkflowRepository) RejectStage(
	ctx context.Context,
	stage *ApprovalStage,
	approverID, reason string,
	expenseStatus string,
	now time.Time,
) (updated *ApprovalStage, err error) {
	err = r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		rejectQuery := `
			UPDATE expense_approval_stages
			SET status           = 'rejected',
			    approver_id      = $2,
			    rejected_at      = $3,
			    rejection_reason = $4,
			    updated_at       = NOW()
			WHERE id = $1
			  AND status = 'pending'
			RETURNING ` + stageColumns + `
		`

		updated, err = scanStage(tx.QueryRow(ctx, rejectQuery,
			stage.ID, approverID, now, reason))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.New(errors.ErrCodeAlreadyProcessed, "approval stage already processed").
				WithContext("approval_id", stage.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to reject stage")
		}

		cancelQuery := `
			UPDATE expense_approval_stages
			SET status     = 'cancelled',
			    updated_at = NOW()
			WHERE expense_id = $1
			  AND stage_number > $2
			  AND status IN ('not_started', 'pending')
		`

		if _, err := tx.Exec(ctx, cancelQuery, stage.ExpenseID, stage.StageNumber); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to cancel remaining stages")
		}

		return rejectExpenseTx(ctx, tx, stage.ExpenseID, expenseStatus, reason, now)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
