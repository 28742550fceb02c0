package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/errors"
)

// ExpenseApprovalRepository handles the sequence-keyed approval records used
// by the simpler approve/reject path. Same pending-status discipline as the
// staged workflow, but a designated single approver per record.
type ExpenseApprovalRepository struct {
	db *database.DB
}

// NewExpenseApprovalRepository creates a new ExpenseApprovalRepository.
func NewExpenseApprovalRepository(db *database.DB) *ExpenseApprovalRepository {
	return &ExpenseApprovalRepository{db: db}
}

const approvalColumns = `
	id, expense_id, organization_id,
	approval_sequence, total_sequences, approver_id, status,
	approved_at, rejected_at, notes, rejection_reason,
	created_at, updated_at
`

// GetPendingByExpenseID returns the lowest-sequence pending approval for an
// expense, or nil when none is pending.
func (r *ExpenseApprovalRepository) GetPendingByExpenseID(ctx context.Context, expenseID string) (*ExpenseApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE expense_id = $1
		  AND status = 'pending'
		ORDER BY approval_sequence ASC
		LIMIT 1
	`

	a, err := r.scanApproval(r.db.QueryRow(ctx, query, expenseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get pending approval")
	}
	return a, nil
}

// Approve marks a pending approval approved and, when it was the last
// sequence, approves the expense, in one transaction. Returns the updated
// approval and whether the expense is now fully approved.
func (r *ExpenseApprovalRepository) Approve(
	ctx context.Context,
	approval *ExpenseApproval,
	actedBy string,
	notes *string,
	now time.Time,
) (updated *ExpenseApproval, complete bool, err error) {
	err = r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		approveQuery := `
			UPDATE expense_approvals
			SET status      = 'approved',
			    approver_id = COALESCE(approver_id, $2),
			    approved_at = $3,
			    notes       = $4,
			    updated_at  = NOW()
			WHERE id = $1
			  AND status = 'pending'
			RETURNING ` + approvalColumns + `
		`

		updated, err = r.scanApproval(tx.QueryRow(ctx, approveQuery,
			approval.ID, actedBy, now, notes))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.New(errors.ErrCodeAlreadyProcessed, "approval already processed").
				WithContext("approval_id", approval.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to approve expense approval")
		}

		var remaining int
		countQuery := `
			SELECT COUNT(*)
			FROM expense_approvals
			WHERE expense_id = $1
			  AND status = 'pending'
		`
		if err := tx.QueryRow(ctx, countQuery, approval.ExpenseID).Scan(&remaining); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to count remaining approvals")
		}

		if remaining == 0 {
			complete = true
			return approveExpenseTx(ctx, tx, approval.ExpenseID, &actedBy, now)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, complete, nil
}

// Reject marks a pending approval rejected, cancels every later sequence and
// rejects the expense, all in one transaction.
func (r *ExpenseApprovalRepository) Reject(
	ctx context.Context,
	approval *ExpenseApproval,
	actedBy, reason string,
	expenseStatus string,
	now time.Time,
) (updated *ExpenseApproval, err error) {
	err = r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		rejectQuery := `
			UPDATE expense_approvals
			SET status           = 'rejected',
			    approver_id      = COALESCE(approver_id, $2),
			    rejected_at      = $3,
			    rejection_reason = $4,
			    updated_at       = NOW()
			WHERE id = $1
			  AND status = 'pending'
			RETURNING ` + approvalColumns + `
		`

		updated, err = r.scanApproval(tx.QueryRow(ctx, rejectQuery,
			approval.ID, actedBy, now, reason))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.New(errors.ErrCodeAlreadyProcessed, "approval already processed").
				WithContext("approval_id", approval.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to reject expense approval")
		}

		cancelQuery := `
			UPDATE expense_approvals
			SET status     = 'cancelled',
			    updated_at = NOW()
			WHERE expense_id = $1
			  AND approval_sequence > $2
			  AND status = 'pending'
		`
		if _, err := tx.Exec(ctx, cancelQuery, approval.ExpenseID, approval.ApprovalSequence); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to cancel remaining approvals")
		}

		return rejectExpenseTx(ctx, tx, approval.ExpenseID, expenseStatus, reason, now)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ExpenseApprovalRepository) scanApproval(sc approvalScanner) (*ExpenseApproval, error) {
	a := &ExpenseApproval{}
	err := sc.Scan(
		&a.ID,
		&a.ExpenseID,
		&a.OrganizationID,
		&a.ApprovalSequence,
		&a.TotalSequences,
		&a.ApproverID,
		&a.Status,
		&a.ApprovedAt,
		&a.RejectedAt,
		&a.Notes,
		&a.RejectionReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
