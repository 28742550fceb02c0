package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/errors"
)

// ExpenseRepository handles reads and status mutations on expenses.
// Expense creation belongs to the upstream receipt-processing pipeline.
type ExpenseRepository struct {
	db *database.DB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db *database.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `
	id, organization_id, submitted_by, description,
	amount_cents, payment_method_id, payment_status,
	approved_by, approved_at, rejected_at, rejection_reason,
	created_at, updated_at
`

// GetByID retrieves an expense by primary key.
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1`

	exp, err := r.scanExpense(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("expense", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get expense")
	}
	return exp, nil
}

// GetPaymentMethod retrieves the payment method referenced by an expense.
func (r *ExpenseRepository) GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error) {
	query := `
		SELECT id, organization_id, method_type, requires_approval, created_at, updated_at
		FROM payment_methods
		WHERE id = $1
	`

	pm := &PaymentMethod{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&pm.ID,
		&pm.OrganizationID,
		&pm.MethodType,
		&pm.RequiresApproval,
		&pm.CreatedAt,
		&pm.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("payment_method", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get payment method")
	}
	return pm, nil
}

// UpdateStatus sets the payment status on an expense.
func (r *ExpenseRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE expenses
		SET payment_status = $2,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("expense", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabase, "failed to update expense status")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type expenseScanner interface {
	Scan(dest ...any) error
}

func (r *ExpenseRepository) scanExpense(row expenseScanner) (*Expense, error) {
	exp := &Expense{}
	err := row.Scan(
		&exp.ID,
		&exp.OrganizationID,
		&exp.SubmittedBy,
		&exp.Description,
		&exp.AmountCents,
		&exp.PaymentMethodID,
		&exp.PaymentStatus,
		&exp.ApprovedBy,
		&exp.ApprovedAt,
		&exp.RejectedAt,
		&exp.RejectionReason,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// approveExpenseTx marks an expense approved inside an existing transaction.
func approveExpenseTx(ctx context.Context, tx pgx.Tx, expenseID string, approvedBy *string, at time.Time) error {
	query := `
		UPDATE expenses
		SET payment_status = $2,
		    approved_by    = $3,
		    approved_at    = $4,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, expenseID, PaymentStatusApproved, approvedBy, at).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("expense", expenseID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabase, "failed to approve expense")
	}
	return nil
}

// rejectExpenseTx marks an expense rejected inside an existing transaction.
func rejectExpenseTx(ctx context.Context, tx pgx.Tx, expenseID, status, reason string, at time.Time) error {
	query := `
		UPDATE expenses
		SET payment_status   = $2,
		    rejected_at      = $3,
		    rejection_reason = $4,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, expenseID, status, at, reason).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("expense", expenseID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabase, "failed to reject expense")
	}
	return nil
}
