package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/errors"
)

// undefinedTable is the SQLSTATE raised when the payment_queue table does not
// exist. Deployments without a payment pipeline simply don't create it.
const undefinedTable = "42P01"

// PaymentQueueRepository enqueues fully approved expenses for downstream
// payment processing. The table is optional; its absence is tolerated.
type PaymentQueueRepository struct {
	db *database.DB
}

// NewPaymentQueueRepository creates a new PaymentQueueRepository.
func NewPaymentQueueRepository(db *database.DB) *PaymentQueueRepository {
	return &PaymentQueueRepository{db: db}
}

// Enqueue inserts an expense into the payment queue. A missing table is
// treated as the feature being disabled and returns nil.
func (r *PaymentQueueRepository) Enqueue(ctx context.Context, expenseID string) error {
	query := `
		INSERT INTO payment_queue (expense_id, status)
		VALUES ($1, 'queued')
		ON CONFLICT (expense_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, expenseID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeDatabase, "failed to enqueue payment")
	}
	return nil
}
