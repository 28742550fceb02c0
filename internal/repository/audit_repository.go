package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/errors"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. Append is the only mutation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabase, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO expense_approval_audit
		    (expense_id, stage_id, organization_id,
		     action, performed_by,
		     expense_status_before, expense_status_after,
		     metadata)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7,
		        $8)
		RETURNING id, performed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.ExpenseID,
		entry.StageID,
		entry.OrganizationID,
		entry.Action,
		entry.PerformedBy,
		entry.ExpenseStatusBefore,
		entry.ExpenseStatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabase, "failed to append audit entry")
	}
	return nil
}

// GetByExpenseID returns the full audit trail for an expense, oldest first.
func (r *AuditRepository) GetByExpenseID(ctx context.Context, expenseID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, expense_id, stage_id, organization_id,
		       action, performed_by, performed_at,
		       expense_status_before, expense_status_after,
		       metadata
		FROM expense_approval_audit
		WHERE expense_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get audit trail")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to read audit entries")
	}
	return entries, nil
}

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *AuditRepository) scanEntry(sc auditScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.ExpenseID,
		&entry.StageID,
		&entry.OrganizationID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.ExpenseStatusBefore,
		&entry.ExpenseStatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to unmarshal audit metadata")
		}
	}
	return entry, nil
}
