package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/errors"
)

// UserRepository is the approver directory: users with a given role within an
// organization.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, name, email, role, organization_id, created_at, updated_at
`

// GetByID retrieves a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := r.scanUser(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get user")
	}
	return u, nil
}

// ListWithRoleInOrg returns users in an organization holding any of the given
// roles, ordered by name. An empty result is not an error.
func (r *UserRepository) ListWithRoleInOrg(ctx context.Context, organizationID string, roles ...string) ([]*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE organization_id = $1
		  AND role = ANY($2)
		ORDER BY name ASC
	`

	rows, err := r.db.Query(ctx, query, organizationID, roles)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to list users by role")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to read users")
	}
	return users, nil
}

// GetOrganizationAdmin returns the first admin user in an organization, or
// nil when the organization has no admin.
func (r *UserRepository) GetOrganizationAdmin(ctx context.Context, organizationID string) (*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE organization_id = $1
		  AND role = ANY($2)
		ORDER BY created_at ASC
		LIMIT 1
	`

	u, err := r.scanUser(r.db.QueryRow(ctx, query, organizationID, []string{RoleAdmin, RoleSuperAdmin}))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to get organization admin")
	}
	return u, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type userScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.OrganizationID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}
