package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/errors"
)

// WorkflowTemplateRepository handles CRUD for named per-organization
// workflow templates. Stage lists are stored as JSONB.
type WorkflowTemplateRepository struct {
	db *database.DB
}

// NewWorkflowTemplateRepository creates a new WorkflowTemplateRepository.
func NewWorkflowTemplateRepository(db *database.DB) *WorkflowTemplateRepository {
	return &WorkflowTemplateRepository{db: db}
}

// Create inserts a new workflow template.
func (r *WorkflowTemplateRepository) Create(ctx context.Context, tpl *WorkflowTemplate) error {
	stagesJSON, err := json.Marshal(tpl.Stages)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfiguration, "failed to marshal template stages")
	}

	query := `
		INSERT INTO approval_templates
		    (organization_id, name, is_active, stages)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		tpl.OrganizationID,
		tpl.Name,
		tpl.IsActive,
		stagesJSON,
	).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabase, "failed to create workflow template")
	}
	return nil
}

// GetActiveByOrganization returns the active template for an organization, or
// nil when the organization has none (the built-in default policy applies).
func (r *WorkflowTemplateRepository) GetActiveByOrganization(ctx context.Context, organizationID string) (*WorkflowTemplate, error) {
	query := `
		SELECT id, organization_id, name, is_active, stages, created_at, updated_at
		FROM approval_templates
		WHERE organization_id = $1
		  AND is_active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1
	`

	tpl, err := r.scanTemplate(r.db.QueryRow(ctx, query, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return tpl, err
}

// GetByName returns a named template for an organization.
func (r *WorkflowTemplateRepository) GetByName(ctx context.Context, organizationID, name string) (*WorkflowTemplate, error) {
	query := `
		SELECT id, organization_id, name, is_active, stages, created_at, updated_at
		FROM approval_templates
		WHERE organization_id = $1 AND name = $2
	`

	tpl, err := r.scanTemplate(r.db.QueryRow(ctx, query, organizationID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval_template", name)
	}
	return tpl, err
}

// List returns all templates for an organization.
func (r *WorkflowTemplateRepository) List(ctx context.Context, organizationID string) ([]*WorkflowTemplate, error) {
	query := `
		SELECT id, organization_id, name, is_active, stages, created_at, updated_at
		FROM approval_templates
		WHERE organization_id = $1
		ORDER BY name ASC
	`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to list workflow templates")
	}
	defer rows.Close()

	var templates []*WorkflowTemplate
	for rows.Next() {
		tpl, err := r.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabase, "failed to read workflow templates")
	}
	return templates, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowTemplateRepository) scanTemplate(sc templateScanner) (*WorkflowTemplate, error) {
	tpl := &WorkflowTemplate{}
	var stagesJSON []byte

	err := sc.Scan(
		&tpl.ID,
		&tpl.OrganizationID,
		&tpl.Name,
		&tpl.IsActive,
		&stagesJSON,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stagesJSON, &tpl.Stages); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "failed to unmarshal template stages")
	}
	return tpl, nil
}
