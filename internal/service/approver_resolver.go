package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/leagueops/be-expense-approvals/internal/repository"
)

// Directory resolves user information from the user directory.
type Directory interface {
	// GetByID returns a single user.
	GetByID(ctx context.Context, id string) (*repository.User, error)
	// ListWithRoleInOrg returns users holding any of the given roles in an organization.
	ListWithRoleInOrg(ctx context.Context, organizationID string, roles ...string) ([]*repository.User, error)
	// GetOrganizationAdmin returns the organization's first admin, or nil.
	GetOrganizationAdmin(ctx context.Context, organizationID string) (*repository.User, error)
}

// RoleCategory is one of the fixed organizational approver categories.
type RoleCategory string

const (
	CategoryManager   RoleCategory = "manager"
	CategoryFinance   RoleCategory = "finance"
	CategoryExecutive RoleCategory = "executive"
)

// categoryRoles maps an approver category to the directory roles it draws from.
var categoryRoles = map[RoleCategory][]string{
	CategoryManager:   {repository.RoleManager},
	CategoryFinance:   {repository.RoleFinanceManager},
	CategoryExecutive: {repository.RoleExecutive},
}

// ApproverResolver produces ordered approver snapshots per role category.
type ApproverResolver struct {
	directory Directory
	log       zerolog.Logger
}

// NewApproverResolver creates a new ApproverResolver.
func NewApproverResolver(directory Directory, log zerolog.Logger) *ApproverResolver {
	return &ApproverResolver{directory: directory, log: log}
}

// ResolveApprovers returns the eligible approvers for a category within an
// organization. An empty list is not an error: the stage is still created
// and an approver can be attached later via delegation or escalation.
func (r *ApproverResolver) ResolveApprovers(ctx context.Context, category RoleCategory, organizationID string) ([]repository.Approver, error) {
	roles, ok := categoryRoles[category]
	if !ok {
		r.log.Warn().Str("category", string(category)).Msg("unknown approver category; no approvers resolved")
		return nil, nil
	}

	users, err := r.directory.ListWithRoleInOrg(ctx, organizationID, roles...)
	if err != nil {
		return nil, err
	}

	approvers := make([]repository.Approver, 0, len(users))
	for _, u := range users {
		approvers = append(approvers, u.Snapshot())
	}

	if len(approvers) == 0 {
		r.log.Warn().
			Str("category", string(category)).
			Str("organization_id", organizationID).
			Msg("no eligible approvers for category; stage will have an empty approver list")
	}
	return approvers, nil
}

// ResolveEscalationTarget picks the user an overdue stage escalates to.
// Current policy is deliberately coarse: the stage organization's first admin.
// The interface boundary lets a role-hierarchy lookup replace this without
// touching the sweeper.
func (r *ApproverResolver) ResolveEscalationTarget(ctx context.Context, stage *repository.ApprovalStage) (*repository.User, error) {
	return r.directory.GetOrganizationAdmin(ctx, stage.OrganizationID)
}
