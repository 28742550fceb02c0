package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leagueops/be-expense-approvals/internal/repository"
)

// TemplateStore looks up named workflow templates.
type TemplateStore interface {
	GetActiveByOrganization(ctx context.Context, organizationID string) (*repository.WorkflowTemplate, error)
}

// ApproverSource resolves approver snapshots per role category.
type ApproverSource interface {
	ResolveApprovers(ctx context.Context, category RoleCategory, organizationID string) ([]repository.Approver, error)
}

// Auto-approval ceilings per payment-method type, in cents. Amounts at or
// below the ceiling skip the workflow unless the method forces approval.
const (
	ceilingPersonReimbursementCents = 5_000  // $50
	ceilingCreditCardCents          = 20_000 // $200
	ceilingPurchaseOrderCents       = 0      // always requires approval
	ceilingDirectVendorCents        = 10_000 // $100
)

// Default-policy thresholds and stage parameters, in cents and hours.
const (
	managerLimitReimbursementCents  = 50_000    // $500
	managerLimitDefaultCents        = 100_000   // $1000
	financeReviewThresholdCents     = 100_000   // $1000
	executiveThresholdCents         = 500_000   // $5000
	competitiveQuotesThresholdCents = 1_000_000 // $10000

	managerDeadlineHours     = 48
	managerEscalationHours   = 24
	financeDeadlineHours     = 72
	financeEscalationHours   = 48
	executiveDeadlineHours   = 120
	executiveEscalationHours = 72
)

// Escalation target roles per stage.
const (
	escalationTargetSeniorManager   = "senior_manager"
	escalationTargetFinanceDirector = "finance_director"
	escalationTargetCEO             = "ceo"
)

// WorkflowBuilder determines the approval workflow for an expense: either a
// named per-organization template or the built-in default policy.
type WorkflowBuilder struct {
	templates TemplateStore
	approvers ApproverSource
	log       zerolog.Logger
}

// NewWorkflowBuilder creates a new WorkflowBuilder.
func NewWorkflowBuilder(templates TemplateStore, approvers ApproverSource, log zerolog.Logger) *WorkflowBuilder {
	return &WorkflowBuilder{templates: templates, approvers: approvers, log: log}
}

// DetermineWorkflow produces the workflow configuration for an expense.
// When the organization has an active template its stages are used (with
// per-stage condition predicates); otherwise the built-in default policy
// applies. Stage numbers are assigned sequentially in the order stages were
// actually added; skipped stages do not consume a number.
func (b *WorkflowBuilder) DetermineWorkflow(
	ctx context.Context,
	expense *repository.Expense,
	method *repository.PaymentMethod,
	user *repository.User,
) (*repository.WorkflowConfig, error) {
	tpl, err := b.templates.GetActiveByOrganization(ctx, expense.OrganizationID)
	if err != nil {
		return nil, err
	}
	if tpl != nil && len(tpl.Stages) > 0 {
		return b.buildFromTemplate(ctx, expense, method, tpl)
	}
	return b.buildDefault(ctx, expense, method)
}

// buildDefault applies the built-in policy: auto-approval ceiling check, then
// Manager / Finance / Executive stages added conditionally by amount.
func (b *WorkflowBuilder) buildDefault(
	ctx context.Context,
	expense *repository.Expense,
	method *repository.PaymentMethod,
) (*repository.WorkflowConfig, error) {
	cfg := &repository.WorkflowConfig{RiskLevel: riskLevel(expense.AmountCents)}

	ceiling := autoApprovalCeiling(method.MethodType)
	forced := method.RequiresApproval || method.MethodType == repository.PaymentMethodPurchaseOrder
	if expense.AmountCents <= ceiling && !forced {
		cfg.AutoApproved = true
		cfg.AutoApprovalReason = fmt.Sprintf(
			"amount %d cents at or below %s auto-approval ceiling (%d cents)",
			expense.AmountCents, method.MethodType, ceiling)
		return cfg, nil
	}

	// Manager approval: always present once the ceiling is exceeded.
	managerLimit := int64(managerLimitDefaultCents)
	if method.MethodType == repository.PaymentMethodPersonReimbursement {
		managerLimit = managerLimitReimbursementCents
	}
	managerApprovers, err := b.approvers.ResolveApprovers(ctx, CategoryManager, expense.OrganizationID)
	if err != nil {
		return nil, err
	}
	cfg.Stages = append(cfg.Stages, repository.StageDefinition{
		Name:                 "Manager Approval",
		Description:          "Direct manager review of the expense claim",
		Approvers:            managerApprovers,
		MinApprovalsRequired: 1,
		ApprovalLimitCents:   &managerLimit,
		CanModifyAmount:      true,
		DeadlineHours:        managerDeadlineHours,
		EscalationHours:      managerEscalationHours,
		EscalationTarget:     escalationTargetSeniorManager,
		DelegationAllowed:    true,
	})

	// Finance review: high-value expenses.
	if expense.AmountCents > financeReviewThresholdCents {
		financeApprovers, err := b.approvers.ResolveApprovers(ctx, CategoryFinance, expense.OrganizationID)
		if err != nil {
			return nil, err
		}
		cfg.Stages = append(cfg.Stages, repository.StageDefinition{
			Name:                 "Finance Review",
			Description:          "Finance validation of justification and receipts",
			Approvers:            financeApprovers,
			MinApprovalsRequired: 1,
			CanModifyAmount:      true,
			DeadlineHours:        financeDeadlineHours,
			EscalationHours:      financeEscalationHours,
			EscalationTarget:     escalationTargetFinanceDirector,
			Conditions: repository.StageConditions{
				RequiresBusinessJustification: true,
				RequiresReceiptValidation:     true,
			},
			DelegationAllowed: true,
		})
	}

	// Executive approval: approve/reject only, no delegation.
	if expense.AmountCents > executiveThresholdCents {
		executiveApprovers, err := b.approvers.ResolveApprovers(ctx, CategoryExecutive, expense.OrganizationID)
		if err != nil {
			return nil, err
		}
		cfg.Stages = append(cfg.Stages, repository.StageDefinition{
			Name:                 "Executive Approval",
			Description:          "Executive sign-off on high-value spend",
			Approvers:            executiveApprovers,
			MinApprovalsRequired: 1,
			CanModifyAmount:      false,
			DeadlineHours:        executiveDeadlineHours,
			EscalationHours:      executiveEscalationHours,
			EscalationTarget:     escalationTargetCEO,
			Conditions: repository.StageConditions{
				RequiresCompetitiveQuotes: expense.AmountCents > competitiveQuotesThresholdCents,
			},
			DelegationAllowed: false,
		})
	}

	numberStages(cfg.Stages)
	return cfg, nil
}

// buildFromTemplate builds stages from a stored template. Stages whose
// condition predicate fails are skipped entirely and not numbered. A template
// where nothing matches degenerates to auto-approval.
func (b *WorkflowBuilder) buildFromTemplate(
	ctx context.Context,
	expense *repository.Expense,
	method *repository.PaymentMethod,
	tpl *repository.WorkflowTemplate,
) (*repository.WorkflowConfig, error) {
	cfg := &repository.WorkflowConfig{RiskLevel: riskLevel(expense.AmountCents)}

	for _, ts := range tpl.Stages {
		if !ts.Conditions.Matches(expense, method) {
			continue
		}

		approvers, err := b.approvers.ResolveApprovers(ctx, RoleCategory(ts.ApproverRole), expense.OrganizationID)
		if err != nil {
			return nil, err
		}

		minApprovals := ts.MinApprovalsRequired
		if minApprovals < 1 {
			minApprovals = 1
		}
		cfg.Stages = append(cfg.Stages, repository.StageDefinition{
			Name:                 ts.Name,
			Description:          ts.Description,
			Approvers:            approvers,
			MinApprovalsRequired: minApprovals,
			AllMustApprove:       ts.AllMustApprove,
			ApprovalLimitCents:   ts.ApprovalLimitCents,
			CanModifyAmount:      ts.CanModifyAmount,
			DeadlineHours:        ts.DeadlineHours,
			EscalationHours:      ts.EscalationHours,
			EscalationTarget:     ts.EscalationTarget,
			DelegationAllowed:    ts.DelegationAllowed,
		})
	}

	if len(cfg.Stages) == 0 {
		cfg.AutoApproved = true
		cfg.AutoApprovalReason = fmt.Sprintf("no stages of template %q matched the expense", tpl.Name)
		return cfg, nil
	}

	numberStages(cfg.Stages)
	return cfg, nil
}

func numberStages(stages []repository.StageDefinition) {
	for i := range stages {
		stages[i].StageNumber = i + 1
	}
}

func autoApprovalCeiling(methodType string) int64 {
	switch methodType {
	case repository.PaymentMethodPersonReimbursement:
		return ceilingPersonReimbursementCents
	case repository.PaymentMethodCreditCard:
		return ceilingCreditCardCents
	case repository.PaymentMethodPurchaseOrder:
		return ceilingPurchaseOrderCents
	case repository.PaymentMethodDirectVendor:
		return ceilingDirectVendorCents
	}
	return 0
}

func riskLevel(amountCents int64) string {
	switch {
	case amountCents > executiveThresholdCents:
		return repository.RiskLevelHigh
	case amountCents > financeReviewThresholdCents:
		return repository.RiskLevelMedium
	}
	return repository.RiskLevelLow
}
