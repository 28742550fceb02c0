package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leagueops/be-expense-approvals/internal/repository"
)

func newTestBuilder(templates *mockTemplateStore) *WorkflowBuilder {
	if templates == nil {
		templates = &mockTemplateStore{}
	}
	return NewWorkflowBuilder(templates, &mockApproverSource{}, zerolog.Nop())
}

func testExpense(amountCents int64) *repository.Expense {
	return &repository.Expense{
		ID:             "exp-1",
		OrganizationID: "org-1",
		SubmittedBy:    "user-1",
		AmountCents:    amountCents,
		PaymentStatus:  repository.PaymentStatusSubmitted,
	}
}

func testMethod(methodType string) *repository.PaymentMethod {
	return &repository.PaymentMethod{ID: "pm-1", OrganizationID: "org-1", MethodType: methodType}
}

func TestDetermineWorkflow_AutoApprovalCeilings(t *testing.T) {
	tests := []struct {
		name        string
		methodType  string
		amountCents int64
		wantAuto    bool
	}{
		{"reimbursement under ceiling", repository.PaymentMethodPersonReimbursement, 3_000, true},
		{"reimbursement at ceiling", repository.PaymentMethodPersonReimbursement, 5_000, true},
		{"reimbursement over ceiling", repository.PaymentMethodPersonReimbursement, 5_001, false},
		{"credit card under ceiling", repository.PaymentMethodCreditCard, 19_999, true},
		{"credit card over ceiling", repository.PaymentMethodCreditCard, 20_001, false},
		{"purchase order never auto", repository.PaymentMethodPurchaseOrder, 1, false},
		{"direct vendor under ceiling", repository.PaymentMethodDirectVendor, 9_000, true},
		{"direct vendor over ceiling", repository.PaymentMethodDirectVendor, 10_500, false},
	}

	b := newTestBuilder(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := b.DetermineWorkflow(context.Background(), testExpense(tt.amountCents), testMethod(tt.methodType), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAuto, cfg.AutoApproved)
			if tt.wantAuto {
				assert.Empty(t, cfg.Stages)
				assert.NotEmpty(t, cfg.AutoApprovalReason)
			} else {
				assert.NotEmpty(t, cfg.Stages)
			}
		})
	}
}

func TestDetermineWorkflow_MethodForcesApproval(t *testing.T) {
	b := newTestBuilder(nil)

	method := testMethod(repository.PaymentMethodCreditCard)
	method.RequiresApproval = true

	// $20 is well under the credit card ceiling but the method forces review.
	cfg, err := b.DetermineWorkflow(context.Background(), testExpense(2_000), method, nil)
	require.NoError(t, err)

	assert.False(t, cfg.AutoApproved)
	require.Len(t, cfg.Stages, 1)
	assert.Equal(t, "Manager Approval", cfg.Stages[0].Name)
}

func TestDetermineWorkflow_SingleManagerStage(t *testing.T) {
	b := newTestBuilder(nil)

	// $75 reimbursement: over the $50 ceiling, under the finance threshold.
	cfg, err := b.DetermineWorkflow(context.Background(),
		testExpense(7_500), testMethod(repository.PaymentMethodPersonReimbursement), nil)
	require.NoError(t, err)

	assert.False(t, cfg.AutoApproved)
	require.Len(t, cfg.Stages, 1)
	stage := cfg.Stages[0]
	assert.Equal(t, 1, stage.StageNumber)
	assert.Equal(t, "Manager Approval", stage.Name)
	require.NotNil(t, stage.ApprovalLimitCents)
	assert.Equal(t, int64(50_000), *stage.ApprovalLimitCents)
	assert.Equal(t, 48, stage.DeadlineHours)
	assert.Equal(t, 24, stage.EscalationHours)
	assert.True(t, stage.DelegationAllowed)
	assert.True(t, stage.CanModifyAmount)
	assert.Equal(t, repository.RiskLevelLow, cfg.RiskLevel)
}

func TestDetermineWorkflow_ManagerLimitByMethod(t *testing.T) {
	b := newTestBuilder(nil)

	cfg, err := b.DetermineWorkflow(context.Background(),
		testExpense(50_000), testMethod(repository.PaymentMethodCreditCard), nil)
	require.NoError(t, err)

	require.Len(t, cfg.Stages, 1)
	require.NotNil(t, cfg.Stages[0].ApprovalLimitCents)
	assert.Equal(t, int64(100_000), *cfg.Stages[0].ApprovalLimitCents)
}

func TestDetermineWorkflow_TwoStages(t *testing.T) {
	b := newTestBuilder(nil)

	// $1500 credit card: manager plus finance, no executive.
	cfg, err := b.DetermineWorkflow(context.Background(),
		testExpense(150_000), testMethod(repository.PaymentMethodCreditCard), nil)
	require.NoError(t, err)

	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "Manager Approval", cfg.Stages[0].Name)
	assert.Equal(t, "Finance Review", cfg.Stages[1].Name)
	assert.Equal(t, 1, cfg.Stages[0].StageNumber)
	assert.Equal(t, 2, cfg.Stages[1].StageNumber)

	finance := cfg.Stages[1]
	assert.True(t, finance.Conditions.RequiresBusinessJustification)
	assert.True(t, finance.Conditions.RequiresReceiptValidation)
	assert.Equal(t, 72, finance.DeadlineHours)
	assert.Equal(t, 48, finance.EscalationHours)
	assert.Equal(t, repository.RiskLevelMedium, cfg.RiskLevel)
}

func TestDetermineWorkflow_ThreeStages(t *testing.T) {
	b := newTestBuilder(nil)

	// $12000 purchase order: all three stages, competitive quotes required.
	cfg, err := b.DetermineWorkflow(context.Background(),
		testExpense(1_200_000), testMethod(repository.PaymentMethodPurchaseOrder), nil)
	require.NoError(t, err)

	require.Len(t, cfg.Stages, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{
		cfg.Stages[0].StageNumber, cfg.Stages[1].StageNumber, cfg.Stages[2].StageNumber,
	})

	executive := cfg.Stages[2]
	assert.Equal(t, "Executive Approval", executive.Name)
	assert.True(t, executive.Conditions.RequiresCompetitiveQuotes)
	assert.False(t, executive.DelegationAllowed)
	assert.False(t, executive.CanModifyAmount)
	assert.Equal(t, 120, executive.DeadlineHours)
	assert.Equal(t, 72, executive.EscalationHours)
	assert.Equal(t, repository.RiskLevelHigh, cfg.RiskLevel)
}

func TestDetermineWorkflow_ExecutiveWithoutQuotes(t *testing.T) {
	b := newTestBuilder(nil)

	// $6000: executive stage present, but under the competitive-quotes bar.
	cfg, err := b.DetermineWorkflow(context.Background(),
		testExpense(600_000), testMethod(repository.PaymentMethodDirectVendor), nil)
	require.NoError(t, err)

	require.Len(t, cfg.Stages, 3)
	assert.False(t, cfg.Stages[2].Conditions.RequiresCompetitiveQuotes)
}

func TestDetermineWorkflow_TemplateStagesFiltered(t *testing.T) {
	min := int64(100_000)
	templates := &mockTemplateStore{
		getActiveFunc: func(ctx context.Context, organizationID string) (*repository.WorkflowTemplate, error) {
			return &repository.WorkflowTemplate{
				ID:             "tpl-1",
				OrganizationID: organizationID,
				Name:           "custom",
				IsActive:       true,
				Stages: []repository.TemplateStage{
					{
						Name:                 "Team Lead",
						ApproverRole:         string(CategoryManager),
						MinApprovalsRequired: 1,
						DeadlineHours:        24,
						EscalationHours:      12,
						DelegationAllowed:    true,
					},
					{
						Name:                 "Budget Office",
						ApproverRole:         string(CategoryFinance),
						MinApprovalsRequired: 1,
						DeadlineHours:        48,
						EscalationHours:      24,
						Conditions:           repository.TemplateStageConditions{MinAmountCents: &min},
					},
				},
			}, nil
		},
	}
	b := newTestBuilder(templates)

	// Below the second stage's minimum: only the first stage survives, and it
	// is numbered 1 with no gap.
	cfg, err := b.DetermineWorkflow(context.Background(),
		testExpense(50_000), testMethod(repository.PaymentMethodCreditCard), nil)
	require.NoError(t, err)
	assert.False(t, cfg.AutoApproved)
	require.Len(t, cfg.Stages, 1)
	assert.Equal(t, "Team Lead", cfg.Stages[0].Name)
	assert.Equal(t, 1, cfg.Stages[0].StageNumber)

	// Above the minimum: both stages.
	cfg, err = b.DetermineWorkflow(context.Background(),
		testExpense(200_000), testMethod(repository.PaymentMethodCreditCard), nil)
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "Budget Office", cfg.Stages[1].Name)
	assert.Equal(t, 2, cfg.Stages[1].StageNumber)
}

func TestDetermineWorkflow_TemplateNoMatchesAutoApproves(t *testing.T) {
	methods := []string{repository.PaymentMethodPurchaseOrder}
	templates := &mockTemplateStore{
		getActiveFunc: func(ctx context.Context, organizationID string) (*repository.WorkflowTemplate, error) {
			return &repository.WorkflowTemplate{
				ID:       "tpl-1",
				Name:     "po-only",
				IsActive: true,
				Stages: []repository.TemplateStage{
					{
						Name:         "PO Review",
						ApproverRole: string(CategoryManager),
						Conditions:   repository.TemplateStageConditions{PaymentMethodTypes: methods},
					},
				},
			}, nil
		},
	}
	b := newTestBuilder(templates)

	cfg, err := b.DetermineWorkflow(context.Background(),
		testExpense(300_000), testMethod(repository.PaymentMethodCreditCard), nil)
	require.NoError(t, err)

	assert.True(t, cfg.AutoApproved)
	assert.Contains(t, cfg.AutoApprovalReason, "po-only")
	assert.Empty(t, cfg.Stages)
}

func TestDetermineWorkflow_EmptyTemplateFallsBackToDefault(t *testing.T) {
	templates := &mockTemplateStore{
		getActiveFunc: func(ctx context.Context, organizationID string) (*repository.WorkflowTemplate, error) {
			return &repository.WorkflowTemplate{ID: "tpl-1", Name: "empty", IsActive: true}, nil
		},
	}
	b := newTestBuilder(templates)

	cfg, err := b.DetermineWorkflow(context.Background(),
		testExpense(150_000), testMethod(repository.PaymentMethodCreditCard), nil)
	require.NoError(t, err)

	// Default policy applies: manager plus finance.
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "Manager Approval", cfg.Stages[0].Name)
}
