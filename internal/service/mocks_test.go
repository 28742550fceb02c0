package service

import (
	"context"
	"time"

	"github.com/leagueops/be-expense-approvals/internal/repository"
)

// Func-field fakes for the service collaborators. Unset fields return zero
// values so each test only wires the calls it cares about.

type mockExpenseStore struct {
	getByIDFunc          func(ctx context.Context, id string) (*repository.Expense, error)
	getPaymentMethodFunc func(ctx context.Context, id string) (*repository.PaymentMethod, error)
}

func (m *mockExpenseStore) GetByID(ctx context.Context, id string) (*repository.Expense, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return &repository.Expense{ID: id}, nil
}

func (m *mockExpenseStore) GetPaymentMethod(ctx context.Context, id string) (*repository.PaymentMethod, error) {
	if m.getPaymentMethodFunc != nil {
		return m.getPaymentMethodFunc(ctx, id)
	}
	return &repository.PaymentMethod{ID: id}, nil
}

type mockWorkflowStore struct {
	createWorkflowFunc     func(ctx context.Context, expense *repository.Expense, cfg *repository.WorkflowConfig, now time.Time) ([]*repository.ApprovalStage, error)
	createAutoApprovedFunc func(ctx context.Context, expense *repository.Expense, reason string, now time.Time) (*repository.ApprovalStage, error)
	approveStageFunc       func(ctx context.Context, stage *repository.ApprovalStage, approverID string, notes *string, approvedAmountCents int64, now time.Time) (*repository.ApprovalStage, *repository.ApprovalStage, error)
	rejectStageFunc        func(ctx context.Context, stage *repository.ApprovalStage, approverID, reason, expenseStatus string, now time.Time) (*repository.ApprovalStage, error)
}

func (m *mockWorkflowStore) CreateWorkflow(ctx context.Context, expense *repository.Expense, cfg *repository.WorkflowConfig, now time.Time) ([]*repository.ApprovalStage, error) {
	if m.createWorkflowFunc != nil {
		return m.createWorkflowFunc(ctx, expense, cfg, now)
	}
	return nil, nil
}

func (m *mockWorkflowStore) CreateAutoApproved(ctx context.Context, expense *repository.Expense, reason string, now time.Time) (*repository.ApprovalStage, error) {
	if m.createAutoApprovedFunc != nil {
		return m.createAutoApprovedFunc(ctx, expense, reason, now)
	}
	return &repository.ApprovalStage{ID: "auto-stage", ExpenseID: expense.ID}, nil
}

func (m *mockWorkflowStore) ApproveStage(ctx context.Context, stage *repository.ApprovalStage, approverID string, notes *string, approvedAmountCents int64, now time.Time) (*repository.ApprovalStage, *repository.ApprovalStage, error) {
	if m.approveStageFunc != nil {
		return m.approveStageFunc(ctx, stage, approverID, notes, approvedAmountCents, now)
	}
	return stage, nil, nil
}

func (m *mockWorkflowStore) RejectStage(ctx context.Context, stage *repository.ApprovalStage, approverID, reason, expenseStatus string, now time.Time) (*repository.ApprovalStage, error) {
	if m.rejectStageFunc != nil {
		return m.rejectStageFunc(ctx, stage, approverID, reason, expenseStatus, now)
	}
	return stage, nil
}

type mockStageStore struct {
	getByIDFunc           func(ctx context.Context, id string) (*repository.ApprovalStage, error)
	getByExpenseIDFunc    func(ctx context.Context, expenseID string) ([]*repository.ApprovalStage, error)
	getPendingForUserFunc func(ctx context.Context, userID string, filter repository.PendingFilter) ([]*repository.ApprovalStage, error)
	delegateFunc          func(ctx context.Context, stageID string, delegate repository.Approver, delegatedBy, reason string) (*repository.ApprovalStage, error)
}

func (m *mockStageStore) GetByID(ctx context.Context, id string) (*repository.ApprovalStage, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return &repository.ApprovalStage{ID: id, Status: repository.StageStatusPending}, nil
}

func (m *mockStageStore) GetByExpenseID(ctx context.Context, expenseID string) ([]*repository.ApprovalStage, error) {
	if m.getByExpenseIDFunc != nil {
		return m.getByExpenseIDFunc(ctx, expenseID)
	}
	return nil, nil
}

func (m *mockStageStore) GetPendingForUser(ctx context.Context, userID string, filter repository.PendingFilter) ([]*repository.ApprovalStage, error) {
	if m.getPendingForUserFunc != nil {
		return m.getPendingForUserFunc(ctx, userID, filter)
	}
	return nil, nil
}

func (m *mockStageStore) Delegate(ctx context.Context, stageID string, delegate repository.Approver, delegatedBy, reason string) (*repository.ApprovalStage, error) {
	if m.delegateFunc != nil {
		return m.delegateFunc(ctx, stageID, delegate, delegatedBy, reason)
	}
	return &repository.ApprovalStage{ID: stageID, Status: repository.StageStatusPending}, nil
}

// mockAuditStore records appended entries for assertion.
type mockAuditStore struct {
	appendFunc func(ctx context.Context, entry *repository.AuditEntry) error
	entries    []*repository.AuditEntry
}

func (m *mockAuditStore) Append(ctx context.Context, entry *repository.AuditEntry) error {
	if m.appendFunc != nil {
		return m.appendFunc(ctx, entry)
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditStore) GetByExpenseID(ctx context.Context, expenseID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range m.entries {
		if e.ExpenseID == expenseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditStore) actions() []string {
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type mockDirectory struct {
	getByIDFunc              func(ctx context.Context, id string) (*repository.User, error)
	listWithRoleInOrgFunc    func(ctx context.Context, organizationID string, roles ...string) ([]*repository.User, error)
	getOrganizationAdminFunc func(ctx context.Context, organizationID string) (*repository.User, error)
}

func (m *mockDirectory) GetByID(ctx context.Context, id string) (*repository.User, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return &repository.User{ID: id}, nil
}

func (m *mockDirectory) ListWithRoleInOrg(ctx context.Context, organizationID string, roles ...string) ([]*repository.User, error) {
	if m.listWithRoleInOrgFunc != nil {
		return m.listWithRoleInOrgFunc(ctx, organizationID, roles...)
	}
	return nil, nil
}

func (m *mockDirectory) GetOrganizationAdmin(ctx context.Context, organizationID string) (*repository.User, error) {
	if m.getOrganizationAdminFunc != nil {
		return m.getOrganizationAdminFunc(ctx, organizationID)
	}
	return nil, nil
}

// publishedEvent captures one Notifier call.
type publishedEvent struct {
	EventType      string
	ExpenseID      string
	OrganizationID string
	ActorID        string
	Recipients     []string
	Payload        map[string]any
}

type mockNotifier struct {
	events []publishedEvent
}

func (m *mockNotifier) PublishExpenseEvent(eventType, expenseID, organizationID, actorID string, recipients []string, payload map[string]any) {
	m.events = append(m.events, publishedEvent{
		EventType:      eventType,
		ExpenseID:      expenseID,
		OrganizationID: organizationID,
		ActorID:        actorID,
		Recipients:     recipients,
		Payload:        payload,
	})
}

type mockTemplateStore struct {
	getActiveFunc func(ctx context.Context, organizationID string) (*repository.WorkflowTemplate, error)
}

func (m *mockTemplateStore) GetActiveByOrganization(ctx context.Context, organizationID string) (*repository.WorkflowTemplate, error) {
	if m.getActiveFunc != nil {
		return m.getActiveFunc(ctx, organizationID)
	}
	return nil, nil
}

type mockApproverSource struct {
	resolveFunc func(ctx context.Context, category RoleCategory, organizationID string) ([]repository.Approver, error)
}

func (m *mockApproverSource) ResolveApprovers(ctx context.Context, category RoleCategory, organizationID string) ([]repository.Approver, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, category, organizationID)
	}
	return []repository.Approver{{ID: string(category) + "-1", Role: string(category)}}, nil
}

type mockOverdueStore struct {
	listOverdueFunc func(ctx context.Context, now time.Time) ([]*repository.ApprovalStage, error)
	escalateFunc    func(ctx context.Context, stageID, escalatedTo, reason string) (bool, error)
}

func (m *mockOverdueStore) ListOverdue(ctx context.Context, now time.Time) ([]*repository.ApprovalStage, error) {
	if m.listOverdueFunc != nil {
		return m.listOverdueFunc(ctx, now)
	}
	return nil, nil
}

func (m *mockOverdueStore) Escalate(ctx context.Context, stageID, escalatedTo, reason string) (bool, error) {
	if m.escalateFunc != nil {
		return m.escalateFunc(ctx, stageID, escalatedTo, reason)
	}
	return true, nil
}

type mockTargetResolver struct {
	resolveFunc func(ctx context.Context, stage *repository.ApprovalStage) (*repository.User, error)
}

func (m *mockTargetResolver) ResolveEscalationTarget(ctx context.Context, stage *repository.ApprovalStage) (*repository.User, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, stage)
	}
	return nil, nil
}

type mockApprovalStore struct {
	getPendingFunc func(ctx context.Context, expenseID string) (*repository.ExpenseApproval, error)
	approveFunc    func(ctx context.Context, approval *repository.ExpenseApproval, actedBy string, notes *string, now time.Time) (*repository.ExpenseApproval, bool, error)
	rejectFunc     func(ctx context.Context, approval *repository.ExpenseApproval, actedBy, reason, expenseStatus string, now time.Time) (*repository.ExpenseApproval, error)
}

func (m *mockApprovalStore) GetPendingByExpenseID(ctx context.Context, expenseID string) (*repository.ExpenseApproval, error) {
	if m.getPendingFunc != nil {
		return m.getPendingFunc(ctx, expenseID)
	}
	return nil, nil
}

func (m *mockApprovalStore) Approve(ctx context.Context, approval *repository.ExpenseApproval, actedBy string, notes *string, now time.Time) (*repository.ExpenseApproval, bool, error) {
	if m.approveFunc != nil {
		return m.approveFunc(ctx, approval, actedBy, notes, now)
	}
	return approval, false, nil
}

func (m *mockApprovalStore) Reject(ctx context.Context, approval *repository.ExpenseApproval, actedBy, reason, expenseStatus string, now time.Time) (*repository.ExpenseApproval, error) {
	if m.rejectFunc != nil {
		return m.rejectFunc(ctx, approval, actedBy, reason, expenseStatus, now)
	}
	return approval, nil
}

type mockPaymentQueue struct {
	enqueueFunc func(ctx context.Context, expenseID string) error
	enqueued    []string
}

func (m *mockPaymentQueue) Enqueue(ctx context.Context, expenseID string) error {
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, expenseID)
	}
	m.enqueued = append(m.enqueued, expenseID)
	return nil
}
