package repository

import "time"

// ── Domain types for the expense approval workflow ───────────────────────────

// Payment method types.
const (
	PaymentMethodPersonReimbursement = "person_reimbursement"
	PaymentMethodCreditCard          = "credit_card"
	PaymentMethodPurchaseOrder       = "purchase_order"
	PaymentMethodDirectVendor        = "direct_vendor"
)

// Expense payment statuses.
const (
	PaymentStatusPending               = "pending"
	PaymentStatusSubmitted             = "submitted"
	PaymentStatusPendingApproval       = "pending_approval"
	PaymentStatusApproved              = "approved"
	PaymentStatusRejected              = "rejected"
	PaymentStatusRejectedResubmittable = "rejected_resubmittable"
)

// Stage statuses. A stage is created not_started (except stage 1), activated
// to pending, and terminates as approved, rejected or cancelled. Delegated
// flips back to pending within the same transaction; escalated reassigns
// ownership and the stage stops accepting regular decisions.
const (
	StageStatusNotStarted = "not_started"
	StageStatusPending    = "pending"
	StageStatusApproved   = "approved"
	StageStatusRejected   = "rejected"
	StageStatusDelegated  = "delegated"
	StageStatusEscalated  = "escalated"
	StageStatusCancelled  = "cancelled"
)

// User roles.
const (
	RoleManager           = "manager"
	RoleFinanceManager    = "finance_manager"
	RoleExecutive         = "executive"
	RoleAdmin             = "admin"
	RoleSuperAdmin        = "super_admin"
	RoleAssignor          = "assignor"
	RoleAssignmentManager = "assignment_manager"
)

// Risk levels (computed from amount; informational only).
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// Approver is a point-in-time snapshot of an eligible approver, embedded in
// the stage's required_approvers JSONB column at creation time. Role changes
// after a stage is created do not change who may approve it.
type Approver struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// StageConditions are the condition flags a stage may carry. Stored as JSONB;
// strongly typed in memory.
type StageConditions struct {
	RequiresBusinessJustification bool `json:"requires_business_justification,omitempty"`
	RequiresReceiptValidation     bool `json:"requires_receipt_validation,omitempty"`
	RequiresCompetitiveQuotes     bool `json:"requires_competitive_quotes,omitempty"`
}

// User is a row in the user directory.
type User struct {
	ID             string
	Name           string
	Email          string
	Role           string
	OrganizationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot converts a directory user into an approver snapshot.
func (u *User) Snapshot() Approver {
	return Approver{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// PaymentMethod describes how an expense is paid out. RequiresApproval forces
// the workflow even when the amount is under the auto-approval ceiling.
type PaymentMethod struct {
	ID               string
	OrganizationID   string
	MethodType       string
	RequiresApproval bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Expense is a monetary claim awaiting disposition. Amounts are integer cents.
type Expense struct {
	ID              string
	OrganizationID  string
	SubmittedBy     string
	Description     *string
	AmountCents     int64
	PaymentMethodID string
	PaymentStatus   string
	ApprovedBy      *string
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StageDefinition is a template slice describing one approval gate before it
// is persisted. Produced by the workflow builder.
type StageDefinition struct {
	StageNumber          int
	Name                 string
	Description          string
	Approvers            []Approver
	MinApprovalsRequired int
	AllMustApprove       bool
	ApprovalLimitCents   *int64
	CanModifyAmount      bool
	DeadlineHours        int
	EscalationHours      int
	EscalationTarget     string
	Conditions           StageConditions
	DelegationAllowed    bool
}

// WorkflowConfig is the output of workflow determination: either an
// auto-approval (zero stages) or an ordered stage list.
type WorkflowConfig struct {
	AutoApproved       bool
	AutoApprovalReason string
	Stages             []StageDefinition
	RiskLevel          string
}

// ApprovalStage is one persisted approval record: one row per stage per
// expense. At most one stage per expense is pending at any time.
type ApprovalStage struct {
	ID                   string
	ExpenseID            string
	OrganizationID       string
	StageNumber          int
	TotalStages          int
	StageName            string
	IsParallel           bool
	RequiredApprovers    []Approver // JSONB snapshot, frozen at creation
	MinApprovalsRequired int
	AllMustApprove       bool
	Status               string
	StageStartedAt       *time.Time
	StageDeadline        *time.Time
	DeadlineHours        int
	EscalationHours      int
	EscalationTarget     string
	Conditions           StageConditions // JSONB
	ApprovalLimitCents   *int64
	CanModifyAmount      bool
	DelegationAllowed    bool
	ApproverID           *string
	ApprovedAt           *time.Time
	ApprovedAmountCents  *int64
	RejectedAt           *time.Time
	Notes                *string
	RejectionReason      *string
	DelegatedTo          *string
	DelegatedBy          *string
	DelegatedAt          *time.Time
	DelegationReason     *string
	EscalatedTo          *string
	EscalatedAt          *time.Time
	EscalationReason     *string
	RiskLevel            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasApprover reports whether userID is in the required-approver snapshot.
func (s *ApprovalStage) HasApprover(userID string) bool {
	for _, a := range s.RequiredApprovers {
		if a.ID == userID {
			return true
		}
	}
	return false
}

// DelegateSnapshot returns the required-approver snapshot with the delegate
// appended, unchanged when the delegate is already present. Repeated
// delegation to the same user never duplicates the entry.
func (s *ApprovalStage) DelegateSnapshot(delegate Approver) []Approver {
	if s.HasApprover(delegate.ID) {
		return s.RequiredApprovers
	}
	return append(s.RequiredApprovers, delegate)
}

// TemplateStageConditions is the predicate attached to a template stage.
// A stage whose predicate fails is skipped entirely and not numbered.
type TemplateStageConditions struct {
	MinAmountCents     *int64   `json:"min_amount_cents,omitempty"`
	MaxAmountCents     *int64   `json:"max_amount_cents,omitempty"`
	PaymentMethodTypes []string `json:"payment_method_types,omitempty"`
}

// Matches evaluates the predicate against an expense and its payment method.
func (c *TemplateStageConditions) Matches(expense *Expense, method *PaymentMethod) bool {
	if c.MinAmountCents != nil && expense.AmountCents < *c.MinAmountCents {
		return false
	}
	if c.MaxAmountCents != nil && expense.AmountCents > *c.MaxAmountCents {
		return false
	}
	if len(c.PaymentMethodTypes) > 0 {
		found := false
		for _, t := range c.PaymentMethodTypes {
			if method != nil && method.MethodType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TemplateStage is one entry in a workflow template's stages JSONB array.
type TemplateStage struct {
	Name                 string                  `json:"name"`
	Description          string                  `json:"description,omitempty"`
	ApproverRole         string                  `json:"approver_role"`
	MinApprovalsRequired int                     `json:"min_approvals_required"`
	AllMustApprove       bool                    `json:"all_must_approve"`
	ApprovalLimitCents   *int64                  `json:"approval_limit_cents,omitempty"`
	CanModifyAmount      bool                    `json:"can_modify_amount"`
	DeadlineHours        int                     `json:"deadline_hours"`
	EscalationHours      int                     `json:"escalation_hours"`
	EscalationTarget     string                  `json:"escalation_target,omitempty"`
	DelegationAllowed    bool                    `json:"delegation_allowed"`
	Conditions           TemplateStageConditions `json:"conditions,omitempty"`
}

// WorkflowTemplate is a named per-organization workflow definition.
type WorkflowTemplate struct {
	ID             string
	OrganizationID string
	Name           string
	IsActive       bool
	Stages         []TemplateStage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExpenseApproval is the secondary, sequence-keyed approval shape used by the
// simpler approve/reject path. Independent of the staged workflow records.
type ExpenseApproval struct {
	ID               string
	ExpenseID        string
	OrganizationID   string
	ApprovalSequence int
	TotalSequences   int
	ApproverID       *string
	Status           string // pending | approved | rejected | cancelled
	ApprovedAt       *time.Time
	RejectedAt       *time.Time
	Notes            *string
	RejectionReason  *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID                  string
	ExpenseID           string
	StageID             *string
	OrganizationID      string
	Action              string // created | auto_approved | approved | rejected | delegated | escalated
	PerformedBy         string
	PerformedAt         time.Time
	ExpenseStatusBefore *string
	ExpenseStatusAfter  *string
	Metadata            map[string]any
}
