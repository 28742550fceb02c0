package client

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/leagueops/be-expense-approvals/internal/repository"
	"github.com/leagueops/be-expense-approvals/internal/service"
)

// Subjects consumed by the workflow engine.
const (
	subjectExpenseSubmitted = "expenses.submitted"
	subjectApprovalDecision = "approvals.decision"
	subjectApprovalDelegate = "approvals.delegate"
	subjectExpenseAction    = "expenses.approval_action"
)

// ExpenseLoader reads expenses and payment methods for event handling.
type ExpenseLoader interface {
	GetByID(ctx context.Context, id string) (*repository.Expense, error)
	GetPaymentMethod(ctx context.Context, id string) (*repository.PaymentMethod, error)
}

// UserLoader reads users for event handling.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
}

// EventConsumer subscribes to expense lifecycle events and drives the
// workflow engine. Handler failures are logged; events are not redelivered
// by this consumer (upstream retries on its own schedule).
type EventConsumer struct {
	conn      *nats.Conn
	expenses  ExpenseLoader
	users     UserLoader
	builder   *service.WorkflowBuilder
	workflows *service.WorkflowService
	approvals *service.ExpenseApprovalService
	log       zerolog.Logger

	subs []*nats.Subscription
}

// ExpenseSubmittedEvent announces a newly submitted expense.
type ExpenseSubmittedEvent struct {
	ExpenseID   string `json:"expense_id"`
	SubmittedBy string `json:"submitted_by"`
}

// ApprovalDecisionEvent carries an approver's verdict on a workflow stage.
type ApprovalDecisionEvent struct {
	ApprovalID          string  `json:"approval_id"`
	ApproverID          string  `json:"approver_id"`
	Action              string  `json:"action"`
	Notes               *string `json:"notes,omitempty"`
	ApprovedAmountCents *int64  `json:"approved_amount_cents,omitempty"`
	RejectionReason     string  `json:"rejection_reason,omitempty"`
	AllowResubmission   bool    `json:"allow_resubmission,omitempty"`
}

// ApprovalDelegateEvent requests delegation of a pending stage.
type ApprovalDelegateEvent struct {
	ApprovalID  string `json:"approval_id"`
	DelegateTo  string `json:"delegate_to"`
	DelegatedBy string `json:"delegated_by"`
	Reason      string `json:"reason"`
}

// ExpenseActionEvent carries an approve/reject action on the sequence-keyed
// approval path.
type ExpenseActionEvent struct {
	ExpenseID         string  `json:"expense_id"`
	ActorID           string  `json:"actor_id"`
	Action            string  `json:"action"`
	Notes             *string `json:"notes,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	AllowResubmission bool    `json:"allow_resubmission,omitempty"`
}

// NewEventConsumer creates a consumer over the given NATS connection.
func NewEventConsumer(
	conn *nats.Conn,
	expenses ExpenseLoader,
	users UserLoader,
	builder *service.WorkflowBuilder,
	workflows *service.WorkflowService,
	approvals *service.ExpenseApprovalService,
	log zerolog.Logger,
) *EventConsumer {
	return &EventConsumer{
		conn:      conn,
		expenses:  expenses,
		users:     users,
		builder:   builder,
		workflows: workflows,
		approvals: approvals,
		log:       log,
	}
}

// Start subscribes to all consumed subjects. The parent context bounds the
// handlers; subscriptions live until Stop or connection drain.
func (c *EventConsumer) Start(ctx context.Context) error {
	if c.conn == nil {
		c.log.Warn().Msg("event consumer: no NATS connection; consumer disabled")
		return nil
	}

	handlers := map[string]nats.MsgHandler{
		subjectExpenseSubmitted: func(msg *nats.Msg) { c.handleExpenseSubmitted(ctx, msg) },
		subjectApprovalDecision: func(msg *nats.Msg) { c.handleApprovalDecision(ctx, msg) },
		subjectApprovalDelegate: func(msg *nats.Msg) { c.handleApprovalDelegate(ctx, msg) },
		subjectExpenseAction:    func(msg *nats.Msg) { c.handleExpenseAction(ctx, msg) },
	}

	for subject, handler := range handlers {
		sub, err := c.conn.QueueSubscribe(subject, "expense-approvals", handler)
		if err != nil {
			c.Stop()
			return err
		}
		c.subs = append(c.subs, sub)
	}

	c.log.Info().Int("subjects", len(handlers)).Msg("event consumer started")
	return nil
}

// Stop unsubscribes from all subjects.
func (c *EventConsumer) Stop() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
}

func (c *EventConsumer) handleExpenseSubmitted(ctx context.Context, msg *nats.Msg) {
	var event ExpenseSubmittedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("event consumer: malformed event")
		return
	}

	expense, err := c.expenses.GetByID(ctx, event.ExpenseID)
	if err != nil {
		c.log.Error().Err(err).Str("expense_id", event.ExpenseID).Msg("event consumer: expense lookup failed")
		return
	}
	method, err := c.expenses.GetPaymentMethod(ctx, expense.PaymentMethodID)
	if err != nil {
		c.log.Error().Err(err).Str("expense_id", event.ExpenseID).Msg("event consumer: payment method lookup failed")
		return
	}
	submitter, err := c.users.GetByID(ctx, expense.SubmittedBy)
	if err != nil {
		c.log.Error().Err(err).Str("expense_id", event.ExpenseID).Msg("event consumer: submitter lookup failed")
		return
	}

	cfg, err := c.builder.DetermineWorkflow(ctx, expense, method, submitter)
	if err != nil {
		c.log.Error().Err(err).Str("expense_id", event.ExpenseID).Msg("event consumer: workflow determination failed")
		return
	}

	if _, err := c.workflows.CreateApprovalWorkflow(ctx, expense.ID, cfg, event.SubmittedBy); err != nil {
		c.log.Error().Err(err).Str("expense_id", event.ExpenseID).Msg("event consumer: workflow creation failed")
	}
}

func (c *EventConsumer) handleApprovalDecision(ctx context.Context, msg *nats.Msg) {
	var event ApprovalDecisionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("event consumer: malformed event")
		return
	}

	decision := service.Decision{
		Action:              event.Action,
		Notes:               event.Notes,
		ApprovedAmountCents: event.ApprovedAmountCents,
		RejectionReason:     event.RejectionReason,
		AllowResubmission:   event.AllowResubmission,
	}

	if _, err := c.workflows.ProcessApprovalDecision(ctx, event.ApprovalID, decision, event.ApproverID); err != nil {
		c.log.Error().Err(err).
			Str("approval_id", event.ApprovalID).
			Str("action", event.Action).
			Msg("event consumer: decision processing failed")
	}
}

func (c *EventConsumer) handleApprovalDelegate(ctx context.Context, msg *nats.Msg) {
	var event ApprovalDelegateEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("event consumer: malformed event")
		return
	}

	if _, err := c.workflows.DelegateApproval(ctx, event.ApprovalID, event.DelegateTo, event.DelegatedBy, event.Reason); err != nil {
		c.log.Error().Err(err).
			Str("approval_id", event.ApprovalID).
			Msg("event consumer: delegation failed")
	}
}

func (c *EventConsumer) handleExpenseAction(ctx context.Context, msg *nats.Msg) {
	var event ExpenseActionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("event consumer: malformed event")
		return
	}

	var err error
	switch event.Action {
	case service.DecisionApproved:
		_, err = c.approvals.ApproveExpense(ctx, event.ExpenseID, event.ActorID, event.Notes)
	case service.DecisionRejected:
		_, err = c.approvals.RejectExpense(ctx, event.ExpenseID, event.ActorID, event.Reason, event.AllowResubmission)
	default:
		c.log.Warn().Str("action", event.Action).Msg("event consumer: unknown expense action")
		return
	}
	if err != nil {
		c.log.Error().Err(err).
			Str("expense_id", event.ExpenseID).
			Str("action", event.Action).
			Msg("event consumer: expense action failed")
	}
}
