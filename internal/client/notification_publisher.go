package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the notification delivery service.
//
// Subject convention: notifications.expense.<event_type>
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt
// approval operations or roll back their transactions.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	OccurredAt     time.Time      `json:"occurred_at"`
	OrganizationID string         `json:"organization_id"`
	ActorID        string         `json:"actor_id"`
	Recipients     []string       `json:"recipients"`
	ResourceType   string         `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	IsActionable   bool           `json:"is_actionable,omitempty"`
	Severity       string         `json:"severity,omitempty"`
	Category       string         `json:"category,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishExpenseEvent publishes an expense approval event.
// Subject: notifications.expense.<eventType>
func (p *NotificationPublisher) PublishExpenseEvent(eventType, expenseID, organizationID, actorID string, recipients []string, payload map[string]any) {
	if p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		OccurredAt:     time.Now().UTC(),
		OrganizationID: organizationID,
		ActorID:        actorID,
		Recipients:     recipients,
		ResourceType:   "expense",
		ResourceID:     expenseID,
		IsActionable:   eventType == "approval_required" || eventType == "approval_delegated" || eventType == "approval_escalated",
		Severity:       "info",
		Category:       "expense_approval",
		Payload:        payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.expense.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("expense_id", expenseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("expense_id", expenseID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
