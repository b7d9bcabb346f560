package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rolesync/rolesync/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects published by the reconciliation engine. Downstream
// consumers (alerting, audit) subscribe to these; the engine never
// depends on anyone listening.
const (
	// Identity events
	IdentityLinked   = "identity.linked"
	IdentityUnlinked = "identity.unlinked"

	// Entitlement events
	EntitlementGranted = "entitlement.granted"
	EntitlementRevoked = "entitlement.revoked"
	EntitlementChecked = "entitlement.checked"
)

type IdentityLinkedEvent struct {
	Email    string    `json:"email"`
	MemberID string    `json:"member_id"`
	LinkedAt time.Time `json:"linked_at"`
}

type IdentityUnlinkedEvent struct {
	Email      string    `json:"email"`
	MemberID   string    `json:"member_id"`
	UnlinkedAt time.Time `json:"unlinked_at"`
}

type EntitlementGrantedEvent struct {
	Email     string    `json:"email,omitempty"`
	MemberID  string    `json:"member_id"`
	Source    string    `json:"source"` // "command" or "webhook"
	EventKind string    `json:"event_kind,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

type EntitlementRevokedEvent struct {
	Email     string    `json:"email,omitempty"`
	MemberID  string    `json:"member_id"`
	Source    string    `json:"source"`
	EventKind string    `json:"event_kind,omitempty"`
	RevokedAt time.Time `json:"revoked_at"`
}

type EntitlementCheckedEvent struct {
	Email     string    `json:"email"`
	MemberID  string    `json:"member_id"`
	Active    bool      `json:"active"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
