// Package events carries account lifecycle notifications to downstream workers
// (welcome mail, data cleanup) over NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"semaphore/auth-core/internal/model"
)

type Type string

const (
	UserRegistered  Type = "user.registered"
	UserDeactivated Type = "user.deactivated"
)

const DefaultSubjectPrefix = "auth."

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	UserID     string    `json:"user_id"`
	Email      *string   `json:"email,omitempty"`
	Phone      *string   `json:"phone,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewUserEvent(eventType Type, user model.User, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     user.ID,
		Email:      user.Email,
		Phone:      user.Phone,
		OccurredAt: now.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject maps an event type to its NATS subject, e.g. auth.user.registered.
func (p *NATSPublisher) Subject(eventType Type) string {
	return p.prefix + string(eventType)
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := nats.NewMsg(p.Subject(event.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	// FlushWithContext refuses contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return p.conn.FlushWithContext(ctx)
}

const flushTimeout = 5 * time.Second

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
