// Package audit records conversation events to an append-only trail.
// Recording is best effort: a broken trail never blocks a conversation.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Event is one recorded conversation event.
type Event struct {
	UID       string `json:"uid"`
	OwnerID   string `json:"owner_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedTs int64  `json:"created_ts"`
}

// Consumer receives audit events. Implementations must tolerate concurrent
// calls.
type Consumer interface {
	Consume(ctx context.Context, event *Event) error
	Close() error
}

// Trail fans events out to a consumer without ever failing the caller.
type Trail struct {
	consumer Consumer
}

// NewTrail creates an audit trail. A nil consumer disables recording.
func NewTrail(consumer Consumer) *Trail {
	return &Trail{consumer: consumer}
}

// Record appends an event to the trail. Failures are logged and dropped.
func (t *Trail) Record(ctx context.Context, ownerID, sessionID, role, content string) {
	if t == nil || t.consumer == nil {
		return
	}
	event := &Event{
		UID:       shortuuid.New(),
		OwnerID:   ownerID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedTs: time.Now().UnixMilli(),
	}
	if err := t.consumer.Consume(ctx, event); err != nil {
		slog.Warn("audit: failed to record event", "owner_id", ownerID, "role", role, "error", err)
	}
}

// Close releases the underlying consumer.
func (t *Trail) Close() error {
	if t == nil || t.consumer == nil {
		return nil
	}
	return t.consumer.Close()
}
