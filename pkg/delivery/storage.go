package delivery

import (
	"context"
	"time"
)

// Store is the persistence contract the pipeline writes through. The
// relational store itself is external; implementations adapt it to these
// operations.
type Store interface {
	// DueScheduled returns up to limit scheduled messages whose send time
	// has passed, oldest first.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]ScheduledMessage, error)

	// ClaimScheduled transitions a message from scheduled to sending and
	// returns the claimed row. The claim is conditional: it succeeds only
	// if the current status is still scheduled, so two concurrent pipeline
	// runs can never both claim the same message. Losers get
	// ErrAlreadyClaimed.
	ClaimScheduled(ctx context.Context, id string) (*ScheduledMessage, error)

	// CancelScheduled transitions a message from scheduled to cancelled.
	// Any other starting state yields ErrInvalidTransition.
	CancelScheduled(ctx context.Context, id string) error

	// CreateMessage appends the durable message record. IDs are unique;
	// a duplicate yields ErrMessageExists.
	CreateMessage(ctx context.Context, msg Message) error

	// UpsertDeliveryRecord writes a delivery record idempotently on the
	// (MessageID, GuestID) key: the same key overwrites field-wise,
	// last write wins, never an insert conflict.
	UpsertDeliveryRecord(ctx context.Context, rec DeliveryRecord) error

	// DeliveryRecords returns every delivery record for a message.
	DeliveryRecords(ctx context.Context, messageID string) ([]DeliveryRecord, error)

	// FinalizeScheduled moves a claimed message to its terminal status and
	// persists the outcome counts and error detail.
	FinalizeScheduled(ctx context.Context, id string, status ScheduleStatus, success, failed int, errDetail string) error
}
