package delivery

import (
	"time"

	"github.com/vowsuite/vowsuite/pkg/guestlist"
)

// ScheduleStatus is the lifecycle state of a scheduled message.
type ScheduleStatus string

const (
	StatusScheduled ScheduleStatus = "scheduled"
	StatusSending   ScheduleStatus = "sending"
	StatusSent      ScheduleStatus = "sent"
	StatusFailed    ScheduleStatus = "failed"
	StatusCancelled ScheduleStatus = "cancelled"
)

// CanTransition reports whether a scheduled message may move between the two
// states. Cancellation is reachable only from scheduled; sent and failed are
// terminal.
func CanTransition(from, to ScheduleStatus) bool {
	switch from {
	case StatusScheduled:
		return to == StatusSending || to == StatusCancelled
	case StatusSending:
		return to == StatusSent || to == StatusFailed
	default:
		return false
	}
}

// ScheduledMessage is a host-authored message queued for future send.
// Content and send time stay editable while the status is scheduled; once
// the pipeline claims it, only the pipeline mutates it, and once sent or
// failed it is immutable apart from audit counters.
type ScheduledMessage struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	HostID       string         `json:"host_id"`
	Content      string         `json:"content"`
	Rule         guestlist.Rule `json:"rule"`
	SendAt       time.Time      `json:"send_at"`
	Status       ScheduleStatus `json:"status"`
	Version      int            `json:"version"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	ErrorDetail  string         `json:"error_detail,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// MessageType classifies a durable message for the guest feed.
type MessageType string

const (
	MessageAnnouncement MessageType = "announcement"
	MessageDirect       MessageType = "direct"
)

// Message is the durable, append-only record created exactly once when a
// scheduled message is claimed. It is what guests see in their feed; it is
// never mutated after creation.
type Message struct {
	ID        string      `json:"id"`
	EventID   string      `json:"event_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	SenderID  string      `json:"sender_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// ChannelStatus is the per-channel outcome recorded on a delivery record.
type ChannelStatus string

const (
	ChannelPending       ChannelStatus = "pending"
	ChannelSent          ChannelStatus = "sent"
	ChannelFailed        ChannelStatus = "failed"
	ChannelNotApplicable ChannelStatus = "not_applicable"
)

// DeliveryRecord is the per-recipient, per-channel outcome of a send,
// composite-keyed by (MessageID, GuestID). Writes go through an idempotent
// upsert: the same key overwrites, never duplicates, so retries and
// duplicate event replay cannot create a second row.
type DeliveryRecord struct {
	MessageID string `json:"message_id"`
	GuestID   string `json:"guest_id"`

	PushStatus      ChannelStatus `json:"push_status"`
	PushProviderRef string        `json:"push_provider_ref,omitempty"`
	SMSStatus       ChannelStatus `json:"sms_status"`
	SMSProviderRef  string        `json:"sms_provider_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Delivered reports whether any attempted channel succeeded for this
// recipient.
func (r DeliveryRecord) Delivered() bool {
	return r.PushStatus == ChannelSent || r.SMSStatus == ChannelSent
}
