package channels

import "context"

// Payload is the channel-agnostic message content handed to a sender.
type Payload struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Outbound is one (recipient, address, payload) send instruction. Address is
// channel-specific: an E.164 phone number for SMS, a device token for push.
type Outbound struct {
	GuestID string
	Address string
	Payload Payload
}

// Result is the per-recipient outcome of a send attempt. Err is nil iff
// Success is true. ProviderRef carries the provider's message reference when
// one was issued.
type Result struct {
	GuestID     string
	Address     string
	Success     bool
	ProviderRef string
	Err         error
}

// Sender delivers a batch of outbound messages on one channel. A failure for
// one recipient never aborts the batch: implementations return a Result for
// every Outbound they were given, in any order. Batches may be dispatched
// concurrently inside the sender; SendBatch returns only once every result
// has been collected.
type Sender interface {
	// Name identifies the channel ("push", "sms") for logs and records.
	Name() string

	// SendBatch attempts delivery for every outbound and reports
	// per-recipient outcomes.
	SendBatch(ctx context.Context, batch []Outbound) []Result
}
