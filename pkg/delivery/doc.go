// Package delivery implements the scheduled message pipeline: claiming a
// due message exclusively, resolving its recipients, creating the durable
// feed message, attempting push with per-recipient SMS fallback, recording
// per-channel outcomes idempotently, and finalizing the schedule status.
//
// The state machine per scheduled message is
//
//	scheduled -> sending -> {sent | failed}
//
// with cancelled reachable only from scheduled. The claim is conditional
// (status must still be scheduled), which makes the pipeline safe to run
// from many concurrent worker processes without any distributed lock:
// losers of the race simply no-op.
//
// "Sent" means at least one recipient was delivered on at least one
// channel; partial failure is reported as counts, never as a blocking
// error. Delivery itself is best-effort: a success is the provider
// accepting the message, not confirmed device receipt.
package delivery
