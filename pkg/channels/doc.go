// Package channels defines the uniform delivery-channel contract and its
// implementations: Twilio for SMS, an HTTP relay for push, and an in-memory
// sender for tests.
//
// Every sender takes a batch of (recipient, address, payload) instructions
// and returns a per-recipient outcome; one recipient's failure never aborts
// the batch. Both channels conform to the same Sender shape so the delivery
// pipeline's fallback logic stays channel-agnostic.
//
// Success means the provider accepted the message, not confirmed device
// receipt — carriers and push services are best-effort.
package channels
