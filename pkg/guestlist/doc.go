// Package guestlist resolves message targeting rules into concrete,
// deduplicated recipient lists annotated with channel eligibility.
//
// A Rule selects guests three ways: everyone on the event, an explicit list
// of guest IDs, or a tag match (any-of by default, all-of with MatchAll).
// The Resolver consumes an external guest Directory and applies the
// eligibility policy: guests removed from the event never receive anything,
// and opted-out guests are skipped for announcement sends. An empty
// resolution is a defined outcome, not an error — the delivery pipeline
// short-circuits on it with a "no eligible recipients" failure instead of
// attempting sends.
package guestlist
