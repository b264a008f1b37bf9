package realtime

import (
	"context"
	"encoding/json"
)

// EventType classifies a change event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	// EventAll subscribes to every event type on the channel.
	EventAll EventType = "*"
)

// Event is one change notification delivered over the transport. New and Old
// carry the row images as raw JSON; consumers decode what they understand
// and drop unknown fields.
type Event struct {
	Type  EventType       `json:"type"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// ChannelConfig describes one logical change-event channel.
type ChannelConfig struct {
	// Topic names the transport-level channel to join.
	Topic string
	// Table filters events to one table; empty matches all.
	Table string
	// Type filters events to one type; EventAll matches all.
	Type EventType
	// Filter is an optional "column=value" match applied to the new row
	// (old row for deletes).
	Filter string
}

// ChannelHandlers receives channel traffic. OnEvent is required; OnError is
// invoked for mid-stream transport failures after a successful join.
type ChannelHandlers struct {
	OnEvent func(Event)
	OnError func(error)
}

// Channel is a live transport subscription handle.
type Channel interface {
	// Close leaves the channel and releases its resources.
	Close() error
}

// Transport is the shared publish/subscribe connection the manager
// multiplexes logical subscriptions over. The engine consumes it; it does
// not implement the protocol.
type Transport interface {
	// Open joins a channel and returns once the join completes. The
	// context bounds the join; exceeding its deadline is a timeout
	// failure. Events flow to the handlers until Close.
	Open(ctx context.Context, cfg ChannelConfig, h ChannelHandlers) (Channel, error)

	// SetAuth replaces the transport-level credential for subsequent
	// joins.
	SetAuth(token string)
}

// Matches reports whether an event passes the channel's table, type, and
// filter constraints.
func (c ChannelConfig) Matches(ev Event) bool {
	if c.Table != "" && c.Table != ev.Table {
		return false
	}
	if c.Type != "" && c.Type != EventAll && c.Type != ev.Type {
		return false
	}
	if c.Filter == "" {
		return true
	}
	return filterMatches(c.Filter, ev)
}

func filterMatches(filter string, ev Event) bool {
	col, want, ok := cutFilter(filter)
	if !ok {
		return false
	}

	row := ev.New
	if ev.Type == EventDelete {
		row = ev.Old
	}
	if len(row) == 0 {
		return false
	}

	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return false
	}

	got, ok := fields[col]
	if !ok {
		return false
	}
	s, ok := got.(string)
	return ok && s == want
}

func cutFilter(filter string) (col, val string, ok bool) {
	for i := range filter {
		if filter[i] == '=' {
			return filter[:i], filter[i+1:], true
		}
	}
	return "", "", false
}
