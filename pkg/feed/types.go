package feed

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Message is the client-side view of one feed row. It mirrors the durable
// message record; unknown fields on the wire are dropped during decode so
// server-side schema additions never break older clients.
type Message struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodeMessage decodes a raw row image into a Message.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	if m.ID == "" {
		return Message{}, ErrMissingID
	}
	return m, nil
}

// before reports whether a sorts before b in feed order: newest first, with
// the id as a total tiebreak so rows sharing a timestamp still order
// deterministically.
func before(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Cursor is a compound pagination position: the creation time plus the id of
// the oldest loaded row. The id component keeps pagination stable when many
// rows share one timestamp; a bare timestamp cursor would skip or repeat
// them.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// CursorFor returns the pagination cursor pointing at the given row.
func CursorFor(m Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Token encodes the cursor as an opaque URL-safe string.
func (c Cursor) Token() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// ParseToken decodes a cursor token produced by Token.
func ParseToken(token string) (Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrBadCursor
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return Cursor{}, ErrBadCursor
	}
	return c, nil
}

// olderThan reports whether the row sits strictly past the cursor position
// in feed order.
func olderThan(m Message, c Cursor) bool {
	if !m.CreatedAt.Equal(c.CreatedAt) {
		return m.CreatedAt.Before(c.CreatedAt)
	}
	return m.ID < c.ID
}
