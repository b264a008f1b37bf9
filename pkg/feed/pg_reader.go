package feed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgReader reads feed pages from the messages table using keyset
// pagination. The compound (created_at, id) comparison matches the feed
// index, so each page is one ordered index range scan with no offset cost.
type PgReader struct {
	pool *pgxpool.Pool
}

// NewPgReader creates a Postgres-backed feed reader.
func NewPgReader(pool *pgxpool.Pool) (*PgReader, error) {
	if pool == nil {
		return nil, ErrReaderNil
	}
	return &PgReader{pool: pool}, nil
}

// Page implements Reader. It fetches one row past the limit to learn
// whether older rows remain without a second count query.
func (r *PgReader) Page(ctx context.Context, eventID string, cursor *Cursor, limit int) (Page, error) {
	const columns = `id, event_id, content, type, sender_id, created_at`

	var (
		rows pgx.Rows
		err  error
	)
	if cursor == nil {
		rows, err = r.pool.Query(ctx, `
			SELECT `+columns+`
			FROM messages
			WHERE event_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, eventID, limit+1)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+columns+`
			FROM messages
			WHERE event_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, eventID, cursor.CreatedAt, cursor.ID, limit+1)
	}
	if err != nil {
		return Page{}, fmt.Errorf("failed to query feed page: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.EventID, &m.Content, &m.Type, &m.SenderID, &m.CreatedAt); err != nil {
			return Page{}, fmt.Errorf("failed to scan feed row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("failed to read feed page: %w", err)
	}

	page := Page{HasMore: len(messages) > limit}
	if page.HasMore {
		messages = messages[:limit]
	}
	page.Messages = messages
	return page, nil
}

var _ Reader = (*PgReader)(nil)
