package delivery

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vowsuite/vowsuite/pkg/pg"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PgStore implements Store on PostgreSQL. The conditional claim and the
// composite-key upsert are expressed directly in SQL so they hold across
// concurrent worker processes without any application-level locking.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a Postgres-backed store.
func NewPgStore(pool *pgxpool.Pool) (*PgStore, error) {
	if pool == nil {
		return nil, ErrStoreNil
	}
	return &PgStore{pool: pool}, nil
}

// Migrate applies the messaging schema migrations.
func (s *PgStore) Migrate(ctx context.Context, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, s.pool, migrationsFS, "migrations", cfg, log)
}

const scheduledColumns = `id, event_id, host_id, content, rule, send_at, status, version,
	success_count, failure_count, error_detail, created_at, updated_at`

func scanScheduled(row pgx.Row) (*ScheduledMessage, error) {
	var sm ScheduledMessage
	var rule []byte
	err := row.Scan(&sm.ID, &sm.EventID, &sm.HostID, &sm.Content, &rule, &sm.SendAt,
		&sm.Status, &sm.Version, &sm.SuccessCount, &sm.FailureCount, &sm.ErrorDetail,
		&sm.CreatedAt, &sm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rule, &sm.Rule); err != nil {
		return nil, fmt.Errorf("failed to decode targeting rule: %w", err)
	}
	return &sm, nil
}

// DueScheduled implements Store.
func (s *PgStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]ScheduledMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduledColumns+`
		FROM scheduled_messages
		WHERE status = 'scheduled' AND send_at <= $1
		ORDER BY send_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due messages: %w", err)
	}
	defer rows.Close()

	var due []ScheduledMessage
	for rows.Next() {
		sm, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled message: %w", err)
		}
		due = append(due, *sm)
	}
	return due, rows.Err()
}

// ClaimScheduled implements Store. The WHERE clause makes the claim
// conditional: only a row still in the scheduled state transitions, so
// concurrent claimers cannot both win.
func (s *PgStore) ClaimScheduled(ctx context.Context, id string) (*ScheduledMessage, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE scheduled_messages
		SET status = 'sending', version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING `+scheduledColumns, id)

	sm, err := scanScheduled(row)
	if err == nil {
		return sm, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to claim scheduled message: %w", err)
	}

	// No row updated: either the message is gone or someone else claimed it.
	var status ScheduleStatus
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM scheduled_messages WHERE id = $1`, id).Scan(&status)
	if pg.IsNotFoundError(err) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect scheduled message: %w", err)
	}
	return nil, fmt.Errorf("%w: status is %s", ErrAlreadyClaimed, status)
}

// CancelScheduled implements Store.
func (s *PgStore) CancelScheduled(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'cancelled', version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled message: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status ScheduleStatus
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM scheduled_messages WHERE id = $1`, id).Scan(&status)
	if pg.IsNotFoundError(err) {
		return ErrScheduleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect scheduled message: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, StatusCancelled)
}

// CreateScheduled inserts a new scheduled message authored by the host.
func (s *PgStore) CreateScheduled(ctx context.Context, sm ScheduledMessage) error {
	rule, err := json.Marshal(sm.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode targeting rule: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scheduled_messages (id, event_id, host_id, content, rule, send_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'scheduled')`,
		sm.ID, sm.EventID, sm.HostID, sm.Content, rule, sm.SendAt)
	if err != nil {
		return fmt.Errorf("failed to create scheduled message: %w", err)
	}
	return nil
}

// CreateMessage implements Store. Messages are append-only; a duplicate ID
// surfaces as ErrMessageExists rather than silently overwriting.
func (s *PgStore) CreateMessage(ctx context.Context, msg Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, event_id, content, type, sender_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.EventID, msg.Content, msg.Type, msg.SenderID, msg.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrMessageExists, msg.ID)
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// UpsertDeliveryRecord implements Store. ON CONFLICT on the composite key
// guarantees at most one row per (message, guest) with last-write-wins
// fields, which is what makes retries and duplicate replay safe.
func (s *PgStore) UpsertDeliveryRecord(ctx context.Context, rec DeliveryRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_records
			(message_id, guest_id, push_status, push_provider_ref, sms_status, sms_provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id, guest_id) DO UPDATE SET
			push_status = EXCLUDED.push_status,
			push_provider_ref = EXCLUDED.push_provider_ref,
			sms_status = EXCLUDED.sms_status,
			sms_provider_ref = EXCLUDED.sms_provider_ref,
			updated_at = now()`,
		rec.MessageID, rec.GuestID, rec.PushStatus, rec.PushProviderRef,
		rec.SMSStatus, rec.SMSProviderRef)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery record: %w", err)
	}
	return nil
}

// DeliveryRecords implements Store.
func (s *PgStore) DeliveryRecords(ctx context.Context, messageID string) ([]DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, guest_id, push_status, push_provider_ref,
			sms_status, sms_provider_ref, created_at, updated_at
		FROM delivery_records
		WHERE message_id = $1
		ORDER BY guest_id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery records: %w", err)
	}
	defer rows.Close()

	var records []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		if err := rows.Scan(&rec.MessageID, &rec.GuestID, &rec.PushStatus, &rec.PushProviderRef,
			&rec.SMSStatus, &rec.SMSProviderRef, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FinalizeScheduled implements Store.
func (s *PgStore) FinalizeScheduled(ctx context.Context, id string, status ScheduleStatus, success, failed int, errDetail string) error {
	if status != StatusSent && status != StatusFailed {
		return fmt.Errorf("%w: finalize to %s", ErrInvalidTransition, status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = $2, success_count = $3, failure_count = $4,
			error_detail = $5, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'sending'`,
		id, status, success, failed, errDetail)
	if err != nil {
		return fmt.Errorf("failed to finalize scheduled message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current ScheduleStatus
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM scheduled_messages WHERE id = $1`, id).Scan(&current)
		if pg.IsNotFoundError(err) {
			return ErrScheduleNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to inspect scheduled message: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	return nil
}

var (
	_ Store = (*PgStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
