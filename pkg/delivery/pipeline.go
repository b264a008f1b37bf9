package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vowsuite/vowsuite/pkg/channels"
	"github.com/vowsuite/vowsuite/pkg/guestlist"
	"github.com/vowsuite/vowsuite/pkg/logger"
)

// Pipeline orchestrates one scheduled message end-to-end: claim, resolve
// recipients, create the durable message, attempt push, fall back to SMS per
// recipient, upsert delivery records, finalize status.
//
// "Delivered" throughout means the provider accepted the message, not
// confirmed device receipt; carriers and push services are best-effort.
type Pipeline struct {
	store    Store
	resolver *guestlist.Resolver
	push     channels.Sender
	sms      channels.Sender
	region   string
	logger   *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger for the Pipeline.
func WithPipelineLogger(log *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = log
	}
}

// WithDefaultRegion sets the region used when normalizing phone numbers
// without a country code. Defaults to "US".
func WithDefaultRegion(region string) PipelineOption {
	return func(p *Pipeline) {
		if region != "" {
			p.region = region
		}
	}
}

// NewPipeline creates a delivery pipeline. Push and SMS senders both conform
// to the channels.Sender contract, keeping the fallback logic
// channel-agnostic.
func NewPipeline(store Store, resolver *guestlist.Resolver, push, sms channels.Sender, opts ...PipelineOption) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if resolver == nil {
		return nil, ErrResolverNil
	}
	if push == nil || sms == nil {
		return nil, ErrSenderNil
	}

	p := &Pipeline{
		store:    store,
		resolver: resolver,
		push:     push,
		sms:      sms,
		region:   "US",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProcessDue claims and processes every ready scheduled message one at a
// time. A terminal failure for one message never stops the loop; the number
// of processed messages is returned.
func (p *Pipeline) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := p.store.DueScheduled(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due messages: %w", err)
	}

	processed := 0
	for _, sm := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		p.Process(ctx, sm.ID)
		processed++
	}
	return processed, nil
}

// Process runs the delivery state machine for one scheduled message. All
// errors are terminal for this message only: they are recorded on the
// schedule and never propagate, so a bad message cannot crash the
// processing of subsequent ones.
func (p *Pipeline) Process(ctx context.Context, scheduleID string) {
	claimed, err := p.store.ClaimScheduled(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			// Another worker owns it; silent no-op.
			p.logger.LogAttrs(ctx, slog.LevelDebug, "schedule already claimed",
				logger.ScheduleID(scheduleID),
			)
			return
		}
		p.logger.LogAttrs(ctx, slog.LevelError, "failed to claim schedule",
			logger.ScheduleID(scheduleID),
			logger.Error(err),
		)
		return
	}

	recipients, err := p.resolver.Resolve(ctx, claimed.EventID, claimed.Rule)
	if err != nil {
		p.finalize(ctx, claimed.ID, StatusFailed, 0, 0, fmt.Sprintf("recipient resolution failed: %v", err))
		return
	}
	if len(recipients) == 0 {
		p.finalize(ctx, claimed.ID, StatusFailed, 0, 0, "no eligible recipients")
		return
	}

	msg := Message{
		ID:        uuid.New().String(),
		EventID:   claimed.EventID,
		Content:   claimed.Content,
		Type:      MessageAnnouncement,
		SenderID:  claimed.HostID,
		CreatedAt: time.Now(),
	}
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		p.finalize(ctx, claimed.ID, StatusFailed, 0, 0, fmt.Sprintf("message creation failed: %v", err))
		return
	}

	outcomes := p.deliver(ctx, msg, recipients)

	success, failed := 0, 0
	for _, rec := range outcomes {
		if rec.Delivered() {
			success++
		} else {
			failed++
		}
		if err := p.store.UpsertDeliveryRecord(ctx, rec); err != nil {
			// Record-keeping failure is isolated per recipient too.
			p.logger.LogAttrs(ctx, slog.LevelError, "failed to upsert delivery record",
				logger.MessageID(msg.ID),
				logger.GuestID(rec.GuestID),
				logger.Error(err),
			)
		}
	}

	status := StatusSent
	if success == 0 {
		status = StatusFailed
	}
	p.finalize(ctx, claimed.ID, status, success, failed, "")

	p.logger.LogAttrs(ctx, slog.LevelInfo, "schedule processed",
		logger.ScheduleID(claimed.ID),
		logger.MessageID(msg.ID),
		logger.EventID(claimed.EventID),
		slog.Int("delivered", success),
		slog.Int("failed", failed),
	)
}

// deliver runs the two-channel attempt for every recipient and returns one
// delivery record per recipient. A channel failure for one recipient never
// aborts the batch.
func (p *Pipeline) deliver(ctx context.Context, msg Message, recipients []guestlist.Recipient) []DeliveryRecord {
	payload := channels.Payload{
		Title: "New message",
		Body:  msg.Content,
		Data: map[string]string{
			"event_id":   msg.EventID,
			"message_id": msg.ID,
		},
	}

	records := make(map[string]*DeliveryRecord, len(recipients))
	for _, r := range recipients {
		records[r.GuestID] = &DeliveryRecord{
			MessageID:  msg.ID,
			GuestID:    r.GuestID,
			PushStatus: ChannelNotApplicable,
			SMSStatus:  ChannelNotApplicable,
		}
	}

	// Push phase: one outbound per device token for push-capable
	// recipients. A recipient counts as push-delivered if any token
	// succeeded.
	var pushBatch []channels.Outbound
	for _, r := range recipients {
		for _, token := range r.PushTokens {
			pushBatch = append(pushBatch, channels.Outbound{
				GuestID: r.GuestID,
				Address: token,
				Payload: payload,
			})
		}
		if r.HasPush() {
			records[r.GuestID].PushStatus = ChannelPending
		}
	}
	if len(pushBatch) > 0 {
		for _, res := range p.push.SendBatch(ctx, pushBatch) {
			rec := records[res.GuestID]
			if rec == nil {
				continue
			}
			if res.Success {
				rec.PushStatus = ChannelSent
				if rec.PushProviderRef == "" {
					rec.PushProviderRef = res.ProviderRef
				}
			} else if rec.PushStatus != ChannelSent {
				rec.PushStatus = ChannelFailed
			}
		}
	}

	// SMS fallback: every recipient without a successful push attempt,
	// including those with zero tokens. No valid phone means no attempt
	// and a failed channel outcome.
	var smsBatch []channels.Outbound
	for _, r := range recipients {
		rec := records[r.GuestID]
		if rec.PushStatus == ChannelSent {
			continue
		}
		if !r.HasPhone() {
			continue
		}

		normalized, err := channels.NormalizePhone(r.Phone, p.region)
		if err != nil {
			rec.SMSStatus = ChannelFailed
			p.logger.LogAttrs(ctx, slog.LevelWarn, "invalid phone, sms not attempted",
				logger.MessageID(msg.ID),
				logger.GuestID(r.GuestID),
				logger.Error(err),
			)
			continue
		}

		rec.SMSStatus = ChannelPending
		smsBatch = append(smsBatch, channels.Outbound{
			GuestID: r.GuestID,
			Address: normalized,
			Payload: payload,
		})
	}
	if len(smsBatch) > 0 {
		for _, res := range p.sms.SendBatch(ctx, smsBatch) {
			rec := records[res.GuestID]
			if rec == nil {
				continue
			}
			if res.Success {
				rec.SMSStatus = ChannelSent
				rec.SMSProviderRef = res.ProviderRef
			} else {
				rec.SMSStatus = ChannelFailed
			}
		}
	}

	out := make([]DeliveryRecord, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, *records[r.GuestID])
	}
	return out
}

func (p *Pipeline) finalize(ctx context.Context, scheduleID string, status ScheduleStatus, success, failed int, errDetail string) {
	if err := p.store.FinalizeScheduled(ctx, scheduleID, status, success, failed, errDetail); err != nil {
		p.logger.LogAttrs(ctx, slog.LevelError, "failed to finalize schedule",
			logger.ScheduleID(scheduleID),
			slog.String("status", string(status)),
			logger.Error(err),
		)
		return
	}
	if status == StatusFailed && errDetail != "" {
		p.logger.LogAttrs(ctx, slog.LevelWarn, "schedule failed",
			logger.ScheduleID(scheduleID),
			slog.String("reason", errDetail),
		)
	}
}
