package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vowsuite/vowsuite/pkg/channels"
	"github.com/vowsuite/vowsuite/pkg/guestlist"
)

type pipelineFixture struct {
	store    *MemoryStore
	dir      *guestlist.MemoryDirectory
	push     *channels.MemorySender
	sms      *channels.MemorySender
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	store := NewMemoryStore()
	dir := guestlist.NewMemoryDirectory()
	resolver, err := guestlist.NewResolver(dir)
	require.NoError(t, err)

	push := channels.NewMemorySender("push")
	sms := channels.NewMemorySender("sms")

	pipeline, err := NewPipeline(store, resolver, push, sms)
	require.NoError(t, err)

	return &pipelineFixture{store: store, dir: dir, push: push, sms: sms, pipeline: pipeline}
}

func (f *pipelineFixture) schedule(id string) ScheduledMessage {
	sm := ScheduledMessage{
		ID:      id,
		EventID: "evt-1",
		HostID:  "host-1",
		Content: "Dinner starts at 7!",
		Rule:    guestlist.TargetAll(),
		SendAt:  time.Now().Add(-time.Minute),
	}
	f.store.AddScheduled(sm)
	return sm
}

// Three recipients: one push-capable whose token succeeds, one push-capable
// whose tokens all fail and falls back to SMS, one with only a valid phone.
// All three end up delivered; status sent, 3/0.
func TestPipeline_Process_PushWithSMSFallback(t *testing.T) {
	f := newPipelineFixture(t)
	f.dir.AddGuests("evt-1",
		guestlist.Guest{ID: "g-push", PushTokens: []string{"tok-ok"}},
		guestlist.Guest{ID: "g-fallback", Phone: "+12025550123", PushTokens: []string{"tok-bad-1", "tok-bad-2"}},
		guestlist.Guest{ID: "g-phone", Phone: "+12025550124"},
	)
	f.push.FailAddress("tok-bad-1", channels.ErrProviderRejected)
	f.push.FailAddress("tok-bad-2", channels.ErrProviderRejected)

	f.schedule("sch-1")
	f.pipeline.Process(context.Background(), "sch-1")

	sm, ok := f.store.GetScheduled("sch-1")
	require.True(t, ok)
	assert.Equal(t, StatusSent, sm.Status)
	assert.Equal(t, 3, sm.SuccessCount)
	assert.Equal(t, 0, sm.FailureCount)

	msgs := f.store.Messages()
	require.Len(t, msgs, 1)

	records, err := f.store.DeliveryRecords(context.Background(), msgs[0].ID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	byGuest := make(map[string]DeliveryRecord)
	for _, r := range records {
		byGuest[r.GuestID] = r
	}

	assert.Equal(t, ChannelSent, byGuest["g-push"].PushStatus)
	assert.Equal(t, ChannelNotApplicable, byGuest["g-push"].SMSStatus, "no fallback after push success")

	assert.Equal(t, ChannelFailed, byGuest["g-fallback"].PushStatus)
	assert.Equal(t, ChannelSent, byGuest["g-fallback"].SMSStatus)

	assert.Equal(t, ChannelNotApplicable, byGuest["g-phone"].PushStatus)
	assert.Equal(t, ChannelSent, byGuest["g-phone"].SMSStatus)

	// Fallback SMS went only to the two undelivered recipients.
	assert.Len(t, f.sms.Sent(), 2)
}

func TestPipeline_Process_AnyTokenSuccessCountsAsPushDelivered(t *testing.T) {
	f := newPipelineFixture(t)
	f.dir.AddGuests("evt-1",
		guestlist.Guest{ID: "g-1", Phone: "+12025550123", PushTokens: []string{"tok-bad", "tok-ok"}},
	)
	f.push.FailAddress("tok-bad", channels.ErrProviderRejected)

	f.schedule("sch-1")
	f.pipeline.Process(context.Background(), "sch-1")

	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	records, err := f.store.DeliveryRecords(context.Background(), msgs[0].ID)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, ChannelSent, records[0].PushStatus)
	assert.Empty(t, f.sms.Sent(), "no SMS fallback when any token succeeded")
}

func TestPipeline_Process_NoCapabilityRecordedFailedWithoutAttempt(t *testing.T) {
	f := newPipelineFixture(t)
	f.dir.AddGuests("evt-1",
		guestlist.Guest{ID: "g-none"},
		guestlist.Guest{ID: "g-bad-phone", Phone: "12"},
	)

	f.schedule("sch-1")
	f.pipeline.Process(context.Background(), "sch-1")

	sm, _ := f.store.GetScheduled("sch-1")
	assert.Equal(t, StatusFailed, sm.Status, "nobody delivered")
	assert.Equal(t, 0, sm.SuccessCount)
	assert.Equal(t, 2, sm.FailureCount)

	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	records, err := f.store.DeliveryRecords(context.Background(), msgs[0].ID)
	require.NoError(t, err)

	byGuest := make(map[string]DeliveryRecord)
	for _, r := range records {
		byGuest[r.GuestID] = r
	}

	assert.Equal(t, ChannelNotApplicable, byGuest["g-none"].PushStatus)
	assert.Equal(t, ChannelNotApplicable, byGuest["g-none"].SMSStatus)
	assert.Equal(t, ChannelFailed, byGuest["g-bad-phone"].SMSStatus, "invalid phone recorded failed")

	assert.Empty(t, f.push.Sent())
	assert.Empty(t, f.sms.Sent(), "no send attempted for invalid or missing addresses")
}

func TestPipeline_Process_NoRecipients(t *testing.T) {
	f := newPipelineFixture(t)

	f.schedule("sch-1")
	f.pipeline.Process(context.Background(), "sch-1")

	sm, _ := f.store.GetScheduled("sch-1")
	assert.Equal(t, StatusFailed, sm.Status)
	assert.Equal(t, "no eligible recipients", sm.ErrorDetail)
	assert.Empty(t, f.store.Messages(), "no durable message without recipients")
	assert.Empty(t, f.push.Sent())
	assert.Empty(t, f.sms.Sent())
}

func TestPipeline_Process_ClaimLoserNoOps(t *testing.T) {
	f := newPipelineFixture(t)
	f.dir.AddGuests("evt-1", guestlist.Guest{ID: "g-1", PushTokens: []string{"tok"}})
	f.schedule("sch-1")

	// First run claims and completes.
	f.pipeline.Process(context.Background(), "sch-1")
	require.Len(t, f.store.Messages(), 1)

	// Second run must lose the claim and do nothing.
	f.pipeline.Process(context.Background(), "sch-1")
	assert.Len(t, f.store.Messages(), 1, "loser must not create a second message")
}

func TestPipeline_Process_ConcurrentClaims(t *testing.T) {
	f := newPipelineFixture(t)
	f.dir.AddGuests("evt-1", guestlist.Guest{ID: "g-1", PushTokens: []string{"tok"}})
	f.schedule("sch-1")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.pipeline.Process(context.Background(), "sch-1")
		}()
	}
	wg.Wait()

	assert.Len(t, f.store.Messages(), 1, "exactly one claimer wins")
}

type resolveFailDirectory struct{}

func (resolveFailDirectory) ListGuests(ctx context.Context, eventID string) ([]guestlist.Guest, error) {
	return nil, errors.New("directory offline")
}

func TestPipeline_Process_ResolutionErrorFinalizesFailed(t *testing.T) {
	store := NewMemoryStore()
	resolver, err := guestlist.NewResolver(resolveFailDirectory{})
	require.NoError(t, err)

	pipeline, err := NewPipeline(store, resolver, channels.NewMemorySender("push"), channels.NewMemorySender("sms"))
	require.NoError(t, err)

	store.AddScheduled(ScheduledMessage{
		ID: "sch-1", EventID: "evt-1", Rule: guestlist.TargetAll(), SendAt: time.Now(),
	})
	pipeline.Process(context.Background(), "sch-1")

	sm, _ := store.GetScheduled("sch-1")
	assert.Equal(t, StatusFailed, sm.Status)
	assert.Contains(t, sm.ErrorDetail, "recipient resolution failed")
}

func TestPipeline_ProcessDue_FailureIsolation(t *testing.T) {
	f := newPipelineFixture(t)
	f.dir.AddGuests("evt-1", guestlist.Guest{ID: "g-1", PushTokens: []string{"tok"}})

	// sch-empty targets a tag nobody carries and will fail; sch-ok must
	// still be processed afterwards.
	f.store.AddScheduled(ScheduledMessage{
		ID: "sch-empty", EventID: "evt-1", Rule: guestlist.TargetTags("vendors"),
		SendAt: time.Now().Add(-2 * time.Minute),
	})
	f.schedule("sch-ok")

	processed, err := f.pipeline.ProcessDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	failed, _ := f.store.GetScheduled("sch-empty")
	sent, _ := f.store.GetScheduled("sch-ok")
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, StatusSent, sent.Status)
}
