package channels

import (
	"context"
	"errors"
	"sync"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCreator scripts Twilio API outcomes per destination number.
type fakeCreator struct {
	mu       sync.Mutex
	failures map[string]error
	noSid    map[string]bool
	calls    []string
}

func newFakeCreator() *fakeCreator {
	return &fakeCreator{
		failures: make(map[string]error),
		noSid:    make(map[string]bool),
	}
}

func (f *fakeCreator) CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	to := ""
	if params.To != nil {
		to = *params.To
	}
	f.calls = append(f.calls, to)

	if err, ok := f.failures[to]; ok {
		return nil, err
	}
	if f.noSid[to] {
		return &api.ApiV2010Message{}, nil
	}

	sid := "SM" + to
	return &api.ApiV2010Message{Sid: &sid}, nil
}

func newTestTwilioSender(creator messageCreator) *TwilioSender {
	cfg := TwilioConfig{
		AccountSID:  "ACtest",
		AuthToken:   "secret",
		FromNumber:  "+12025550100",
		Concurrency: 2,
	}
	return NewTwilioSender(cfg, withMessageCreator(creator))
}

func TestTwilioSender_SendBatch(t *testing.T) {
	creator := newFakeCreator()
	providerErr := errors.New("carrier unavailable")
	creator.failures["+12025550102"] = providerErr
	creator.noSid["+12025550103"] = true

	sender := newTestTwilioSender(creator)

	batch := []Outbound{
		{GuestID: "g-1", Address: "+12025550101", Payload: Payload{Body: "hello"}},
		{GuestID: "g-2", Address: "+12025550102", Payload: Payload{Body: "hello"}},
		{GuestID: "g-3", Address: "+12025550103", Payload: Payload{Body: "hello"}},
		{GuestID: "g-4", Address: "", Payload: Payload{Body: "hello"}},
	}

	results := sender.SendBatch(context.Background(), batch)
	require.Len(t, results, 4)

	byGuest := make(map[string]Result, len(results))
	for _, r := range results {
		byGuest[r.GuestID] = r
	}

	assert.True(t, byGuest["g-1"].Success)
	assert.Equal(t, "SM+12025550101", byGuest["g-1"].ProviderRef)

	assert.False(t, byGuest["g-2"].Success)
	assert.ErrorIs(t, byGuest["g-2"].Err, providerErr)

	assert.False(t, byGuest["g-3"].Success)
	assert.ErrorIs(t, byGuest["g-3"].Err, ErrProviderRejected)

	assert.False(t, byGuest["g-4"].Success)
	assert.ErrorIs(t, byGuest["g-4"].Err, ErrEmptyAddress)

	// Empty address never reaches the provider.
	assert.NotContains(t, creator.calls, "")
}

func TestTwilioSender_SendBatch_IsolatesFailures(t *testing.T) {
	creator := newFakeCreator()
	creator.failures["+12025550102"] = errors.New("boom")

	sender := newTestTwilioSender(creator)

	batch := []Outbound{
		{GuestID: "g-1", Address: "+12025550101", Payload: Payload{Body: "a"}},
		{GuestID: "g-2", Address: "+12025550102", Payload: Payload{Body: "b"}},
		{GuestID: "g-3", Address: "+12025550104", Payload: Payload{Body: "c"}},
	}

	results := sender.SendBatch(context.Background(), batch)

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	assert.Equal(t, 2, succeeded, "failure for one recipient must not abort the batch")
	assert.Len(t, creator.calls, 3, "every addressable outbound is attempted")
}

func TestTwilioSender_SendBatch_CancelledContext(t *testing.T) {
	creator := newFakeCreator()
	sender := newTestTwilioSender(creator)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := sender.SendBatch(ctx, []Outbound{
		{GuestID: "g-1", Address: "+12025550101", Payload: Payload{Body: "a"}},
	})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}
