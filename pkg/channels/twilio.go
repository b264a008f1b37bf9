package channels

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/vowsuite/vowsuite/pkg/logger"
)

// TwilioConfig holds Twilio API credentials and sending options.
type TwilioConfig struct {
	AccountSID  string `env:"TWILIO_ACCOUNT_SID,required"`
	AuthToken   string `env:"TWILIO_AUTH_TOKEN,required"`
	FromNumber  string `env:"TWILIO_FROM_NUMBER,required"`
	Concurrency int    `env:"TWILIO_SEND_CONCURRENCY" envDefault:"4"` // parallel sends per batch
}

// messageCreator is the slice of the Twilio REST API the sender uses,
// extracted so tests can substitute a fake.
type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// TwilioSender delivers SMS through the Twilio messaging API. Each outbound
// is attempted independently; one recipient's failure never aborts the
// batch.
type TwilioSender struct {
	creator     messageCreator
	from        string
	concurrency int
	logger      *slog.Logger
}

// TwilioOption configures a TwilioSender.
type TwilioOption func(*TwilioSender)

// WithTwilioLogger sets the logger for the TwilioSender.
func WithTwilioLogger(log *slog.Logger) TwilioOption {
	return func(s *TwilioSender) {
		s.logger = log
	}
}

// withMessageCreator substitutes the Twilio API client; used by tests.
func withMessageCreator(c messageCreator) TwilioOption {
	return func(s *TwilioSender) {
		s.creator = c
	}
}

// NewTwilioSender creates an SMS sender backed by the Twilio REST client.
func NewTwilioSender(cfg TwilioConfig, opts ...TwilioOption) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	s := &TwilioSender{
		creator:     client.Api,
		from:        cfg.FromNumber,
		concurrency: cfg.Concurrency,
		logger:      slog.Default(),
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Sender.
func (s *TwilioSender) Name() string { return "sms" }

// SendBatch implements Sender. Sends are fanned out with bounded
// concurrency and collected before returning.
func (s *TwilioSender) SendBatch(ctx context.Context, batch []Outbound) []Result {
	results := make([]Result, len(batch))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i, out := range batch {
		wg.Add(1)
		go func(i int, out Outbound) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = s.send(ctx, out)
		}(i, out)
	}

	wg.Wait()
	return results
}

func (s *TwilioSender) send(ctx context.Context, out Outbound) Result {
	res := Result{GuestID: out.GuestID, Address: out.Address}

	if out.Address == "" {
		res.Err = ErrEmptyAddress
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	params := &api.CreateMessageParams{}
	params.SetTo(out.Address)
	params.SetFrom(s.from)
	params.SetBody(out.Payload.Body)

	resp, err := s.creator.CreateMessage(params)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "twilio send failed",
			logger.GuestID(out.GuestID),
			logger.Channel(s.Name()),
			logger.Error(err),
		)
		res.Err = err
		return res
	}
	if resp == nil || resp.Sid == nil {
		res.Err = errors.Join(ErrProviderRejected, errors.New("no message sid returned"))
		return res
	}

	res.Success = true
	res.ProviderRef = *resp.Sid
	return res
}
