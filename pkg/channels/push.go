package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vowsuite/vowsuite/pkg/logger"
)

// PushConfig holds the push relay endpoint settings.
type PushConfig struct {
	Endpoint string        `env:"PUSH_RELAY_URL,required"`              // Endpoint receives batched push requests.
	APIKey   string        `env:"PUSH_RELAY_API_KEY,required"`          // APIKey authenticates against the relay.
	Timeout  time.Duration `env:"PUSH_RELAY_TIMEOUT" envDefault:"15s"` // Timeout bounds one batch request.
}

// pushRequest is the wire shape sent to the relay.
type pushRequest struct {
	Messages []pushMessage `json:"messages"`
}

type pushMessage struct {
	Token string            `json:"token"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// pushResponse is the relay's per-token outcome report.
type pushResponse struct {
	Results []pushOutcome `json:"results"`
}

type pushOutcome struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
	Ref     string `json:"ref,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HTTPPushSender delivers push notifications through a relay service that
// fans out to the platform push providers. "Success" means the relay
// accepted the message for a token, not confirmed device receipt.
type HTTPPushSender struct {
	cfg    PushConfig
	client *http.Client
	logger *slog.Logger
}

// PushOption configures an HTTPPushSender.
type PushOption func(*HTTPPushSender)

// WithPushLogger sets the logger for the HTTPPushSender.
func WithPushLogger(log *slog.Logger) PushOption {
	return func(s *HTTPPushSender) {
		s.logger = log
	}
}

// WithPushHTTPClient substitutes the HTTP client; used by tests.
func WithPushHTTPClient(c *http.Client) PushOption {
	return func(s *HTTPPushSender) {
		if c != nil {
			s.client = c
		}
	}
}

// NewHTTPPushSender creates a push sender for the given relay endpoint.
func NewHTTPPushSender(cfg PushConfig, opts ...PushOption) *HTTPPushSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	s := &HTTPPushSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Sender.
func (s *HTTPPushSender) Name() string { return "push" }

// SendBatch implements Sender. The whole batch goes to the relay in one
// request; a transport-level failure fails every outbound in the batch,
// per-token outcomes otherwise come from the relay's response.
func (s *HTTPPushSender) SendBatch(ctx context.Context, batch []Outbound) []Result {
	results := make([]Result, len(batch))
	for i, out := range batch {
		results[i] = Result{GuestID: out.GuestID, Address: out.Address}
		if out.Address == "" {
			results[i].Err = ErrEmptyAddress
		}
	}

	req := pushRequest{Messages: make([]pushMessage, 0, len(batch))}
	for _, out := range batch {
		if out.Address == "" {
			continue
		}
		req.Messages = append(req.Messages, pushMessage{
			Token: out.Address,
			Title: out.Payload.Title,
			Body:  out.Payload.Body,
			Data:  out.Payload.Data,
		})
	}
	if len(req.Messages) == 0 {
		return results
	}

	resp, err := s.post(ctx, req)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "push relay request failed",
			logger.Channel(s.Name()),
			slog.Int("batch_size", len(req.Messages)),
			logger.Error(err),
		)
		for i := range results {
			if results[i].Err == nil {
				results[i].Err = err
			}
		}
		return results
	}

	outcomes := make(map[string]pushOutcome, len(resp.Results))
	for _, o := range resp.Results {
		outcomes[o.Token] = o
	}

	for i := range results {
		if results[i].Err != nil {
			continue
		}
		o, ok := outcomes[results[i].Address]
		if !ok {
			results[i].Err = fmt.Errorf("%w: relay returned no outcome for token", ErrProviderRejected)
			continue
		}
		if !o.Success {
			results[i].Err = fmt.Errorf("%w: %s", ErrProviderRejected, o.Error)
			continue
		}
		results[i].Success = true
		results[i].ProviderRef = o.Ref
	}

	return results
}

func (s *HTTPPushSender) post(ctx context.Context, req pushRequest) (*pushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("push relay unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: relay status %d", ErrProviderRejected, httpResp.StatusCode)
	}

	var resp pushResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode relay response: %w", err)
	}
	return &resp, nil
}
