package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vowsuite/vowsuite/pkg/logger"
	"github.com/vowsuite/vowsuite/pkg/realtime"
)

const defaultPageSize = 30

// Observer receives every state snapshot a feed publishes.
type Observer func(State)

// Feed reconciles one event's message list from two sources: paged reads
// from durable storage and live change events. It owns the state and
// serializes every mutation through the reducer, so concurrent page loads
// and live events can never interleave into a corrupt snapshot.
type Feed struct {
	reader   Reader
	eventID  string
	pageSize int
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	loading   bool
	observers []Observer
}

// Option configures a Feed.
type Option func(*Feed)

// WithPageSize overrides the page size.
func WithPageSize(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithLogger sets the logger for the Feed.
func WithLogger(log *slog.Logger) Option {
	return func(f *Feed) {
		f.logger = log
	}
}

// New creates a feed for one event.
func New(reader Reader, eventID string, opts ...Option) (*Feed, error) {
	if reader == nil {
		return nil, ErrReaderNil
	}
	if eventID == "" {
		return nil, ErrEventIDEmpty
	}

	f := &Feed{
		reader:   reader,
		eventID:  eventID,
		pageSize: defaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Observe registers an observer; it is immediately called with the current
// state and then on every change.
func (f *Feed) Observe(fn Observer) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.observers = append(f.observers, fn)
	snapshot := f.state
	f.mu.Unlock()
	fn(snapshot)
}

// State returns the current snapshot.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// dispatch folds an action into the state under the lock and notifies
// observers outside it.
func (f *Feed) dispatch(a Action) State {
	f.mu.Lock()
	f.state = Apply(f.state, a)
	snapshot := f.state
	observers := make([]Observer, len(f.observers))
	copy(observers, f.observers)
	f.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
	return snapshot
}

// LoadInitial replaces the feed with the newest page. Concurrent calls
// collapse: while one load is in flight the others return immediately.
func (f *Feed) LoadInitial(ctx context.Context) error {
	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return nil
	}
	f.loading = true
	f.mu.Unlock()
	defer f.clearLoading()

	page, err := f.reader.Page(ctx, f.eventID, nil, f.pageSize)
	if err != nil {
		f.logger.LogAttrs(ctx, slog.LevelError, "feed initial load failed",
			logger.EventID(f.eventID),
			logger.Error(err),
		)
		return err
	}

	f.dispatch(SetInitial{Messages: page.Messages, HasMore: page.HasMore})
	return nil
}

// LoadOlder fetches the page past the current cursor and merges it. It
// no-ops when the feed reports no more rows, and fails before the initial
// load has populated a cursor.
func (f *Feed) LoadOlder(ctx context.Context) error {
	f.mu.Lock()
	if !f.state.Loaded {
		f.mu.Unlock()
		return ErrNotLoaded
	}
	if !f.state.HasMore || f.state.Cursor == nil || f.loading {
		f.mu.Unlock()
		return nil
	}
	f.loading = true
	cursor := *f.state.Cursor
	f.mu.Unlock()
	defer f.clearLoading()

	page, err := f.reader.Page(ctx, f.eventID, &cursor, f.pageSize)
	if err != nil {
		f.logger.LogAttrs(ctx, slog.LevelError, "feed pagination failed",
			logger.EventID(f.eventID),
			logger.Error(err),
		)
		return err
	}

	f.dispatch(AddOlderPage{Messages: page.Messages, HasMore: page.HasMore})
	return nil
}

func (f *Feed) clearLoading() {
	f.mu.Lock()
	f.loading = false
	f.mu.Unlock()
}

// Reset discards the feed state.
func (f *Feed) Reset() {
	f.dispatch(Reset{})
}

// HandleEvent folds one live change event into the feed. Rows that fail to
// decode are dropped with a log line; a malformed event must not poison the
// feed.
func (f *Feed) HandleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		m, err := DecodeMessage(ev.New)
		if err != nil {
			f.logger.LogAttrs(context.Background(), slog.LevelWarn, "dropping undecodable feed event",
				logger.EventID(f.eventID),
				logger.Error(err),
			)
			return
		}
		if m.EventID != "" && m.EventID != f.eventID {
			return
		}
		f.dispatch(AddLive{Message: m})

	case realtime.EventDelete:
		m, err := DecodeMessage(ev.Old)
		if err != nil {
			f.logger.LogAttrs(context.Background(), slog.LevelWarn, "dropping undecodable feed event",
				logger.EventID(f.eventID),
				logger.Error(err),
			)
			return
		}
		f.dispatch(RemoveLive{ID: m.ID})
	}
}

// Attach subscribes the feed to live change events for its event through a
// subscription manager. The returned teardown detaches it.
func (f *Feed) Attach(mgr *realtime.Manager) (realtime.Teardown, error) {
	return mgr.Subscribe("feed:"+f.eventID, realtime.SubscriptionConfig{
		Channel: realtime.ChannelConfig{
			Topic:  "events:" + f.eventID,
			Table:  "messages",
			Type:   realtime.EventAll,
			Filter: "event_id=" + f.eventID,
		},
		OnData: f.HandleEvent,
	})
}
