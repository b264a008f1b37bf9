package feed

import "sort"

// State is an immutable snapshot of a reconciled feed: messages in feed
// order (newest first), the pagination cursor pointing at the oldest loaded
// row, and whether older rows remain on the server.
type State struct {
	Messages []Message
	Cursor   *Cursor
	HasMore  bool
	Loaded   bool
}

// Action is one feed state transition. Actions from different sources
// (initial load, pagination, live events) reconcile through Apply; merging
// is idempotent and order-independent, so a row arriving both live and in a
// page lands exactly once.
type Action interface {
	isAction()
}

// Reset discards all feed state.
type Reset struct{}

// SetInitial replaces the feed with the first page.
type SetInitial struct {
	Messages []Message
	HasMore  bool
}

// AddOlderPage merges a pagination page; rows already present are kept.
type AddOlderPage struct {
	Messages []Message
	HasMore  bool
}

// AddLive upserts one row from a live change event; an existing row with
// the same id is replaced. The pagination cursor is left alone: it marks a
// position reached by paging, and a live row older than it must not skip
// the unpaged rows in between.
type AddLive struct {
	Message Message
}

// RemoveLive drops one row by id.
type RemoveLive struct {
	ID string
}

func (Reset) isAction()        {}
func (SetInitial) isAction()   {}
func (AddOlderPage) isAction() {}
func (AddLive) isAction()      {}
func (RemoveLive) isAction()   {}

// Apply folds one action into the state and returns the next state. It is
// pure and total: the input state is never mutated and every action,
// including an unknown one, produces a well-formed result.
func Apply(s State, a Action) State {
	switch a := a.(type) {
	case Reset:
		return State{}

	case SetInitial:
		next := State{HasMore: a.HasMore, Loaded: true}
		next.Messages = normalize(a.Messages, nil)
		next.Cursor = tailCursor(next.Messages)
		return next

	case AddOlderPage:
		next := State{HasMore: a.HasMore, Loaded: true}
		next.Messages = normalize(s.Messages, a.Messages)
		next.Cursor = tailCursor(next.Messages)
		return next

	case AddLive:
		if a.Message.ID == "" {
			return s
		}
		next := s
		// Replace-by-id, then restore order for out-of-order arrivals.
		kept := make([]Message, 0, len(s.Messages)+1)
		for _, m := range s.Messages {
			if m.ID != a.Message.ID {
				kept = append(kept, m)
			}
		}
		next.Messages = normalize(kept, []Message{a.Message})
		return next

	case RemoveLive:
		next := s
		kept := make([]Message, 0, len(s.Messages))
		for _, m := range s.Messages {
			if m.ID != a.ID {
				kept = append(kept, m)
			}
		}
		next.Messages = kept
		return next

	default:
		return s
	}
}

// normalize merges two row sets into a fresh sorted, deduplicated slice.
// Rows in base win over rows in extra sharing an id.
func normalize(base, extra []Message) []Message {
	merged := make([]Message, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, m := range base {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range extra {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool { return before(merged[i], merged[j]) })
	return merged
}

func tailCursor(messages []Message) *Cursor {
	if len(messages) == 0 {
		return nil
	}
	c := CursorFor(messages[len(messages)-1])
	return &c
}
