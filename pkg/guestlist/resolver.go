package guestlist

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/vowsuite/vowsuite/pkg/logger"
)

// Guest is the directory's view of a single invitee.
type Guest struct {
	ID         string
	Phone      string
	PushTokens []string
	Tags       []string
	OptedOut   bool
	RemovedAt  *time.Time
}

// Recipient is a resolved delivery target with its channel eligibility.
// Recipients are recomputed per send and never persisted.
type Recipient struct {
	GuestID    string
	Phone      string
	PushTokens []string
}

// HasPhone reports whether the recipient has any phone number on file.
// Number validity is the channel layer's concern.
func (r Recipient) HasPhone() bool {
	return r.Phone != ""
}

// HasPush reports whether the recipient has at least one active push token.
func (r Recipient) HasPush() bool {
	return len(r.PushTokens) > 0
}

// Directory is the external guest store consumed by the resolver.
type Directory interface {
	// ListGuests returns every guest attached to the event, including
	// removed and opted-out ones; filtering is the resolver's job.
	ListGuests(ctx context.Context, eventID string) ([]Guest, error)
}

// Resolver turns a targeting rule into a concrete, deduplicated recipient
// list. Removed guests are always excluded; opted-out guests are excluded
// from announcement sends.
type Resolver struct {
	dir    Directory
	logger *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for the Resolver.
func WithResolverLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = log
	}
}

// NewResolver creates a resolver backed by the given directory.
func NewResolver(dir Directory, opts ...ResolverOption) (*Resolver, error) {
	if dir == nil {
		return nil, ErrDirectoryNil
	}

	r := &Resolver{
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the eligible recipients for the rule. An empty result is a
// defined outcome, not an error: the caller decides what "nobody to send to"
// means for its operation.
func (r *Resolver) Resolve(ctx context.Context, eventID string, rule Rule) ([]Recipient, error) {
	if !rule.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidRule, rule.Kind)
	}

	guests, err := r.dir.ListGuests(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list guests: %w", err)
	}

	seen := make(map[string]struct{}, len(guests))
	recipients := make([]Recipient, 0, len(guests))

	for _, g := range guests {
		if g.RemovedAt != nil {
			continue
		}
		if g.OptedOut {
			continue
		}
		if _, dup := seen[g.ID]; dup {
			continue
		}
		if !matches(g, rule) {
			continue
		}

		seen[g.ID] = struct{}{}
		recipients = append(recipients, Recipient{
			GuestID:    g.ID,
			Phone:      g.Phone,
			PushTokens: slices.Clone(g.PushTokens),
		})
	}

	r.logger.LogAttrs(ctx, slog.LevelDebug, "resolved recipients",
		logger.EventID(eventID),
		slog.String("rule", string(rule.Kind)),
		slog.Int("count", len(recipients)),
	)

	return recipients, nil
}

func matches(g Guest, rule Rule) bool {
	switch rule.Kind {
	case RuleAll:
		return true
	case RuleGuests:
		return slices.Contains(rule.GuestIDs, g.ID)
	case RuleTags:
		if rule.MatchAll {
			for _, tag := range rule.Tags {
				if !slices.Contains(g.Tags, tag) {
					return false
				}
			}
			return true
		}
		for _, tag := range rule.Tags {
			if slices.Contains(g.Tags, tag) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
