package guestlist

// RuleKind identifies how a targeting rule selects guests.
type RuleKind string

const (
	// RuleAll targets every guest on the event.
	RuleAll RuleKind = "all"
	// RuleGuests targets an explicit list of guest IDs.
	RuleGuests RuleKind = "guests"
	// RuleTags targets guests carrying the listed tags.
	RuleTags RuleKind = "tags"
)

// Rule describes which guests a message targets. The zero value is invalid;
// construct via the helpers to keep the kind and its operands consistent.
type Rule struct {
	Kind     RuleKind `json:"kind"`
	GuestIDs []string `json:"guest_ids,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	// MatchAll requires a guest to carry every listed tag rather than any.
	MatchAll bool `json:"match_all,omitempty"`
}

// TargetAll returns a rule selecting every guest.
func TargetAll() Rule {
	return Rule{Kind: RuleAll}
}

// TargetGuests returns a rule selecting the given guest IDs.
func TargetGuests(ids ...string) Rule {
	return Rule{Kind: RuleGuests, GuestIDs: ids}
}

// TargetTags returns a rule selecting guests matching any of the given tags.
func TargetTags(tags ...string) Rule {
	return Rule{Kind: RuleTags, Tags: tags}
}

// TargetAllTags returns a rule selecting guests carrying every given tag.
func TargetAllTags(tags ...string) Rule {
	return Rule{Kind: RuleTags, Tags: tags, MatchAll: true}
}

// Valid reports whether the rule kind is known and its operands are present.
func (r Rule) Valid() bool {
	switch r.Kind {
	case RuleAll:
		return true
	case RuleGuests:
		return len(r.GuestIDs) > 0
	case RuleTags:
		return len(r.Tags) > 0
	default:
		return false
	}
}
