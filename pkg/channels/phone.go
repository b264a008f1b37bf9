package channels

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone converts a free-form phone number to E.164. Numbers without
// a country code are parsed against the given default region ("US" for NANP
// conveniences like bare 10-digit numbers). Anything that does not parse to
// a valid number is rejected with ErrInvalidPhone; no send is attempted for
// such recipients.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty number", ErrInvalidPhone)
	}

	parsed, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPhone, raw, err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
