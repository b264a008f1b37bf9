package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "e164 passthrough", raw: "+12025550123", want: "+12025550123"},
		{name: "bare 10 digit nanp", raw: "2025550123", want: "+12025550123"},
		{name: "formatted nanp", raw: "(202) 555-0123", want: "+12025550123"},
		{name: "11 digit with country code", raw: "1-202-555-0123", want: "+12025550123"},
		{name: "uk number", raw: "+44 20 7946 0958", want: "+442079460958"},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "not-a-phone", wantErr: true},
		{name: "too short", raw: "12345", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, "US")
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
