package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"zero time returns empty", time.Time{}, ""},
		{
			"second precision stays plain RFC3339",
			time.Date(2026, 8, 23, 12, 30, 45, 0, time.UTC),
			"2026-08-23T12:30:45Z",
		},
		{
			"sub-second precision is kept",
			time.Date(2026, 8, 23, 12, 30, 45, 123000000, time.UTC),
			"2026-08-23T12:30:45.123Z",
		},
		{
			"converts to UTC",
			time.Date(2026, 8, 23, 7, 30, 0, 0,
				time.FixedZone("EST", -5*60*60)),
			"2026-08-23T12:30:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}
