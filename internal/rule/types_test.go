package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInQuietHours(t *testing.T) {
	at := func(hour, min int) time.Time {
		return time.Date(2025, 6, 1, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name  string
		quiet *QuietHours
		now   time.Time
		want  bool
	}{
		{"no window", nil, at(3, 0), false},
		{"inside simple window", &QuietHours{Start: "09:00", End: "17:00"}, at(12, 0), true},
		{"before simple window", &QuietHours{Start: "09:00", End: "17:00"}, at(8, 59), false},
		{"at window end is outside", &QuietHours{Start: "09:00", End: "17:00"}, at(17, 0), false},
		{"wrapping window late night", &QuietHours{Start: "22:00", End: "07:00"}, at(23, 30), true},
		{"wrapping window early morning", &QuietHours{Start: "22:00", End: "07:00"}, at(6, 59), true},
		{"wrapping window daytime", &QuietHours{Start: "22:00", End: "07:00"}, at(12, 0), false},
		{"malformed start never suppresses", &QuietHours{Start: "9am", End: "17:00"}, at(12, 0), false},
		{"malformed end never suppresses", &QuietHours{Start: "09:00", End: ""}, at(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Recipient{
				Type:       "user",
				Identifier: "u-1",
				Methods:    []string{"email"},
				QuietHours: tt.quiet,
			}
			assert.Equal(t, tt.want, r.InQuietHours(tt.now))
		})
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusSkipped.Terminal())
	assert.True(t, StatusRateLimited.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
