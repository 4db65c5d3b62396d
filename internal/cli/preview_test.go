package cli

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewGolden(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "preview_monthly_31_clamp",
			args: []string{"preview", "--type", "monthly", "--day", "31", "--today", "2024-01-10"},
		},
		{
			name: "preview_monthly_31_roll",
			args: []string{"preview", "--type", "monthly", "--day", "31", "--today", "2024-01-10", "--overflow", "roll"},
		},
		{
			name: "preview_weekly_monday",
			args: []string{"preview", "--type", "weekly", "--day", "1", "--today", "2024-03-06", "--horizon", "2"},
		},
		{
			name: "preview_monthly_cursor",
			args: []string{"preview", "--day", "15", "--cursor", "2024-05-15", "--today", "2024-03-01"},
		},
		{
			name: "preview_yearly_leap_day",
			args: []string{"--format", "json", "preview", "--type", "yearly", "--day", "29", "--month", "2",
				"--today", "2024-03-01", "--horizon", "24"},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(out))
		})
	}
}

func TestPreviewRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown type", []string{"--type", "hourly"}, "invalid recurrence"},
		{"day out of range", []string{"--day", "32"}, "invalid day"},
		{"weekday out of range", []string{"--type", "weekly", "--day", "7"}, "invalid day"},
		{"month out of range", []string{"--type", "yearly", "--day", "1", "--month", "13"}, "invalid month"},
		{"bad overflow", []string{"--overflow", "wrap"}, "unknown overflow policy"},
		{"bad cursor", []string{"--cursor", "2024-13-01"}, "invalid --cursor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"preview", "--today", "2024-03-01"}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPreviewRejectsBadToday(t *testing.T) {
	_, err := execute(t, "preview", "--today", "01/03/2024")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --today")
}
