package server

import (
	"testing"
	"time"
)

func TestIsDue(t *testing.T) {
	hourAgo := time.Now().Add(-61 * time.Minute)
	dayAgo := time.Now().Add(-25 * time.Hour)
	justNow := time.Now().Add(-5 * time.Minute)

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"daily never synced", "@daily", nil, true},
		{"daily recent", "@daily", &justNow, false},
		{"daily stale", "@daily", &dayAgo, true},
		{"hourly recent", "@hourly", &justNow, false},
		{"hourly stale", "@hourly", &hourAgo, true},
		{"cron never synced", "0 * * * *", nil, true},
		{"cron stale", "0 * * * *", &dayAgo, true},
		{"invalid cron falls back to daily", "not a cron", &justNow, false},
		{"invalid cron stale", "not a cron", &dayAgo, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.spec, tc.last); got != tc.want {
				t.Fatalf("isDue(%q) = %v, want %v", tc.spec, got, tc.want)
			}
		})
	}
}
