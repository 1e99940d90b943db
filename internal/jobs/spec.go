package jobs

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeSpec turns a schedule string into a cron spec.
//
// Supported forms:
//   - Go duration: "60s", "2s" (becomes "@every 60s")
//   - Cron: "*/5 * * * *", "@hourly", "@every 1m"
//
// The prefix "cron:" forces cron parsing, "every:" forces a duration.
func NormalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return "", fmt.Errorf("cron schedule required after 'cron:'")
		}
		return expr, nil
	}
	if strings.HasPrefix(low, "every:") {
		return everySpec(strings.TrimSpace(s[len("every:"):]))
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return s, nil
	}
	return everySpec(s)
}

// EverySpec renders a fixed interval as a cron descriptor.
func EverySpec(d time.Duration) string {
	return "@every " + d.String()
}

func everySpec(v string) (string, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return "", fmt.Errorf("invalid interval %q (use a duration like '60s' or a cron spec)", v)
	}
	if d <= 0 {
		return "", fmt.Errorf("interval must be > 0")
	}
	return EverySpec(d), nil
}
