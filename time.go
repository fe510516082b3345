package onboarding

import "time"

// IsWithinThresholdPeriod reports whether t happened less than d before now.
// Times in the future count as within.
func IsWithinThresholdPeriod(now, t time.Time, d time.Duration) bool {
	threshold := now.Add(-d)
	return t.After(threshold)
}

// IsOutsideThresholdPeriod is the negation of IsWithinThresholdPeriod
func IsOutsideThresholdPeriod(now, t time.Time, d time.Duration) bool {
	return !IsWithinThresholdPeriod(now, t, d)
}

// ParseThreshold parses a duration expression such as "24h" or "2h30m",
// falling back to def when the expression is empty or invalid.
func ParseThreshold(expr string, def time.Duration) time.Duration {
	if expr == "" {
		return def
	}
	d, err := time.ParseDuration(expr)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
