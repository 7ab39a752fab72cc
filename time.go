package auth

import "time"

// withinPeriod reports whether t falls inside the window of length d
// that ends at now
func withinPeriod(now, t time.Time, d time.Duration) bool {
	return t.After(now.Add(-d))
}
