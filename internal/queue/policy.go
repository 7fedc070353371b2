package queue

import (
	"time"

	"github.com/bryan-buckman/listfeed/internal/model"
)

// DefaultWindow is how long a refilled queue stays fresh.
const DefaultWindow = 3 * time.Hour

// IsStale reports whether a queue refilled at lastRefill must be refilled
// again at now. The zero time means the refill time is unknown, which is
// always stale. Exactly window after the refill is stale.
func IsStale(now, lastRefill time.Time, window time.Duration) bool {
	if lastRefill.IsZero() {
		return true
	}
	return now.Sub(lastRefill) >= window
}

// ParseRefillTime decodes a persisted refill timestamp in loc.
// Empty or malformed input returns the zero time.
func ParseRefillTime(raw string, loc *time.Location) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(model.TimestampLayout, raw, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatRefillTime encodes t as a persisted refill timestamp in loc.
func FormatRefillTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(model.TimestampLayout)
}
