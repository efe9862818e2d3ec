package domain

import "time"

// TurnTTLMargin is subtracted from the advertised TTL before credentials
// are considered expired, so a call never starts on the edge of expiry.
const TurnTTLMargin = 60 * time.Second

// TurnCredentials is one time-limited relay credential set. Exactly one
// instance is cached at a time and overwritten on refresh.
type TurnCredentials struct {
	URLs       []string
	Username   string
	Credential string
	TTL        time.Duration
	ReceivedAt time.Time
}

// Valid reports whether the credentials are still usable at now, applying
// the safety margin.
func (c *TurnCredentials) Valid(now time.Time) bool {
	if c == nil || c.TTL <= 0 {
		return false
	}
	return now.Sub(c.ReceivedAt) < c.TTL-TurnTTLMargin
}
