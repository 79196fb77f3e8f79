package domain

import "time"

// AuthToken is a bearer token with an expiry, held by the Token Cache.
type AuthToken struct {
	Expiry time.Time `json:"expiry"`
	Token  string    `json:"token"`
}

// HasExpired reports whether the token is expired with tolerance delta:
// expiry < now + delta.
func (t AuthToken) HasExpired(now time.Time, delta time.Duration) bool {
	return t.Expiry.Before(now.Add(delta))
}
