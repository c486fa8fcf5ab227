package types

import "time"

// Session is the credential bundle issued by the auth service. The gateway
// only reads it or swaps it for a refreshed one within a single request.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Empty reports whether no credential material was presented at all.
func (s Session) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Identity is the principal resolved from a valid session for one request.
type Identity struct {
	UserID  string
	Email   string
	Role    string
	Claims  map[string]any
	Session Session
}
