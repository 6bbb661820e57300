package domain

import "time"

// Session binds an opaque 128-character token to a user id. Its existence is
// the sole proof of authentication; there is no ambient "current user".
type Session struct {
	ID         string    `json:"id"`
	UID        string    `json:"uid"`
	Collection string    `json:"-"` // user collection the uid lives in
	CreatedAt  time.Time `json:"-"`
}
