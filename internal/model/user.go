package model

import "time"

// User is a registered account. Users are created out of band (seed data or
// admin tooling); the auth flow only ever reads them.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
