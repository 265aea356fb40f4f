package model

import "time"

// MagicToken is one outstanding login attempt. The row is deleted the moment
// it is successfully consumed; that delete is what makes the token single-use.
// Rows that are never opened expire in place until the reaper removes them.
type MagicToken struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionCredential is the signed bearer bundle handed out after a successful
// verification. It is never persisted.
type SessionCredential struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Token  string `json:"session_token"`
}
