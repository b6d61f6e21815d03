package db

import "time"

// Session represents a row in the nav_sessions table.
type Session struct {
	ID       string    `json:"id"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// RedirectTarget represents a row in the nav_redirect_targets table.
type RedirectTarget struct {
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	Created   time.Time `json:"created"`
}
