package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session is one authenticated device binding for a user. Sessions expire by
// TTL; terminating one revokes that device without touching the others.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	Device     string     `json:"device,omitempty"`
	Browser    string     `json:"browser,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	Location   *Location  `json:"location,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive time.Time  `json:"last_active"`
	ExpiresAt  time.Time  `json:"expires_at"`
	IsCurrent  bool       `json:"is_current"`
}

// Expired reports whether the session is past its TTL.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Store persists sessions keyed by id with a per-user index.
type Store interface {
	Save(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllExcept(ctx context.Context, userID, keepID string) (int, error)
}
