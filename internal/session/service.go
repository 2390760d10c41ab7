package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accesshub.org/internal/ids"
)

// Service tracks, lists and terminates device sessions. Ownership is
// enforced here: a user can only see and terminate their own sessions, and
// foreign session ids are indistinguishable from missing ones.
type Service struct {
	store   Store
	locator Locator
	ttl     time.Duration
	nowFn   func() time.Time
}

// NewService constructs a session Service.
func NewService(store Store, locator Locator, ttl time.Duration) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Service{
		store:   store,
		locator: locator,
		ttl:     ttl,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Track creates a session for a fresh authentication.
func (s *Service) Track(ctx context.Context, userID, ip, userAgent string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, errors.New("user id is required")
	}
	browser, platform, device := ParseUserAgent(userAgent)
	now := s.nowFn()
	sess := Session{
		ID:         ids.New(),
		UserID:     userID,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Browser:    browser,
		Platform:   platform,
		Device:     device,
		CreatedAt:  now,
		LastActive: now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if s.locator != nil {
		if loc, ok := s.locator.Locate(ip); ok {
			sess.Location = loc
		}
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("track session: %w", err)
	}
	return sess, nil
}

// List returns the user's live sessions, most recently active first, with
// the one matching currentID flagged.
func (s *Service) List(ctx context.Context, userID, currentID string) ([]Session, error) {
	sessions, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].IsCurrent = sessions[i].ID == currentID
	}
	return sessions, nil
}

// Touch advances the session's activity timestamp and slides its expiry.
func (s *Service) Touch(ctx context.Context, id string) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	now := s.nowFn()
	sess.LastActive = now
	sess.ExpiresAt = now.Add(s.ttl)
	return s.store.Save(ctx, sess)
}

// Terminate revokes one of the user's sessions.
func (s *Service) Terminate(ctx context.Context, userID, sessionID string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrNotFound
	}
	return s.store.Delete(ctx, sessionID)
}

// TerminateOthers revokes every session of the user except the current one.
func (s *Service) TerminateOthers(ctx context.Context, userID, currentID string) (int, error) {
	return s.store.DeleteAllExcept(ctx, userID, currentID)
}
