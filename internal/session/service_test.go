package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, NewStaticLocator(nil), time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func TestTrackFillsMetadata(t *testing.T) {
	svc, _ := newTestService(t)
	sess, err := svc.Track(context.Background(), "u1", "192.168.1.10", chromeUA)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("session id not assigned")
	}
	if sess.Browser != "Chrome" || sess.Platform != "Windows" || sess.Device != "desktop" {
		t.Fatalf("ua parse = %s/%s/%s", sess.Browser, sess.Platform, sess.Device)
	}
	if sess.Location == nil || sess.Location.City != "Local" {
		t.Fatalf("private ip not labeled local: %+v", sess.Location)
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		t.Fatalf("expiry not in the future")
	}
}

func TestListMarksCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.Track(ctx, "u1", "10.0.0.1", chromeUA)
	b, _ := svc.Track(ctx, "u1", "10.0.0.2", chromeUA)
	svc.Track(ctx, "u2", "10.0.0.3", chromeUA)

	sessions, err := svc.List(ctx, "u1", b.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	for _, s := range sessions {
		switch s.ID {
		case a.ID:
			if s.IsCurrent {
				t.Fatalf("wrong session flagged current")
			}
		case b.ID:
			if !s.IsCurrent {
				t.Fatalf("current session not flagged")
			}
		default:
			t.Fatalf("foreign session leaked: %s", s.ID)
		}
	}
}

func TestTerminateEnforcesOwnership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mine, _ := svc.Track(ctx, "u1", "10.0.0.1", chromeUA)
	theirs, _ := svc.Track(ctx, "u2", "10.0.0.2", chromeUA)

	if err := svc.Terminate(ctx, "u1", theirs.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign session terminate: got %v, want ErrNotFound", err)
	}
	if err := svc.Terminate(ctx, "u1", mine.ID); err != nil {
		t.Fatalf("terminate own: %v", err)
	}
	if err := svc.Terminate(ctx, "u1", mine.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double terminate: got %v, want ErrNotFound", err)
	}
}

func TestTerminateOthersKeepsCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	keep, _ := svc.Track(ctx, "u1", "10.0.0.1", chromeUA)
	svc.Track(ctx, "u1", "10.0.0.2", chromeUA)
	svc.Track(ctx, "u1", "10.0.0.3", chromeUA)

	removed, err := svc.TerminateOthers(ctx, "u1", keep.ID)
	if err != nil {
		t.Fatalf("TerminateOthers: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d sessions, want 2", removed)
	}
	sessions, _ := svc.List(ctx, "u1", keep.ID)
	if len(sessions) != 1 || sessions[0].ID != keep.ID {
		t.Fatalf("surviving sessions = %v", sessions)
	}
}

func TestExpiredSessionsVanish(t *testing.T) {
	store := NewMemoryStore()
	svc, err := NewService(store, nil, time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	sess, _ := svc.Track(ctx, "u1", "10.0.0.1", chromeUA)

	// push the clock past the expiry
	store.nowFn = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired get: got %v, want ErrNotFound", err)
	}
	sessions, _ := svc.List(ctx, "u1", sess.ID)
	if len(sessions) != 0 {
		t.Fatalf("expired session listed: %v", sessions)
	}
}

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		ua       string
		browser  string
		platform string
		device   string
	}{
		{chromeUA, "Chrome", "Windows", "desktop"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15", "Safari", "macOS", "desktop"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0", "Firefox", "Linux", "desktop"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0", "Edge", "Windows", "desktop"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/126.0.0.0 Mobile/15E148 Safari/604.1", "Chrome", "iOS", "mobile"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Mobile Safari/537.36", "Chrome", "Android", "mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15", "Safari", "iOS", "tablet"},
		{"curl/8.4.0", "Unknown", "Unknown", "desktop"},
	}
	for _, tc := range cases {
		browser, platform, device := ParseUserAgent(tc.ua)
		if browser != tc.browser || platform != tc.platform || device != tc.device {
			t.Fatalf("ParseUserAgent(%q) = %s/%s/%s, want %s/%s/%s",
				tc.ua, browser, platform, device, tc.browser, tc.platform, tc.device)
		}
	}
}

func TestStaticLocator(t *testing.T) {
	loc := NewStaticLocator(map[string]Location{
		"203.0.113.9": {City: "Oslo", Country: "NO"},
	})
	if got, ok := loc.Locate("203.0.113.9"); !ok || got.City != "Oslo" {
		t.Fatalf("table lookup = %+v, %v", got, ok)
	}
	if got, ok := loc.Locate("127.0.0.1"); !ok || got.City != "Local" {
		t.Fatalf("loopback = %+v, %v", got, ok)
	}
	if _, ok := loc.Locate("203.0.113.77"); ok {
		t.Fatalf("unknown public ip resolved")
	}
	if _, ok := loc.Locate("not-an-ip"); ok {
		t.Fatalf("garbage ip resolved")
	}
}
