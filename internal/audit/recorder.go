package audit

import (
	"context"
	"sync"
	"time"

	"accesshub.org/internal/obs"
)

const appendTimeout = 5 * time.Second

// Recorder appends audit entries asynchronously. Writes never block or fail
// the operation being audited; append errors are logged and dropped.
type Recorder struct {
	store Store
	wg    sync.WaitGroup
}

// NewRecorder wraps a Store with fire-and-forget appends.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record schedules the entry for persistence. The write runs on its own
// detached context so a cancelled request cannot lose its audit trail.
func (r *Recorder) Record(entry Entry) {
	if r == nil || r.store == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		if err := r.store.Append(ctx, entry); err != nil {
			obs.LogEvent(map[string]any{
				"type":   "audit_append_failed",
				"action": entry.Action,
				"error":  err.Error(),
			})
		}
	}()
}

// Flush waits for in-flight appends. Called on shutdown and by tests.
func (r *Recorder) Flush() {
	r.wg.Wait()
}
