package notify

import (
	"context"
	"sync"
)

// Recorder implements Notifier for testing. It records every notice and
// returns Err, if set.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
	Err     error
}

// Notify records n.
func (r *Recorder) Notify(ctx context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.Err
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}
