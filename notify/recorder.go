package notify

import (
	"context"
	"sync"
)

// Recorder captures side effects in memory.
type Recorder struct {
	mu            sync.Mutex
	Notifications []Notification
	Tones         []Tone
	Opened        []string

	// Err, when set, is returned from every call after recording it.
	Err error
}

// Sinks returns r as all three sinks.
func (r *Recorder) Sinks() Sinks {
	return Sinks{Notifier: r, Player: r, Opener: r}
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifications = append(r.Notifications, n)
	return r.Err
}

func (r *Recorder) Play(_ context.Context, t Tone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tones = append(r.Tones, t)
	return r.Err
}

func (r *Recorder) Open(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Opened = append(r.Opened, url)
	return r.Err
}

// Snapshot returns copies of what has been recorded.
func (r *Recorder) Snapshot() (notifications []Notification, tones []Tone, opened []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.Notifications...),
		append([]Tone(nil), r.Tones...),
		append([]string(nil), r.Opened...)
}
