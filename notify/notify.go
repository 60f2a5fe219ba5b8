// Package notify delivers reminder side effects: desktop notifications,
// an alert tone and opening a URL.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Notification is a user-visible alert.
type Notification struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	IconURL string `json:"iconUrl,omitempty"`
}

// NewNotificationID returns a fresh, unique notification id.
func NewNotificationID() string {
	return "reminder_" + uuid.NewString()
}

// Tone describes a short synthesized sound.
type Tone struct {
	Waveform  string        `json:"waveform"`
	Frequency float64       `json:"frequency"`
	Duration  time.Duration `json:"duration"`
	Volume    float64       `json:"volume"`
}

// ReminderTone is the alert played when a reminder fires.
var ReminderTone = Tone{
	Waveform:  "sine",
	Frequency: 800,
	Duration:  500 * time.Millisecond,
	Volume:    0.3,
}

// Notifier shows notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Player plays tones.
type Player interface {
	Play(ctx context.Context, t Tone) error
}

// Opener opens a URL for the user.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// Sinks groups the three side-effect channels.
type Sinks struct {
	Notifier Notifier
	Player   Player
	Opener   Opener
}

// WithDefaults fills unset sinks from fallback.
func (s Sinks) WithDefaults(fallback Sinks) Sinks {
	if s.Notifier == nil {
		s.Notifier = fallback.Notifier
	}
	if s.Player == nil {
		s.Player = fallback.Player
	}
	if s.Opener == nil {
		s.Opener = fallback.Opener
	}
	return s
}

type multiNotifier []Notifier

// MultiNotifier delivers to every notifier and joins their errors.
func MultiNotifier(ns ...Notifier) Notifier {
	return multiNotifier(ns)
}

func (m multiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type multiOpener []Opener

// MultiOpener opens the URL with every opener and joins their errors.
func MultiOpener(openers ...Opener) Opener {
	return multiOpener(openers)
}

func (m multiOpener) Open(ctx context.Context, url string) error {
	var errs []error
	for _, o := range m {
		if err := o.Open(ctx, url); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
