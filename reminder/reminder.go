// Package reminder schedules one-shot reminders for bookmarks and fires
// their notification, tone and navigation when the alarm arrives.
package reminder

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/alarm"
	"github.com/wolfeidau/togglemark/notify"
	"github.com/wolfeidau/togglemark/state"
	"github.com/wolfeidau/togglemark/telemetry"
)

const (
	// NotificationTitle is the title of every reminder notification.
	NotificationTitle = "Bookmark Reminder"

	// NotificationIcon is the icon shown with reminder notifications.
	NotificationIcon = "icons/bookmarked.svg"
)

// ErrInvalid is returned for malformed reminder requests.
var ErrInvalid = errors.New("invalid reminder")

// Scheduler is the subset of the alarm scheduler reminders use.
type Scheduler interface {
	Load(ctx context.Context) error
	Get(name string) (alarm.Alarm, bool)
	ScheduleOnce(ctx context.Context, name string, when time.Time) (alarm.Alarm, error)
	Clear(ctx context.Context, name string) (bool, error)
}

// Service owns the reminder store.
type Service struct {
	store  *state.Store[togglemark.ReminderEntry]
	alarms Scheduler
	sinks  notify.Sinks
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a reminder service. Unset sinks fall back to logging.
func NewService(store *state.Store[togglemark.ReminderEntry], alarms Scheduler, sinks notify.Sinks, opts ...Option) *Service {
	s := &Service{
		store:  store,
		alarms: alarms,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "reminder")
	s.sinks = sinks.WithDefaults(notify.NewLog(s.logger).Sinks())
	return s
}

// Request asks for a reminder on a bookmark.
type Request struct {
	BookmarkID string
	URL        string
	Title      string
	Minutes    int
}

// Validate checks the request.
func (r Request) Validate() error {
	switch {
	case r.BookmarkID == "":
		return fmt.Errorf("%w: bookmark id is required", ErrInvalid)
	case r.URL == "":
		return fmt.Errorf("%w: url is required", ErrInvalid)
	case r.Minutes <= 0:
		return fmt.Errorf("%w: minutes must be positive, got %d", ErrInvalid, r.Minutes)
	case r.Minutes > togglemark.MaxReminderMinutes:
		return fmt.Errorf("%w: minutes must be at most %d, got %d", ErrInvalid, togglemark.MaxReminderMinutes, r.Minutes)
	}
	return nil
}

// SetResult reports what Set stored.
type SetResult struct {
	Entry togglemark.ReminderEntry
	// Replaced is true when an earlier reminder for the bookmark was overwritten.
	Replaced bool
}

// Set writes the reminder and schedules its alarm, replacing any earlier
// reminder for the same bookmark.
func (s *Service) Set(ctx context.Context, req Request) (*SetResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	entry := togglemark.NewReminderEntry(req.URL, req.Title, req.Minutes, s.now())
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	result := &SetResult{Entry: entry}

	err := s.store.Update(ctx, func(entries map[string]togglemark.ReminderEntry) (bool, error) {
		_, result.Replaced = entries[req.BookmarkID]
		entries[req.BookmarkID] = entry
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing reminder for %s: %w", req.BookmarkID, err)
	}

	name := alarm.ReminderName(req.BookmarkID)
	if _, err := s.alarms.Clear(ctx, name); err != nil {
		return nil, fmt.Errorf("clearing alarm %s: %w", name, err)
	}
	if _, err := s.alarms.ScheduleOnce(ctx, name, entry.ReminderTime.Time()); err != nil {
		return nil, fmt.Errorf("scheduling alarm %s: %w", name, err)
	}

	telemetry.RecordReminderSet(ctx, result.Replaced)
	s.logger.Info("reminder set", "id", req.BookmarkID, "minutes", req.Minutes, "at", entry.ReminderTime.Time(), "replaced", result.Replaced)
	return result, nil
}

// Trigger fires the reminder for bookmark id. It reports false when no
// reminder is stored or the stored one is not yet due, which is the normal
// outcome for a duplicate or stale alarm. Side effects run concurrently and a failing one does not stop the
// others; the entry is retired after all of them return.
func (s *Service) Trigger(ctx context.Context, id string) (bool, error) {
	entry, ok, err := s.store.Lookup(ctx, id)
	if err != nil {
		return false, fmt.Errorf("loading reminder %s: %w", id, err)
	}
	if !ok {
		telemetry.RecordReminderTriggered(ctx, "absent")
		s.logger.Debug("reminder already retired", "id", id)
		return false, nil
	}

	now := s.now()
	if !entry.Due(togglemark.MillisOf(now)) {
		// A stale alarm fired for a newer reminder; keep it armed for its own time.
		telemetry.RecordReminderTriggered(ctx, "early")
		s.logger.Debug("reminder not yet due", "id", id, "at", entry.ReminderTime.Time())
		name := alarm.ReminderName(id)
		if _, err := s.alarms.ScheduleOnce(ctx, name, entry.ReminderTime.Time()); err != nil {
			return false, fmt.Errorf("rescheduling alarm %s: %w", name, err)
		}
		return false, nil
	}

	n := notify.Notification{
		ID:      notify.NewNotificationID(),
		Title:   NotificationTitle,
		Message: "Time to review: " + entry.Title,
		IconURL: NotificationIcon,
	}

	var g errgroup.Group
	g.Go(func() error {
		return s.deliver(ctx, "notification", func() error { return s.sinks.Notifier.Notify(ctx, n) })
	})
	g.Go(func() error {
		return s.deliver(ctx, "tone", func() error { return s.sinks.Player.Play(ctx, notify.ReminderTone) })
	})
	g.Go(func() error {
		return s.deliver(ctx, "navigation", func() error { return s.sinks.Opener.Open(ctx, entry.URL) })
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("reminder side effect failed", "id", id, "error", err)
	}

	// Only retire the entry that fired; a reminder set meanwhile survives.
	err = s.store.Update(ctx, func(entries map[string]togglemark.ReminderEntry) (bool, error) {
		current, ok := entries[id]
		if !ok || current != entry {
			return false, nil
		}
		delete(entries, id)
		return true, nil
	})
	if err != nil {
		return true, fmt.Errorf("retiring reminder %s: %w", id, err)
	}

	telemetry.RecordReminderTriggered(ctx, "fired")
	s.logger.Info("reminder triggered", "id", id, "title", entry.Title, "late_by", now.Sub(entry.ReminderTime.Time()))
	return true, nil
}

func (s *Service) deliver(ctx context.Context, sink string, fn func() error) error {
	if err := fn(); err != nil {
		telemetry.RecordSinkDelivery(ctx, sink, "error")
		return fmt.Errorf("%s: %w", sink, err)
	}
	telemetry.RecordSinkDelivery(ctx, sink, "ok")
	return nil
}

// Cancel removes the reminder for id and its alarm. It reports whether a
// reminder existed.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancelling reminder %s: %w", id, err)
	}
	if _, err := s.alarms.Clear(ctx, alarm.ReminderName(id)); err != nil {
		return n > 0, fmt.Errorf("clearing alarm for %s: %w", id, err)
	}
	if n > 0 {
		s.logger.Info("reminder cancelled", "id", id)
	}
	return n > 0, nil
}

// Reconcile schedules an alarm for every stored reminder that has none, such
// as one whose alarm was consumed by a crash before Trigger retired it.
// Overdue reminders fire on the scheduler's next pass. It returns the number
// of alarms scheduled.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if err := s.alarms.Load(ctx); err != nil {
		return 0, err
	}
	entries, err := s.store.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading reminders: %w", err)
	}

	var scheduled int
	for id, e := range entries {
		name := alarm.ReminderName(id)
		if _, ok := s.alarms.Get(name); ok {
			continue
		}
		if _, err := s.alarms.ScheduleOnce(ctx, name, e.ReminderTime.Time()); err != nil {
			return scheduled, fmt.Errorf("scheduling alarm %s: %w", name, err)
		}
		scheduled++
		s.logger.Info("restored reminder alarm", "id", id, "at", e.ReminderTime.Time())
	}
	return scheduled, nil
}

// Scheduled is a stored reminder with its bookmark id.
type Scheduled struct {
	ID string `json:"id"`
	togglemark.ReminderEntry
}

// List returns stored reminders ordered by fire time.
func (s *Service) List(ctx context.Context) ([]Scheduled, error) {
	entries, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Scheduled, 0, len(entries))
	for id, e := range entries {
		out = append(out, Scheduled{ID: id, ReminderEntry: e})
	}
	slices.SortFunc(out, func(a, b Scheduled) int {
		if c := cmp.Compare(a.ReminderTime, b.ReminderTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
