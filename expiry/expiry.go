// Package expiry retires quick-save bookmarks once their retention window
// has passed.
package expiry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/bookmark"
	"github.com/wolfeidau/togglemark/state"
	"github.com/wolfeidau/togglemark/telemetry"
)

// Config holds expiration configuration.
type Config struct {
	// Retention is how long a tracked bookmark lives.
	// Default is 7 days.
	Retention time.Duration

	// Logger for expiration events.
	Logger *slog.Logger

	// Now overrides the clock. Default is time.Now.
	Now func() time.Time
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Retention: togglemark.DefaultRetention,
		Logger:    slog.Default(),
	}
}

// Manager tracks expiring bookmarks and sweeps the matured ones.
type Manager struct {
	config    Config
	store     *state.Store[togglemark.ExpiringEntry]
	bookmarks bookmark.Store
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a new expiration manager.
func NewManager(store *state.Store[togglemark.ExpiringEntry], bookmarks bookmark.Store, cfg Config) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = togglemark.DefaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		config:    cfg,
		store:     store,
		bookmarks: bookmarks,
		logger:    cfg.Logger.With("component", "expiry"),
		now:       cfg.Now,
	}
}

// Retention returns the configured retention window.
func (m *Manager) Retention() time.Duration {
	return m.config.Retention
}

// Track records bookmark id as expiring one retention window from now.
// Tracking an id again restarts its window.
func (m *Manager) Track(ctx context.Context, id, url string) (togglemark.ExpiringEntry, error) {
	if id == "" {
		return togglemark.ExpiringEntry{}, errors.New("bookmark id is required")
	}
	entry := togglemark.NewExpiringEntry(url, m.now(), m.config.Retention)
	if err := m.store.Set(ctx, id, entry); err != nil {
		return togglemark.ExpiringEntry{}, fmt.Errorf("tracking bookmark %s: %w", id, err)
	}
	m.logger.Debug("tracking bookmark", "id", id, "expires_at", entry.ExpiresAt.Time())
	return entry, nil
}

// Forget drops the entries for ids and reports how many existed.
func (m *Manager) Forget(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := m.store.Delete(ctx, ids...)
	if err != nil {
		return 0, fmt.Errorf("forgetting bookmarks: %w", err)
	}
	if n > 0 {
		m.logger.Debug("forgot expiring bookmarks", "count", n)
	}
	return n, nil
}

// HandleRemoved drops the expiry entry of a bookmark removed outside the sweep.
func (m *Manager) HandleRemoved(ctx context.Context, ev bookmark.Event) {
	if ev.Kind != bookmark.EventRemoved {
		return
	}
	if _, err := m.Forget(ctx, ev.Node.ID); err != nil {
		m.logger.Warn("failed to prune expiry entry for removed bookmark", "id", ev.Node.ID, "error", err)
	}
}

// SweepResult contains the results of a sweep.
type SweepResult struct {
	// Expired counts bookmarks removed by this sweep.
	Expired int
	// AlreadyGone counts matured entries whose bookmark was already absent.
	AlreadyGone int
	// Failed counts removals that failed for another reason. Their entries
	// are retired anyway.
	Failed    int
	Remaining int
	Duration  time.Duration
}

// Retired returns the number of entries the sweep dropped.
func (r *SweepResult) Retired() int {
	return r.Expired + r.AlreadyGone + r.Failed
}

// Sweep removes every bookmark whose entry has matured and retires those
// entries in a single write. Running it twice at the same instant is a no-op
// the second time. The expiry store stays locked for the whole sweep.
func (m *Manager) Sweep(ctx context.Context) (*SweepResult, error) {
	start := m.now()
	now := togglemark.MillisOf(start)
	result := &SweepResult{}

	m.logger.Debug("starting expiry sweep")

	err := m.store.Update(ctx, func(entries map[string]togglemark.ExpiringEntry) (bool, error) {
		var matured []string
		for id, e := range entries {
			if e.Due(now) {
				matured = append(matured, id)
			}
		}
		slices.Sort(matured)

		for _, id := range matured {
			entry := entries[id]
			err := m.bookmarks.Remove(ctx, id)
			switch {
			case err == nil:
				result.Expired++
				m.logger.Debug("expired bookmark", "id", id, "url", entry.URL, "age", start.Sub(entry.CreatedAt.Time()))
			case bookmark.IsNotFound(err):
				result.AlreadyGone++
			default:
				result.Failed++
				m.logger.Warn("failed to remove expired bookmark", "id", id, "url", entry.URL, "error", err)
			}
			delete(entries, id)
		}

		result.Remaining = len(entries)
		return len(matured) > 0, nil
	})
	result.Duration = m.now().Sub(start)

	if err != nil {
		m.logger.Error("expiry sweep failed", "error", err)
		return result, fmt.Errorf("sweeping expired bookmarks: %w", err)
	}

	telemetry.RecordSweep(ctx, telemetry.SweepOutcome{
		Expired:     result.Expired,
		AlreadyGone: result.AlreadyGone,
		Failed:      result.Failed,
		Remaining:   result.Remaining,
		StartedAt:   start,
		Duration:    result.Duration,
	})

	if result.Retired() > 0 {
		m.logger.Info("expiry sweep complete",
			"expired", result.Expired,
			"already_gone", result.AlreadyGone,
			"failed", result.Failed,
			"remaining", result.Remaining,
			"duration", result.Duration,
		)
	} else {
		m.logger.Debug("expiry sweep complete, nothing to expire", "remaining", result.Remaining)
	}
	return result, nil
}

// Tracked is an expiring entry with its bookmark id.
type Tracked struct {
	ID string `json:"id"`
	togglemark.ExpiringEntry
}

// List returns tracked entries ordered by expiry, soonest first.
func (m *Manager) List(ctx context.Context) ([]Tracked, error) {
	entries, err := m.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Tracked, 0, len(entries))
	for id, e := range entries {
		out = append(out, Tracked{ID: id, ExpiringEntry: e})
	}
	slices.SortFunc(out, func(a, b Tracked) int {
		if c := cmp.Compare(a.ExpiresAt, b.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Stats summarises the expiry store.
type Stats struct {
	Tracked int `json:"tracked"`
	Matured int `json:"matured"`
	// NextExpiry is zero when nothing is pending.
	NextExpiry togglemark.Millis `json:"nextExpiry,omitempty"`
}

// GetStats returns current expiry statistics.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	entries, err := m.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := togglemark.MillisOf(m.now())
	stats := &Stats{Tracked: len(entries)}
	for _, e := range entries {
		if e.Due(now) {
			stats.Matured++
			continue
		}
		if stats.NextExpiry == 0 || e.ExpiresAt < stats.NextExpiry {
			stats.NextExpiry = e.ExpiresAt
		}
	}
	return stats, nil
}
