// Package togglemark holds the data model shared by the bookmark toggle,
// expiry sweep and reminder components.
package togglemark

import (
	"fmt"
	"time"
)

const (
	// QuickSavesFolderName is the well-known folder that receives quick-save bookmarks.
	QuickSavesFolderName = "⚡ Quick Saves"

	// ToolbarFolderTitle is the title of the preferred parent for the quick saves folder.
	ToolbarFolderTitle = "Bookmarks Toolbar"

	// DefaultRetention is how long a quick-save bookmark lives before the sweep removes it.
	DefaultRetention = 7 * 24 * time.Hour

	// SweepPeriod is the interval of the recurring expiry sweep.
	SweepPeriod = 1440 * time.Minute

	// MaxReminderMinutes is the longest reminder delay accepted: one year.
	MaxReminderMinutes = 525_600
)

// Millis is a wall-clock timestamp in milliseconds since the Unix epoch.
type Millis int64

// MillisOf converts t to Millis.
func MillisOf(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time converts m back to a time.Time in UTC.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// Add returns m shifted by d, truncated to whole milliseconds.
func (m Millis) Add(d time.Duration) Millis {
	return m + Millis(d.Milliseconds())
}

// Phase is the derived lifecycle state of a time-keyed entry. It is never
// stored; it is recomputed from timestamps on every sweep or alarm.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseMatured Phase = "matured"
)

func phaseAt(trigger, now Millis) Phase {
	if now >= trigger {
		return PhaseMatured
	}
	return PhasePending
}

// ExpiringEntry records a quick-save bookmark that deletes itself once
// ExpiresAt has passed. Keyed by bookmark id.
type ExpiringEntry struct {
	URL       string `json:"url"`
	CreatedAt Millis `json:"createdAt"`
	ExpiresAt Millis `json:"expiresAt"`
}

// NewExpiringEntry builds an entry created at now that expires retention later.
func NewExpiringEntry(url string, now time.Time, retention time.Duration) ExpiringEntry {
	created := MillisOf(now)
	return ExpiringEntry{
		URL:       url,
		CreatedAt: created,
		ExpiresAt: created.Add(retention),
	}
}

// Due reports whether the entry has matured at now.
func (e ExpiringEntry) Due(now Millis) bool {
	return now >= e.ExpiresAt
}

// Phase returns the derived phase at now.
func (e ExpiringEntry) Phase(now Millis) Phase {
	return phaseAt(e.ExpiresAt, now)
}

// Validate checks the ExpiresAt > CreatedAt invariant.
func (e ExpiringEntry) Validate() error {
	if e.ExpiresAt <= e.CreatedAt {
		return fmt.Errorf("expiresAt %d must be after createdAt %d", e.ExpiresAt, e.CreatedAt)
	}
	return nil
}

// ReminderEntry records a user reminder for a bookmark. URL and Title are
// copied at set time and do not follow later edits of the bookmark.
type ReminderEntry struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	SetTime      Millis `json:"setTime"`
	ReminderTime Millis `json:"reminderTime"`
	// Minutes is the duration the user picked. Display only.
	Minutes int `json:"minutes"`
}

// NewReminderEntry builds a reminder set at now that fires minutes later.
func NewReminderEntry(url, title string, minutes int, now time.Time) ReminderEntry {
	set := MillisOf(now)
	return ReminderEntry{
		URL:          url,
		Title:        title,
		SetTime:      set,
		ReminderTime: set.Add(time.Duration(minutes) * time.Minute),
		Minutes:      minutes,
	}
}

// Due reports whether the reminder has matured at now.
func (e ReminderEntry) Due(now Millis) bool {
	return now >= e.ReminderTime
}

// Phase returns the derived phase at now.
func (e ReminderEntry) Phase(now Millis) Phase {
	return phaseAt(e.ReminderTime, now)
}

// Validate checks the ReminderTime > SetTime invariant.
func (e ReminderEntry) Validate() error {
	if e.ReminderTime <= e.SetTime {
		return fmt.Errorf("reminderTime %d must be after setTime %d", e.ReminderTime, e.SetTime)
	}
	return nil
}
