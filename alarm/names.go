package alarm

import "strings"

// SweepName is the recurring alarm that drives the expiry sweep.
const SweepName = "cleanup_expired_bookmarks"

// reminderPrefix prefixes one-shot reminder alarm names.
const reminderPrefix = "reminder_"

// ReminderName returns the alarm name for the reminder on bookmark id.
func ReminderName(id string) string {
	return reminderPrefix + id
}

// Kind is the decoded purpose of an alarm.
type Kind int

const (
	KindUnknown Kind = iota
	KindSweep
	KindReminder
)

func (k Kind) String() string {
	switch k {
	case KindSweep:
		return "sweep"
	case KindReminder:
		return "reminder"
	default:
		return "unknown"
	}
}

// Target is what an alarm name refers to.
type Target struct {
	Kind Kind
	// ID is the bookmark id for reminder alarms.
	ID string
}

// Decode parses an alarm name. Names that match neither form, including a
// bare "reminder_" with no id, decode as KindUnknown.
func Decode(name string) Target {
	if name == SweepName {
		return Target{Kind: KindSweep}
	}
	if id, ok := strings.CutPrefix(name, reminderPrefix); ok && id != "" {
		return Target{Kind: KindReminder, ID: id}
	}
	return Target{Kind: KindUnknown}
}
