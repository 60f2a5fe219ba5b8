package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNotificationIDIsUnique(t *testing.T) {
	a, b := NewNotificationID(), NewNotificationID()
	require.True(t, strings.HasPrefix(a, "reminder_"))
	require.NotEqual(t, a, b)
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	ok := &Recorder{}
	failing := &Recorder{Err: errors.New("dbus unavailable")}

	err := MultiNotifier(failing, ok).Notify(context.Background(), Notification{Title: "t"})
	require.ErrorContains(t, err, "dbus unavailable")
	require.Len(t, ok.Notifications, 1)
}

func TestMultiOpener(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	require.NoError(t, MultiOpener(a, b).Open(context.Background(), "https://go.dev"))
	require.Equal(t, []string{"https://go.dev"}, a.Opened)
	require.Equal(t, []string{"https://go.dev"}, b.Opened)
}

func TestSinksWithDefaults(t *testing.T) {
	rec := &Recorder{}
	s := Sinks{Opener: rec}.WithDefaults(NewLog(nil).Sinks())

	require.Same(t, rec, s.Opener.(*Recorder))
	require.IsType(t, &Log{}, s.Notifier)
	require.IsType(t, &Log{}, s.Player)
}

func TestBellWritesBEL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewBell(&buf).Play(context.Background(), ReminderTone))
	require.Equal(t, "\a", buf.String())
}
