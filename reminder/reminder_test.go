package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/alarm"
	"github.com/wolfeidau/togglemark/backend"
	"github.com/wolfeidau/togglemark/notify"
	"github.com/wolfeidau/togglemark/state"
)

type testEnv struct {
	store     *state.Store[togglemark.ReminderEntry]
	scheduler *alarm.Scheduler
	recorder  *notify.Recorder
	service   *Service
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	kv := backend.NewKV(fs, "state")
	codec, err := state.NewCodec()
	require.NoError(t, err)
	t.Cleanup(codec.Close)

	env := &testEnv{
		store:    state.NewStore[togglemark.ReminderEntry](kv, codec, state.KeyReminders),
		recorder: &notify.Recorder{},
		now:      time.UnixMilli(1_700_000_000_000),
	}
	clock := func() time.Time { return env.now }
	env.scheduler = alarm.New(state.NewStore[alarm.Alarm](kv, codec, state.KeyAlarms), alarm.WithNow(clock))
	env.service = NewService(env.store, env.scheduler, env.recorder.Sinks(), WithNow(clock))
	return env
}

func TestSetStoresEntryAndSchedulesAlarm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.service.Set(ctx, Request{BookmarkID: "5", URL: "https://go.dev", Title: "Go", Minutes: 10})
	require.NoError(t, err)
	require.False(t, res.Replaced)
	require.Equal(t, togglemark.Millis(600_000), res.Entry.ReminderTime-res.Entry.SetTime)

	a, ok := env.scheduler.Get(alarm.ReminderName("5"))
	require.True(t, ok)
	require.Equal(t, res.Entry.ReminderTime, a.ScheduledAt)
	require.False(t, a.Recurring())
}

func TestSetReplacesEarlierReminder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Set(ctx, Request{BookmarkID: "5", URL: "https://go.dev", Title: "Go", Minutes: 10})
	require.NoError(t, err)

	env.now = env.now.Add(2 * time.Minute)
	res, err := env.service.Set(ctx, Request{BookmarkID: "5", URL: "https://go.dev", Title: "Go", Minutes: 5})
	require.NoError(t, err)
	require.True(t, res.Replaced)

	all := env.scheduler.All()
	require.Len(t, all, 1)
	require.Equal(t, togglemark.MillisOf(env.now.Add(5*time.Minute)), all[0].ScheduledAt)

	entries, err := env.store.Get(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 5, entries["5"].Minutes)
}

func TestSetValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []Request{
		{URL: "https://go.dev", Minutes: 5},
		{BookmarkID: "1", Minutes: 5},
		{BookmarkID: "1", URL: "https://go.dev", Minutes: 0},
		{BookmarkID: "1", URL: "https://go.dev", Minutes: -3},
		{BookmarkID: "1", URL: "https://go.dev", Minutes: togglemark.MaxReminderMinutes + 1},
		{BookmarkID: "1", URL: "https://go.dev", Minutes: 200_000_000},
	}
	for _, req := range tests {
		_, err := env.service.Set(ctx, req)
		require.ErrorIs(t, err, ErrInvalid)
	}
	require.Empty(t, env.scheduler.All())

	entries, err := env.store.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSetLongestReminderIsNotDueEarly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.service.Set(ctx, Request{BookmarkID: "1", URL: "https://go.dev", Minutes: togglemark.MaxReminderMinutes})
	require.NoError(t, err)
	require.NoError(t, res.Entry.Validate())
	require.Greater(t, res.Entry.ReminderTime, res.Entry.SetTime)

	fired, err := env.scheduler.FireDue(ctx, env.now)
	require.NoError(t, err)
	require.Empty(t, fired)
}

func TestTriggerDeliversAndRetires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Set(ctx, Request{BookmarkID: "5", URL: "https://go.dev", Title: "Go", Minutes: 1})
	require.NoError(t, err)
	env.now = env.now.Add(time.Minute)

	fired, err := env.service.Trigger(ctx, "5")
	require.NoError(t, err)
	require.True(t, fired)

	notifications, tones, opened := env.recorder.Snapshot()
	require.Len(t, notifications, 1)
	require.Equal(t, "Bookmark Reminder", notifications[0].Title)
	require.Equal(t, "Time to review: Go", notifications[0].Message)
	require.Equal(t, []notify.Tone{notify.ReminderTone}, tones)
	require.Equal(t, []string{"https://go.dev"}, opened)

	_, ok, err := env.store.Lookup(ctx, "5")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTriggerRetiredReminderIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Set(ctx, Request{BookmarkID: "5", URL: "https://go.dev", Title: "Go", Minutes: 1})
	require.NoError(t, err)
	env.now = env.now.Add(time.Minute)
	_, err = env.service.Trigger(ctx, "5")
	require.NoError(t, err)

	fired, err := env.service.Trigger(ctx, "5")
	require.NoError(t, err)
	require.False(t, fired)

	notifications, _, _ := env.recorder.Snapshot()
	require.Len(t, notifications, 1)
}

func TestTriggerRetiresEvenWhenSinksFail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.recorder.Err = errors.New("no display")

	_, err := env.service.Set(ctx, Request{BookmarkID: "5", URL: "https://go.dev", Title: "Go", Minutes: 1})
	require.NoError(t, err)
	env.now = env.now.Add(time.Minute)

	fired, err := env.service.Trigger(ctx, "5")
	require.NoError(t, err)
	require.True(t, fired)

	_, tones, opened := env.recorder.Snapshot()
	require.Len(t, tones, 1)
	require.Len(t, opened, 1)

	entries, err := env.store.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTriggerBeforeDueIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.service.Set(ctx, Request{BookmarkID: "5", URL: "https://go.dev", Title: "Go", Minutes: 10})
	require.NoError(t, err)
	_, err = env.scheduler.Clear(ctx, alarm.ReminderName("5"))
	require.NoError(t, err)

	fired, err := env.service.Trigger(ctx, "5")
	require.NoError(t, err)
	require.False(t, fired)

	notifications, tones, opened := env.recorder.Snapshot()
	require.Empty(t, notifications)
	require.Empty(t, tones)
	require.Empty(t, opened)

	stored, ok, err := env.store.Lookup(ctx, "5")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, res.Entry, stored)

	a, ok := env.scheduler.Get(alarm.ReminderName("5"))
	require.True(t, ok)
	require.Equal(t, res.Entry.ReminderTime, a.ScheduledAt)
}

func TestReconcileRestoresMissingAlarms(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Set(ctx, Request{BookmarkID: "a", URL: "https://a.test", Title: "A", Minutes: 5})
	require.NoError(t, err)
	kept, err := env.service.Set(ctx, Request{BookmarkID: "b", URL: "https://b.test", Title: "B", Minutes: 30})
	require.NoError(t, err)
	_, err = env.scheduler.Clear(ctx, alarm.ReminderName("a"))
	require.NoError(t, err)

	n, err := env.service.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	a, ok := env.scheduler.Get(alarm.ReminderName("b"))
	require.True(t, ok)
	require.Equal(t, kept.Entry.ReminderTime, a.ScheduledAt)

	n, err = env.service.Reconcile(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	env.scheduler.OnFire(func(ctx context.Context, a alarm.Alarm) {
		if target := alarm.Decode(a.Name); target.Kind == alarm.KindReminder {
			_, _ = env.service.Trigger(ctx, target.ID)
		}
	})
	env.now = env.now.Add(10 * time.Minute)
	fired, err := env.scheduler.FireDue(ctx, env.now)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	require.Equal(t, alarm.ReminderName("a"), fired[0].Name)

	_, _, opened := env.recorder.Snapshot()
	require.Equal(t, []string{"https://a.test"}, opened)
}

func TestAlarmDrivesTrigger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.scheduler.OnFire(func(ctx context.Context, a alarm.Alarm) {
		if target := alarm.Decode(a.Name); target.Kind == alarm.KindReminder {
			_, _ = env.service.Trigger(ctx, target.ID)
		}
	})

	_, err := env.service.Set(ctx, Request{BookmarkID: "5", URL: "https://go.dev", Title: "Go", Minutes: 5})
	require.NoError(t, err)

	env.now = env.now.Add(5 * time.Minute)
	_, err = env.scheduler.FireDue(ctx, env.now)
	require.NoError(t, err)

	_, _, opened := env.recorder.Snapshot()
	require.Equal(t, []string{"https://go.dev"}, opened)
}

func TestCancelAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Set(ctx, Request{BookmarkID: "a", URL: "https://a.test", Minutes: 30})
	require.NoError(t, err)
	_, err = env.service.Set(ctx, Request{BookmarkID: "b", URL: "https://b.test", Minutes: 10})
	require.NoError(t, err)

	list, err := env.service.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].ID)

	existed, err := env.service.Cancel(ctx, "b")
	require.NoError(t, err)
	require.True(t, existed)
	_, ok := env.scheduler.Get(alarm.ReminderName("b"))
	require.False(t, ok)

	existed, err = env.service.Cancel(ctx, "b")
	require.NoError(t, err)
	require.False(t, existed)
}
