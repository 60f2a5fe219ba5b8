// Package daemon wires the bookmark store, persisted state, alarm scheduler
// and the toggle, expiry and reminder components into one running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/alarm"
	"github.com/wolfeidau/togglemark/backend"
	"github.com/wolfeidau/togglemark/bookmark"
	"github.com/wolfeidau/togglemark/expiry"
	"github.com/wolfeidau/togglemark/message"
	"github.com/wolfeidau/togglemark/notify"
	"github.com/wolfeidau/togglemark/reminder"
	"github.com/wolfeidau/togglemark/state"
	"github.com/wolfeidau/togglemark/store/bookmarkdb"
	"github.com/wolfeidau/togglemark/toggle"
)

const (
	bookmarksFile = "bookmarks.db"
	stateDir      = "state"
	statePrefix   = "local"
)

// Config holds daemon configuration.
type Config struct {
	// DataDir holds the bookmark database and the state directory.
	DataDir string

	// Retention is how long quick-save bookmarks live. Default is 7 days.
	Retention time.Duration

	// SweepPeriod is the interval of the recurring expiry sweep. Default is 24h.
	SweepPeriod time.Duration

	// Sinks deliver reminder side effects. Unset sinks log instead.
	Sinks notify.Sinks

	// NoSync disables fsync on the bookmark database. Tests only.
	NoSync bool

	// MaxSleep caps the scheduler's sleep between checks.
	MaxSleep time.Duration

	// Logger for daemon events.
	Logger *slog.Logger

	// Now overrides the clock. Default is time.Now.
	Now func() time.Time
}

// DefaultConfig returns a default configuration without a data directory.
func DefaultConfig() Config {
	return Config{
		Retention:   togglemark.DefaultRetention,
		SweepPeriod: togglemark.SweepPeriod,
		Logger:      slog.Default(),
	}
}

// Daemon owns every component and the resources behind them.
type Daemon struct {
	config Config
	logger *slog.Logger

	Bookmarks *bookmarkdb.DB
	Alarms    *alarm.Scheduler
	Expiry    *expiry.Manager
	Reminders *reminder.Service
	Folders   *toggle.Folders
	Toggler   *toggle.Toggler
	Messages  *message.Handler

	codec       *state.Codec
	unsubscribe func()
	closeOnce   sync.Once
	closeErr    error
}

// Open creates the data directory if needed and wires the components. Nothing
// is scheduled until Install or Start.
func Open(cfg Config) (*Daemon, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = togglemark.DefaultRetention
	}
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = togglemark.SweepPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := bookmarkdb.Open(filepath.Join(cfg.DataDir, bookmarksFile),
		bookmarkdb.WithLogger(logger),
		bookmarkdb.WithNow(cfg.Now),
		bookmarkdb.WithNoSync(cfg.NoSync),
	)
	if err != nil {
		return nil, err
	}

	fs, err := backend.NewFilesystem(filepath.Join(cfg.DataDir, stateDir))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state backend: %w", err)
	}
	kv := backend.NewKV(backend.NewInstrumentedBackend(fs, "filesystem"), statePrefix)

	codec, err := state.NewCodec()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state codec: %w", err)
	}

	stateOpts := []state.Option{state.WithLogger(logger), state.WithNow(cfg.Now)}
	expiring := state.NewStore[togglemark.ExpiringEntry](kv, codec, state.KeyExpiringBookmarks, stateOpts...)
	reminders := state.NewStore[togglemark.ReminderEntry](kv, codec, state.KeyReminders, stateOpts...)
	alarms := state.NewStore[alarm.Alarm](kv, codec, state.KeyAlarms, stateOpts...)
	folderID := state.NewValue[string](kv, codec, state.KeyQuickSavesFolder, stateOpts...)

	schedOpts := []alarm.Option{alarm.WithLogger(logger), alarm.WithNow(cfg.Now)}
	if cfg.MaxSleep > 0 {
		schedOpts = append(schedOpts, alarm.WithMaxSleep(cfg.MaxSleep))
	}

	d := &Daemon{
		config:    cfg,
		logger:    logger.With("component", "daemon"),
		Bookmarks: db,
		Alarms:    alarm.New(alarms, schedOpts...),
		codec:     codec,
	}
	d.Expiry = expiry.NewManager(expiring, db, expiry.Config{
		Retention: cfg.Retention,
		Logger:    logger,
		Now:       cfg.Now,
	})
	d.Reminders = reminder.NewService(reminders, d.Alarms, cfg.Sinks,
		reminder.WithLogger(logger),
		reminder.WithNow(cfg.Now),
	)
	d.Folders = toggle.NewFolders(db, folderID, logger)
	d.Toggler = toggle.New(db, d.Folders, d.Expiry, logger)
	d.Messages = message.NewHandler(message.Deps{
		Bookmarks: db,
		Folders:   d.Folders,
		Toggler:   d.Toggler,
		Reminders: d.Reminders,
		Expiry:    d.Expiry,
		Logger:    logger,
	})

	d.unsubscribe = db.Subscribe(func(ev bookmark.Event) {
		d.Expiry.HandleRemoved(context.Background(), ev)
	})
	d.Alarms.OnFire(d.dispatch)

	return d, nil
}

// Install resolves the quick saves folder, ensures the recurring sweep alarm
// exists and re-arms stored reminders that lost their alarm. It is safe to
// run on every start; an existing sweep alarm keeps its schedule.
func (d *Daemon) Install(ctx context.Context) error {
	folderID, err := d.Folders.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving quick saves folder: %w", err)
	}

	a, err := d.Alarms.ScheduleRecurring(ctx, alarm.SweepName, d.config.SweepPeriod)
	if err != nil {
		return fmt.Errorf("scheduling expiry sweep: %w", err)
	}

	restored, err := d.Reminders.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("restoring reminder alarms: %w", err)
	}

	d.logger.Info("installed",
		"quick_saves_folder", folderID,
		"next_sweep", a.ScheduledAt.Time(),
		"retention", d.config.Retention,
		"restored_reminders", restored,
	)
	return nil
}

// Start installs and then runs the alarm scheduler. Alarms missed while the
// process was down fire on the first pass.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Install(ctx); err != nil {
		return err
	}
	if err := d.Alarms.Start(ctx); err != nil {
		return fmt.Errorf("starting alarm scheduler: %w", err)
	}
	return nil
}

// Handle implements the message dispatcher used by the transports.
func (d *Daemon) Handle(ctx context.Context, msg message.Message) message.Response {
	return d.Messages.Handle(ctx, msg)
}

// dispatch routes a fired alarm by its decoded name.
func (d *Daemon) dispatch(ctx context.Context, a alarm.Alarm) {
	ctx = context.WithoutCancel(ctx)

	target := alarm.Decode(a.Name)
	switch target.Kind {
	case alarm.KindSweep:
		if _, err := d.Expiry.Sweep(ctx); err != nil {
			d.logger.Error("expiry sweep alarm failed", "error", err)
		}
	case alarm.KindReminder:
		if _, err := d.Reminders.Trigger(ctx, target.ID); err != nil {
			d.logger.Error("reminder alarm failed", "id", target.ID, "error", err)
		}
	default:
		d.logger.Warn("ignoring unknown alarm", "name", a.Name)
	}
}

// Close stops the scheduler and releases the database. Later calls return
// the first result.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() {
		d.Alarms.Stop()
		d.Bookmarks.WaitEvents()
		if d.unsubscribe != nil {
			d.unsubscribe()
		}
		d.codec.Close()
		if err := d.Bookmarks.Close(); err != nil {
			d.closeErr = fmt.Errorf("closing bookmark database: %w", err)
		}
	})
	return d.closeErr
}
