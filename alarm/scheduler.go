// Package alarm schedules named one-shot and recurring alarms.
//
// A single goroutine sleeps on a min-heap of alarms, capped at one minute so
// wall-clock jumps and system sleep are noticed promptly. Alarms are persisted
// on every change; an alarm whose time passed while the process was down
// fires as soon as the scheduler starts. Delivery is at-least-once and may be
// late, never early.
package alarm

import (
	"cmp"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/state"
	"github.com/wolfeidau/togglemark/telemetry"
)

const defaultMaxSleep = 60 * time.Second

// Alarm is a named wake-up.
type Alarm struct {
	Name        string            `json:"name"`
	ScheduledAt togglemark.Millis `json:"scheduledTime"`
	// Period is zero for one-shot alarms.
	Period time.Duration `json:"period,omitempty"`
}

// Recurring reports whether the alarm repeats.
func (a Alarm) Recurring() bool {
	return a.Period > 0
}

// Handler is invoked for every alarm that fires.
type Handler func(ctx context.Context, a Alarm)

// Scheduler owns the alarm table.
type Scheduler struct {
	store    *state.Store[Alarm]
	logger   *slog.Logger
	now      func() time.Time
	maxSleep time.Duration

	mu       sync.Mutex
	heap     alarmHeap
	handlers []Handler
	loaded   bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithMaxSleep caps how long the loop sleeps between checks.
func WithMaxSleep(d time.Duration) Option {
	return func(s *Scheduler) {
		s.maxSleep = d
	}
}

// New creates a scheduler persisting to store.
func New(store *state.Store[Alarm], opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		maxSleep: defaultMaxSleep,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "alarm")
	return s
}

// OnFire registers a handler. Handlers run sequentially on the scheduler
// goroutine, or on the caller of FireDue.
func (s *Scheduler) OnFire(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Load reads the persisted alarm table. It is a no-op after the first call.
func (s *Scheduler) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Scheduler) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	persisted, err := s.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("loading alarms: %w", err)
	}
	s.heap = s.heap[:0]
	for name, a := range persisted {
		a.Name = name
		s.heap = append(s.heap, a)
	}
	heap.Init(&s.heap)
	s.loaded = true
	s.logger.Debug("loaded alarms", "count", len(s.heap))
	return nil
}

// ScheduleRecurring ensures a recurring alarm called name exists. An existing
// alarm with the same period keeps its next fire time; otherwise the alarm is
// (re)created to first fire one period from now.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, name string, period time.Duration) (Alarm, error) {
	if name == "" {
		return Alarm{}, errors.New("alarm name is required")
	}
	if period <= 0 {
		return Alarm{}, fmt.Errorf("alarm %s: period must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return Alarm{}, err
	}

	if existing, ok := s.findLocked(name); ok && existing.Period == period {
		return existing, nil
	}

	a := Alarm{
		Name:        name,
		ScheduledAt: togglemark.MillisOf(s.now()).Add(period),
		Period:      period,
	}
	if err := s.replaceLocked(ctx, a); err != nil {
		return Alarm{}, err
	}
	s.logger.Info("scheduled recurring alarm", "name", name, "period", period, "at", a.ScheduledAt.Time())
	return a, nil
}

// ScheduleOnce creates a one-shot alarm, replacing any alarm with the same name.
func (s *Scheduler) ScheduleOnce(ctx context.Context, name string, when time.Time) (Alarm, error) {
	if name == "" {
		return Alarm{}, errors.New("alarm name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return Alarm{}, err
	}

	a := Alarm{Name: name, ScheduledAt: togglemark.MillisOf(when)}
	if err := s.replaceLocked(ctx, a); err != nil {
		return Alarm{}, err
	}
	s.logger.Debug("scheduled alarm", "name", name, "at", when)
	return a, nil
}

// Clear removes the alarm called name and reports whether it existed.
func (s *Scheduler) Clear(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return false, err
	}

	if !heapRemoveByName(&s.heap, name) {
		return false, nil
	}
	if err := s.persistLocked(ctx); err != nil {
		return true, err
	}
	s.signal()
	return true, nil
}

// Get returns the alarm called name.
func (s *Scheduler) Get(name string) (Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(name)
}

// All returns every alarm ordered by fire time.
func (s *Scheduler) All() []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone([]Alarm(s.heap))
	slices.SortFunc(out, func(a, b Alarm) int {
		if c := cmp.Compare(a.ScheduledAt, b.ScheduledAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// FireDue fires every alarm scheduled at or before now. One-shot alarms are
// removed; recurring alarms are rescheduled one period after now. The table
// is persisted before any handler runs.
func (s *Scheduler) FireDue(ctx context.Context, now time.Time) ([]Alarm, error) {
	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	nowMillis := togglemark.MillisOf(now)
	var fired []Alarm
	for s.heap.Len() > 0 && s.heap[0].ScheduledAt <= nowMillis {
		a := heapPop(&s.heap)
		fired = append(fired, a)
	}
	for _, a := range fired {
		if a.Recurring() {
			next := a
			next.ScheduledAt = nowMillis.Add(a.Period)
			heapPush(&s.heap, next)
		}
	}

	var persistErr error
	if len(fired) > 0 {
		persistErr = s.persistLocked(ctx)
	}
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	if persistErr != nil {
		s.logger.Error("persisting alarms after firing", "error", persistErr)
	}

	for _, a := range fired {
		lateness := now.Sub(a.ScheduledAt.Time())
		telemetry.RecordAlarmFired(ctx, Decode(a.Name).Kind.String(), lateness)
		s.logger.Debug("alarm fired", "name", a.Name, "lateness", lateness)
		for _, h := range handlers {
			s.invoke(ctx, h, a)
		}
	}
	return fired, persistErr
}

// Start loads persisted alarms and runs the scheduling loop until Stop or
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("alarm scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Info("alarm scheduler started", "alarms", len(s.All()))
	return nil
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("alarm scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
			if _, err := s.FireDue(ctx, s.now()); err != nil {
				s.logger.Error("firing alarms", "error", err)
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextSleep())
	}
}

// nextSleep returns the time until the earliest alarm, capped at maxSleep.
func (s *Scheduler) nextSleep() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return s.maxSleep
	}
	d := s.heap[0].ScheduledAt.Time().Sub(s.now())
	if d > s.maxSleep {
		return s.maxSleep
	}
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) invoke(ctx context.Context, h Handler, a Alarm) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("alarm handler panicked", "name", a.Name, "panic", r)
		}
	}()
	h(ctx, a)
}

func (s *Scheduler) findLocked(name string) (Alarm, bool) {
	for _, a := range s.heap {
		if a.Name == name {
			return a, true
		}
	}
	return Alarm{}, false
}

func (s *Scheduler) replaceLocked(ctx context.Context, a Alarm) error {
	heapRemoveByName(&s.heap, a.Name)
	heapPush(&s.heap, a)
	if err := s.persistLocked(ctx); err != nil {
		return err
	}
	s.signal()
	return nil
}

func (s *Scheduler) persistLocked(ctx context.Context) error {
	table := make(map[string]Alarm, len(s.heap))
	for _, a := range s.heap {
		table[a.Name] = a
	}
	if err := s.store.Put(ctx, table); err != nil {
		return fmt.Errorf("persisting alarms: %w", err)
	}
	return nil
}

// signal wakes the loop so it recomputes its sleep.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
