// Package state persists the extension's time-keyed entry maps and scalar
// values in the key-value backend.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/togglemark/backend"
)

// Persisted keys.
const (
	KeyQuickSavesFolder  = "quickSavesFolderId"
	KeyExpiringBookmarks = "expiringBookmarks"
	KeyReminders         = "reminders"
	KeyAlarms            = "alarms"
)

// Option configures a Store or Value.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNow sets the clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is a mapping from id to E persisted under a single key. Every
// mutation made through Update is serialized by the store's mutex, so a
// single Store must own its key within the process.
type Store[E any] struct {
	kv     *backend.KV
	codec  *Codec
	key    string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a store for key.
func NewStore[E any](kv *backend.KV, codec *Codec, key string, opts ...Option) *Store[E] {
	o := buildOptions(opts)
	return &Store[E]{
		kv:     kv,
		codec:  codec,
		key:    key,
		logger: o.logger.With("component", "state", "key", key),
		now:    o.now,
	}
}

// Key returns the persistence key.
func (s *Store[E]) Key() string {
	return s.key
}

// Get returns a copy of the whole mapping. A missing key reads as empty.
func (s *Store[E]) Get(ctx context.Context) (map[string]E, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Put replaces the whole mapping.
func (s *Store[E]) Put(ctx context.Context, entries map[string]E) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, entries)
}

// Update loads the mapping, passes it to fn and writes it back when fn
// reports a change. The store stays locked while fn runs.
func (s *Store[E]) Update(ctx context.Context, fn func(entries map[string]E) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(entries)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(ctx, entries)
}

// Lookup returns the entry for id.
func (s *Store[E]) Lookup(ctx context.Context, id string) (E, bool, error) {
	var zero E
	entries, err := s.Get(ctx)
	if err != nil {
		return zero, false, err
	}
	e, ok := entries[id]
	return e, ok, nil
}

// Set writes a single entry, replacing any existing one for id.
func (s *Store[E]) Set(ctx context.Context, id string, entry E) error {
	return s.Update(ctx, func(entries map[string]E) (bool, error) {
		entries[id] = entry
		return true, nil
	})
}

// Delete removes the given ids and reports how many were present.
func (s *Store[E]) Delete(ctx context.Context, ids ...string) (int, error) {
	var removed int
	err := s.Update(ctx, func(entries map[string]E) (bool, error) {
		for _, id := range ids {
			if _, ok := entries[id]; ok {
				delete(entries, id)
				removed++
			}
		}
		return removed > 0, nil
	})
	return removed, err
}

func (s *Store[E]) load(ctx context.Context) (map[string]E, error) {
	values, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", s.key, err)
	}
	data, ok := values[s.key]
	if !ok {
		return make(map[string]E), nil
	}

	entries := make(map[string]E)
	if _, err := s.codec.Decode(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.key, err)
	}
	if entries == nil {
		entries = make(map[string]E)
	}
	return entries, nil
}

func (s *Store[E]) save(ctx context.Context, entries map[string]E) error {
	if entries == nil {
		entries = make(map[string]E)
	}
	data, err := s.codec.Encode(s.key, entries, len(entries), s.now())
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, map[string][]byte{s.key: data}); err != nil {
		return fmt.Errorf("saving %s: %w", s.key, err)
	}
	s.logger.Debug("state saved", "entries", len(entries), "bytes", len(data))
	return nil
}
