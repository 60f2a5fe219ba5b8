package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolfeidau/togglemark/backend"
)

// Value is a single scalar persisted under one key.
type Value[T any] struct {
	kv    *backend.KV
	codec *Codec
	key   string
	mu    sync.Mutex
	now   func() time.Time
}

// NewValue creates a scalar value bound to key.
func NewValue[T any](kv *backend.KV, codec *Codec, key string, opts ...Option) *Value[T] {
	o := buildOptions(opts)
	return &Value[T]{kv: kv, codec: codec, key: key, now: o.now}
}

// Load returns the stored value and whether one was present.
func (v *Value[T]) Load(ctx context.Context) (T, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out T
	values, err := v.kv.Get(ctx, v.key)
	if err != nil {
		return out, false, fmt.Errorf("loading %s: %w", v.key, err)
	}
	data, ok := values[v.key]
	if !ok {
		return out, false, nil
	}
	if _, err := v.codec.Decode(data, &out); err != nil {
		return out, false, fmt.Errorf("decoding %s: %w", v.key, err)
	}
	return out, true, nil
}

// Store writes val.
func (v *Value[T]) Store(ctx context.Context, val T) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := v.codec.Encode(v.key, val, 1, v.now())
	if err != nil {
		return err
	}
	if err := v.kv.Set(ctx, map[string][]byte{v.key: data}); err != nil {
		return fmt.Errorf("saving %s: %w", v.key, err)
	}
	return nil
}

// Clear removes the stored value.
func (v *Value[T]) Clear(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.kv.Remove(ctx, v.key); err != nil {
		return fmt.Errorf("clearing %s: %w", v.key, err)
	}
	return nil
}
