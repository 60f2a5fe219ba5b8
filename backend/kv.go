package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// KV exposes a Backend as the flat key-value persistence the extension state
// lives in. Values are opaque bytes; there are no transactions, and a Set of
// several keys is applied key by key.
type KV struct {
	backend Backend
	prefix  string
}

// NewKV creates a KV that stores every key beneath prefix.
func NewKV(b Backend, prefix string) *KV {
	return &KV{backend: b, prefix: strings.Trim(prefix, "/")}
}

// Get returns the values for the requested keys. Missing keys are omitted from
// the result rather than reported as errors.
func (kv *KV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		rc, err := kv.backend.Read(ctx, kv.path(key))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		out[key] = data
	}
	return out, nil
}

// Set stores every key in values.
func (kv *KV) Set(ctx context.Context, values map[string][]byte) error {
	for key, data := range values {
		if err := kv.backend.Write(ctx, kv.path(key), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}
	return nil
}

// Remove deletes the given keys. Missing keys are ignored.
func (kv *KV) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := kv.backend.Delete(ctx, kv.path(key)); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

// Keys lists the keys currently stored.
func (kv *KV) Keys(ctx context.Context) ([]string, error) {
	paths, err := kv.backend.List(ctx, kv.prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, strings.TrimPrefix(p, kv.prefix+"/"))
	}
	return keys, nil
}

func (kv *KV) path(key string) string {
	if kv.prefix == "" {
		return key
	}
	return path.Join(kv.prefix, key)
}
