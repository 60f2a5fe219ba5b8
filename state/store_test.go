package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/backend"
)

func newTestKV(t *testing.T) *backend.KV {
	t.Helper()
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return backend.NewKV(fs, "state")
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestStoreMissingKeyReadsEmpty(t *testing.T) {
	s := NewStore[togglemark.ExpiringEntry](newTestKV(t), newTestCodec(t), KeyExpiringBookmarks)

	entries, err := s.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entries)
	require.Empty(t, entries)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	codec := newTestCodec(t)
	s := NewStore[togglemark.ExpiringEntry](kv, codec, KeyExpiringBookmarks)

	want := map[string]togglemark.ExpiringEntry{
		"42": togglemark.NewExpiringEntry("https://example.com", time.UnixMilli(1_000), togglemark.DefaultRetention),
		"43": togglemark.NewExpiringEntry("https://example.org", time.UnixMilli(2_000), togglemark.DefaultRetention),
	}
	require.NoError(t, s.Put(ctx, want))

	// A fresh store over the same backend sees the persisted mapping.
	reopened := NewStore[togglemark.ExpiringEntry](kv, codec, KeyExpiringBookmarks)
	got, err := reopened.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStorePutReplacesWholeMapping(t *testing.T) {
	ctx := context.Background()
	s := NewStore[togglemark.ReminderEntry](newTestKV(t), newTestCodec(t), KeyReminders)

	require.NoError(t, s.Set(ctx, "a", togglemark.ReminderEntry{URL: "https://a"}))
	require.NoError(t, s.Put(ctx, map[string]togglemark.ReminderEntry{"b": {URL: "https://b"}}))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Contains(t, got, "b")
}

func TestStoreUpdateSkipsWriteWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	s := NewStore[togglemark.ExpiringEntry](kv, newTestCodec(t), KeyExpiringBookmarks)

	require.NoError(t, s.Update(ctx, func(map[string]togglemark.ExpiringEntry) (bool, error) {
		return false, nil
	}))

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestStoreUpdatePropagatesError(t *testing.T) {
	ctx := context.Background()
	s := NewStore[togglemark.ExpiringEntry](newTestKV(t), newTestCodec(t), KeyExpiringBookmarks)
	boom := errors.New("boom")

	err := s.Update(ctx, func(entries map[string]togglemark.ExpiringEntry) (bool, error) {
		entries["1"] = togglemark.ExpiringEntry{}
		return true, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoreDeleteCountsPresentIDs(t *testing.T) {
	ctx := context.Background()
	s := NewStore[togglemark.ExpiringEntry](newTestKV(t), newTestCodec(t), KeyExpiringBookmarks)
	require.NoError(t, s.Set(ctx, "1", togglemark.ExpiringEntry{URL: "https://one"}))

	n, err := s.Delete(ctx, "1", "2")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err := s.Lookup(ctx, "1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := NewStore[togglemark.ExpiringEntry](newTestKV(t), newTestCodec(t), KeyExpiringBookmarks)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, fmt.Sprint(i), togglemark.ExpiringEntry{URL: "https://example.com"}))
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Len(t, got, 20)
}

func TestStoreLargeMappingIsCompressed(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	codec := newTestCodec(t)
	s := NewStore[togglemark.ExpiringEntry](kv, codec, KeyExpiringBookmarks)

	entries := make(map[string]togglemark.ExpiringEntry)
	for i := range 200 {
		entries[fmt.Sprint(i)] = togglemark.ExpiringEntry{
			URL:       "https://example.com/" + strings.Repeat("x", 20),
			CreatedAt: 1,
			ExpiresAt: 2,
		}
	}
	require.NoError(t, s.Put(ctx, entries))

	raw, err := kv.Get(ctx, KeyExpiringBookmarks)
	require.NoError(t, err)

	var decoded map[string]togglemark.ExpiringEntry
	header, err := codec.Decode(raw[KeyExpiringBookmarks], &decoded)
	require.NoError(t, err)
	require.Equal(t, backend.EncodingZstd, header.Encoding)
	require.Equal(t, 200, header.Entries)
	require.Equal(t, entries, decoded)
}

func TestStoreCorruptRecord(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	require.NoError(t, kv.Set(ctx, map[string][]byte{KeyReminders: []byte("not a record")}))

	s := NewStore[togglemark.ReminderEntry](kv, newTestCodec(t), KeyReminders)
	_, err := s.Get(ctx)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestValueLoadStoreClear(t *testing.T) {
	ctx := context.Background()
	v := NewValue[string](newTestKV(t), newTestCodec(t), KeyQuickSavesFolder)

	_, ok, err := v.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, v.Store(ctx, "17"))
	got, ok, err := v.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "17", got)

	require.NoError(t, v.Clear(ctx))
	_, ok, err = v.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
