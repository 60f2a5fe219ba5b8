package toggle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/backend"
	"github.com/wolfeidau/togglemark/bookmark"
	"github.com/wolfeidau/togglemark/expiry"
	"github.com/wolfeidau/togglemark/state"
	"github.com/wolfeidau/togglemark/store/bookmarkdb"
)

// flakyStore fails Remove for selected ids.
type flakyStore struct {
	bookmark.Store
	fail map[string]bool
}

func (f *flakyStore) Remove(ctx context.Context, id string) error {
	if f.fail[id] {
		return errors.New("permission denied")
	}
	return f.Store.Remove(ctx, id)
}

type testEnv struct {
	db       *bookmarkdb.DB
	expiring *state.Store[togglemark.ExpiringEntry]
	folderID *state.Value[string]
	folders  *Folders
	expiry   *expiry.Manager
	toggler  *Toggler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := bookmarkdb.Open(filepath.Join(t.TempDir(), "bookmarks.db"), bookmarkdb.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	kv := backend.NewKV(fs, "state")
	codec, err := state.NewCodec()
	require.NoError(t, err)
	t.Cleanup(codec.Close)

	env := &testEnv{
		db:       db,
		expiring: state.NewStore[togglemark.ExpiringEntry](kv, codec, state.KeyExpiringBookmarks),
		folderID: state.NewValue[string](kv, codec, state.KeyQuickSavesFolder),
	}
	env.folders = NewFolders(db, env.folderID, nil)
	env.expiry = expiry.NewManager(env.expiring, db, expiry.DefaultConfig())
	env.toggler = New(db, env.folders, env.expiry, nil)
	return env
}

func TestToggleTwiceRestoresState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	page := Page{URL: "https://go.dev", Title: "Go"}

	first, err := env.toggler.Toggle(ctx, page)
	require.NoError(t, err)
	require.Equal(t, ActionCreated, first.Action)
	require.True(t, first.Status.Bookmarked)
	require.Equal(t, TitleBookmarked, first.Status.Title)
	require.Equal(t, IconBookmarked, first.Status.Icon)

	entries, err := env.expiring.Get(ctx)
	require.NoError(t, err)
	require.Contains(t, entries, first.Created.ID)

	second, err := env.toggler.Toggle(ctx, page)
	require.NoError(t, err)
	require.Equal(t, ActionRemoved, second.Action)
	require.False(t, second.Status.Bookmarked)
	require.Equal(t, TitleUnbookmarked, second.Status.Title)
	require.Equal(t, []string{first.Created.ID}, second.Removed)

	entries, err = env.expiring.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestToggleCreatesInQuickSavesUnderToolbar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.toggler.Toggle(ctx, Page{URL: "https://go.dev", Title: "Go"})
	require.NoError(t, err)

	folder, err := env.db.Get(ctx, res.Created.ParentID)
	require.NoError(t, err)
	require.Equal(t, togglemark.QuickSavesFolderName, folder.Title)
	require.Equal(t, bookmarkdb.RootToolbar, folder.ParentID)

	stored, ok, err := env.folderID.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, folder.ID, stored)
}

func TestToggleRemovesAllDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	url := "https://go.dev"

	tracked, err := env.toggler.Toggle(ctx, Page{URL: url, Title: "Go"})
	require.NoError(t, err)
	manual, err := env.db.Create(ctx, bookmark.CreateRequest{URL: url, Title: "Go (manual)"})
	require.NoError(t, err)

	status, err := env.toggler.Status(ctx, url)
	require.NoError(t, err)
	require.Len(t, status.IDs, 2)

	res, err := env.toggler.Toggle(ctx, Page{URL: url})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{tracked.Created.ID, manual.ID}, res.Removed)
	require.False(t, res.Status.Bookmarked)

	entries, err := env.expiring.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestToggleKeepsTrackingFailedRemovals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	url := "https://go.dev"

	tracked, err := env.toggler.Toggle(ctx, Page{URL: url, Title: "Go"})
	require.NoError(t, err)
	manual, err := env.db.Create(ctx, bookmark.CreateRequest{URL: url, Title: "Go (manual)"})
	require.NoError(t, err)

	flaky := &flakyStore{Store: env.db, fail: map[string]bool{tracked.Created.ID: true}}
	toggler := New(flaky, env.folders, env.expiry, nil)

	_, err = toggler.Toggle(ctx, Page{URL: url})
	require.Error(t, err)

	_, err = env.db.Get(ctx, tracked.Created.ID)
	require.NoError(t, err)
	_, err = env.db.Get(ctx, manual.ID)
	require.True(t, bookmark.IsNotFound(err))

	entries, err := env.expiring.Get(ctx)
	require.NoError(t, err)
	require.Contains(t, entries, tracked.Created.ID)
}

func TestToggleRejectsInternalPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, url := range []string{"", "about:blank", "chrome://settings"} {
		_, err := env.toggler.Toggle(ctx, Page{URL: url})
		require.ErrorIs(t, err, ErrNotToggleable, url)
		_, err = env.toggler.Status(ctx, url)
		require.ErrorIs(t, err, ErrNotToggleable, url)
	}

	n, err := env.db.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestToggleRecreatesRemovedFolder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.toggler.Toggle(ctx, Page{URL: "https://a.test", Title: "A"})
	require.NoError(t, err)
	oldFolder := first.Created.ParentID
	require.NoError(t, env.db.Remove(ctx, oldFolder))

	second, err := env.toggler.Toggle(ctx, Page{URL: "https://b.test", Title: "B"})
	require.NoError(t, err)
	require.NotEqual(t, oldFolder, second.Created.ParentID)

	folder, err := env.db.Get(ctx, second.Created.ParentID)
	require.NoError(t, err)
	require.Equal(t, togglemark.QuickSavesFolderName, folder.Title)
}

func TestFoldersResolveReusesExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	existing, err := env.db.Create(ctx, bookmark.CreateRequest{Type: bookmark.TypeFolder, Title: togglemark.QuickSavesFolderName})
	require.NoError(t, err)

	id, err := env.folders.Resolve(ctx)
	require.NoError(t, err)
	require.Equal(t, existing.ID, id)

	again, err := env.folders.Resolve(ctx)
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestToggledBookmarkExpiresAfterRetention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.toggler.Toggle(ctx, Page{URL: "https://go.dev", Title: "Go"})
	require.NoError(t, err)

	entry, ok, err := env.expiring.Lookup(ctx, res.Created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, entry.CreatedAt.Time().Add(togglemark.DefaultRetention), entry.ExpiresAt.Time(), time.Millisecond)
}

func TestToggleable(t *testing.T) {
	require.True(t, Toggleable("https://go.dev"))
	require.True(t, Toggleable("file:///tmp/x.html"))
	require.False(t, Toggleable(""))
	require.False(t, Toggleable("about:config"))
	require.False(t, Toggleable("chrome://extensions"))
}
