package toggle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/bookmark"
	"github.com/wolfeidau/togglemark/state"
)

// Folders locates the quick saves folder, creating it on first use.
type Folders struct {
	bookmarks bookmark.Store
	stored    *state.Value[string]
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewFolders creates a resolver persisting the folder id in stored.
func NewFolders(bookmarks bookmark.Store, stored *state.Value[string], logger *slog.Logger) *Folders {
	if logger == nil {
		logger = slog.Default()
	}
	return &Folders{
		bookmarks: bookmarks,
		stored:    stored,
		logger:    logger.With("component", "folders"),
	}
}

// Resolve finds the quick saves folder by name or creates it beneath the
// toolbar folder (or the store default when there is no toolbar), then
// persists its id.
func (f *Folders) Resolve(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveLocked(ctx)
}

func (f *Folders) resolveLocked(ctx context.Context) (string, error) {
	folder, ok, err := f.findFolder(ctx, togglemark.QuickSavesFolderName)
	if err != nil {
		return "", err
	}

	if !ok {
		toolbar, found, err := f.findFolder(ctx, togglemark.ToolbarFolderTitle)
		if err != nil {
			return "", err
		}
		req := bookmark.CreateRequest{Title: togglemark.QuickSavesFolderName, Type: bookmark.TypeFolder}
		if found {
			req.ParentID = toolbar.ID
		}
		folder, err = f.bookmarks.Create(ctx, req)
		if err != nil {
			return "", fmt.Errorf("creating quick saves folder: %w", err)
		}
		f.logger.Info("created quick saves folder", "id", folder.ID, "parent", folder.ParentID)
	}

	if err := f.stored.Store(ctx, folder.ID); err != nil {
		return "", fmt.Errorf("saving quick saves folder id: %w", err)
	}
	return folder.ID, nil
}

// ID returns the stored folder id, resolving again when none is stored or
// the stored folder no longer exists.
func (f *Folders) ID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok, err := f.stored.Load(ctx)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		node, err := f.bookmarks.Get(ctx, id)
		switch {
		case err == nil && node.IsFolder():
			return id, nil
		case err != nil && !bookmark.IsNotFound(err):
			return "", fmt.Errorf("checking quick saves folder %s: %w", id, err)
		}
		f.logger.Warn("stored quick saves folder is gone, resolving again", "id", id)
	}
	return f.resolveLocked(ctx)
}

func (f *Folders) findFolder(ctx context.Context, title string) (bookmark.Node, bool, error) {
	nodes, err := f.bookmarks.Search(ctx, bookmark.Query{Title: title})
	if err != nil {
		return bookmark.Node{}, false, fmt.Errorf("searching for folder %q: %w", title, err)
	}
	for _, n := range nodes {
		if n.IsFolder() {
			return n, true, nil
		}
	}
	return bookmark.Node{}, false, nil
}
