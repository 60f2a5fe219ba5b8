// Package toggle flips the bookmarked state of a page: a bookmarked page has
// every bookmark for its URL removed, an unbookmarked page gets a new
// expiring bookmark in the quick saves folder.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/bookmark"
	"github.com/wolfeidau/togglemark/telemetry"
)

// ErrNotToggleable is returned for pages that cannot be bookmarked.
var ErrNotToggleable = errors.New("page cannot be bookmarked")

// Presentation for each state.
const (
	IconBookmarked   = "icons/bookmarked.svg"
	IconUnbookmarked = "icons/unbookmarked.svg"

	TitleBookmarked   = "Remove Bookmark"
	TitleUnbookmarked = "Add Bookmark"
)

// Page is the page being toggled.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Toggleable reports whether url can be bookmarked.
func Toggleable(url string) bool {
	return url != "" && !strings.HasPrefix(url, "about:") && !strings.HasPrefix(url, "chrome:")
}

// Status is the bookmarked state of a URL and how to present it.
type Status struct {
	URL        string   `json:"url"`
	Bookmarked bool     `json:"bookmarked"`
	Title      string   `json:"title"`
	Icon       string   `json:"icon"`
	IDs        []string `json:"ids,omitempty"`
}

func statusOf(url string, nodes []bookmark.Node) Status {
	s := Status{URL: url, Title: TitleUnbookmarked, Icon: IconUnbookmarked}
	if len(nodes) == 0 {
		return s
	}
	s.Bookmarked = true
	s.Title = TitleBookmarked
	s.Icon = IconBookmarked
	for _, n := range nodes {
		s.IDs = append(s.IDs, n.ID)
	}
	return s
}

// Action is what a toggle did.
type Action string

const (
	ActionCreated Action = "created"
	ActionRemoved Action = "removed"
)

// Result reports a toggle.
type Result struct {
	Action Action `json:"action"`
	// Status is re-queried after the change.
	Status Status `json:"status"`
	// Created is set for ActionCreated.
	Created *bookmark.Node `json:"created,omitempty"`
	// Removed lists the ids removed for ActionRemoved.
	Removed []string `json:"removed,omitempty"`
}

// Tracker records expiring bookmarks.
type Tracker interface {
	Track(ctx context.Context, id, url string) (togglemark.ExpiringEntry, error)
	Forget(ctx context.Context, ids ...string) (int, error)
}

// Toggler owns toggle transitions.
type Toggler struct {
	bookmarks bookmark.Store
	folders   *Folders
	tracker   Tracker
	logger    *slog.Logger

	// mu serializes toggles so a double click cannot create two bookmarks.
	mu sync.Mutex
}

// New creates a Toggler.
func New(bookmarks bookmark.Store, folders *Folders, tracker Tracker, logger *slog.Logger) *Toggler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toggler{
		bookmarks: bookmarks,
		folders:   folders,
		tracker:   tracker,
		logger:    logger.With("component", "toggle"),
	}
}

// Status queries the store for url.
func (t *Toggler) Status(ctx context.Context, url string) (Status, error) {
	if !Toggleable(url) {
		return Status{}, fmt.Errorf("%w: %q", ErrNotToggleable, url)
	}
	nodes, err := t.bookmarks.Search(ctx, bookmark.Query{URL: url})
	if err != nil {
		return Status{}, fmt.Errorf("querying bookmarks for %s: %w", url, err)
	}
	return statusOf(url, nodes), nil
}

// Toggle flips the bookmarked state of page.
func (t *Toggler) Toggle(ctx context.Context, page Page) (*Result, error) {
	if !Toggleable(page.URL) {
		return nil, fmt.Errorf("%w: %q", ErrNotToggleable, page.URL)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	nodes, err := t.bookmarks.Search(ctx, bookmark.Query{URL: page.URL})
	if err != nil {
		return nil, fmt.Errorf("querying bookmarks for %s: %w", page.URL, err)
	}

	var result *Result
	if len(nodes) > 0 {
		result, err = t.remove(ctx, nodes)
	} else {
		result, err = t.create(ctx, page)
	}
	if err != nil {
		return nil, err
	}

	status, err := t.Status(ctx, page.URL)
	if err != nil {
		return nil, err
	}
	result.Status = status
	telemetry.RecordToggle(ctx, string(result.Action))
	return result, nil
}

func (t *Toggler) remove(ctx context.Context, nodes []bookmark.Node) (*Result, error) {
	result := &Result{Action: ActionRemoved}
	// gone holds ids no longer in the store. A failed removal stays tracked
	// so the sweep retries it.
	gone := make([]string, 0, len(nodes))
	var errs []error
	for _, n := range nodes {
		err := t.bookmarks.Remove(ctx, n.ID)
		switch {
		case err == nil:
			result.Removed = append(result.Removed, n.ID)
			gone = append(gone, n.ID)
		case bookmark.IsNotFound(err):
			gone = append(gone, n.ID)
		default:
			errs = append(errs, err)
		}
	}

	if len(gone) > 0 {
		if _, err := t.tracker.Forget(ctx, gone...); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("removing bookmarks: %w", err)
	}
	t.logger.Info("removed bookmarks", "url", nodes[0].URL, "ids", gone)
	return result, nil
}

func (t *Toggler) create(ctx context.Context, page Page) (*Result, error) {
	parentID, err := t.folders.ID(ctx)
	if err != nil {
		t.logger.Warn("quick saves folder unavailable, using default location", "error", err)
		parentID = ""
	}

	req := bookmark.CreateRequest{ParentID: parentID, Title: page.Title, URL: page.URL, Type: bookmark.TypeBookmark}
	node, err := t.bookmarks.Create(ctx, req)
	if err != nil && parentID != "" && bookmark.IsNotFound(err) {
		// The folder vanished between lookup and create.
		req.ParentID = ""
		node, err = t.bookmarks.Create(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("creating bookmark for %s: %w", page.URL, err)
	}

	if _, err := t.tracker.Track(ctx, node.ID, node.URL); err != nil {
		return nil, fmt.Errorf("tracking bookmark %s: %w", node.ID, err)
	}

	t.logger.Info("created quick save", "id", node.ID, "url", node.URL, "parent", node.ParentID)
	return &Result{Action: ActionCreated, Created: &node}, nil
}
