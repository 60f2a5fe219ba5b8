// Package bookmarkdb is a bbolt-backed bookmark store with URL and title
// indexes, used as the host store when the daemon runs outside a browser.
package bookmarkdb

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/bookmark"
)

// DB implements bookmark.Store using bbolt.
type DB struct {
	db     *bbolt.DB
	broker *bookmark.Broker
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

var _ bookmark.Store = (*DB)(nil)

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// WithNoSync disables fsync per transaction. Use only in tests.
func WithNoSync(noSync bool) Option {
	return func(d *DB) {
		d.noSync = noSync
	}
}

// Open opens or creates the database at path and seeds the root folders.
func Open(path string, opts ...Option) (*DB, error) {
	d := &DB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "bookmarkdb")

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  d.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bookmark database: %w", err)
	}
	d.db = db

	if err := d.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	d.broker = bookmark.NewBroker(d.logger)
	d.logger.Debug("opened bookmark database", "path", path, "noSync", d.noSync)
	return d, nil
}

func (d *DB) init() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketNodes, bucketNodesByURL, bucketNodesByTitle, bucketChildren} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		roots := []bookmark.Node{
			{ID: RootToolbar, Title: togglemark.ToolbarFolderTitle, Type: bookmark.TypeFolder},
			{ID: RootUnfiled, Title: RootUnfiledTitle, Type: bookmark.TypeFolder},
		}
		nodes := tx.Bucket(bucketNodes)
		for _, root := range roots {
			if nodes.Get([]byte(root.ID)) != nil {
				continue
			}
			root.DateAdded = togglemark.MillisOf(d.now())
			if err := putNode(tx, root); err != nil {
				return fmt.Errorf("seeding root %s: %w", root.ID, err)
			}
		}
		return nil
	})
}

// Close stops event delivery and closes the database.
func (d *DB) Close() error {
	if d.broker != nil {
		d.broker.Close()
	}
	if d.db == nil {
		return nil
	}
	d.logger.Debug("closing bookmark database")
	return d.db.Close()
}

// Subscribe implements bookmark.Store.
func (d *DB) Subscribe(fn func(bookmark.Event)) func() {
	return d.broker.Subscribe(fn)
}

// WaitEvents blocks until every committed change has been delivered to subscribers.
func (d *DB) WaitEvents() {
	d.broker.Wait()
}

// Get implements bookmark.Store.
func (d *DB) Get(_ context.Context, id string) (bookmark.Node, error) {
	var node bookmark.Node
	err := d.db.View(func(tx *bbolt.Tx) error {
		n, err := getNode(tx, id)
		node = n
		return err
	})
	return node, err
}

// Search implements bookmark.Store.
func (d *DB) Search(_ context.Context, q bookmark.Query) ([]bookmark.Node, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	bucket, prefix := bucketNodesByURL, urlPrefix(q.URL)
	if q.Title != "" {
		bucket, prefix = bucketNodesByTitle, titlePrefix(q.Title)
	}

	var out []bookmark.Node
	err := d.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			node, err := getNode(tx, string(k[len(prefix):]))
			if err != nil {
				return err
			}
			// Hash collisions are possible in principle; compare the real URL.
			if q.URL != "" && node.URL != q.URL {
				continue
			}
			out = append(out, node)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching bookmarks: %w", err)
	}

	slices.SortFunc(out, func(a, b bookmark.Node) int {
		if c := cmp.Compare(a.DateAdded, b.DateAdded); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return out, nil
}

// Create implements bookmark.Store.
func (d *DB) Create(_ context.Context, req bookmark.CreateRequest) (bookmark.Node, error) {
	if err := req.Validate(); err != nil {
		return bookmark.Node{}, err
	}
	if req.Type == "" {
		req.Type = bookmark.TypeBookmark
	}
	if req.ParentID == "" {
		req.ParentID = RootUnfiled
	}

	var node bookmark.Node
	err := d.db.Update(func(tx *bbolt.Tx) error {
		parent, err := getNode(tx, req.ParentID)
		if err != nil {
			return fmt.Errorf("parent %s: %w", req.ParentID, err)
		}
		if !parent.IsFolder() {
			return fmt.Errorf("%w: parent %s is not a folder", bookmark.ErrInvalid, req.ParentID)
		}

		seq, err := tx.Bucket(bucketNodes).NextSequence()
		if err != nil {
			return fmt.Errorf("allocating id: %w", err)
		}
		node = bookmark.Node{
			ID:        strconv.FormatUint(seq, 10),
			ParentID:  req.ParentID,
			Title:     req.Title,
			URL:       req.URL,
			Type:      req.Type,
			DateAdded: togglemark.MillisOf(d.now()),
		}
		return putNode(tx, node)
	})
	if err != nil {
		return bookmark.Node{}, fmt.Errorf("creating bookmark: %w", err)
	}

	d.logger.Debug("created node", "id", node.ID, "type", node.Type, "parent", node.ParentID)
	d.broker.Publish(bookmark.Event{Kind: bookmark.EventCreated, Node: node})
	return node, nil
}

// Remove implements bookmark.Store. Root folders cannot be removed.
func (d *DB) Remove(_ context.Context, id string) error {
	if id == RootToolbar || id == RootUnfiled {
		return fmt.Errorf("%w: cannot remove root folder %s", bookmark.ErrInvalid, id)
	}

	var removed []bookmark.Node
	err := d.db.Update(func(tx *bbolt.Tx) error {
		node, err := getNode(tx, id)
		if err != nil {
			return err
		}
		removed, err = removeTree(tx, node)
		return err
	})
	if err != nil {
		return fmt.Errorf("removing bookmark %s: %w", id, err)
	}

	d.logger.Debug("removed node", "id", id, "nodes", len(removed))
	events := make([]bookmark.Event, 0, len(removed))
	for _, n := range removed {
		events = append(events, bookmark.Event{Kind: bookmark.EventRemoved, Node: n})
	}
	d.broker.Publish(events...)
	return nil
}

// Children returns the direct children of the folder with parentID.
func (d *DB) Children(_ context.Context, parentID string) ([]bookmark.Node, error) {
	var out []bookmark.Node
	err := d.db.View(func(tx *bbolt.Tx) error {
		if _, err := getNode(tx, parentID); err != nil {
			return err
		}
		ids := childIDs(tx, parentID)
		for _, id := range ids {
			n, err := getNode(tx, id)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

// Count returns the number of nodes, roots included.
func (d *DB) Count() (int, error) {
	var n int
	err := d.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketNodes).Stats().KeyN
		return nil
	})
	return n, err
}

// removeTree deletes node and its descendants, children first.
func removeTree(tx *bbolt.Tx, node bookmark.Node) ([]bookmark.Node, error) {
	var removed []bookmark.Node
	if node.IsFolder() {
		for _, id := range childIDs(tx, node.ID) {
			child, err := getNode(tx, id)
			if err != nil {
				return nil, err
			}
			sub, err := removeTree(tx, child)
			if err != nil {
				return nil, err
			}
			removed = append(removed, sub...)
		}
	}
	if err := deleteNode(tx, node); err != nil {
		return nil, err
	}
	return append(removed, node), nil
}

func childIDs(tx *bbolt.Tx, parentID string) []string {
	var ids []string
	prefix := childPrefix(parentID)
	c := tx.Bucket(bucketChildren).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		ids = append(ids, string(k[len(prefix):]))
	}
	slices.SortFunc(ids, compareIDs)
	return ids
}

func getNode(tx *bbolt.Tx, id string) (bookmark.Node, error) {
	var node bookmark.Node
	data := tx.Bucket(bucketNodes).Get([]byte(id))
	if data == nil {
		return node, bookmark.ErrNotFound
	}
	if err := json.Unmarshal(data, &node); err != nil {
		return node, fmt.Errorf("decoding node %s: %w", id, err)
	}
	return node, nil
}

func putNode(tx *bbolt.Tx, node bookmark.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("encoding node: %w", err)
	}
	if err := tx.Bucket(bucketNodes).Put([]byte(node.ID), data); err != nil {
		return err
	}
	if node.URL != "" {
		if err := tx.Bucket(bucketNodesByURL).Put(urlKey(node.URL, node.ID), nil); err != nil {
			return err
		}
	}
	if err := tx.Bucket(bucketNodesByTitle).Put(titleKey(node.Title, node.ID), nil); err != nil {
		return err
	}
	if node.ParentID != "" {
		if err := tx.Bucket(bucketChildren).Put(childKey(node.ParentID, node.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteNode(tx *bbolt.Tx, node bookmark.Node) error {
	if err := tx.Bucket(bucketNodes).Delete([]byte(node.ID)); err != nil {
		return err
	}
	if node.URL != "" {
		if err := tx.Bucket(bucketNodesByURL).Delete(urlKey(node.URL, node.ID)); err != nil {
			return err
		}
	}
	if err := tx.Bucket(bucketNodesByTitle).Delete(titleKey(node.Title, node.ID)); err != nil {
		return err
	}
	if node.ParentID != "" {
		if err := tx.Bucket(bucketChildren).Delete(childKey(node.ParentID, node.ID)); err != nil {
			return err
		}
	}
	return nil
}

// compareIDs orders numeric ids numerically and places named roots first.
func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseUint(a, 10, 64)
	bi, berr := strconv.ParseUint(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(ai, bi)
	case aerr != nil && berr != nil:
		return bytes.Compare([]byte(a), []byte(b))
	case aerr != nil:
		return -1
	default:
		return 1
	}
}
