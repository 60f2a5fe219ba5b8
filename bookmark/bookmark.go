// Package bookmark defines the host bookmark store the toggle, expiry and
// reminder components operate on.
package bookmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/togglemark"
)

// ErrNotFound is returned when a node does not exist. Removing a node that is
// already gone reports ErrNotFound; callers reconciling state treat it as
// success.
var ErrNotFound = errors.New("bookmark not found")

// ErrInvalid is returned when a create request is malformed.
var ErrInvalid = errors.New("invalid bookmark request")

// IsNotFound reports whether err means the node is already absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Type distinguishes bookmarks from folders.
type Type string

const (
	TypeBookmark Type = "bookmark"
	TypeFolder   Type = "folder"
)

// Node is a bookmark or folder in the host store.
type Node struct {
	ID        string            `json:"id"`
	ParentID  string            `json:"parentId,omitempty"`
	Title     string            `json:"title"`
	URL       string            `json:"url,omitempty"`
	Type      Type              `json:"type"`
	DateAdded togglemark.Millis `json:"dateAdded"`
}

// IsFolder reports whether n is a folder.
func (n Node) IsFolder() bool {
	return n.Type == TypeFolder
}

// Query selects nodes by exact URL or exact title. Exactly one field is set.
type Query struct {
	URL   string
	Title string
}

// Validate checks that exactly one criterion is set.
func (q Query) Validate() error {
	switch {
	case q.URL != "" && q.Title != "":
		return fmt.Errorf("%w: query must set url or title, not both", ErrInvalid)
	case q.URL == "" && q.Title == "":
		return fmt.Errorf("%w: empty query", ErrInvalid)
	}
	return nil
}

// CreateRequest describes a node to create. An empty ParentID places the
// node in the store's default folder.
type CreateRequest struct {
	ParentID string
	Title    string
	URL      string
	Type     Type
}

// Validate checks the request shape.
func (r CreateRequest) Validate() error {
	switch r.Type {
	case TypeBookmark, "":
		if r.URL == "" {
			return fmt.Errorf("%w: bookmark requires a url", ErrInvalid)
		}
	case TypeFolder:
		if r.URL != "" {
			return fmt.Errorf("%w: folder cannot have a url", ErrInvalid)
		}
		if r.Title == "" {
			return fmt.Errorf("%w: folder requires a title", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, r.Type)
	}
	return nil
}

// EventKind identifies a store change.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a change has been committed.
type Event struct {
	Kind EventKind
	Node Node
}

// Store is the host bookmark store.
type Store interface {
	// Search returns every node matching q.
	Search(ctx context.Context, q Query) ([]Node, error)

	// Create adds a node and returns it with its assigned id.
	Create(ctx context.Context, req CreateRequest) (Node, error)

	// Remove deletes the node and, for folders, everything beneath it.
	// Returns ErrNotFound when the node is already absent.
	Remove(ctx context.Context, id string) error

	// Get returns the node with id or ErrNotFound.
	Get(ctx context.Context, id string) (Node, error)

	// Subscribe registers fn for change events, delivered asynchronously
	// and in commit order. The returned func unregisters it.
	Subscribe(fn func(Event)) (unsubscribe func())
}
