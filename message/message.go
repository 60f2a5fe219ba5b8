// Package message dispatches requests from the browser extension. Every
// request gets a Response; failures are reported in the response and logged,
// never returned to the transport.
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/bookmark"
	"github.com/wolfeidau/togglemark/expiry"
	"github.com/wolfeidau/togglemark/reminder"
	"github.com/wolfeidau/togglemark/toggle"
)

// Actions understood by Handle.
const (
	ActionSetReminder    = "setReminder"
	ActionCancelReminder = "cancelReminder"
	ActionListReminders  = "listReminders"
	ActionToggle         = "toggle"
	ActionStatus         = "status"
	ActionSweep          = "sweep"
	ActionListExpiring   = "listExpiring"
)

// Message is an inbound request.
type Message struct {
	Action     string `json:"action"`
	BookmarkID string `json:"bookmarkId,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	Minutes    int    `json:"minutes,omitempty"`
}

// Response is the reply to a Message.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(msg string, data any) Response {
	return Response{Success: true, Message: msg, Data: data}
}

func fail(msg string) Response {
	return Response{Success: false, Message: msg}
}

// ValidationError is a request problem the user can fix. Its message is
// shown to the user verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func invalid(msg string) error {
	return &ValidationError{Msg: msg}
}

// Handler dispatches messages to the toggle, reminder and expiry components.
type Handler struct {
	bookmarks bookmark.Store
	folders   *toggle.Folders
	toggler   *toggle.Toggler
	reminders *reminder.Service
	expiry    *expiry.Manager
	logger    *slog.Logger
}

// Deps are the components a Handler dispatches to.
type Deps struct {
	Bookmarks bookmark.Store
	Folders   *toggle.Folders
	Toggler   *toggle.Toggler
	Reminders *reminder.Service
	Expiry    *expiry.Manager
	Logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bookmarks: d.Bookmarks,
		folders:   d.Folders,
		toggler:   d.Toggler,
		reminders: d.Reminders,
		expiry:    d.Expiry,
		logger:    logger.With("component", "message"),
	}
}

// Handle processes msg. Work is detached from ctx cancellation so a client
// that disconnects mid-request does not leave state half-written.
func (h *Handler) Handle(ctx context.Context, msg Message) Response {
	ctx = context.WithoutCancel(ctx)

	var (
		resp Response
		err  error
	)
	switch msg.Action {
	case ActionSetReminder:
		resp, err = h.setReminder(ctx, msg)
	case ActionCancelReminder:
		resp, err = h.cancelReminder(ctx, msg)
	case ActionListReminders:
		resp, err = h.listReminders(ctx)
	case ActionToggle:
		resp, err = h.toggle(ctx, msg)
	case ActionStatus:
		resp, err = h.status(ctx, msg)
	case ActionSweep:
		resp, err = h.sweep(ctx)
	case ActionListExpiring:
		resp, err = h.listExpiring(ctx)
	case "":
		err = invalid("Missing action.")
	default:
		err = invalid(fmt.Sprintf("Unknown action %q.", msg.Action))
	}

	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			h.logger.Debug("rejected message", "action", msg.Action, "reason", verr.Msg)
			return fail(verr.Msg)
		}
		h.logger.Error("message failed", "action", msg.Action, "error", err)
		return fail(fmt.Sprintf("Error: %v", err))
	}
	return resp
}

func (h *Handler) setReminder(ctx context.Context, msg Message) (Response, error) {
	if msg.Minutes <= 0 || msg.Minutes > togglemark.MaxReminderMinutes {
		return Response{}, invalid("Please select a valid reminder time.")
	}
	if !toggle.Toggleable(msg.URL) {
		return Response{}, invalid("Cannot set reminder for this page.")
	}

	id := msg.BookmarkID
	created := false
	if id != "" {
		if _, err := h.bookmarks.Get(ctx, id); err != nil {
			if !bookmark.IsNotFound(err) {
				return Response{}, fmt.Errorf("looking up bookmark %s: %w", id, err)
			}
			h.logger.Debug("reminder bookmark id is stale, resolving by url", "id", id, "url", msg.URL)
			id = ""
		}
	}
	if id == "" {
		node, found, err := h.findByURL(ctx, msg.URL)
		if err != nil {
			return Response{}, err
		}
		if !found {
			node, err = h.createQuickSave(ctx, msg)
			if err != nil {
				h.logger.Warn("could not create bookmark for reminder", "url", msg.URL, "error", err)
				return fail("Could not find or create bookmark for this URL"), nil
			}
			created = true
		}
		id = node.ID
	}

	res, err := h.reminders.Set(ctx, reminder.Request{
		BookmarkID: id,
		URL:        msg.URL,
		Title:      msg.Title,
		Minutes:    msg.Minutes,
	})
	if err != nil {
		if errors.Is(err, reminder.ErrInvalid) {
			return Response{}, invalid(err.Error())
		}
		return Response{}, err
	}

	return ok(fmt.Sprintf("Reminder set for %d minutes", msg.Minutes), SetReminderData{
		Scheduled: reminder.Scheduled{ID: id, ReminderEntry: res.Entry},
		Created:   created,
		Replaced:  res.Replaced,
	}), nil
}

// SetReminderData is the payload of a successful setReminder.
type SetReminderData struct {
	reminder.Scheduled
	// Created is true when the page was bookmarked to hold the reminder.
	Created  bool `json:"created"`
	Replaced bool `json:"replaced"`
}

func (h *Handler) cancelReminder(ctx context.Context, msg Message) (Response, error) {
	id := msg.BookmarkID
	if id == "" {
		if msg.URL == "" {
			return Response{}, invalid("A bookmark id or url is required.")
		}
		node, found, err := h.findByURL(ctx, msg.URL)
		if err != nil {
			return Response{}, err
		}
		if !found {
			return fail("No bookmark found for this URL"), nil
		}
		id = node.ID
	}

	existed, err := h.reminders.Cancel(ctx, id)
	if err != nil {
		return Response{}, err
	}
	if !existed {
		return fail("No reminder set for this bookmark"), nil
	}
	return ok("Reminder cancelled", map[string]string{"id": id}), nil
}

func (h *Handler) listReminders(ctx context.Context) (Response, error) {
	list, err := h.reminders.List(ctx)
	if err != nil {
		return Response{}, err
	}
	return ok(fmt.Sprintf("%d reminders", len(list)), list), nil
}

func (h *Handler) toggle(ctx context.Context, msg Message) (Response, error) {
	res, err := h.toggler.Toggle(ctx, toggle.Page{URL: msg.URL, Title: msg.Title})
	if err != nil {
		if errors.Is(err, toggle.ErrNotToggleable) {
			return Response{}, invalid("This page cannot be bookmarked.")
		}
		return Response{}, err
	}
	text := "Bookmark added"
	if res.Action == toggle.ActionRemoved {
		text = "Bookmark removed"
	}
	return ok(text, res), nil
}

func (h *Handler) status(ctx context.Context, msg Message) (Response, error) {
	st, err := h.toggler.Status(ctx, msg.URL)
	if err != nil {
		if errors.Is(err, toggle.ErrNotToggleable) {
			return Response{}, invalid("This page cannot be bookmarked.")
		}
		return Response{}, err
	}
	return ok(st.Title, st), nil
}

func (h *Handler) sweep(ctx context.Context) (Response, error) {
	res, err := h.expiry.Sweep(ctx)
	if err != nil {
		return Response{}, err
	}
	return ok(fmt.Sprintf("Removed %d expired bookmarks", res.Expired), res), nil
}

func (h *Handler) listExpiring(ctx context.Context) (Response, error) {
	list, err := h.expiry.List(ctx)
	if err != nil {
		return Response{}, err
	}
	return ok(fmt.Sprintf("%d expiring bookmarks", len(list)), list), nil
}

func (h *Handler) findByURL(ctx context.Context, url string) (bookmark.Node, bool, error) {
	nodes, err := h.bookmarks.Search(ctx, bookmark.Query{URL: url})
	if err != nil {
		return bookmark.Node{}, false, fmt.Errorf("searching bookmarks: %w", err)
	}
	for _, n := range nodes {
		if !n.IsFolder() {
			return n, true, nil
		}
	}
	return bookmark.Node{}, false, nil
}

// createQuickSave bookmarks the page in the quick saves folder without
// tracking it for expiry.
func (h *Handler) createQuickSave(ctx context.Context, msg Message) (bookmark.Node, error) {
	parentID, err := h.folders.ID(ctx)
	if err != nil {
		h.logger.Warn("quick saves folder unavailable, using default location", "error", err)
		parentID = ""
	}
	return h.bookmarks.Create(ctx, bookmark.CreateRequest{
		ParentID: parentID,
		Title:    msg.Title,
		URL:      msg.URL,
		Type:     bookmark.TypeBookmark,
	})
}
