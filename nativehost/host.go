package nativehost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/wolfeidau/togglemark/message"
	"github.com/wolfeidau/togglemark/telemetry"
)

// Dispatcher handles one message.
type Dispatcher interface {
	Handle(ctx context.Context, msg message.Message) message.Response
}

// Host reads requests from the browser and writes replies.
type Host struct {
	dispatcher Dispatcher
	stdin      io.Reader
	stdout     io.Writer
	logger     *slog.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(h *Host) {
		h.stdin = in
		h.stdout = out
	}
}

// WithLogger sets the logger. It must not write to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// NewHost creates a host on os.Stdin and os.Stdout.
func NewHost(d Dispatcher, opts ...Option) *Host {
	h := &Host{
		dispatcher: d,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "nativehost")
	return h
}

// Run processes messages until the browser closes stdin.
func (h *Host) Run(ctx context.Context) error {
	h.logger.Debug("native host started")
	for {
		err := h.processOneMessage(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			h.logger.Debug("native host input closed")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (h *Host) processOneMessage(ctx context.Context) error {
	data, err := ReadMessage(h.stdin)
	if err != nil {
		return err
	}

	req, err := ParseRequest(data)
	if err != nil {
		h.logger.Warn("invalid native message", "error", err)
		return h.reply(0, message.Response{Success: false, Message: fmt.Sprintf("invalid request: %v", err)})
	}

	resp := h.dispatcher.Handle(ctx, req.Message)
	telemetry.RecordInboundMessage(ctx, "native", req.Message.Action, resp.Success)
	return h.reply(req.ID, resp)
}

func (h *Host) reply(id int, resp message.Response) error {
	b, err := EncodeResponse(id, resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if len(b) > MaxMessageSize {
		h.logger.Warn("response too large, truncating payload", "id", id, "bytes", len(b))
		b, err = EncodeResponse(id, message.Response{Success: resp.Success, Message: resp.Message})
		if err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
	}
	return WriteMessage(h.stdout, b)
}
