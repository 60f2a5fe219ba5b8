package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/togglemark/daemon"
	"github.com/wolfeidau/togglemark/message"
	"github.com/wolfeidau/togglemark/nativehost"
	"github.com/wolfeidau/togglemark/server"
	"github.com/wolfeidau/togglemark/telemetry"
)

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Address      string `help:"Address to listen on." default:"127.0.0.1:7787" env:"TOGGLEMARK_ADDRESS"`
	Prometheus   bool   `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:"" env:"TOGGLEMARK_PROMETHEUS"`
	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export." name:"otlp-endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "togglemark",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			g.logger.Warn("shutting down metrics", "error", err)
		}
	}()

	d, creds, err := g.openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Address:   c.Address,
		AuthToken: creds.AuthToken,
		Logger:    g.logger,
	}, d)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	g.logger.Info("togglemark started", "address", srv.Address(), "data_dir", g.DataDir, "auth", creds.AuthToken != "")

	select {
	case <-ctx.Done():
		g.logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// NativeHostCmd serves native messaging until the browser closes stdin.
type NativeHostCmd struct {
	// Browsers pass the caller origin or manifest path and extension id.
	Origin []string `arg:"" optional:"" help:"Arguments supplied by the browser."`
}

func (c *NativeHostCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:    "togglemark",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownMetrics(context.Background()) //nolint:errcheck

	d, _, err := g.openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return err
	}

	g.logger.Info("native host started", "origin", c.Origin, "data_dir", g.DataDir)
	host := nativehost.NewHost(d, nativehost.WithIO(os.Stdin, os.Stdout), nativehost.WithLogger(g.logger))
	return host.Run(ctx)
}

// ManifestCmd prints a native messaging manifest.
type ManifestCmd struct {
	Browser     string `help:"Browser family." default:"firefox" enum:"firefox,chrome"`
	ExtensionID string `help:"Extension id allowed to connect." required:"" name:"extension-id"`
	HostPath    string `help:"Path of the togglemark binary. Defaults to this executable." type:"path"`
}

func (c *ManifestCmd) Run(_ *Globals) error {
	hostPath := c.HostPath
	if hostPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locating executable: %w", err)
		}
		hostPath = exe
	}
	b, err := nativehost.GenerateManifest(nativehost.Browser(c.Browser), hostPath, c.ExtensionID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}

// ToggleCmd toggles a bookmark.
type ToggleCmd struct {
	URL   string `arg:"" help:"Page URL."`
	Title string `help:"Page title for a new bookmark."`
}

func (c *ToggleCmd) Run(g *Globals) error {
	return g.once(message.Message{Action: message.ActionToggle, URL: c.URL, Title: c.Title})
}

// StatusCmd reports bookmark state.
type StatusCmd struct {
	URL string `arg:"" help:"Page URL."`
}

func (c *StatusCmd) Run(g *Globals) error {
	return g.once(message.Message{Action: message.ActionStatus, URL: c.URL})
}

// RemindCmd sets a reminder. It fires from serve or native-host.
type RemindCmd struct {
	URL        string `arg:"" help:"Page URL."`
	Minutes    int    `arg:"" help:"Minutes from now."`
	Title      string `help:"Title shown in the notification."`
	BookmarkID string `help:"Bookmark id; found or created from the URL when empty or unknown." name:"bookmark-id"`
}

func (c *RemindCmd) Run(g *Globals) error {
	return g.once(message.Message{
		Action:     message.ActionSetReminder,
		BookmarkID: c.BookmarkID,
		URL:        c.URL,
		Title:      c.Title,
		Minutes:    c.Minutes,
	})
}

// CancelCmd cancels a reminder.
type CancelCmd struct {
	BookmarkID string `arg:"" name:"bookmark-id" help:"Bookmark id."`
}

func (c *CancelCmd) Run(g *Globals) error {
	return g.once(message.Message{Action: message.ActionCancelReminder, BookmarkID: c.BookmarkID})
}

// SweepCmd runs the expiry sweep.
type SweepCmd struct{}

func (c *SweepCmd) Run(g *Globals) error {
	return g.once(message.Message{Action: message.ActionSweep})
}

// ListCmd lists tracked state.
type ListCmd struct {
	Reminders bool `help:"List reminders instead of expiring bookmarks."`
}

func (c *ListCmd) Run(g *Globals) error {
	action := message.ActionListExpiring
	if c.Reminders {
		action = message.ActionListReminders
	}
	return g.once(message.Message{Action: action})
}

// once opens the data directory, handles a single message and prints the
// response. A failed response is returned as an error.
func (g *Globals) once(msg message.Message) error {
	ctx := context.Background()

	d, _, err := g.openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Install(ctx); err != nil {
		return err
	}

	resp := d.Handle(ctx, msg)
	if err := printResponse(resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s failed: %s", msg.Action, resp.Message)
	}
	return nil
}

func printResponse(resp message.Response) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

var _ nativehost.Dispatcher = (*daemon.Daemon)(nil)
