// Command togglemark runs the bookmark toggle, quick-save expiry and reminder
// host for the browser extension, over native messaging or a local HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/togglemark"
	"github.com/wolfeidau/togglemark/credentials"
	"github.com/wolfeidau/togglemark/daemon"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	DataDir     string        `help:"Directory holding bookmarks and extension state." default:"${data_dir}" env:"TOGGLEMARK_DATA_DIR" type:"path"`
	LogLevel    string        `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"TOGGLEMARK_LOG_LEVEL"`
	LogFormat   string        `help:"Log format." default:"tint" enum:"text,json,tint" env:"TOGGLEMARK_LOG_FORMAT"`
	Retention   time.Duration `help:"How long quick-save bookmarks live." default:"168h" env:"TOGGLEMARK_RETENTION"`
	Credentials string        `help:"Credentials template file." type:"existingfile" env:"TOGGLEMARK_CREDENTIALS"`
	Desktop     bool          `help:"Deliver reminders with notify-send and xdg-open." default:"true" negatable:"" env:"TOGGLEMARK_DESKTOP"`
	Bell        bool          `help:"Ring the terminal bell when a reminder fires." env:"TOGGLEMARK_BELL"`

	logger *slog.Logger `kong:"-"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Version    kong.VersionFlag `help:"Print version and exit."`
	Serve      ServeCmd         `cmd:"" help:"Run the HTTP API and alarm scheduler."`
	NativeHost NativeHostCmd    `cmd:"" name:"native-host" help:"Serve the extension over native messaging on stdio."`
	Manifest   ManifestCmd      `cmd:"" help:"Print the native messaging host manifest."`
	Toggle     ToggleCmd        `cmd:"" help:"Toggle the bookmark for a URL."`
	Status     StatusCmd        `cmd:"" help:"Show whether a URL is bookmarked."`
	Remind     RemindCmd        `cmd:"" help:"Set a reminder for a URL."`
	Cancel     CancelCmd        `cmd:"" help:"Cancel the reminder on a bookmark."`
	Sweep      SweepCmd         `cmd:"" help:"Remove expired quick-save bookmarks now."`
	List       ListCmd          `cmd:"" help:"List expiring bookmarks and scheduled reminders."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("togglemark"),
		kong.Description("Bookmark toggle with expiring quick saves and reminders."),
		kong.UsageOnError(),
		kong.Vars{
			"data_dir": defaultDataDir(),
			"version":  version,
		},
	)

	logger, err := newLogger(os.Stderr, cli.LogLevel, cli.LogFormat)
	kctx.FatalIfErrorf(err)
	slog.SetDefault(logger)
	cli.logger = logger

	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".togglemark"
	}
	return filepath.Join(dir, "togglemark")
}

// newLogger builds the slog handler. Logs always go to w, never stdout,
// because stdout carries the native messaging protocol.
func newLogger(w io.Writer, levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "tint":
		handler = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

// loadCredentials resolves the credentials file, or returns empty
// credentials when none is configured.
func (g *Globals) loadCredentials(ctx context.Context) (*credentials.Credentials, error) {
	if g.Credentials == "" {
		return &credentials.Credentials{}, nil
	}
	r := credentials.NewResolver(
		credentials.WithLogger(g.logger),
		credentials.WithOnePassword(),
		credentials.WithPass(),
	)
	return r.ResolveFile(ctx, g.Credentials)
}

// openDaemon wires the components over the data directory.
func (g *Globals) openDaemon(ctx context.Context) (*daemon.Daemon, *credentials.Credentials, error) {
	creds, err := g.loadCredentials(ctx)
	if err != nil {
		return nil, nil, err
	}
	sinks, err := buildSinks(g, creds)
	if err != nil {
		return nil, nil, err
	}

	cfg := daemon.DefaultConfig()
	cfg.DataDir = g.DataDir
	cfg.Retention = g.Retention
	cfg.SweepPeriod = togglemark.SweepPeriod
	cfg.Sinks = sinks
	cfg.Logger = g.logger

	d, err := daemon.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening data directory %s: %w", g.DataDir, err)
	}
	return d, creds, nil
}
