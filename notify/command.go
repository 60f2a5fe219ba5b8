package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"text/template"
	"time"
)

// CommandConfig holds argv templates for each side effect. Each element is a
// text/template executed with the Notification, Tone or {URL} being delivered.
// An empty argv disables that side effect.
type CommandConfig struct {
	Notify []string
	Play   []string
	Open   []string

	// Timeout bounds each command. Default is 10s.
	Timeout time.Duration
}

// DefaultCommandConfig returns argv templates for a freedesktop session.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		Notify:  []string{"notify-send", "--app-name=togglemark", "{{.Title}}", "{{.Message}}"},
		Open:    []string{"xdg-open", "{{.URL}}"},
		Timeout: 10 * time.Second,
	}
}

// Command delivers side effects by running external programs.
type Command struct {
	notify []*template.Template
	play   []*template.Template
	open   []*template.Template

	timeout time.Duration
	logger  *slog.Logger

	// run executes argv; replaced in tests.
	run func(ctx context.Context, argv []string) error
}

// NewCommand parses the argv templates in cfg.
func NewCommand(cfg CommandConfig, logger *slog.Logger) (*Command, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Command{
		timeout: cfg.Timeout,
		logger:  logger.With("component", "notify"),
		run:     runCommand,
	}
	var err error
	if c.notify, err = parseArgv("notify", cfg.Notify); err != nil {
		return nil, err
	}
	if c.play, err = parseArgv("play", cfg.Play); err != nil {
		return nil, err
	}
	if c.open, err = parseArgv("open", cfg.Open); err != nil {
		return nil, err
	}
	return c, nil
}

// Sinks returns the configured sinks; unconfigured ones are nil.
func (c *Command) Sinks() Sinks {
	var s Sinks
	if len(c.notify) > 0 {
		s.Notifier = c
	}
	if len(c.play) > 0 {
		s.Player = c
	}
	if len(c.open) > 0 {
		s.Opener = c
	}
	return s
}

func (c *Command) Notify(ctx context.Context, n Notification) error {
	return c.exec(ctx, "notify", c.notify, n)
}

func (c *Command) Play(ctx context.Context, t Tone) error {
	return c.exec(ctx, "play", c.play, t)
}

func (c *Command) Open(ctx context.Context, url string) error {
	return c.exec(ctx, "open", c.open, struct{ URL string }{URL: url})
}

func (c *Command) exec(ctx context.Context, name string, argv []*template.Template, data any) error {
	if len(argv) == 0 {
		return fmt.Errorf("%s command is not configured", name)
	}
	args, err := renderArgv(argv, data)
	if err != nil {
		return fmt.Errorf("rendering %s command: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("running command", "sink", name, "program", args[0])
	if err := c.run(ctx, args); err != nil {
		return fmt.Errorf("running %s command %s: %w", name, args[0], err)
	}
	return nil
}

func parseArgv(name string, argv []string) ([]*template.Template, error) {
	out := make([]*template.Template, 0, len(argv))
	for i, arg := range argv {
		t, err := template.New(fmt.Sprintf("%s[%d]", name, i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parsing %s argument %d: %w", name, i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func renderArgv(argv []*template.Template, data any) ([]string, error) {
	args := make([]string, 0, len(argv))
	var buf bytes.Buffer
	for _, t := range argv {
		buf.Reset()
		if err := t.Execute(&buf, data); err != nil {
			return nil, err
		}
		args = append(args, buf.String())
	}
	if strings.TrimSpace(args[0]) == "" {
		return nil, errors.New("empty program name")
	}
	return args, nil
}

func runCommand(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // argv comes from operator configuration
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
