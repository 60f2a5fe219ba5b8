package notify

import (
	"context"
	"log/slog"
)

// Log writes every side effect to a logger. It is the fallback when no
// desktop integration is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log sink.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

// Sinks returns l as all three sinks.
func (l *Log) Sinks() Sinks {
	return Sinks{Notifier: l, Player: l, Opener: l}
}

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.logger.Info("notification", "id", n.ID, "title", n.Title, "message", n.Message)
	return nil
}

func (l *Log) Play(_ context.Context, t Tone) error {
	l.logger.Info("tone", "waveform", t.Waveform, "frequency", t.Frequency, "duration", t.Duration, "volume", t.Volume)
	return nil
}

func (l *Log) Open(_ context.Context, url string) error {
	l.logger.Info("open url", "url", url)
	return nil
}
