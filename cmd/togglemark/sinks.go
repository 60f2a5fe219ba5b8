package main

import (
	"os"

	"github.com/wolfeidau/togglemark/credentials"
	"github.com/wolfeidau/togglemark/notify"
)

// buildSinks combines the desktop, webhook and bell sinks the flags and
// credentials enable. Anything left unset falls back to logging.
func buildSinks(g *Globals, creds *credentials.Credentials) (notify.Sinks, error) {
	var (
		notifiers []notify.Notifier
		openers   []notify.Opener
		sinks     notify.Sinks
	)

	if g.Desktop {
		cmd, err := notify.NewCommand(notify.DefaultCommandConfig(), g.logger)
		if err != nil {
			return notify.Sinks{}, err
		}
		desktop := cmd.Sinks()
		if desktop.Notifier != nil {
			notifiers = append(notifiers, desktop.Notifier)
		}
		if desktop.Opener != nil {
			openers = append(openers, desktop.Opener)
		}
		sinks.Player = desktop.Player
	}

	if creds != nil && creds.Webhook != nil {
		hook := notify.NewWebhook(creds.Webhook.URL, creds.Webhook.Token)
		notifiers = append(notifiers, hook)
		openers = append(openers, hook)
	}

	if g.Bell {
		sinks.Player = notify.NewBell(os.Stderr)
	}

	switch len(notifiers) {
	case 0:
	case 1:
		sinks.Notifier = notifiers[0]
	default:
		sinks.Notifier = notify.MultiNotifier(notifiers...)
	}
	switch len(openers) {
	case 0:
	case 1:
		sinks.Opener = openers[0]
	default:
		sinks.Opener = notify.MultiOpener(openers...)
	}
	return sinks, nil
}
