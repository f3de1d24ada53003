// Package notifier delivers human-readable event messages. Delivery is
// fire-and-forget: failures are logged and never block the trading path.
package notifier

// Notifier is implemented by every notification channel.
type Notifier interface {
	Notify(text string)
}

// Noop discards every message. Used when notifications are disabled.
type Noop struct{}

func (Noop) Notify(string) {}
