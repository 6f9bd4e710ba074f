package notifications

// Notifier delivers out-of-band alerts for events an operator must see:
// protection failures, emergency closes, the kill-switch.
type Notifier interface {
	SendAlert(level, message string) error
}

// NopNotifier discards alerts. Used when notifications are disabled.
type NopNotifier struct{}

func (NopNotifier) SendAlert(level, message string) error { return nil }
