package display

import "github.com/gen2brain/beeep"

const appName = "voxclone"

// Notifier sends desktop notifications
type Notifier struct {
	enabled bool
	send    func(title, message, icon string) error
}

func NewNotifier(enabled bool) *Notifier {
	return &Notifier{enabled: enabled, send: beeep.Notify}
}

func (n *Notifier) notify(title, message string) {
	if n == nil || !n.enabled {
		return
	}
	if len(message) > 100 {
		message = message[:100] + "..."
	}
	// Notification failures are not worth surfacing
	_ = n.send(appName+": "+title, message, "")
}
