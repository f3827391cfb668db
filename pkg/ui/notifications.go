package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

const notificationApp = "Klarna Parser"

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name", notificationApp, title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier reports the outcome of a run on the console and, when enabled,
// as a desktop notification.
type Notifier struct {
	sender NotificationSender
}

// NewNotifier creates a Notifier. Desktop notifications are only sent when
// desktop is true and the platform has a sender.
func NewNotifier(desktop bool) *Notifier {
	if !desktop {
		return &Notifier{}
	}
	switch runtime.GOOS {
	case "linux":
		return &Notifier{sender: &LinuxNotificationSender{}}
	case "darwin":
		return &Notifier{sender: &MacOSNotificationSender{}}
	default:
		return &Notifier{}
	}
}

// NewNotifierWithSender creates a Notifier using sender
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// SendError reports a failed run
func (n *Notifier) SendError(title, message string) {
	printf(true, "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

// SendSuccess reports a finished run
func (n *Notifier) SendSuccess(title, message string) {
	printf(false, "\n%s: %s\n", Green(title), Green(message))
	n.send(title, message)
}

func (n *Notifier) send(title, message string) {
	if n.sender == nil {
		return
	}
	// first line only
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	// Ignore errors as notifications are not critical
	_ = n.sender.Send(title, message)
}
