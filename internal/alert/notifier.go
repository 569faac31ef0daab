// Package alert tells the operator about problems aura cannot express as
// sound, using freedesktop desktop notifications over the D-Bus session bus.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/time/rate"
)

// D-Bus coordinates of the freedesktop notification service.
const (
	NotificationsName   = "org.freedesktop.Notifications"
	NotificationsPath   = "/org/freedesktop/Notifications"
	NotificationsNotify = NotificationsName + ".Notify"
)

const appName = "aura"

// DefaultSendTimeout bounds a single Notify call.
const DefaultSendTimeout = 2 * time.Second

// Level indicates the severity of an operator notification.
type Level int

const (
	// LevelInfo is for informational messages (low urgency).
	LevelInfo Level = iota
	// LevelWarning is for warning messages (normal urgency).
	LevelWarning
	// LevelError is for error messages (critical urgency).
	LevelError
)

// Notification holds the parameters of a Notify call.
type Notification struct {
	AppIcon       string
	Summary       string
	Body          string
	Hints         map[string]dbus.Variant
	ExpireTimeout int32 // milliseconds; -1 = server default, 0 = never expire
}

// Sender delivers a notification, giving up when ctx is done.
type Sender func(ctx context.Context, n *Notification) error

// Notifier sends operator notifications. Repeats of the same key are
// rate-limited so a persistent fault produces one notification per interval.
type Notifier struct {
	mu     sync.Mutex
	logger *slog.Logger

	send    Sender
	conn    *dbus.Conn
	timeout time.Duration

	// Rate limiting, per notification key
	limiters map[string]*rate.Limiter
	interval time.Duration

	enabled bool
}

// NewNotifier creates a Notifier that sends over the session bus.
// The bus connection is opened on first use.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		interval: time.Minute,
		timeout:  DefaultSendTimeout,
		enabled:  true,
	}
	n.send = n.sendDBus
	return n
}

// SetSender replaces the delivery function.
func (n *Notifier) SetSender(s Sender) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = s
}

// SetSendTimeout sets how long a single delivery may take.
func (n *Notifier) SetSendTimeout(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timeout = d
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SetMinInterval sets the minimum interval between notifications with the same key.
func (n *Notifier) SetMinInterval(interval time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interval = interval
	n.limiters = make(map[string]*rate.Limiter)
}

// Notify sends a notification unless the key was used within the minimum
// interval. It reports whether the notification was sent.
func (n *Notifier) Notify(key, summary, body string, level Level) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.enabled {
		return false
	}

	limiter, ok := n.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(n.interval), 1)
		n.limiters[key] = limiter
	}
	if !limiter.Allow() {
		n.logger.Debug("operator notification rate-limited", "key", key, "summary", summary)
		return false
	}

	notification := &Notification{
		AppIcon: iconFor(level),
		Summary: summary,
		Body:    body,
		Hints: map[string]dbus.Variant{
			"urgency":       dbus.MakeVariant(urgencyFor(level)),
			"category":      dbus.MakeVariant("device.error"),
			"desktop-entry": dbus.MakeVariant(appName),
		},
		ExpireTimeout: -1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.send(ctx, notification); err != nil {
		n.logger.Warn("failed to send operator notification", "key", key, "error", err)
		return false
	}

	n.logger.Debug("sent operator notification", "key", key, "summary", summary, "level", level)
	return true
}

// NotifyAudioError tells the operator that sound output keeps failing.
func (n *Notifier) NotifyAudioError(err error) {
	n.Notify(
		"audio-error",
		"aura cannot play sound",
		"Log activity is not being sonified: "+err.Error(),
		LevelError,
	)
}

// Close releases the bus connection, if one was opened.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

// sendDBus calls org.freedesktop.Notifications.Notify. It is called with n.mu held.
func (n *Notifier) sendDBus(ctx context.Context, notification *Notification) error {
	if n.conn == nil {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return fmt.Errorf("failed to connect to session bus: %w", err)
		}
		n.conn = conn
	}

	obj := n.conn.Object(NotificationsName, dbus.ObjectPath(NotificationsPath))
	call := obj.CallWithContext(ctx, NotificationsNotify, 0,
		appName,
		uint32(0), // replaces_id
		notification.AppIcon,
		notification.Summary,
		notification.Body,
		[]string{}, // actions
		notification.Hints,
		notification.ExpireTimeout,
	)
	if call.Err != nil {
		return fmt.Errorf("notify call failed: %w", call.Err)
	}
	return nil
}

// urgencyFor maps a level to a freedesktop urgency byte.
func urgencyFor(level Level) byte {
	switch level {
	case LevelInfo:
		return 0 // Low
	case LevelError:
		return 2 // Critical
	default:
		return 1 // Normal
	}
}

func iconFor(level Level) string {
	switch level {
	case LevelInfo:
		return "dialog-information"
	case LevelError:
		return "dialog-error"
	default:
		return "dialog-warning"
	}
}
