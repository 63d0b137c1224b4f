// Package notify routes operator alerts. The keeper logs at the usual slog
// levels plus a distinguished "actionable" severity, ordered between info and
// warn: every submitted transaction and completed pipeline stage is actionable
// and is delivered to the configured alert channels in addition to the log.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LevelActionable sits between slog.LevelInfo (0) and slog.LevelWarn (4).
const LevelActionable = slog.Level(2)

// ReplaceLevelName is a slog ReplaceAttr function that renders LevelActionable
// as "ACTIONABLE" instead of "INFO+2".
func ReplaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelActionable {
			a.Value = slog.StringValue("ACTIONABLE")
		}
	}
	return a
}

// Sender is the interface that each alert channel must implement.
type Sender interface {
	// Send delivers an alert with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier is the keeper's alert sink. Actionable both records a log line at
// LevelActionable and fans the message out to every sender; a sender failure
// never blocks the pipeline, it is logged and dropped.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. With no
// senders the Notifier degrades to log-only.
func NewNotifier(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Actionable records the message at LevelActionable and dispatches it to every
// alert channel. attrs are attached to the log record and appended to the
// alert body.
func (n *Notifier) Actionable(ctx context.Context, title, message string, attrs ...slog.Attr) {
	n.logger.LogAttrs(ctx, LevelActionable, message, append(attrs, slog.String("title", title))...)

	if len(n.senders) == 0 {
		return
	}

	body := message
	if len(attrs) > 0 {
		lines := make([]string, 0, len(attrs))
		for _, a := range attrs {
			lines = append(lines, fmt.Sprintf("%s: %s", a.Key, a.Value.String()))
		}
		body = message + "\n" + strings.Join(lines, "\n")
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "alert sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}
