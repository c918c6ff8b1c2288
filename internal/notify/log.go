package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogNotifier writes notifications to the structured log. It is the
// default sink in development.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(ctx context.Context, recipientID uuid.UUID, n Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"type", n.Type,
		"recipient_id", recipientID,
		"organization_id", n.OrganizationID,
		"subject", n.Subject(),
		"count", n.Count,
		"message", n.Message(),
	)
	return nil
}
