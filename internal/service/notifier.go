package service

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/formwell/internal/domain"
)

// LogNotifier writes threshold events to the log. It is used when the
// background worker is disabled.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyThreshold logs the event.
func (n *LogNotifier) NotifyThreshold(ctx context.Context, event domain.ThresholdEvent) error {
	n.logger.InfoContext(ctx, "Usage threshold reached",
		"user_id", event.UserID,
		"month", event.Month.Format("2006-01"),
		"dimension", event.Dimension,
		"threshold", int(event.Threshold),
		"usage", event.Usage,
		"limit", event.Limit,
		"message", ThresholdMessage(event),
	)
	return nil
}
