package alert

import (
	"context"
	"log/slog"
)

// Notifier delivers fired alerts. The delivery channel is a deployment
// concern; the engine only hands over message and severity.
type Notifier interface {
	Notify(ctx context.Context, message, severity string) error
}

// LogNotifier writes alerts to the process log. It is the default sink when
// no external channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, message, severity string) error {
	switch severity {
	case SeverityCritical:
		slog.Error("[Alert] "+message, "severity", severity)
	case SeverityWarning:
		slog.Warn("[Alert] "+message, "severity", severity)
	default:
		slog.Info("[Alert] "+message, "severity", severity)
	}
	return nil
}
