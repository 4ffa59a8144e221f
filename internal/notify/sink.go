package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink delivers an admitted notification by logging it at error level.
// It's the default Sink when no real transport (Pushover, email, a
// webhook) is configured, so a throttle can always be wired up even
// before an operator picks an actual delivery channel.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, subject, body string) error {
	logger.Error("admin notification", zap.String("subject", subject), zap.String("body", body))
	return nil
}
