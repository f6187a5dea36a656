package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-voice-cache/types"
)

// LogChannel writes alerts to the service log. The fallback channel
// when no webhook is configured.
type LogChannel struct {
	logger types.Logger
}

func NewLogChannel(logger types.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Publish(_ context.Context, subject, message string) error {
	c.logger.Warn("Operator alert",
		zap.String("subject", subject),
		zap.String("message", message))
	return nil
}
