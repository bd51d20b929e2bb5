package notification

import (
	"context"

	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
)

// LogProvider writes notifications to the log instead of delivering them.
type LogProvider struct {
	log logger.Logger
}

func NewLogProvider(log logger.Logger) *LogProvider {
	return &LogProvider{log: log}
}

func (p *LogProvider) Name() string { return ProviderLog }

func (p *LogProvider) Send(_ context.Context, userID uint, msg marketing.Message) (string, error) {
	p.log.Info("notification",
		logger.Uint64("user_id", uint64(userID)),
		logger.String("title", msg.Title),
		logger.String("body", msg.Body),
		logger.String("correlation_id", msg.CorrelationID))
	return "log:" + msg.CorrelationID, nil
}

func (p *LogProvider) Close() error { return nil }
