// Package notification delivers marketing messages to storefront customers
// over Telegram, MQTT or the application log.
package notification

import (
	"github.com/teashop/storefront/internal/conf"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
)

const componentName = "notification"

// Provider names accepted in notifications.provider.
const (
	ProviderLog      = "log"
	ProviderTelegram = "telegram"
	ProviderMQTT     = "mqtt"
)

// ErrNoChat is returned when a user cannot be reached on the provider.
var ErrNoChat = errors.NewStd("user has no chat to deliver to")

// Provider is a marketing.Notifier that holds resources.
type Provider interface {
	marketing.Notifier
	Name() string
	Close() error
}

// NewProvider builds the provider selected in settings. Telegram resolves
// chat ids through users.
func NewProvider(settings conf.NotificationSettings, users marketing.UserLookup, log logger.Logger) (Provider, error) {
	log = log.Module(componentName)
	switch settings.Provider {
	case "", ProviderLog:
		return NewLogProvider(log), nil
	case ProviderTelegram:
		return NewTelegramProvider(settings.Telegram, users, log)
	case ProviderMQTT:
		return NewMQTTProvider(settings.MQTT, log)
	default:
		return nil, errors.Newf("unsupported notification provider %q", settings.Provider).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
}
