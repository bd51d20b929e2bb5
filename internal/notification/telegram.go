package notification

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/k3a/html2text"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/teashop/storefront/internal/conf"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
)

// sendFunc delivers one message to a shoutrrr service URL.
type sendFunc func(serviceURL, message string, params types.Params) error

// TelegramProvider sends messages through the Telegram bot API via shoutrrr.
type TelegramProvider struct {
	token     string
	parseMode string
	users     marketing.UserLookup
	send      sendFunc
	log       logger.Logger
}

// NewTelegramProvider creates a Telegram provider. Messages go to the
// user's private chat, which has the same id as the Telegram user.
func NewTelegramProvider(settings conf.TelegramSettings, users marketing.UserLookup, log logger.Logger) (*TelegramProvider, error) {
	if settings.BotToken == "" {
		return nil, errors.Newf("telegram bot token is not configured").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if users == nil {
		return nil, errors.Newf("telegram provider needs a user lookup").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &TelegramProvider{
		token:     settings.BotToken,
		parseMode: strings.ToUpper(settings.ParseMode),
		users:     users,
		send:      shoutrrrSend,
		log:       log,
	}, nil
}

func (p *TelegramProvider) Name() string { return ProviderTelegram }

func (p *TelegramProvider) Close() error { return nil }

// Send delivers msg to the user's Telegram chat. HTML bodies are converted
// to plain text unless the bot is configured for HTML parse mode.
func (p *TelegramProvider) Send(ctx context.Context, userID uint, msg marketing.Message) (string, error) {
	user, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve telegram chat for user %d: %w", userID, err)
	}
	if user.TelegramID == 0 {
		return "", errors.Newf("%w: user %d", ErrNoChat, userID).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	if user.IsBlocked {
		return "", errors.Newf("%w: user %d blocked the bot", ErrNoChat, userID).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	chatID := strconv.FormatInt(user.TelegramID, 10)
	body := msg.Body
	if msg.HTML && p.parseMode != "HTML" {
		body = html2text.HTML2Text(body)
	}

	params := types.Params{}
	if msg.Title != "" {
		params["title"] = msg.Title
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.send(p.serviceURL(chatID), body, params)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return "", errors.Newf("telegram send to chat %s: %w", chatID, err).
				Component(componentName).
				Category(errors.CategoryNetwork).
				Context("user_id", userID).
				Build()
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}

	p.log.Debug("telegram notification sent",
		logger.Uint64("user_id", uint64(userID)),
		logger.String("correlation_id", msg.CorrelationID))
	return "telegram:" + chatID, nil
}

// serviceURL builds telegram://<token>@telegram?chats=<chat>.
func (p *TelegramProvider) serviceURL(chatID string) string {
	q := url.Values{}
	q.Set("chats", chatID)
	q.Set("preview", "no")
	if p.parseMode != "" {
		q.Set("parsemode", p.parseMode)
	}
	return "telegram://" + p.token + "@telegram?" + q.Encode()
}

func shoutrrrSend(serviceURL, message string, params types.Params) error {
	sender, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}
	var errs []error
	for _, err := range sender.Send(message, &params) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
