package alerting

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"fraudwatch/internal/config"
	"fraudwatch/pkg/models"
)

// OriginWarning is sent to the chat the flagged message came from.
const OriginWarning = "Potential fraud detected! Please be careful."

// MessageSender is the subset of the Bot API client used for delivery.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to recipient chats. Sends are throttled to
// stay inside the Bot API flood limits.
type TelegramNotifier struct {
	bot        MessageSender
	recipients []int64
	warnOrigin bool
	limiter    *rate.Limiter
}

func NewTelegramNotifier(bot MessageSender, cfg config.TelegramAlertConfig) (*TelegramNotifier, error) {
	recipients := make([]int64, 0, len(cfg.RecipientChatIDs))
	for _, id := range cfg.RecipientChatIDs {
		chatID, err := models.ParseChatID(id)
		if err != nil {
			return nil, fmt.Errorf("alert recipient: %w", err)
		}
		recipients = append(recipients, chatID)
	}

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &TelegramNotifier{
		bot:        bot,
		recipients: recipients,
		warnOrigin: cfg.WarnOrigin,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
	}, nil
}

func (n *TelegramNotifier) Name() string { return "telegram" }

func (n *TelegramNotifier) Notify(ctx context.Context, alert models.Alert) error {
	text := FormatAlert(alert)
	for _, chatID := range n.recipients {
		if err := n.send(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
			return fmt.Errorf("send alert to %d: %w", chatID, err)
		}
	}

	if n.warnOrigin {
		origin, err := models.ParseChatID(alert.ChatID)
		if err != nil {
			return err
		}
		if err := n.send(ctx, tgbotapi.NewMessage(origin, OriginWarning)); err != nil {
			return fmt.Errorf("send warning to origin %d: %w", origin, err)
		}
	}
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.bot.Send(msg)
	return err
}
