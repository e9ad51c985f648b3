package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram delivers billing outcomes to the user's chat. External user ids
// are Telegram chat ids in string form.
type Telegram struct {
	bot *tgbotapi.BotAPI
	log *slog.Logger
}

func NewTelegram(token string, log *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, log: log}, nil
}

func (t *Telegram) RenewalSucceeded(ctx context.Context, externalID string, until time.Time) {
	t.send(externalID, fmt.Sprintf("Подписка продлена до %s.", until.Format("02.01.2006")))
}

func (t *Telegram) RenewalFailed(ctx context.Context, externalID, reason string) {
	t.send(externalID, "Не удалось продлить подписку. Проверьте способ оплаты.")
}

func (t *Telegram) SubscriptionExpired(ctx context.Context, externalID string) {
	t.send(externalID, "Срок действия подписки истёк.")
}

func (t *Telegram) send(externalID, text string) {
	chatID, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		t.log.Warn("notify: external id is not a chat id", "external_id", externalID)
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.log.Warn("notify: send failed", "chat", chatID, "err", err)
	}
}
