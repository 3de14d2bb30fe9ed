package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayescrow/internal/domain"
)

// sender is the part of *tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts manual-review alerts to an operator chat. With no token it
// only logs.
type Telegram struct {
	bot    sender
	chatID int64
	log    logrus.FieldLogger
}

func NewTelegram(token string, chatID int64, log logrus.FieldLogger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		log.Warn("telegram bot token or chat id is empty, review alerts disabled")
		return &Telegram{log: log}, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, log: log}, nil
}

func (n *Telegram) NotifyReview(ctx context.Context, b *domain.Booking, reason string) {
	text := fmt.Sprintf(
		"*Booking flagged for review*\n\nBooking: `%s`\nListing: `%s`\nGuest: `%s`\nStatus: %s\nReason: %s",
		b.ID, b.ListingAddress, b.GuestKey, b.Status, reason,
	)
	n.send(ctx, text)
}

func (n *Telegram) send(ctx context.Context, text string) {
	if n.bot == nil {
		n.log.WithField("text", text).Debug("review alert skipped (bot disabled)")
		return
	}
	if ctx.Err() != nil {
		n.log.Debug("review alert skipped (context cancelled)")
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		n.log.WithError(err).WithField("chat_id", n.chatID).Error("failed to send review alert")
	}
}
