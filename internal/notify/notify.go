// Library repository: https://github.com/tucnak/telebot

// Package notify pushes submission notifications to an administrator chat.
// The notifier is optional: without a bot token every call is a no-op.
package notify

import (
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v3"

	"github.com/veriaddress/veriaddress-server/internal/config"
	"github.com/veriaddress/veriaddress-server/internal/model"
)

type Notifier struct {
	bot    *tele.Bot
	chat   *tele.Chat
	logger *slog.Logger
}

// New creates a send-only Telegram notifier. Returns nil when notifications
// are not configured; a nil *Notifier is safe to call.
func New(config *config.TelegramConfig, logger *slog.Logger) (*Notifier, error) {
	if config == nil || config.Token == "" || config.ChatID == 0 {
		return nil, nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token: config.Token,
		OnError: func(err error, _ tele.Context) {
			logger.Error("telegram error", slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return nil, err
	}

	return &Notifier{
		bot:    bot,
		chat:   &tele.Chat{ID: config.ChatID},
		logger: logger,
	}, nil
}

// Submission announces a completed verification. Delivery is asynchronous
// and best-effort: a failed send is logged, never surfaced to the applicant.
func (n *Notifier) Submission(record *model.VerificationRecord) {
	if n == nil {
		return
	}

	text := fmt.Sprintf(
		"Verification submitted\n%s\nName: %s\nAddress: %s\nStatus: %s",
		record.RefID,
		record.Name,
		record.Address,
		record.VerificationStatus,
	)

	go func() {
		if _, err := n.bot.Send(n.chat, text); err != nil {
			n.logger.Error("submission notification failed",
				slog.String("id", record.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
