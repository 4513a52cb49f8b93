// Package notify pushes operational alerts to Telegram.
//
// Alerts are strictly best-effort: when the bot token or chat id is not
// configured the notifier degrades to a silent no-op, and delivery failures
// are logged and swallowed so Telegram downtime never interrupts trading.
package notify

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"polymarket-compounder/internal/config"
)

// Telegram sends plain-text messages to a single chat. A notifier built
// without credentials swallows every Send.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram connects to the Bot API when both token and chat id are set.
// Connection or auth failures downgrade to a disabled notifier instead of
// failing startup.
func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) *Telegram {
	return newTelegram(cfg, tgbotapi.APIEndpoint, logger)
}

func newTelegram(cfg config.TelegramConfig, endpoint string, logger *slog.Logger) *Telegram {
	t := &Telegram{logger: logger.With("component", "telegram")}
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		t.logger.Info("telegram alerts disabled, token or chat id not set")
		return t
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		t.logger.Warn("telegram connect failed, alerts disabled", "error", err)
		return t
	}
	t.api = api
	t.chatID = cfg.ChatID
	t.logger.Info("telegram alerts enabled", "bot", api.Self.UserName)
	return t
}

// Enabled reports whether messages will actually be delivered.
func (t *Telegram) Enabled() bool {
	return t.api != nil
}

// Send delivers one message to the configured chat. Failures are non-fatal.
func (t *Telegram) Send(text string) {
	if t.api == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Warn("telegram send failed", "error", err)
	}
}
