package telegram

import (
	"btc-signal-desk/internal/types"
	"btc-signal-desk/lib/helpers"
	"context"
	"fmt"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"net/http"
	"strings"
	"time"
)

// NewBot creates new telegram bot
func NewBot(c BotConfig) (*Bot, error) {
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if c.APIEndpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithClient(c.Token, c.APIEndpoint, &http.Client{})
	} else {
		bot, err = tgbotapi.NewBotAPI(c.Token)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return &Bot{
		Bot:    bot,
		Config: c,
	}, nil
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.DisableWebPagePreview = true
	msg.ParseMode = "MarkdownV2"
	_, err := b.Bot.Send(msg)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// ReportRun posts the run summary to the configured chat
func (b *Bot) ReportRun(_ context.Context, r types.RunReport) error {
	return b.SendMessage(Message{
		ChatID: b.Config.ChatID,
		Text:   FormatReport(r),
	})
}

func FormatReport(r types.RunReport) string {
	var sb strings.Builder

	status := "✅ *Alert run finished*"
	if !r.OK() {
		status = "⚠️ *Alert run finished with failures*"
	}
	sb.WriteString(status + "\n\n")
	sb.WriteString(helpers.EscapeMarkdownV2("Started "+helpers.FormatDate(r.StartedAt)) + "\n")
	sb.WriteString(fmt.Sprintf("%s price: *$%s*\n", helpers.EscapeMarkdownV2(r.Asset), helpers.FormatPriceRoundedUS(r.Price)))
	sb.WriteString(fmt.Sprintf("Evaluated: *%d*\nTriggered: *%d*\nSent: *%d*\n", r.Evaluated, r.Triggered, r.Sent))

	if len(r.DeliveryFailures) > 0 {
		sb.WriteString(fmt.Sprintf("Delivery failures: `%s`\n", strings.Join(r.DeliveryFailures, ", ")))
	}
	if len(r.PersistFailures) > 0 {
		sb.WriteString(fmt.Sprintf("Sent but not persisted, may repeat: `%s`\n", strings.Join(r.PersistFailures, ", ")))
	}
	sb.WriteString(helpers.EscapeMarkdownV2(fmt.Sprintf("Took %s", r.Duration.Round(time.Millisecond))))

	return sb.String()
}
