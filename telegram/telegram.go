// Package telegram is the messaging transport: it long-polls the Bot
// API for subscriber messages and sends replies and alerts back out.
package telegram

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashleyhuxley/sonde-alert/errors"
	"github.com/ashleyhuxley/sonde-alert/outbox"
	"github.com/ashleyhuxley/sonde-alert/pkg/retry"
)

const updateTimeoutSeconds = 30

// botClient is the slice of the Bot API the transport uses.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Transport connects the service to Telegram. Inbound text messages are
// delivered to the registered handler one at a time, in update order.
type Transport struct {
	logger  *slog.Logger
	handler func(chatID int64, text string)
	connect func() (botClient, error)

	bot  botClient
	done chan struct{}
}

// New creates a transport for the given bot token.
func New(token string, logger *slog.Logger) *Transport {
	return &Transport{
		logger: logger.With("component", "telegram"),
		connect: func() (botClient, error) {
			return tgbotapi.NewBotAPI(token)
		},
	}
}

// Name implements component.Component.
func (t *Transport) Name() string { return "telegram" }

// SetHandler registers the inbound message callback. Must be called
// before Start.
func (t *Transport) SetHandler(h func(chatID int64, text string)) {
	t.handler = h
}

// Start authenticates against the Bot API, retrying with backoff, and
// begins receiving updates.
func (t *Transport) Start(ctx context.Context) error {
	if t.handler == nil {
		return errors.WrapFatal(fmt.Errorf("handler not set"), "telegram", "Start", "startup")
	}

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		bot, err := t.connect()
		if err != nil {
			// A Bot API error means the server answered: the token is
			// wrong, and retrying the same one will not change that.
			var apiErr *tgbotapi.Error
			if stderrors.As(err, &apiErr) {
				return retry.Permanent(err)
			}
			return err
		}
		t.bot = bot
		return nil
	})
	if err != nil {
		return errors.WrapFatal(err, "telegram", "Start", "bot authentication")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeoutSeconds
	updates := t.bot.GetUpdatesChan(u)

	t.done = make(chan struct{})
	go t.receive(updates)

	t.logger.Info("receiving updates")
	return nil
}

// Stop halts the update receiver and waits for it to finish.
func (t *Transport) Stop(timeout time.Duration) error {
	if t.bot == nil {
		return nil
	}
	t.bot.StopReceivingUpdates()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return errors.WrapTransient(
			fmt.Errorf("receiver did not stop within %s", timeout),
			"telegram", "Stop", "receiver shutdown")
	}
}

// Send delivers one message. Failures are transient: the caller logs
// and moves on, Telegram-side errors never stop a loop.
func (t *Transport) Send(chatID int64, text string, mode outbox.Mode) error {
	msg := tgbotapi.NewMessage(chatID, text)
	switch mode {
	case outbox.ModeMarkdownV2:
		msg.ParseMode = tgbotapi.ModeMarkdownV2
	case outbox.ModeHTML:
		msg.ParseMode = tgbotapi.ModeHTML
	}

	if _, err := t.bot.Send(msg); err != nil {
		return errors.WrapTransient(err, "telegram", "Send", "message delivery")
	}
	return nil
}

func (t *Transport) receive(updates tgbotapi.UpdatesChannel) {
	defer close(t.done)

	for update := range updates {
		m := update.Message
		if m == nil || m.Text == "" {
			continue
		}
		t.handler(m.Chat.ID, m.Text)
	}
}
