package alerting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramOptions configure the Bot API transport.
type TelegramOptions struct {
	Token       string
	APIEndpoint string
	Timeout     time.Duration
	// PollTimeout is the long-poll wait in seconds passed to getUpdates.
	PollTimeout int
}

// Telegram implements Messenger over the Bot API.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	pollTimeout int
	logger      zerolog.Logger
}

// NewTelegram authenticates the bot and returns the transport.
func NewTelegram(opts TelegramOptions, logger zerolog.Logger) (*Telegram, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := &http.Client{Timeout: opts.Timeout + time.Duration(opts.PollTimeout)*time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, opts.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}

	l := logger.With().Str("component", "telegram").Logger()
	l.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorised")
	return &Telegram{bot: bot, pollTimeout: opts.PollTimeout, logger: l}, nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

// SendText posts a plain text message.
func (t *Telegram) SendText(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// SendImage uploads a PNG with a caption.
func (t *Telegram) SendImage(ctx context.Context, chatID, name string, png []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(id, tgbotapi.FileBytes{Name: name, Bytes: png})
	photo.Caption = caption
	if _, err := t.bot.Send(photo); err != nil {
		return fmt.Errorf("send telegram photo: %w", err)
	}
	return nil
}

// ReceivePending fetches text messages with update ids above cursor.
func (t *Telegram) ReceivePending(ctx context.Context, cursor int) ([]Incoming, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}
	cfg := tgbotapi.NewUpdate(cursor + 1)
	cfg.Timeout = t.pollTimeout
	updates, err := t.bot.GetUpdates(cfg)
	if err != nil {
		return nil, cursor, fmt.Errorf("get telegram updates: %w", err)
	}

	next := cursor
	messages := make([]Incoming, 0, len(updates))
	for _, u := range updates {
		if u.UpdateID > next {
			next = u.UpdateID
		}
		if u.Message == nil || u.Message.Chat == nil || u.Message.Text == "" {
			continue
		}
		in := Incoming{
			UpdateID: u.UpdateID,
			ChatID:   strconv.FormatInt(u.Message.Chat.ID, 10),
			Text:     u.Message.Text,
		}
		if u.Message.From != nil {
			in.From = u.Message.From.UserName
		}
		messages = append(messages, in)
	}
	return messages, next, nil
}

var _ Messenger = (*Telegram)(nil)
