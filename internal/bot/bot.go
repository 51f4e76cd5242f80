// Package bot turns chat messages into alarm management operations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
	"github.com/edisonibujes/CriptoIQ/internal/alerting"
	"github.com/edisonibujes/CriptoIQ/internal/service"
	"github.com/edisonibujes/CriptoIQ/internal/symbols"
)

// AlarmService is the management surface the bot drives.
type AlarmService interface {
	CreateAlarm(ctx context.Context, owner, raw string, params alarm.Params) (alarm.Alarm, bool, error)
	DeleteAlarm(ctx context.Context, owner string, kind alarm.Kind, raw, discriminator string) (int, error)
	ListAlarms(ctx context.Context, owner string) ([]alarm.Alarm, error)
}

// Options tune command defaults and polling.
type Options struct {
	DefaultGreenVolume decimal.Decimal
	DefaultRedVolume   decimal.Decimal
	DefaultLookback    int
	PollInterval       time.Duration
}

// Bot polls the messenger and answers commands.
type Bot struct {
	opts      Options
	svc       AlarmService
	messenger alerting.Messenger
	logger    zerolog.Logger
	cursor    int
}

// New constructs a Bot.
func New(opts Options, svc AlarmService, messenger alerting.Messenger, logger zerolog.Logger) *Bot {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.DefaultLookback <= 0 {
		opts.DefaultLookback = 60
	}
	return &Bot{
		opts:      opts,
		svc:       svc,
		messenger: messenger,
		logger:    logger.With().Str("component", "bot").Logger(),
	}
}

// Run polls for commands every PollInterval until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := b.Poll(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll handles every pending message once. The cursor only advances past
// messages that were received.
func (b *Bot) Poll(ctx context.Context) error {
	messages, next, err := b.messenger.ReceivePending(ctx, b.cursor)
	if err != nil {
		return err
	}
	b.cursor = next
	for _, msg := range messages {
		reply := b.Handle(ctx, msg)
		if reply == "" {
			continue
		}
		if err := b.messenger.SendText(ctx, msg.ChatID, reply); err != nil {
			b.logger.Error().Err(err).Str("chat_id", msg.ChatID).Msg("failed to send reply")
		}
	}
	return nil
}

// Cursor returns the last processed update id.
func (b *Bot) Cursor() int {
	return b.cursor
}

// Handle executes one command and returns the reply. Non-command text is ignored.
func (b *Bot) Handle(ctx context.Context, msg alerting.Incoming) string {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	command := strings.ToLower(fields[0])
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	args := fields[1:]

	b.logger.Debug().Str("chat_id", msg.ChatID).Str("command", command).Msg("command received")

	var (
		reply string
		err   error
	)
	switch command {
	case "/start", "/help", "/ayuda":
		reply = helpText
	case "/alarm", "/alarma":
		reply, err = b.createPrice(ctx, msg.ChatID, args, false)
	case "/cross":
		reply, err = b.createPrice(ctx, msg.ChatID, args, true)
	case "/volume", "/volumen":
		reply, err = b.createVolume(ctx, msg.ChatID, args)
	case "/ema":
		reply, err = b.createEma(ctx, msg.ChatID, args)
	case "/divergence", "/div":
		reply, err = b.createDivergence(ctx, msg.ChatID, args)
	case "/alarms", "/alarmas":
		reply, err = b.list(ctx, msg.ChatID)
	case "/delete", "/eliminar":
		reply, err = b.delete(ctx, msg.ChatID, args)
	default:
		reply = fmt.Sprintf("Unknown command %s. Send /help for the list.", command)
	}
	if err != nil {
		return errorReply(err)
	}
	return reply
}

type usageError string

func (e usageError) Error() string { return "Usage: " + string(e) }

func errorReply(err error) string {
	var (
		usage    usageError
		resolve  *symbols.ResolutionError
		validate *service.ValidationError
	)
	switch {
	case errors.As(err, &usage):
		return "⚠️ " + usage.Error()
	case errors.As(err, &resolve):
		return fmt.Sprintf("⚠️ Unknown instrument %q.", resolve.Input)
	case errors.As(err, &validate):
		return "⚠️ " + validate.Error()
	default:
		return "❌ Could not complete the request, try again later."
	}
}

const helpText = `Available commands:
/alarm <symbol> <price> - notify once when the price reaches the target
/cross <symbol> <price> - notify when the price crosses above the target
/volume <symbol> <green|red> [threshold] - notify when candle volume exceeds the threshold
/ema <symbol> <period> <interval> [auto|percent%] - notify when the price touches an EMA
/divergence <symbol> <bullish|bearish> <interval> [lookback] - notify on every new RSI divergence
/alarms - list your alarms
/delete <alarm|cross|volume|ema|divergence> <symbol> [...] - remove an alarm
Symbols: btc, bitcoin, BTCUSDT, BTC/USDT, chart:ES=F, chainlink:0x...`
