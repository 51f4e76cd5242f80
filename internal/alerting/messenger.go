package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// Incoming is a user message received from the chat transport.
type Incoming struct {
	UpdateID int
	ChatID   string
	From     string
	Text     string
}

// Messenger is the chat transport.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID, name string, png []byte, caption string) error
	// ReceivePending returns messages after cursor and the cursor to pass next time.
	ReceivePending(ctx context.Context, cursor int) ([]Incoming, int, error)
}

// LogMessenger writes outgoing messages to the log and never receives any.
type LogMessenger struct {
	logger zerolog.Logger
}

// NewLogMessenger constructs a log-only transport.
func NewLogMessenger(logger zerolog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger.With().Str("component", "log_messenger").Logger()}
}

func (m *LogMessenger) SendText(_ context.Context, chatID, text string) error {
	m.logger.Info().Str("chat_id", chatID).Str("text", text).Msg("message")
	return nil
}

func (m *LogMessenger) SendImage(_ context.Context, chatID, name string, png []byte, caption string) error {
	m.logger.Info().Str("chat_id", chatID).Str("image", name).Int("bytes", len(png)).Str("caption", caption).Msg("image")
	return nil
}

func (m *LogMessenger) ReceivePending(_ context.Context, cursor int) ([]Incoming, int, error) {
	return nil, cursor, nil
}

var _ Messenger = (*LogMessenger)(nil)
