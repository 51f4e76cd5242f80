package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification describes a fired alarm.
type Notification struct {
	AlarmID    string
	Owner      string
	Kind       string
	Instrument string
	Headline   string
	Details    []string
	FiredAt    time.Time
	// Image is an optional PNG attached to the message.
	Image     []byte
	ImageName string
}

// Notifier delivers fired alarms to their owners.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// ChatNotifier renders notifications and hands them to a Messenger.
type ChatNotifier struct {
	messenger Messenger
	logger    zerolog.Logger
}

// NewChatNotifier constructs a notifier on top of messenger.
func NewChatNotifier(messenger Messenger, logger zerolog.Logger) *ChatNotifier {
	return &ChatNotifier{
		messenger: messenger,
		logger:    logger.With().Str("component", "notifier").Logger(),
	}
}

// Notify sends the rendered text, as an image caption when a chart is attached.
// A failed image upload falls back to plain text.
func (n *ChatNotifier) Notify(ctx context.Context, note Notification) error {
	if note.Owner == "" {
		return fmt.Errorf("notify alarm %s: missing owner", note.AlarmID)
	}
	text := renderMessage(note)

	if len(note.Image) > 0 {
		name := note.ImageName
		if name == "" {
			name = "chart.png"
		}
		err := n.messenger.SendImage(ctx, note.Owner, name, note.Image, text)
		if err == nil {
			n.logger.Info().Str("alarm_id", note.AlarmID).Str("owner", note.Owner).Msg("alarm notification sent with chart")
			return nil
		}
		n.logger.Warn().Err(err).Str("alarm_id", note.AlarmID).Msg("chart upload failed, sending text only")
	}

	if err := n.messenger.SendText(ctx, note.Owner, text); err != nil {
		return fmt.Errorf("notify alarm %s: %w", note.AlarmID, err)
	}
	n.logger.Info().Str("alarm_id", note.AlarmID).Str("owner", note.Owner).Msg("alarm notification sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("🔔 %s\n", note.Headline))
	builder.WriteString(fmt.Sprintf("Instrument: %s\n", note.Instrument))
	for _, line := range note.Details {
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	if !note.FiredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC", note.FiredAt.UTC().Format(time.RFC3339)))
	}
	return strings.TrimRight(builder.String(), "\n")
}

var _ Notifier = (*ChatNotifier)(nil)
