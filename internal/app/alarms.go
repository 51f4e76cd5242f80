package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/edisonibujes/CriptoIQ/internal/alerting"
)

// ListAlarms prints the owner's alarms.
func (a *App) ListAlarms(ctx context.Context, w io.Writer, opts AlarmCommandOptions) error {
	if opts.Owner == "" {
		return errors.New("--owner is required")
	}
	c, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	alarms, err := c.service.ListAlarms(ctx, opts.Owner)
	if err != nil {
		return err
	}
	if len(alarms) == 0 {
		fmt.Fprintln(w, "no alarms found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tKind\tInstrument\tCondition\tCreated (UTC)")
	for _, al := range alarms {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			al.ID.String(),
			al.Kind(),
			al.Instrument.Key(),
			sanitizeInline(al.Summary()),
			al.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

// AlarmCommand runs a chat command such as "ema btc 20 1h" on behalf of
// the owner and prints the reply.
func (a *App) AlarmCommand(ctx context.Context, w io.Writer, opts AlarmCommandOptions, command string, args []string) error {
	if opts.Owner == "" {
		return errors.New("--owner is required")
	}
	c, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	text := "/" + strings.TrimPrefix(command, "/") + " " + strings.Join(args, " ")
	reply := a.newBot(c).Handle(ctx, alerting.Incoming{ChatID: opts.Owner, Text: strings.TrimSpace(text)})
	fmt.Fprintln(w, reply)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
