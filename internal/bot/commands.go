package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

func (b *Bot) createPrice(ctx context.Context, owner string, args []string, cross bool) (string, error) {
	usage := usageError("/alarm <symbol> <price>")
	if cross {
		usage = usageError("/cross <symbol> <price>")
	}
	if len(args) != 2 {
		return "", usage
	}
	target, err := decimal.NewFromString(args[1])
	if err != nil {
		return "", usage
	}

	var params alarm.Params = alarm.PriceTarget{Target: target}
	if cross {
		params = alarm.CrossUp{Target: target}
	}
	return b.save(ctx, owner, args[0], params)
}

func (b *Bot) createVolume(ctx context.Context, owner string, args []string) (string, error) {
	usage := usageError("/volume <symbol> <green|red> [threshold]")
	if len(args) < 2 || len(args) > 3 {
		return "", usage
	}
	color, err := parseColor(args[1])
	if err != nil {
		return "", usage
	}
	threshold := b.opts.DefaultGreenVolume
	if color == alarm.Red {
		threshold = b.opts.DefaultRedVolume
	}
	if len(args) == 3 {
		if threshold, err = decimal.NewFromString(args[2]); err != nil {
			return "", usage
		}
	}
	return b.save(ctx, owner, args[0], alarm.VolumeThreshold{Color: color, Threshold: threshold})
}

func (b *Bot) createEma(ctx context.Context, owner string, args []string) (string, error) {
	usage := usageError("/ema <symbol> <period> <interval> [auto|percent%]")
	if len(args) < 3 || len(args) > 4 {
		return "", usage
	}
	period, err := strconv.Atoi(args[1])
	if err != nil {
		return "", usage
	}
	tolerance := alarm.AutoTolerance
	if len(args) == 4 {
		if tolerance, err = alarm.ParseTolerance(args[3]); err != nil {
			return "", usage
		}
	}
	return b.save(ctx, owner, args[0], alarm.EmaTouch{Period: period, Interval: strings.ToLower(args[2]), Tolerance: tolerance})
}

func (b *Bot) createDivergence(ctx context.Context, owner string, args []string) (string, error) {
	usage := usageError("/divergence <symbol> <bullish|bearish> <interval> [lookback]")
	if len(args) < 3 || len(args) > 4 {
		return "", usage
	}
	dir, err := alarm.ParseDirection(args[1])
	if err != nil {
		return "", usage
	}
	lookback := b.opts.DefaultLookback
	if len(args) == 4 {
		if lookback, err = strconv.Atoi(args[3]); err != nil {
			return "", usage
		}
	}
	return b.save(ctx, owner, args[0], alarm.RsiDivergence{Direction: dir, Interval: strings.ToLower(args[2]), Lookback: lookback})
}

func (b *Bot) save(ctx context.Context, owner, raw string, params alarm.Params) (string, error) {
	stored, replaced, err := b.svc.CreateAlarm(ctx, owner, raw, params)
	if err != nil {
		return "", err
	}
	if replaced {
		return "🔄 Updated: " + stored.Summary(), nil
	}
	return "⏰ Saved: " + stored.Summary(), nil
}

func (b *Bot) list(ctx context.Context, owner string) (string, error) {
	alarms, err := b.svc.ListAlarms(ctx, owner)
	if err != nil {
		return "", err
	}
	if len(alarms) == 0 {
		return "You have no active alarms.", nil
	}
	lines := make([]string, 0, len(alarms)+1)
	lines = append(lines, "🔔 Your alarms:")
	for _, a := range alarms {
		lines = append(lines, "• "+a.Summary())
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Bot) delete(ctx context.Context, owner string, args []string) (string, error) {
	usage := usageError("/delete <alarm|cross|volume|ema|divergence> <symbol> [colour | period interval | direction interval]")
	if len(args) < 2 {
		return "", usage
	}
	kind, err := alarm.ParseKind(args[0])
	if err != nil {
		return "", usage
	}
	raw, extra := args[1], args[2:]

	var discriminator string
	switch kind {
	case alarm.KindPriceTarget, alarm.KindCrossUp:
		if len(extra) != 0 {
			return "", usage
		}
	case alarm.KindVolumeThreshold:
		if len(extra) != 1 {
			return "", usage
		}
		color, err := parseColor(extra[0])
		if err != nil {
			return "", usage
		}
		discriminator = alarm.VolumeThreshold{Color: color}.Discriminator()
	case alarm.KindEmaTouch:
		if len(extra) != 2 {
			return "", usage
		}
		period, err := strconv.Atoi(extra[0])
		if err != nil {
			return "", usage
		}
		discriminator = alarm.EmaTouch{Period: period, Interval: strings.ToLower(extra[1])}.Discriminator()
	case alarm.KindRsiDivergence:
		if len(extra) != 2 {
			return "", usage
		}
		dir, err := alarm.ParseDirection(extra[0])
		if err != nil {
			return "", usage
		}
		discriminator = alarm.RsiDivergence{Direction: dir, Interval: strings.ToLower(extra[1])}.Discriminator()
	}

	removed, err := b.svc.DeleteAlarm(ctx, owner, kind, raw, discriminator)
	if err != nil {
		return "", err
	}
	if removed == 0 {
		return fmt.Sprintf("⚠️ No matching %s alarm for %s.", kind, strings.ToUpper(raw)), nil
	}
	return fmt.Sprintf("🗑️ Removed %d %s alarm(s) for %s.", removed, kind, strings.ToUpper(raw)), nil
}

// parseColor also accepts the Spanish colour names.
func parseColor(s string) (alarm.Color, error) {
	switch strings.ToLower(s) {
	case "verde":
		return alarm.Green, nil
	case "rojo":
		return alarm.Red, nil
	}
	return alarm.ParseColor(s)
}
