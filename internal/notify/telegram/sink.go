// Package telegram delivers stock changes through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/metrics"
	"github.com/JakeFAU/stockbot/internal/notify"
	"github.com/JakeFAU/stockbot/internal/stock"
)

// Mode selects where notifications go.
type Mode string

const (
	// ModeDM messages every subscriber directly. Subscriber ids must be chat ids.
	ModeDM Mode = "dm"
	// ModeChannel posts once per subscriber to a shared channel with a mention.
	ModeChannel Mode = "channel"
)

// Sender is the subset of *tgbotapi.BotAPI the sink needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config controls delivery.
type Config struct {
	Mode      Mode
	ChannelID int64
}

// Sink implements stock.Notifier over Telegram.
type Sink struct {
	bot    Sender
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Sink.
func New(bot Sender, cfg Config, logger *zap.Logger) (*Sink, error) {
	if bot == nil {
		return nil, errors.New("telegram bot is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDM
	}
	switch cfg.Mode {
	case ModeDM:
	case ModeChannel:
		if cfg.ChannelID == 0 {
			return nil, errors.New("telegram channel mode requires a channel id")
		}
	default:
		return nil, fmt.Errorf("unknown telegram mode %q", cfg.Mode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{bot: bot, cfg: cfg, logger: logger}, nil
}

// Notify sends one message per subscriber. Failures for one subscriber do not
// stop delivery to the rest.
func (s *Sink) Notify(ctx context.Context, c stock.Change) error {
	body := notify.Render(c)
	var errs []error
	for _, sub := range c.Subscribers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		chatID, text, err := s.address(sub, body.HTML())
		if err != nil {
			s.logger.Warn("skipping subscriber", zap.String("subscriber", sub), zap.Error(err))
			metrics.ObserveNotification("failed")
			errs = append(errs, err)
			continue
		}
		if err := s.send(chatID, text, body.ImageURL); err != nil {
			s.logger.Warn("telegram send failed",
				zap.String("subscriber", sub),
				zap.String("url", c.Product.URL),
				zap.Error(err),
			)
			metrics.ObserveNotification("failed")
			errs = append(errs, fmt.Errorf("notify %s: %w", sub, err))
			continue
		}
		metrics.ObserveNotification("sent")
	}
	return errors.Join(errs...)
}

func (s *Sink) address(subscriber, text string) (int64, string, error) {
	if s.cfg.Mode == ModeChannel {
		return s.cfg.ChannelID, mention(subscriber) + "\n" + text, nil
	}
	id, err := strconv.ParseInt(subscriber, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("subscriber %q is not a telegram chat id", subscriber)
	}
	return id, text, nil
}

func (s *Sink) send(chatID int64, text, imageURL string) error {
	if imageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL))
		photo.Caption = text
		photo.ParseMode = tgbotapi.ModeHTML
		if _, err := s.bot.Send(photo); err == nil {
			return nil
		}
		// Fall back to plain text when the image is rejected.
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := s.bot.Send(msg)
	return err
}

func mention(subscriber string) string {
	if _, err := strconv.ParseInt(subscriber, 10, 64); err == nil {
		return fmt.Sprintf("<a href=\"tg://user?id=%s\">subscriber</a>", subscriber)
	}
	return "@" + html.EscapeString(subscriber)
}
