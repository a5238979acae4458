// Package chat is the Telegram command front end. Each command maps onto a
// tracker.Service operation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/stock"
	"github.com/JakeFAU/stockbot/internal/tracker"
)

const exampleURL = "https://shop.amul.com/en/product/amul-whey-protein-32-g-or-pack-of-30-sachets"

// Client is the subset of *tgbotapi.BotAPI the handler needs.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler reads updates and answers commands.
type Handler struct {
	bot     Client
	svc     *tracker.Service
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Handler. timeout bounds each command; zero means two minutes.
func New(bot Client, svc *tracker.Service, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Handler{bot: bot, svc: svc, timeout: timeout, logger: logger}
}

// Run long-polls for updates until ctx is cancelled, then waits for the
// commands already being handled.
func (h *Handler) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := h.bot.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram updates channel closed")
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer wg.Done()
				cmdCtx, cancel := context.WithTimeout(ctx, h.timeout)
				defer cancel()
				h.Handle(cmdCtx, msg)
			}(update.Message)
		}
	}
}

// Handle answers a single message.
func (h *Handler) Handle(ctx context.Context, msg *tgbotapi.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("command panicked", zap.Any("panic", rec))
		}
	}()
	if msg == nil || msg.Chat == nil {
		return
	}
	command, arg := parseCommand(msg.Text)
	if command == "" {
		return
	}
	chatID := msg.Chat.ID
	userID := strconv.FormatInt(chatID, 10)
	h.logger.Debug("command received", zap.String("command", command), zap.Int64("chat_id", chatID))

	switch command {
	case "/start":
		if arg == "" {
			h.reply(chatID, helpText)
			return
		}
		h.track(ctx, chatID, userID, arg)
	case "/help":
		h.reply(chatID, helpText)
	case "/stop":
		h.untrack(ctx, chatID, userID, arg)
	case "/list":
		h.list(ctx, chatID, userID)
	case "/status":
		h.status(ctx, chatID, arg)
	default:
		h.reply(chatID, "Unknown command. Use /help to see what I can do.")
	}
}

func (h *Handler) track(ctx context.Context, chatID int64, userID, rawURL string) {
	product, err := h.svc.Track(ctx, rawURL, userID)
	var probeErr *stock.ProbeError
	switch {
	case err == nil:
		h.reply(chatID, productCard("✅ Now Tracking", product)+
			"\n\n🔔 You will be notified when the stock status changes!")
	case errors.Is(err, stock.ErrInvalidURL):
		h.reply(chatID, invalidURLText)
	case errors.Is(err, stock.ErrAlreadySubscribed):
		h.reply(chatID, "⚠️ You are already tracking this product!")
	case errors.As(err, &probeErr):
		h.reply(chatID, "❌ Failed to check product: "+html.EscapeString(probeErr.Msg))
	default:
		h.fail(chatID, "/start", err)
	}
}

func (h *Handler) untrack(ctx context.Context, chatID int64, userID, rawURL string) {
	if rawURL == "" {
		h.reply(chatID, "Usage: /stop &lt;url&gt;")
		return
	}
	product, err := h.svc.Untrack(ctx, rawURL, userID)
	switch {
	case err == nil:
		h.reply(chatID, fmt.Sprintf("✅ Stopped tracking: <b>%s</b>\n\nYou will no longer receive notifications for this product.",
			html.EscapeString(product.Name)))
	case errors.Is(err, stock.ErrNotSubscribed):
		h.reply(chatID, "❌ You are not tracking this product!")
	default:
		h.fail(chatID, "/stop", err)
	}
}

func (h *Handler) list(ctx context.Context, chatID int64, userID string) {
	products, err := h.svc.List(ctx, userID)
	if err != nil {
		h.fail(chatID, "/list", err)
		return
	}
	h.reply(chatID, productList(products))
}

func (h *Handler) status(ctx context.Context, chatID int64, rawURL string) {
	url, res, err := h.svc.Check(ctx, rawURL)
	var probeErr *stock.ProbeError
	switch {
	case err == nil:
		card := productCard("📊 Stock Status", stock.Product{
			URL:           url,
			Name:          res.Name,
			Status:        res.Status,
			LastCheckedAt: time.Now(),
		})
		h.reply(chatID, card+"\n\nℹ️ Use /start &lt;url&gt; to track this product for notifications.")
	case errors.Is(err, stock.ErrInvalidURL):
		h.reply(chatID, invalidURLText)
	case errors.As(err, &probeErr):
		h.reply(chatID, "❌ Failed to check product: "+html.EscapeString(probeErr.Msg))
	default:
		h.fail(chatID, "/status", err)
	}
}

func (h *Handler) fail(chatID int64, command string, err error) {
	h.logger.Error("command failed", zap.String("command", command), zap.Error(err))
	h.reply(chatID, "❌ An error occurred: "+html.EscapeString(err.Error()))
}

// reply sends HTML and retries as plain text if Telegram rejects the markup.
func (h *Handler) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Warn("send reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		msg.ParseMode = ""
		if _, err := h.bot.Send(msg); err != nil {
			h.logger.Error("send plain reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

// parseCommand splits "/cmd@botname arg" into "/cmd" and "arg".
func parseCommand(text string) (string, string) {
	parts := strings.Fields(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return "", ""
	}
	command := strings.ToLower(parts[0])
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return command, arg
}
