package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stockbot/internal/stock"
)

type fakeBot struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	failPhoto bool
	failChat  int64
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	switch v := c.(type) {
	case tgbotapi.PhotoConfig:
		if f.failPhoto {
			return tgbotapi.Message{}, errors.New("bad image")
		}
	case tgbotapi.MessageConfig:
		if f.failChat != 0 && v.ChatID == f.failChat {
			return tgbotapi.Message{}, errors.New("blocked")
		}
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func restock(subs ...string) stock.Change {
	return stock.Change{
		Product: stock.Product{
			URL:  "https://shop.amul.com/en/product/amul-whey-protein",
			Name: "Whey Protein",
		},
		OldStatus:   stock.StatusOutOfStock,
		NewStatus:   stock.StatusInStock,
		Subscribers: subs,
		DetectedAt:  time.Now(),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(&fakeBot{}, Config{Mode: ModeChannel}, nil)
	require.Error(t, err)
	_, err = New(&fakeBot{}, Config{Mode: "carrier-pigeon"}, nil)
	require.Error(t, err)

	s, err := New(&fakeBot{}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeDM, s.cfg.Mode)
}

func TestDMModeMessagesEachSubscriber(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{failChat: 2}
	s, err := New(bot, Config{Mode: ModeDM}, nil)
	require.NoError(t, err)

	err = s.Notify(context.Background(), restock("1", "2", "web-user", "3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web-user")
	assert.Contains(t, err.Error(), "blocked")

	require.Len(t, bot.sent, 3)
	first, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, first.ParseMode)
	assert.Contains(t, first.Text, "Back in Stock")
	assert.Equal(t, int64(3), bot.sent[2].(tgbotapi.MessageConfig).ChatID)
}

func TestChannelModeMentionsSubscriber(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	s, err := New(bot, Config{Mode: ModeChannel, ChannelID: -100123}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Notify(context.Background(), restock("77", "alice")))
	require.Len(t, bot.sent, 2)

	msg := bot.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Contains(t, msg.Text, "tg://user?id=77")
	assert.Contains(t, bot.sent[1].(tgbotapi.MessageConfig).Text, "@alice")
}

func TestPhotoFallsBackToText(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{failPhoto: true}
	s, err := New(bot, Config{}, nil)
	require.NoError(t, err)

	c := restock("5")
	c.Product.ImageURL = "https://shop.amul.com/img/whey.png"
	require.NoError(t, s.Notify(context.Background(), c))

	require.Len(t, bot.sent, 2)
	_, isPhoto := bot.sent[0].(tgbotapi.PhotoConfig)
	assert.True(t, isPhoto)
	_, isText := bot.sent[1].(tgbotapi.MessageConfig)
	assert.True(t, isText)
}

func TestNotifyStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	s, err := New(bot, Config{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Notify(ctx, restock("1", "2")), context.Canceled)
	assert.Empty(t, bot.sent)
}
