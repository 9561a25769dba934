// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/models"
)

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// FeedFunc produces the current edge feed for the /feed command.
type FeedFunc func(ctx context.Context) (*models.EdgeFeed, error)

const feedPreviewSize = 5

// Client handles Telegram notifications.
type Client struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot botAPI, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled. feed may be nil.
func (c *Client) ListenForCommands(ctx context.Context, feed FeedFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message, feed)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, feed FeedFunc) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "feed":
		if feed == nil {
			return
		}
		f, err := feed(ctx)
		var text string
		if err != nil {
			text = fmt.Sprintf("⚠️ Feed unavailable: `%s`", escapeMarkdownV2(err.Error()))
		} else {
			text = formatFeedPreview(f, feedPreviewSize)
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		reply.ParseMode = "MarkdownV2"
		if _, err := c.bot.Send(reply); err != nil {
			logger.Warn("Failed to answer /feed: %v", err)
		}
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a scan error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Edge scan error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Edge scan recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendEdgeAlerts sends one batch of edge alerts.
func (c *Client) SendEdgeAlerts(batch models.AlertBatch) error {
	return c.sendMarkdownV2(formatEdgeAlerts(batch))
}

func oneDecimal(x float64) string {
	return escapeMarkdownV2(strconv.FormatFloat(x, 'f', 1, 64))
}

func signedDelta(d float64) string {
	if d >= 0 {
		return escapeMarkdownV2("+" + strconv.FormatFloat(d, 'f', 1, 64))
	}
	return escapeMarkdownV2(strconv.FormatFloat(d, 'f', 1, 64))
}

func formatEntry(b *strings.Builder, i int, e models.EdgeEntry) {
	emoji, side := "🔥", "Over"
	if e.Delta < 0 {
		emoji, side = "🧊", "Under"
	}
	name := escapeMarkdownV2(e.Name)
	if e.TeamAbbrev != "" {
		name += " \\(" + escapeMarkdownV2(e.TeamAbbrev) + "\\)"
	}
	fmt.Fprintf(b, "%d\\. %s *%s* %s edge *%s*\n", i+1, emoji, name, side, signedDelta(e.Delta))
	fmt.Fprintf(b, "   Season %s · L5 %s · %d games\n", oneDecimal(e.SeasonAvg), oneDecimal(e.RecentAvg), e.GamesPlayed)
	if len(e.Last5) > 0 {
		scores := make([]string, len(e.Last5))
		for j, v := range e.Last5 {
			scores[j] = escapeMarkdownV2(strconv.FormatFloat(v, 'f', -1, 64))
		}
		fmt.Fprintf(b, "   L5: %s\n", strings.Join(scores, " · "))
	}
}

// formatEdgeAlerts formats an alert batch into a Telegram MarkdownV2 message.
func formatEdgeAlerts(batch models.AlertBatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *%s edges* \\(%s\\)\n", escapeMarkdownV2(batch.Measure.Label()), escapeMarkdownV2(string(batch.Direction)))
	fmt.Fprintf(&b, "Season %d · ≥%s min/game\n\n", batch.Season, escapeMarkdownV2(strconv.FormatFloat(batch.MinMinutes, 'f', -1, 64)))
	for i, e := range batch.Entries {
		formatEntry(&b, i, e)
		b.WriteString("\n")
	}
	return b.String()
}

func formatFeedPreview(f *models.EdgeFeed, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *%s edge feed* · season %d\n", escapeMarkdownV2(f.Measure.Label()), f.Season)
	if f.Partial {
		b.WriteString("_partial data_\n")
	}
	b.WriteString("\n")
	if len(f.Entries) == 0 {
		b.WriteString("No qualifying players\\.")
		return b.String()
	}
	entries := f.Entries
	if len(entries) > n {
		entries = entries[:n]
	}
	for i, e := range entries {
		formatEntry(&b, i, e)
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
