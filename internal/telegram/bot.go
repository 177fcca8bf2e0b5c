// Package telegram is the messaging collaborator: it feeds inbound text to
// the assistant and delivers replies and deposit notifications.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/ton-assistant/internal/assistant"
	"github.com/suspectuso/ton-assistant/internal/ledger"
	"github.com/suspectuso/ton-assistant/internal/tonapi"
)

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot       *bot.Bot
	assistant *assistant.Assistant
	log       *slog.Logger
}

// New creates a new telegram bot
func New(token string, a *assistant.Assistant, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		assistant: a,
		log:       log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.messageHandler),
	}

	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, b.helpHandler)

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	text := "Welcome! I'm an AI assistant paid per question with TON micro-deposits.\n\n" +
		"1. Send \"top up 1 TON\" and follow the deposit instructions.\n" +
		"2. Your balance is credited automatically once the transfer confirms.\n" +
		"3. Ask me anything.\n\n" +
		"Send /help for the full command list."

	b.sendMessage(ctx, update.Message.Chat.ID, text)
}

func (b *Bot) helpHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, assistant.HelpText())
}

func (b *Bot) messageHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	accountID := strconv.FormatInt(update.Message.From.ID, 10)
	reply := b.assistant.Handle(ctx, accountID, update.Message.Text)
	b.sendMessage(ctx, update.Message.Chat.ID, reply)
}

// --- Notifications (watcher.Notifier) ---

// DepositCredited notifies a user that a deposit was matched and credited
func (b *Bot) DepositCredited(ctx context.Context, accountID string, amount, newBalance int64, txID string) {
	text := fmt.Sprintf(
		"Deposit confirmed!\n\n"+
			"Amount: %s TON\nTransaction: %s\nBalance: %s TON\n\n"+
			"You're all set — ask me anything.",
		assistant.FormatTON(amount), tonapi.ShortAddr(txID, 8), assistant.FormatTON(newBalance),
	)
	b.notify(ctx, accountID, text)
}

// DepositExpired notifies a user that an unmatched request timed out
func (b *Bot) DepositExpired(ctx context.Context, accountID string, dep ledger.DepositRequest) {
	text := "Your top-up request expired before a matching transfer was seen.\n" +
		"If you still want to add funds, send \"top up\" again."
	b.notify(ctx, accountID, text)
}

func (b *Bot) notify(ctx context.Context, accountID, text string) {
	chatID, err := strconv.ParseInt(accountID, 10, 64)
	if err != nil {
		b.log.Error("notify: bad account id", "account_id", accountID)
		return
	}
	b.sendMessage(ctx, chatID, text)
}

// --- Helpers ---

// sendMessage is fire-and-forget: delivery failures are logged, not retried
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}
