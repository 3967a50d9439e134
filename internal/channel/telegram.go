package channel

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ava/internal/approval"
	"ava/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// botClient is the part of *tgbotapi.BotAPI the channel uses.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// RuleLister backs the /rules command.
type RuleLister interface {
	List(ctx context.Context) ([]domain.ApprovalRule, error)
}

// SessionClearer backs the /clear command.
type SessionClearer interface {
	ClearSession(ctx context.Context, sessionKey string) error
}

// Telegram is the remote chat surface: it feeds messages to the bus, posts
// approval prompts and routes button presses to the approval registry.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	parseMode string

	bot      botClient
	username string
	bus      domain.MessageBus
	registry *approval.Registry
	rules    RuleLister
	sessions SessionClearer
	logger   *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Registry  *approval.Registry
	Rules     RuleLister
	Sessions  SessionClearer
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		registry:  cfg.Registry,
		rules:     cfg.Rules,
		sessions:  cfg.Sessions,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return domain.ChannelTelegram }

// Connect logs in to the Bot API. It must succeed before the channel can be
// used as an approval surface.
func (t *Telegram) Connect() error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.username = bot.Self.UserName
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return nil
}

// Start polls for updates until ctx is canceled. Connect is called first
// when it has not been.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	if t.bot == nil {
		if err := t.Connect(); err != nil {
			return err
		}
	}
	api, ok := t.bot.(*tgbotapi.BotAPI)
	if !ok {
		return fmt.Errorf("telegram: polling needs a Bot API connection")
	}
	t.attach(bus)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)
	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			// Button presses must not queue behind a publish waiting on a
			// full bus.
			if update.CallbackQuery != nil {
				go t.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) attach(bus domain.MessageBus) {
	t.bus = bus
	bus.OnOutbound(domain.ChannelTelegram, func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

// SendApprovalPrompt posts the prompt with one row of inline buttons.
func (t *Telegram) SendApprovalPrompt(ctx context.Context, chatID int64, text string, buttons []approval.Button) (int64, error) {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
	}
	msg := tgbotapi.NewMessage(chatID, "<b>approval needed</b>\n<pre>"+html.EscapeString(text)+"</pre>")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)

	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send approval prompt: %w", err)
	}
	return int64(sent.MessageID), nil
}

// EditMessage replaces a prompt's text, which also drops its buttons.
func (t *Telegram) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	if _, err := t.bot.Request(edit); err != nil {
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}
	return nil
}

func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, chatID, update.Message)
		return
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	err := t.bus.Publish(ctx, domain.InboundMessage{
		Channel:   domain.ChannelTelegram,
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
	if err != nil {
		t.logger.Error("publish telegram message failed", "chat_id", chatID, "err", err)
		t.sendMessage(chatID, "I'm busy right now, please try again in a moment.")
	}
}

func (t *Telegram) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || !t.isAllowed(cq.From.ID) {
		_ = t.AnswerCallback(ctx, cq.ID, "not allowed")
		return
	}
	var chatID int64
	if cq.Message != nil && cq.Message.Chat != nil {
		chatID = cq.Message.Chat.ID
	}

	cb := approval.Callback{ID: cq.ID, Data: cq.Data, ChatID: chatID}
	if t.registry != nil && approval.HandleCallback(ctx, t.registry, t, cb) {
		return
	}
	// Not ours; stop the client's spinner anyway.
	_ = t.AnswerCallback(ctx, cq.ID, "")
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Hello! I'm Ava, your assistant.\n\nJust send me a message.\n\nCommands:\n/rules - allow-always rules\n/clear - clear conversation\n/help - show this message")
	case "help":
		t.sendMessage(chatID, "Send me any message and I'll respond.\n\nI can run shell commands (you approve each one), search the web, read pages and remember facts.\n\nCommands:\n/rules - allow-always rules\n/clear - clear conversation")
	case "rules":
		t.sendMessage(chatID, t.describeRules(ctx))
	case "clear":
		if t.sessions == nil {
			t.sendMessage(chatID, "History is not enabled.")
			return
		}
		key := domain.ChannelTelegram + ":" + strconv.FormatInt(chatID, 10)
		if err := t.sessions.ClearSession(ctx, key); err != nil {
			t.logger.Warn("clear session failed", "session", key, "err", err)
			t.sendMessage(chatID, "Could not clear the conversation.")
			return
		}
		t.sendMessage(chatID, "Conversation cleared.")
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) describeRules(ctx context.Context) string {
	if t.rules == nil {
		return "No rules."
	}
	rules, err := t.rules.List(ctx)
	if err != nil {
		t.logger.Warn("list rules failed", "err", err)
		return "Could not load rules."
	}
	if len(rules) == 0 {
		return "No allow-always rules yet."
	}
	var b strings.Builder
	b.WriteString("Allow-always rules:\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "%d. %s\n", r.ID, r.Pattern)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendMessage splits text into chunks under Telegram's message limit,
// preferring line breaks.
func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			// Never cut inside a multi-byte character.
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// sendChunk sends one chunk, falling back to plain text when the parse mode
// is rejected and backing off on rate limits.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && strings.Contains(errStr, "can't parse entities") {
			t.logger.Debug("telegram markdown parse error, retrying as plain text", "err", err)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
