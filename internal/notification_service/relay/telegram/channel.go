package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/notification_service/relay"
)

const (
	pollTimeoutSeconds = 30
	maxMessageLength   = 4096
)

// Channel talks to a single Telegram chat through the Bot API using long polling.
type Channel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// New connects to the Bot API. An empty endpoint uses api.telegram.org.
func New(token string, chatID int64, endpoint string, httpClient *http.Client, logger *slog.Logger) (*Channel, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram channel requires a bot token and chat id")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: (pollTimeoutSeconds + 10) * time.Second}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	logger = logger.With("chat", "telegram", "bot", bot.Self.UserName)
	logger.Info("Telegram bot authorized")
	return &Channel{bot: bot, chatID: chatID, logger: logger}, nil
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) SendApproval(ctx context.Context, post *core_domain.PostRecord) (string, error) {
	msg := tgbotapi.NewMessage(c.chatID, truncate(relay.FormatApproval(post)))
	msg.ReplyMarkup = approvalKeyboard(post.ID)
	sent, err := c.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram sendMessage: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// UpdateDecision edits the approval message text. Omitting the markup drops the inline keyboard.
func (c *Channel) UpdateDecision(ctx context.Context, ref string, post *core_domain.PostRecord) error {
	messageID, err := strconv.Atoi(ref)
	if err != nil {
		return fmt.Errorf("invalid telegram message ref %q: %w", ref, err)
	}
	edit := tgbotapi.NewEditMessageText(c.chatID, messageID, truncate(relay.FormatDecision(post)))
	if _, err := c.bot.Request(edit); err != nil {
		return fmt.Errorf("telegram editMessageText: %w", err)
	}
	return nil
}

func (c *Channel) Notify(ctx context.Context, text string) error {
	if _, err := c.bot.Send(tgbotapi.NewMessage(c.chatID, truncate(text))); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

// Listen long-polls for updates until ctx is done. Each action is handled on its own goroutine.
func (c *Channel) Listen(ctx context.Context, handler relay.ActionHandler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := c.bot.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("Telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			action, ok := c.toAction(ctx, update)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handler(ctx, action)
			}()
		}
	}
}

// toAction maps an update from the configured chat to an operator action.
// Button presses are acknowledged right away; the outcome follows as a reply.
func (c *Channel) toAction(ctx context.Context, update tgbotapi.Update) (relay.Action, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil || cq.Message.Chat.ID != c.chatID {
			return relay.Action{}, false
		}
		if _, err := c.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			c.logger.WarnContext(ctx, "Failed to answer callback query", "error", err)
		}
		kind, postID, err := relay.ParseCallbackData(cq.Data)
		if err != nil {
			c.logger.WarnContext(ctx, "Ignoring callback", "data", cq.Data, "error", err)
			return relay.Action{}, false
		}
		return relay.Action{
			Kind:    kind,
			PostID:  postID,
			Ref:     strconv.Itoa(cq.Message.MessageID),
			Respond: c.replyTo(cq.Message.MessageID),
		}, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != c.chatID || msg.ReplyToMessage == nil || msg.Text == "" {
		return relay.Action{}, false
	}
	postID, ok := relay.PostIDFromMessage(msg.ReplyToMessage.Text)
	if !ok {
		return relay.Action{}, false
	}
	return relay.Action{
		Kind:    relay.ActionFeedback,
		PostID:  postID,
		Note:    msg.Text,
		Respond: c.replyTo(msg.MessageID),
	}, true
}

func (c *Channel) replyTo(messageID int) func(context.Context, string) error {
	return func(ctx context.Context, text string) error {
		msg := tgbotapi.NewMessage(c.chatID, truncate(text))
		msg.ReplyToMessageID = messageID
		_, err := c.bot.Send(msg)
		return err
	}
}

func approvalKeyboard(postID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", relay.CallbackData(relay.ActionApprove, postID)),
			tgbotapi.NewInlineKeyboardButtonData("Reject", relay.CallbackData(relay.ActionReject, postID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Feedback", relay.CallbackData(relay.ActionFeedback, postID)),
			tgbotapi.NewInlineKeyboardButtonData("Preview", relay.CallbackData(relay.ActionPreview, postID)),
		),
	)
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return text
	}
	return string(runes[:maxMessageLength-3]) + "..."
}
