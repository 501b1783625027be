package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramChannelName = "telegram"

// TelegramBot interface for mocking the telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token string) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, http.DefaultClient)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// callbackPayload is the inline-keyboard callback data. Telegram caps
// callback data at 64 bytes, so the keys stay short.
type callbackPayload struct {
	Action   string `json:"a"`
	EntityID string `json:"e"`
	Minutes  int    `json:"m,omitempty"`
}

// TelegramChannel delivers actionable reminders as Telegram messages with
// inline-keyboard buttons. Button presses come back as callback queries
// and are handed to OnAction.
type TelegramChannel struct {
	token      string
	chatID     int64
	bot        TelegramBot
	botFactory BotFactory
	cancel     context.CancelFunc

	// OnAction receives notification-action responses. minutes is nil
	// when the pressed button carried no snooze value.
	OnAction func(action, entityID string, minutes *int)
}

func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(token, chatID, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with a custom
// bot factory (for testing)
func NewTelegramChannelWithFactory(token string, chatID int64, factory BotFactory) (*TelegramChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	return &TelegramChannel{token: token, chatID: chatID, botFactory: factory}, nil
}

func (t *TelegramChannel) Name() string { return telegramChannelName }

// Start connects the bot and begins polling for callback queries.
func (t *TelegramChannel) Start(ctx context.Context) error {
	bot, err := t.botFactory(t.token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("Telegram channel authorized as @%s", bot.GetSelf().UserName)

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.CallbackQuery == nil {
					continue
				}
				t.handleCallback(update.CallbackQuery)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (t *TelegramChannel) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

func (t *TelegramChannel) Send(n Notification) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not started")
	}

	msg := tgbotapi.NewMessage(t.chatID, n.Title+"\n"+n.Message)
	if len(n.Actions) > 0 {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, a := range n.Actions {
			payload := callbackPayload{Action: a.Action, EntityID: n.Data.EntityID}
			if a.Action == "MED_SNOOZE" {
				payload.Minutes = n.Data.Minutes
			}
			data, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("encode callback payload: %w", err)
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(a.Title, string(data)))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons)
	}

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (t *TelegramChannel) handleCallback(cb *tgbotapi.CallbackQuery) {
	// Acknowledge the button press so the client stops its spinner.
	if _, err := t.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("Failed to answer telegram callback: %v", err)
	}

	var payload callbackPayload
	if err := json.Unmarshal([]byte(cb.Data), &payload); err != nil {
		log.Printf("Ignoring malformed telegram callback data: %v", err)
		return
	}
	if t.OnAction == nil || payload.EntityID == "" {
		return
	}

	var minutes *int
	if payload.Minutes > 0 {
		m := payload.Minutes
		minutes = &m
	}
	t.OnAction(payload.Action, payload.EntityID, minutes)
}
