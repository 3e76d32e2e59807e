package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIURL         = "https://api.telegram.org"
	defaultRequestTimeout = 10 * time.Second
)

var (
	errMissingBotToken = errors.New("telegram: bot token required")
)

// BotClientConfig bundles configuration for the Bot API client.
type BotClientConfig struct {
	APIURL     string
	BotToken   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// BotClient sends outbound messages through the Bot API. It implements
// Sender; the dispatcher never talks to the transport directly.
type BotClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewBotClient constructs a Bot API client.
func NewBotClient(cfg BotClientConfig) (*BotClient, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errMissingBotToken
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BotClient{
		baseURL:    fmt.Sprintf("%s/bot%s", apiURL, token),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type inlineKeyboardButton struct {
	Text         string      `json:"text"`
	WebApp       *webAppInfo `json:"web_app,omitempty"`
	CallbackData string      `json:"callback_data,omitempty"`
}

type webAppInfo struct {
	URL string `json:"url"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessagePayload struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type answerCallbackPayload struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

type deleteMessagePayload struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendAccessMessage sends the link-bearing message. The web_app button opens
// the URL inside Telegram's embedded browser without a confirmation prompt;
// the second row carries the refresh action.
func (c *BotClient) SendAccessMessage(ctx context.Context, chatID int64, text string, button LinkButton) error {
	payload := sendMessagePayload{ChatID: chatID, Text: text}
	if button.URL != "" {
		payload.ReplyMarkup = &replyMarkup{
			InlineKeyboard: [][]inlineKeyboardButton{
				{{Text: button.Text, WebApp: &webAppInfo{URL: button.URL}}},
				{{Text: refreshButtonText, CallbackData: callbackRefresh}},
			},
		}
	}
	return c.call(ctx, "sendMessage", payload)
}

// AnswerCallback acknowledges a callback query to stop the client-side spinner.
func (c *BotClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackPayload{CallbackQueryID: callbackID, Text: text})
}

// DeleteMessage removes a previously sent message from the chat.
func (c *BotClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", deleteMessagePayload{ChatID: chatID, MessageID: messageID})
}

func (c *BotClient) call(ctx context.Context, method string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: encode %s: %w", method, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer response.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram: %s rejected: %s", method, parsed.Description)
	}
	return nil
}
