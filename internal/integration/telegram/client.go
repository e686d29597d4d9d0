// Package telegram небольшой клиент Bot API с методами, которые использует бот.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"golang.org/x/time/rate"
)

const (
	serviceName = "telegram"

	// DefaultBaseURL публичный хост Bot API
	DefaultBaseURL = "https://api.telegram.org"
)

var allowedUpdates = []string{"message", "callback_query"}

// Config настройки клиента
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration

	// RatePerSecond и Burst ограничивают исходящие вызовы
	RatePerSecond float64
	Burst         int
}

// Client вызывает Bot API. Каждый вызов ждет общий rate limiter.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

// NewClient создает клиент Bot API
func NewClient(cfg Config, log *logger.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Limit(25)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		log:        log,
	}
}

// SendMessage отправляет текст, при необходимости с inline клавиатурой, и
// возвращает id сообщения
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (int, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: keyboard}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessageText заменяет текст отправленного сообщения и убирает клавиатуру
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	return c.call(ctx, "editMessageText", editMessageTextRequest{ChatID: chatID, MessageID: messageID, Text: text}, nil)
}

// DeleteMessage удаляет сообщение
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.call(ctx, "deleteMessage", deleteMessageRequest{ChatID: chatID, MessageID: messageID}, nil)
}

// AnswerCallbackQuery подтверждает нажатие кнопки, опционально с всплывающим
// текстом
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackQueryRequest{CallbackQueryID: queryID, Text: text}, nil)
}

// GetUpdates получает обновления после offset через long polling
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]Update, error) {
	var updates []Update
	req := getUpdatesRequest{Offset: offset, Timeout: int(timeout.Seconds()), AllowedUpdates: allowedUpdates}
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SetWebhook направляет бота на url. secret приходит в заголовке
// X-Telegram-Bot-Api-Secret-Token каждой доставки
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{URL: url, SecretToken: secret, AllowedUpdates: allowedUpdates}, nil)
}

// DeleteWebhook возвращает бота в режим polling
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", struct{}{}, nil)
}

func (c *Client) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.NewExternalServiceError(serviceName, "request", "failed to build request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Текст ошибки содержит URL, а вместе с ним токен
		return domain.NewExternalServiceError(serviceName, "transport", method+" failed", 0, redact(err, c.token))
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return domain.NewExternalServiceError(serviceName, "decode", method+": invalid response", resp.StatusCode, err)
	}
	if !envelope.OK {
		msg := envelope.Description
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			msg += " (retry after " + strconv.Itoa(envelope.Parameters.RetryAfter) + "s)"
		}
		c.log.Debugw("Bot API call rejected", "method", method, "code", envelope.ErrorCode, "description", envelope.Description)
		return domain.NewExternalServiceError(serviceName, strconv.Itoa(envelope.ErrorCode), method+": "+msg, resp.StatusCode, nil)
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return domain.NewExternalServiceError(serviceName, "decode", method+": invalid result", resp.StatusCode, err)
		}
	}
	return nil
}

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}
