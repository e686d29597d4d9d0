// Package twilio клиент провайдера номеров на основе Twilio Go SDK.
package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	twilio "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	serviceName = "twilio"

	// DefaultBaseURL публичный хост API, с которым работает SDK
	DefaultBaseURL = "https://api.twilio.com"

	// codeNumberUnavailable возвращается, когда номер больше нельзя купить
	codeNumberUnavailable = 21422

	searchPageSize  = 30
	ownedPageSize   = 50
	messagePageSize = 20
	dateLayout      = time.RFC1123Z
)

// Config настройки клиента
type Config struct {
	// BaseURL перенаправляет трафик SDK на другой хост, например локальный mock
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
}

// Client работает с провайдером от имени учетных данных вызывающего. Чтения
// повторяются с экспоненциальной задержкой, покупка и освобождение отправляются
// ровно один раз.
type Client struct {
	httpClient *http.Client
	maxRetries uint64
	log        *logger.Logger
}

// NewClient создает новый Twilio клиент
func NewClient(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" && base != DefaultBaseURL {
		if target, err := url.Parse(base); err == nil && target.Host != "" {
			httpClient.Transport = &hostRewrite{target: target, next: http.DefaultTransport}
		} else {
			log.Warnw("Ignoring invalid provisioning base URL", "base_url", cfg.BaseURL)
		}
	}

	return &Client{
		httpClient: httpClient,
		maxRetries: cfg.MaxRetries,
		log:        log,
	}
}

// FetchAccount возвращает данные аккаунта учетных данных
func (c *Client) FetchAccount(ctx context.Context, cred domain.Credential) (domain.AccountInfo, error) {
	api := c.api(cred)

	var account *openapi.ApiV2010Account
	err := c.read(ctx, "account", func() (err error) {
		account, err = api.FetchAccount(cred.AccountSID)
		return err
	})
	if err != nil {
		return domain.AccountInfo{}, err
	}
	return domain.AccountInfo{
		SID:          deref(account.Sid),
		FriendlyName: deref(account.FriendlyName),
		Status:       deref(account.Status),
	}, nil
}

// FetchBalance возвращает баланс и его валюту
func (c *Client) FetchBalance(ctx context.Context, cred domain.Credential) (domain.Money, error) {
	api := c.api(cred)
	params := &openapi.FetchBalanceParams{}
	params.SetPathAccountSid(cred.AccountSID)

	var balance *openapi.ApiV2010Balance
	err := c.read(ctx, "balance", func() (err error) {
		balance, err = api.FetchBalance(params)
		return err
	})
	if err != nil {
		return domain.Money{}, err
	}

	raw := strings.TrimSpace(deref(balance.Balance))
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return domain.Money{}, domain.NewExternalServiceError(serviceName, "invalid_balance", "unparseable balance "+raw, http.StatusOK, err)
	}
	return domain.Money{Amount: amount, Currency: strings.ToUpper(deref(balance.Currency))}, nil
}

// SearchAvailable ищет местные номера в продаже в country, при необходимости с
// кодом области
func (c *Client) SearchAvailable(ctx context.Context, cred domain.Credential, country, areaCode string) ([]domain.CandidateNumber, error) {
	params := &openapi.ListAvailablePhoneNumberLocalParams{}
	params.SetPathAccountSid(cred.AccountSID)
	params.SetSmsEnabled(true)
	params.SetPageSize(searchPageSize)
	params.SetLimit(searchPageSize)
	if areaCode != "" {
		code, err := strconv.Atoi(areaCode)
		if err != nil {
			return nil, domain.NewExternalServiceError(serviceName, "invalid_area_code", "area code must be numeric", http.StatusBadRequest, domain.ErrInvalidInput)
		}
		params.SetAreaCode(code)
	}

	api := c.api(cred)
	var found []openapi.ApiV2010AvailablePhoneNumberLocal
	err := c.read(ctx, "available_numbers", func() (err error) {
		found, err = api.ListAvailablePhoneNumberLocal(strings.ToUpper(country), params)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.CandidateNumber, 0, len(found))
	for _, n := range found {
		out = append(out, domain.CandidateNumber{
			PhoneNumber:  deref(n.PhoneNumber),
			FriendlyName: deref(n.FriendlyName),
			Locality:     deref(n.Locality),
			Region:       deref(n.Region),
			AreaCode:     areaCode,
		})
	}
	return out, nil
}

// Purchase покупает номер с callback для входящих SMS и статусов. Недоступный
// номер превращается в domain.ErrAlreadyTaken.
func (c *Client) Purchase(ctx context.Context, cred domain.Credential, order domain.PurchaseOrder) (domain.PurchasedNumber, error) {
	if err := ctx.Err(); err != nil {
		return domain.PurchasedNumber{}, err
	}

	params := &openapi.CreateIncomingPhoneNumberParams{}
	params.SetPathAccountSid(cred.AccountSID)
	params.SetPhoneNumber(order.PhoneNumber)
	params.SetSmsUrl(order.SmsURL)
	params.SetSmsMethod(http.MethodPost)
	if order.StatusCallbackURL != "" {
		params.SetStatusCallback(order.StatusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
	}

	bought, err := c.api(cred).CreateIncomingPhoneNumber(params)
	if err != nil {
		return domain.PurchasedNumber{}, mapError(err)
	}

	c.log.Infow("Number purchased", "sid", deref(bought.Sid), "number", deref(bought.PhoneNumber))
	return domain.PurchasedNumber{SID: deref(bought.Sid), PhoneNumber: deref(bought.PhoneNumber)}, nil
}

// ListOwned возвращает номера, которые сейчас принадлежат аккаунту
func (c *Client) ListOwned(ctx context.Context, cred domain.Credential) ([]domain.OwnedNumber, error) {
	params := &openapi.ListIncomingPhoneNumberParams{}
	params.SetPathAccountSid(cred.AccountSID)
	params.SetPageSize(ownedPageSize)

	api := c.api(cred)
	var owned []openapi.ApiV2010IncomingPhoneNumber
	err := c.read(ctx, "incoming_numbers", func() (err error) {
		owned, err = api.ListIncomingPhoneNumber(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.OwnedNumber, 0, len(owned))
	for _, n := range owned {
		out = append(out, domain.OwnedNumber{SID: deref(n.Sid), PhoneNumber: deref(n.PhoneNumber)})
	}
	return out, nil
}

// Release возвращает номер провайдеру
func (c *Client) Release(ctx context.Context, cred domain.Credential, sid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.DeleteIncomingPhoneNumberParams{}
	params.SetPathAccountSid(cred.AccountSID)
	if err := c.api(cred).DeleteIncomingPhoneNumber(sid, params); err != nil {
		return mapError(err)
	}
	return nil
}

// ListMessages возвращает последние сообщения, адресованные номеру
func (c *Client) ListMessages(ctx context.Context, cred domain.Credential, to string) ([]domain.Message, error) {
	params := &openapi.ListMessageParams{}
	params.SetPathAccountSid(cred.AccountSID)
	params.SetTo(to)
	params.SetPageSize(messagePageSize)
	params.SetLimit(messagePageSize)

	api := c.api(cred)
	var msgs []openapi.ApiV2010Message
	err := c.read(ctx, "messages", func() (err error) {
		msgs, err = api.ListMessage(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := domain.Message{From: deref(m.From), To: deref(m.To), Body: deref(m.Body)}
		if t, err := time.Parse(dateLayout, deref(m.DateSent)); err == nil {
			msg.DateSent = t
		}
		out = append(out, msg)
	}
	return out, nil
}

// api создает сервис SDK для одних учетных данных. Сессии принадлежат разным
// аккаунтам, общим остается только HTTP клиент.
func (c *Client) api(cred domain.Credential) *openapi.ApiService {
	base := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(cred.AccountSID, cred.AuthToken),
		HTTPClient:  c.httpClient,
	}
	base.SetAccountSid(cred.AccountSID)
	return twilio.NewRestClientWithParams(twilio.ClientParams{Client: base}).Api
}

// read выполняет идемпотентный вызов, повторяя транспортные ошибки и ответы
// 5xx/429
func (c *Client) read(ctx context.Context, op string, call func() error) error {
	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := call()
		if err == nil {
			return nil
		}
		err = mapError(err)
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.log.Warnw("Retryable backend error", "op", op, "attempt", attempt, "error", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
}

// mapError превращает ошибки SDK в ExternalServiceError. REST ошибки сохраняют
// код провайдера, остальные считаются транспортными.
func mapError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		var cause error
		if restErr.Code == codeNumberUnavailable {
			cause = domain.ErrAlreadyTaken
		}
		return domain.NewExternalServiceError(serviceName, strconv.Itoa(restErr.Code), restErr.Message, restErr.Status, cause)
	}
	return domain.NewExternalServiceError(serviceName, "transport", "request failed", 0, err)
}

func retryable(err error) bool {
	var ext *domain.ExternalServiceError
	if !errors.As(err, &ext) {
		return false
	}
	switch {
	case ext.StatusCode == 0:
		return ext.Code == "transport"
	case ext.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return ext.StatusCode >= http.StatusInternalServerError
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// hostRewrite отправляет запросы SDK на target вместо публичного хоста API
type hostRewrite struct {
	target *url.URL
	next   http.RoundTripper
}

func (h *hostRewrite) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.URL.Scheme = h.target.Scheme
	out.URL.Host = h.target.Host
	out.Host = h.target.Host
	return h.next.RoundTrip(out)
}
