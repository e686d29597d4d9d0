// Package exchange получает курсы конвертации валют.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

const (
	serviceName = "exchange"

	// DefaultBaseURL открытый endpoint без ключа
	DefaultBaseURL = "https://open.er-api.com"
)

type latestResponse struct {
	Result    string             `json:"result"`
	BaseCode  string             `json:"base_code"`
	Rates     map[string]float64 `json:"rates"`
	ErrorType string             `json:"error-type"`
}

// Client получает актуальную таблицу курсов для базовой валюты
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	log        *logger.Logger
}

// NewClient создает клиент курсов
func NewClient(baseURL string, timeout time.Duration, maxRetries uint64, log *logger.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		log:        log,
	}
}

// Rate возвращает, сколько единиц `to` стоит одна единица `from`
func (c *Client) Rate(ctx context.Context, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return 1, nil
	}

	var resp latestResponse
	operation := func() error {
		latest, err := c.fetch(ctx, from)
		if err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = latest
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		c.log.Warnw("Exchange rate lookup failed", "from", from, "to", to, "error", err)
		return 0, err
	}

	rate, ok := resp.Rates[to]
	if !ok || rate <= 0 {
		return 0, domain.NewExternalServiceError(serviceName, "missing_rate", fmt.Sprintf("no %s rate for %s", to, from), http.StatusOK, nil)
	}
	return rate, nil
}

// fetch декодирует попытку в собственное значение, поэтому неудачная попытка не
// передает курсы следующей
func (c *Client) fetch(ctx context.Context, from string) (latestResponse, error) {
	var out latestResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v6/latest/"+url.PathEscape(from), nil)
	if err != nil {
		return out, domain.NewExternalServiceError(serviceName, "request", "failed to build request", 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, domain.NewExternalServiceError(serviceName, "transport", "request failed", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, domain.NewExternalServiceError(serviceName, resp.Status, "unexpected status", resp.StatusCode, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return latestResponse{}, domain.NewExternalServiceError(serviceName, "decode", "invalid response body", resp.StatusCode, err)
	}
	if out.Result != "" && out.Result != "success" {
		return latestResponse{}, domain.NewExternalServiceError(serviceName, out.ErrorType, "lookup rejected", resp.StatusCode, nil)
	}
	return out, nil
}

func isTransient(err error) bool {
	ext, ok := err.(*domain.ExternalServiceError)
	if !ok {
		return false
	}
	return ext.StatusCode == 0 || ext.StatusCode == http.StatusTooManyRequests || ext.StatusCode >= http.StatusInternalServerError
}
