// Package catalog предоставляет клиент для внешнего каталога рекламных объявлений.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/adrewards/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с каталогом объявлений.
type Client struct {
	endpoint   string
	httpClient *http.Client
	nowFn      func() time.Time
}

// Advertisement описывает объявление в ответе каталога.
type Advertisement struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	URL    string          `json:"url"`
	Reward decimal.Decimal `json:"reward"`
	Active bool            `json:"active"`
}

// ToModel переводит объявление каталога в доменную сущность.
func (a Advertisement) ToModel() model.Advertisement {
	return model.Advertisement{
		ID:     a.ID,
		Title:  a.Title,
		URL:    a.URL,
		Reward: a.Reward,
		Active: a.Active,
	}
}

// Snapshot содержит результат одного запроса к каталогу.
// Unchanged выставляется для ответов 204 и 304, RetryAfter для ответа 429.
type Snapshot struct {
	Ads        []Advertisement
	ETag       string
	Unchanged  bool
	RetryAfter time.Duration
}

// StatusError возвращается на неожиданный код ответа каталога.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: unexpected status %d", e.Code)
}

// NewClient создаёт клиент каталога. Адрес без схемы дополняется http://.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		endpoint: base + "/api/ads",
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		nowFn: time.Now,
	}
}

// ListAdvertisements запрашивает полный список объявлений. Непустой etag передаётся
// в If-None-Match, и неизменившийся каталог возвращается как Unchanged.
func (c *Client) ListAdvertisements(ctx context.Context, etag string) (Snapshot, error) {
	if c == nil || c.endpoint == "/api/ads" {
		return Snapshot{}, fmt.Errorf("catalog client not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotModified:
		return Snapshot{ETag: etag, Unchanged: true}, nil
	case http.StatusTooManyRequests:
		return Snapshot{ETag: etag, RetryAfter: c.retryAfter(resp.Header.Get("Retry-After"))}, nil
	default:
		return Snapshot{}, &StatusError{Code: resp.StatusCode}
	}

	var ads []Advertisement
	if err := json.NewDecoder(resp.Body).Decode(&ads); err != nil {
		return Snapshot{}, fmt.Errorf("decode response: %w", err)
	}

	return Snapshot{Ads: ads, ETag: resp.Header.Get("ETag")}, nil
}

// retryAfter разбирает Retry-After в секундах или в формате HTTP-даты.
func (c *Client) retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(c.nowFn()); d > 0 {
			return d
		}
	}
	return 0
}
