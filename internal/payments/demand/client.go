package demand

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"adserver.com/internal/payments/domain"
	"adserver.com/pkg/logger"
	"adserver.com/pkg/metrics"
	"adserver.com/pkg/ratelimit"
	"adserver.com/pkg/xerr"
)

const clientName = "demand"

var ErrUnexpectedResponse = errors.New("demand: unexpected response")

// UnexpectedResponseError 非 2xx 响应
type UnexpectedResponseError struct {
	Status int
	Body   string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("demand: unexpected response %d: %s", e.Status, e.Body)
}

func (e *UnexpectedResponseError) StatusCode() int { return e.Status }

func (e *UnexpectedResponseError) Is(target error) bool { return target == ErrUnexpectedResponse }

type Config struct {
	Timeout time.Duration  `mapstructure:"timeout"`
	Rate    float64        `mapstructure:"rate"` // 每个 host 每秒请求数
	Burst   int            `mapstructure:"burst"`
	Breaker ratelimit.Rule `mapstructure:"breaker"`
}

type Client struct {
	http     *http.Client
	breakers *ratelimit.Manager
	limiter  *ratelimit.Store
}

func NewClient(c Config) *Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if c.Rate > 0 {
		limit = rate.Limit(c.Rate)
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		breakers: ratelimit.NewManager(c.Breaker, nil),
		limiter:  ratelimit.NewStore(limit, c.Burst, 0),
	}
}

// Limiter 给 daemon 启动 janitor 用
func (c *Client) Limiter() *ratelimit.Store { return c.limiter }

func (c *Client) FetchPaymentDetailsMeta(ctx context.Context, host, txID string) (domain.DetailsMeta, error) {
	var out domain.DetailsMeta
	err := c.get(ctx, host, "meta", fmt.Sprintf("/payment-details/%s/meta", url.PathEscape(txID)), nil, &out)
	return out, err
}

func (c *Client) FetchPaymentDetails(ctx context.Context, host, txID string, limit, offset int) ([]domain.EventDetail, error) {
	var out []domain.EventDetail
	err := c.get(ctx, host, "events", fmt.Sprintf("/payment-details/%s", url.PathEscape(txID)), page(limit, offset), &out)
	return out, err
}

func (c *Client) FetchBoostDetails(ctx context.Context, host, txID string, limit, offset int) ([]domain.BoostDetail, error) {
	var out []domain.BoostDetail
	err := c.get(ctx, host, "boost", fmt.Sprintf("/boost-payment-details/%s", url.PathEscape(txID)), page(limit, offset), &out)
	return out, err
}

func page(limit, offset int) url.Values {
	return url.Values{
		"limit":  []string{strconv.Itoa(limit)},
		"offset": []string{strconv.Itoa(offset)},
	}
}

func (c *Client) get(ctx context.Context, host, op, path string, query url.Values, out interface{}) error {
	base, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil || base.Host == "" {
		return xerr.Wrap(fmt.Errorf("bad host %q", host), xerr.DataInconsistency, "demand host")
	}
	key := base.Host

	if !c.limiter.Allow(key) {
		metrics.RateLimitBlockTotal.WithLabelValues(clientName, key).Inc()
		if err := c.limiter.Wait(ctx, key); err != nil {
			return xerr.Wrap(err, xerr.Transient, "demand rate limit")
		}
	}

	var body []byte
	err = c.breakers.Do(key, func() error {
		var callErr error
		body, callErr = c.do(ctx, base.String()+path, op, key, query)
		return callErr
	})
	if ratelimit.IsRejected(err) {
		metrics.CBRejectTotal.WithLabelValues(clientName, key, "open").Inc()
		logger.Warn(ctx, "demand circuit breaker open", zap.String("host", key), zap.String("op", op))
		return xerr.Wrap(err, xerr.Transient, "demand circuit breaker")
	}
	if err != nil {
		return classify(err, op)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return xerr.Wrap(err, xerr.DataInconsistency, "demand decode "+op)
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, op, host string, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RemoteCallDuration.WithLabelValues(clientName, op, "error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()
	metrics.RemoteCallDuration.WithLabelValues(clientName, op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		logger.Warn(ctx, "demand unexpected response",
			zap.String("host", host), zap.String("op", op), zap.Int("status", resp.StatusCode))
		return nil, &UnexpectedResponseError{Status: resp.StatusCode, Body: snippet}
	}
	return data, nil
}

// classify 5xx/429/网络错误可重试，其余 4xx 说明数据对不上
func classify(err error, op string) error {
	var ue *UnexpectedResponseError
	if errors.As(err, &ue) {
		if ue.Status >= 500 || ue.Status == http.StatusTooManyRequests {
			return xerr.Wrap(err, xerr.Transient, "demand "+op)
		}
		return xerr.Wrap(err, xerr.DataInconsistency, "demand "+op)
	}
	return xerr.Wrap(err, xerr.Transient, "demand "+op)
}
