package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"adserver.com/pkg/xerr"
)

// ErrNotAvailable 拿不到汇率时中止依赖汇率的计算，不能默认成 1
var ErrNotAvailable = errors.New("exchange: rate not available")

type Rate struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
	ValidAt  time.Time       `json:"valid_at"`
}

type Config struct {
	URL      string        `mapstructure:"url" validate:"required,url"`
	Currency string        `mapstructure:"currency" validate:"required"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type cached struct {
	rate      Rate
	expiresAt time.Time
}

// Reader 按小时缓存汇率
type Reader struct {
	url      string
	currency string
	http     *http.Client
	ttl      time.Duration

	mu    sync.Mutex
	cache map[int64]cached
	now   func() time.Time
}

func NewReader(c Config) *Reader {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := c.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Reader{
		url:      strings.TrimSuffix(c.URL, "/"),
		currency: c.Currency,
		http:     &http.Client{Timeout: timeout},
		ttl:      ttl,
		cache:    make(map[int64]cached),
		now:      time.Now,
	}
}

func (r *Reader) FetchExchangeRate(ctx context.Context, asOf time.Time) (Rate, error) {
	key := asOf.UTC().Truncate(time.Hour).Unix()

	r.mu.Lock()
	if c, ok := r.cache[key]; ok && r.now().Before(c.expiresAt) {
		r.mu.Unlock()
		return c.rate, nil
	}
	r.mu.Unlock()

	rate, err := r.fetch(ctx, asOf)
	if err != nil {
		return Rate{}, err
	}

	r.mu.Lock()
	r.cache[key] = cached{rate: rate, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return rate, nil
}

func (r *Reader) fetch(ctx context.Context, asOf time.Time) (Rate, error) {
	q := url.Values{
		"currency": []string{r.currency},
		"date":     []string{asOf.UTC().Format(time.RFC3339)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url+"/exchange-rate?"+q.Encode(), nil)
	if err != nil {
		return Rate{}, notAvailable(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return Rate{}, notAvailable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Rate{}, notAvailable(err)
	}
	if resp.StatusCode != http.StatusOK {
		return Rate{}, notAvailable(fmt.Errorf("status %d", resp.StatusCode))
	}

	var rate Rate
	if err := json.Unmarshal(data, &rate); err != nil {
		return Rate{}, notAvailable(err)
	}
	if !rate.Value.IsPositive() {
		return Rate{}, notAvailable(fmt.Errorf("non-positive rate %s", rate.Value))
	}
	if rate.Currency == "" {
		rate.Currency = r.currency
	}
	return rate, nil
}

func notAvailable(err error) error {
	return xerr.Wrap(fmt.Errorf("%w: %v", ErrNotAvailable, err), xerr.Transient, "fetch exchange rate")
}
