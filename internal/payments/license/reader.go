package license

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"adserver.com/pkg/xerr"
)

var ErrNotConfigured = errors.New("license: not configured")

// License vault 里保存的 license 信息
type License struct {
	Address string
	Fees    map[string]decimal.Decimal // kind -> 费率
}

func (l License) fee(kind string) (decimal.Decimal, error) {
	v, ok := l.Fees[kind]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: fee %q", ErrNotConfigured, kind)
	}
	return v, nil
}

// StaticReader 本地开发和测试用
type StaticReader struct {
	License License
}

func (s StaticReader) GetFee(_ context.Context, kind string) (decimal.Decimal, error) {
	return s.License.fee(kind)
}

func (s StaticReader) GetAddress(context.Context) (string, error) {
	if s.License.Address == "" {
		return "", fmt.Errorf("%w: address", ErrNotConfigured)
	}
	return s.License.Address, nil
}

type VaultConfig struct {
	Address   string        `mapstructure:"address"`
	Token     string        `mapstructure:"token"`
	MountPath string        `mapstructure:"mount_path"`
	Path      string        `mapstructure:"path"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// VaultReader 从 KV v2 读 license，结果缓存 CacheTTL
type VaultReader struct {
	client *vault.Client
	cfg    VaultConfig

	mu        sync.RWMutex
	cached    *License
	fetchedAt time.Time
	sf        singleflight.Group
	now       func() time.Time
}

func NewVaultReader(cfg VaultConfig) (*VaultReader, error) {
	vc := vault.DefaultConfig()
	vc.Address = cfg.Address
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &VaultReader{client: client, cfg: cfg, now: time.Now}, nil
}

func (r *VaultReader) GetFee(ctx context.Context, kind string) (decimal.Decimal, error) {
	l, err := r.load(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return l.fee(kind)
}

func (r *VaultReader) GetAddress(ctx context.Context) (string, error) {
	l, err := r.load(ctx)
	if err != nil {
		return "", err
	}
	if l.Address == "" {
		return "", fmt.Errorf("%w: address", ErrNotConfigured)
	}
	return l.Address, nil
}

func (r *VaultReader) load(ctx context.Context) (License, error) {
	r.mu.RLock()
	if r.cached != nil && r.now().Sub(r.fetchedAt) < r.cfg.CacheTTL {
		l := *r.cached
		r.mu.RUnlock()
		return l, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.sf.Do("license", func() (interface{}, error) {
		l, err := r.read(ctx)
		if err != nil {
			return License{}, err
		}
		r.mu.Lock()
		r.cached = &l
		r.fetchedAt = r.now()
		r.mu.Unlock()
		return l, nil
	})
	if err != nil {
		return License{}, err
	}
	return v.(License), nil
}

func (r *VaultReader) read(ctx context.Context) (License, error) {
	path := fmt.Sprintf("%s/data/%s", r.cfg.MountPath, r.cfg.Path)
	secret, err := r.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return License{}, xerr.Wrap(err, xerr.Transient, "read license from vault")
	}
	if secret == nil || secret.Data == nil {
		return License{}, fmt.Errorf("%w: %s", ErrNotConfigured, path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return License{}, fmt.Errorf("license: invalid secret format at %s", path)
	}

	l := License{Fees: make(map[string]decimal.Decimal, 2)}
	if addr, ok := data["address"].(string); ok {
		l.Address = addr
	}
	for _, kind := range []string{"supply", "demand"} {
		raw, ok := data["fee_"+kind]
		if !ok {
			continue
		}
		fee, err := decimal.NewFromString(fmt.Sprint(raw))
		if err != nil {
			return License{}, fmt.Errorf("license: bad fee_%s %v: %w", kind, raw, err)
		}
		l.Fees[kind] = fee
	}
	return l, nil
}
