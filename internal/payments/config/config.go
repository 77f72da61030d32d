package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"adserver.com/internal/payments/blockchain"
	"adserver.com/internal/payments/demand"
	"adserver.com/internal/payments/exchange"
	"adserver.com/internal/payments/license"
	"adserver.com/internal/payments/report"
	"adserver.com/internal/payments/statemachine"
	pkgconfig "adserver.com/pkg/config"
	"adserver.com/pkg/orm"
	"adserver.com/pkg/trace"
	"adserver.com/pkg/xerr"
	"adserver.com/pkg/xredis"
)

const ServiceName = "payments-service"

type Config struct {
	Name        string `mapstructure:"name" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Log        Log               `mapstructure:"log"`
	DB         DB                `mapstructure:"db"`
	Redis      xredis.Config     `mapstructure:"redis"`
	Broker     Broker            `mapstructure:"broker"`
	Trace      trace.Config      `mapstructure:"trace"`
	Blockchain blockchain.Config `mapstructure:"blockchain"`
	Demand     demand.Config     `mapstructure:"demand"`
	Exchange   exchange.Config   `mapstructure:"exchange"`
	License    License           `mapstructure:"license"`
	Payments   Payments          `mapstructure:"payments"`
	Reports    Reports           `mapstructure:"reports"`
	Jobs       Jobs              `mapstructure:"jobs"`
}

type Log struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

type DB struct {
	SourceName  string `mapstructure:"source_name" validate:"required"`
	MaxOpen     int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdle     int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	MaxLifetime int    `mapstructure:"conn_max_lifetime_seconds" validate:"gte=0"`
	Debug       bool   `mapstructure:"debug"`
}

type Broker struct {
	Kind string `mapstructure:"kind" validate:"required,oneof=nats memory"`
	URL  string `mapstructure:"url" validate:"required_if=Kind nats"`
}

// License source=vault 时从 KV 读，static 用于本地环境
type License struct {
	Source string              `mapstructure:"source" validate:"omitempty,oneof=vault static"`
	Vault  license.VaultConfig `mapstructure:"vault"`
	Static StaticLicense       `mapstructure:"static"`
}

type StaticLicense struct {
	Address string            `mapstructure:"address"`
	Fees    map[string]string `mapstructure:"fees"`
}

type Payments struct {
	ChunkSize     int           `mapstructure:"chunk_size" validate:"gte=0"`
	PageLimit     int           `mapstructure:"page_limit" validate:"gte=0"`
	ReserveWindow time.Duration `mapstructure:"reserve_window"`
	OperatorCoef  string        `mapstructure:"operator_coef" validate:"required,numeric"`
}

type Reports struct {
	MaxAgeDays    int           `mapstructure:"max_age_days" validate:"gte=1"`
	BatchSize     int           `mapstructure:"batch_size" validate:"gte=0"`
	ExportTimeout time.Duration `mapstructure:"export_timeout"`
}

type Jobs struct {
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	ScanEvery    time.Duration `mapstructure:"scan_every"`
	ProcessEvery time.Duration `mapstructure:"process_every"`
	ReportEvery  time.Duration `mapstructure:"report_every"`
}

var validate = validator.New()

// Load 读配置并校验，任何问题都按配置错误返回
func Load(paths ...string) (*Config, *viper.Viper, error) {
	c := &Config{}
	v, err := pkgconfig.Load(ServiceName, c, paths...)
	if err != nil {
		return nil, nil, xerr.Wrap(err, xerr.Config, "load config")
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	return c, v, nil
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = ServiceName
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.License.Source == "" {
		c.License.Source = "static"
	}
	if c.Reports.MaxAgeDays == 0 {
		c.Reports.MaxAgeDays = 7
	}
	if c.Jobs.ScanEvery <= 0 {
		c.Jobs.ScanEvery = time.Minute
	}
	if c.Jobs.ProcessEvery <= 0 {
		c.Jobs.ProcessEvery = time.Minute
	}
	if c.Jobs.ReportEvery <= 0 {
		c.Jobs.ReportEvery = 10 * time.Minute
	}
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return xerr.Wrap(err, xerr.Config, "invalid config")
	}
	if _, err := mysql.ParseDSN(c.DB.SourceName); err != nil {
		return xerr.Wrap(err, xerr.Config, "invalid db.source_name")
	}
	coef, err := decimal.NewFromString(c.Payments.OperatorCoef)
	if err != nil || coef.IsNegative() || coef.GreaterThan(decimal.NewFromInt(1)) {
		return xerr.New(xerr.Config, fmt.Sprintf("payments.operator_coef %q out of [0, 1]", c.Payments.OperatorCoef))
	}
	if c.License.Source == "vault" && (c.License.Vault.Address == "" || c.License.Vault.Path == "") {
		return xerr.New(xerr.Config, "license.vault needs address and path")
	}
	if _, err := c.StaticLicense(); err != nil {
		return err
	}
	return nil
}

func (c *Config) ORM() *orm.Config {
	return &orm.Config{
		DSN:         c.DB.SourceName,
		MaxOpen:     c.DB.MaxOpen,
		MaxIdle:     c.DB.MaxIdle,
		MaxLifetime: c.DB.MaxLifetime,
		Debug:       c.DB.Debug,
	}
}

// Machine operator_coef 已在 Validate 里校验过
func (c *Config) Machine() statemachine.Config {
	return statemachine.Config{
		ChunkSize:     c.Payments.ChunkSize,
		PageLimit:     c.Payments.PageLimit,
		ReserveWindow: c.Payments.ReserveWindow,
		OperatorCoef:  decimal.RequireFromString(c.Payments.OperatorCoef),
	}
}

func (c *Config) Report() report.Config {
	return report.Config{MaxAgeDays: c.Reports.MaxAgeDays, BatchSize: c.Reports.BatchSize}
}

func (c *Config) StaticLicense() (license.License, error) {
	l := license.License{Address: c.License.Static.Address, Fees: make(map[string]decimal.Decimal, len(c.License.Static.Fees))}
	for kind, s := range c.License.Static.Fees {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return license.License{}, xerr.Wrap(err, xerr.Config, fmt.Sprintf("license.static.fees.%s", kind))
		}
		l.Fees[kind] = d
	}
	return l, nil
}
