package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adserver.com/pkg/xerr"
)

const sample = `
name: payments-service
db:
  source_name: "adserver:secret@tcp(127.0.0.1:3306)/adserver?parseTime=true"
redis:
  addr: "127.0.0.1:6379"
broker:
  kind: memory
blockchain:
  url: "http://127.0.0.1:6511/"
  address: "0001-00000001-8B4E"
exchange:
  url: "http://127.0.0.1:8080"
  currency: USD
license:
  source: static
  static:
    address: "0001-00000002-BB2D"
    fees:
      supply: "0.1"
payments:
  chunk_size: 100
  reserve_window: 24h
  operator_coef: "0.01"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ServiceName+".yaml"), []byte(body), 0o600))
	return dir
}

func TestLoad(t *testing.T) {
	c, v, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "static", c.License.Source)
	assert.Equal(t, time.Minute, c.Jobs.ScanEvery)
	assert.Equal(t, 7, c.Report().MaxAgeDays)

	m := c.Machine()
	assert.Equal(t, 100, m.ChunkSize)
	assert.Equal(t, 24*time.Hour, m.ReserveWindow)
	assert.True(t, m.OperatorCoef.Equal(decimal.RequireFromString("0.01")))

	l, err := c.StaticLicense()
	require.NoError(t, err)
	assert.Equal(t, "0001-00000002-BB2D", l.Address)
	assert.True(t, l.Fees["supply"].Equal(decimal.RequireFromString("0.1")))

	assert.Equal(t, c.DB.SourceName, c.ORM().DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing dsn", func(c *Config) { c.DB.SourceName = "" }},
		{"bad dsn", func(c *Config) { c.DB.SourceName = "not a dsn" }},
		{"unknown broker", func(c *Config) { c.Broker.Kind = "kafka" }},
		{"nats without url", func(c *Config) { c.Broker.Kind = "nats" }},
		{"coef above one", func(c *Config) { c.Payments.OperatorCoef = "1.5" }},
		{"coef not a number", func(c *Config) { c.Payments.OperatorCoef = "abc" }},
		{"vault without path", func(c *Config) { c.License.Source = "vault"; c.License.Vault.Address = "http://vault:8200" }},
		{"bad static fee", func(c *Config) { c.License.Static.Fees = map[string]string{"supply": "x"} }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"negative max age", func(c *Config) { c.Reports.MaxAgeDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, err := Load(writeConfig(t, sample))
			require.NoError(t, err)

			tt.mutate(c)
			err = c.Validate()
			require.Error(t, err)
			assert.True(t, xerr.IsConfig(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, xerr.IsConfig(err))
}
