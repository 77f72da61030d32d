package license

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adserver.com/pkg/xerr"
)

func vaultServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/v1/secret/data/adserver/license", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newReader(t *testing.T, addr string) *VaultReader {
	t.Helper()
	r, err := NewVaultReader(VaultConfig{Address: addr, Token: "test-token", Path: "adserver/license", CacheTTL: time.Minute})
	require.NoError(t, err)
	return r
}

func TestVaultReader_ReadsAndCaches(t *testing.T) {
	srv, hits := vaultServer(t, http.StatusOK, `{"data":{"data":{"address":"0001-00000003-AB0C","fee_supply":"0.01","fee_demand":0.02},"metadata":{"version":3}}}`)
	r := newReader(t, srv.URL)
	ctx := context.Background()

	fee, err := r.GetFee(ctx, "supply")
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("0.01")))

	demand, err := r.GetFee(ctx, "demand")
	require.NoError(t, err)
	assert.True(t, demand.Equal(decimal.RequireFromString("0.02")))

	addr, err := r.GetAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0001-00000003-AB0C", addr)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))

	// 过期后重新读
	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = r.GetAddress(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(hits))
}

func TestVaultReader_Unavailable(t *testing.T) {
	srv, _ := vaultServer(t, http.StatusServiceUnavailable, `{"errors":["Vault is sealed"]}`)
	r := newReader(t, srv.URL)

	_, err := r.GetFee(context.Background(), "supply")
	require.Error(t, err)
	assert.True(t, xerr.IsTransient(err))
}

func TestVaultReader_MissingFee(t *testing.T) {
	srv, _ := vaultServer(t, http.StatusOK, `{"data":{"data":{"address":"0001-00000003-AB0C"}}}`)
	r := newReader(t, srv.URL)

	_, err := r.GetFee(context.Background(), "supply")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStaticReader(t *testing.T) {
	s := StaticReader{License: License{Address: "a", Fees: map[string]decimal.Decimal{"supply": decimal.RequireFromString("0.05")}}}
	fee, err := s.GetFee(context.Background(), "supply")
	require.NoError(t, err)
	assert.Equal(t, "0.05", fee.String())

	_, err = StaticReader{}.GetAddress(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
