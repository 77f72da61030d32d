package demand

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adserver.com/internal/payments/domain"
	"adserver.com/pkg/ratelimit"
	"adserver.com/pkg/xerr"
)

func TestFetchPaymentDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payment-details/0001:00000001:0001/meta":
			_, _ = w.Write([]byte(`{"allocation":10,"boost":20,"events":{"count":2,"sum":300}}`))
		case "/payment-details/0001:00000001:0001":
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			assert.Equal(t, "4", r.URL.Query().Get("offset"))
			_, _ = w.Write([]byte(`[{"case_id":"c1","publisher_id":"p1","event_value":100},{"case_id":"c2","publisher_id":"p2","event_value":200}]`))
		case "/boost-payment-details/0001:00000001:0001":
			_, _ = w.Write([]byte(`[{"campaign_id":"camp-1","value":20}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{Timeout: time.Second})
	ctx := context.Background()

	meta, err := c.FetchPaymentDetailsMeta(ctx, srv.URL, "0001:00000001:0001")
	require.NoError(t, err)
	assert.Equal(t, domain.DetailsMeta{Allocation: 10, Boost: 20, Events: domain.EventsSummary{Count: 2, Sum: 300}}, meta)
	assert.Equal(t, int64(330), meta.Total())

	events, err := c.FetchPaymentDetails(ctx, srv.URL, "0001:00000001:0001", 2, 4)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventDetail{CaseID: "c2", PublisherID: "p2", EventValue: 200}, events[1])

	boost, err := c.FetchBoostDetails(ctx, srv.URL, "0001:00000001:0001", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.BoostDetail{{CampaignID: "camp-1", Value: 20}}, boost)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"not found", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewClient(Config{}).FetchPaymentDetails(context.Background(), srv.URL, "tx", 10, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnexpectedResponse)
			assert.Equal(t, tt.transient, xerr.IsTransient(err))
			if !tt.transient {
				assert.Equal(t, xerr.DataInconsistency, xerr.CodeOf(err))
			}
		})
	}
}

func TestBreakerOpensPerHost(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Breaker: ratelimit.Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.FetchPaymentDetailsMeta(ctx, srv.URL, "tx")
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
	}
	_, err := c.FetchPaymentDetailsMeta(ctx, srv.URL, "tx")
	require.Error(t, err)
	assert.True(t, ratelimit.IsRejected(err))
	assert.True(t, xerr.IsTransient(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestBadHost(t *testing.T) {
	_, err := NewClient(Config{}).FetchPaymentDetailsMeta(context.Background(), "not a url", "tx")
	assert.Equal(t, xerr.DataInconsistency, xerr.CodeOf(err))
}
