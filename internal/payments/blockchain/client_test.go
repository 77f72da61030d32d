package blockchain

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adserver.com/pkg/xerr"
)

// node 按 run 字段返回预设响应
func node(t *testing.T, responses map[string]string) (*Client, *[]map[string]interface{}) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &body))
		mu.Lock()
		calls = append(calls, body)
		mu.Unlock()

		resp, ok := responses[body["run"].(string)]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL, Address: "0001-00000005-CBCA", Timeout: time.Second}), &calls
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1.00000000000", 100_000_000_000, false},
		{"0.00000000001", 1, false},
		{"12", 1_200_000_000_000, false},
		{"0.000000000001", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "1.00000000000", FormatAmount(100_000_000_000))
}

func TestGetTransaction(t *testing.T) {
	c, calls := node(t, map[string]string{
		"get_transaction": `{"current_block_time":1700000000,"txn":{"id":"0001:00000001:0001","type":"send_one","sender_address":"0001-00000001-8B4E","target_address":"0001-00000005-CBCA","amount":"2.50000000000","time":1700000000}}`,
	})

	tx, err := c.GetTransaction(context.Background(), "0001:00000001:0001")
	require.NoError(t, err)
	assert.Equal(t, TxTypeSendOne, tx.Type)
	assert.Equal(t, "0001-00000001-8B4E", tx.SenderAddress)
	assert.Equal(t, int64(250_000_000_000), tx.Amount)
	assert.Equal(t, int64(1700000000), tx.Time.Unix())
	assert.Equal(t, "0001:00000001:0001", (*calls)[0]["txid"])
}

func TestCommandErrorIsTransient(t *testing.T) {
	c, _ := node(t, map[string]string{
		"get_transaction": `{"error":"Broadcast not ready"}`,
	})

	_, err := c.GetTransaction(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, xerr.IsTransient(err))

	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ErrCodeBroadcastNotReady, cerr.Code)

	// 节点 5xx
	_, err = c.GetBlockIDs(context.Background(), "")
	assert.True(t, xerr.IsTransient(err))
}

func TestGetLogAndSendMany(t *testing.T) {
	c, calls := node(t, map[string]string{
		"get_log":   `{"log":[{"id":"0001:00000002:0001","type":"send_one","inout":"in","address":"0001-00000001-8B4E","amount":"1.00000000000","time":1700003600},{"id":"0001:00000002:0002","type":"send_many","inout":"out","address":"0001-00000002-BB2D","amount":"-0.50000000000","time":1700003700}]}`,
		"send_many": `{"tx":{"id":"0001:00000003:0001"}}`,
	})
	ctx := context.Background()

	entries, err := c.GetLog(ctx, time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "in", entries[0].InOut)
	assert.Equal(t, int64(100_000_000_000), entries[0].Amount)
	assert.Equal(t, int64(50_000_000_000), entries[1].Amount)
	assert.EqualValues(t, 1700000000, (*calls)[0]["from"])

	txID, err := c.SendMany(ctx, []Wire{{TargetAddress: "0001-00000002-BB2D", Amount: 300_000_000_000}})
	require.NoError(t, err)
	assert.Equal(t, "0001:00000003:0001", txID)
	wires := (*calls)[1]["wires"].(map[string]interface{})
	assert.Equal(t, "3.00000000000", wires["0001-00000002-BB2D"])
}
