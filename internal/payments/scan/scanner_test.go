package scan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adserver.com/internal/payments/blockchain"
	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/scan"
	"adserver.com/internal/payments/testutil"
	"adserver.com/pkg/xerr"
)

type stubChain struct {
	blocks   []string
	log      []blockchain.LogEntry
	fromSeen []time.Time
	err      error
}

func (s *stubChain) GetBlockIDs(context.Context, string) ([]string, error) {
	return s.blocks, s.err
}

func (s *stubChain) GetLog(_ context.Context, from time.Time) ([]blockchain.LogEntry, error) {
	s.fromSeen = append(s.fromSeen, from)
	var out []blockchain.LogEntry
	for _, e := range s.log {
		if !e.Time.Before(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestScanner_CreatesIncomingPaymentsOnce(t *testing.T) {
	db, r := testutil.NewDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	chain := &stubChain{
		blocks: []string{"6A1B0000", "6A1B0020"},
		log: []blockchain.LogEntry{
			{ID: "0001:00000010:0001", Type: blockchain.TxTypeSendOne, InOut: "in", Address: testutil.HostAddress, Amount: 5 * testutil.Clicks, Time: t0},
			{ID: "0001:00000010:0002", Type: blockchain.TxTypeSendMany, InOut: "out", Address: "0001-00000002-BB2D", Amount: testutil.Clicks, Time: t0.Add(time.Minute)},
			{ID: "0001:00000010:0003", Type: blockchain.TxTypeConnection, InOut: "in", Address: testutil.HostAddress, Time: t0.Add(2 * time.Minute)},
		},
	}
	s := scan.NewScanner(chain, r)

	res, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, scan.Result{Blocks: 2, Created: 2}, res)

	var payments []domain.AdsPayment
	require.NoError(t, db.Order("id").Find(&payments).Error)
	require.Len(t, payments, 2)
	assert.Equal(t, domain.PaymentStatusNew, payments[0].Status)
	assert.Equal(t, 5*testutil.Clicks, payments[0].Amount)
	assert.Equal(t, testutil.HostAddress, payments[0].Address)

	blockCursor, err := r.GetCursor(ctx, "ads:blocks")
	require.NoError(t, err)
	assert.Equal(t, "6A1B0020", blockCursor)

	// 第二次从游标继续，边界上那条重复读到但不会重复入库
	res, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, scan.Result{Blocks: 2, Duplicates: 1}, res)
	assert.True(t, chain.fromSeen[1].Equal(t0.Add(2*time.Minute)))
	assert.EqualValues(t, 2, testutil.CountRows(t, db, &domain.AdsPayment{}))
}

func TestScanner_ChainErrorKeepsCursor(t *testing.T) {
	_, r := testutil.NewDB(t)
	ctx := context.Background()
	chain := &stubChain{err: xerr.Wrap(&blockchain.CommandError{Command: "get_blocks", Code: blockchain.ErrCodeUnknown}, xerr.Transient, "blockchain get_blocks")}

	_, err := scan.NewScanner(chain, r).Run(ctx)
	require.Error(t, err)
	assert.True(t, xerr.IsTransient(err))

	v, err := r.GetCursor(ctx, "ads:blocks")
	require.NoError(t, err)
	assert.Empty(t, v)
}
