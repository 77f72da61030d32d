package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/testutil"
)

func TestTransaction_NestedReusesOuterAndRunsHooksAfterCommit(t *testing.T) {
	db, r := testutil.NewDB(t)
	ctx := context.Background()

	var hooks []string
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		_, err := r.CreateAdsPayment(txCtx, &domain.AdsPayment{TxID: "tx-a", Address: "a", Amount: 1, TxTime: time.Now()})
		require.NoError(t, err)

		r.AfterCommit(txCtx, func() { hooks = append(hooks, "outer") })
		return r.Transaction(txCtx, func(inner context.Context) error {
			r.AfterCommit(inner, func() { hooks = append(hooks, "inner") })
			assert.Empty(t, hooks)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, hooks)
	assert.EqualValues(t, 1, testutil.CountRows(t, db, &domain.AdsPayment{}))
}

func TestTransaction_RollbackSkipsHooks(t *testing.T) {
	db, r := testutil.NewDB(t)
	ctx := context.Background()

	called := false
	boom := errors.New("boom")
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		_, err := r.CreateAdsPayment(txCtx, &domain.AdsPayment{TxID: "tx-b", Address: "a", Amount: 1, TxTime: time.Now()})
		require.NoError(t, err)
		r.AfterCommit(txCtx, func() { called = true })
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
	assert.Zero(t, testutil.CountRows(t, db, &domain.AdsPayment{}))

	// 不在事务里立即执行
	r.AfterCommit(ctx, func() { called = true })
	assert.True(t, called)
}

func TestCreateAdsPayment_DuplicateTxIDIsNoop(t *testing.T) {
	db, r := testutil.NewDB(t)
	ctx := context.Background()

	p := domain.AdsPayment{TxID: "0001:0000000A:0001", Address: testutil.HostAddress, Amount: 5, TxTime: time.Now()}
	created, err := r.CreateAdsPayment(ctx, &p)
	require.NoError(t, err)
	assert.True(t, created)

	dup := domain.AdsPayment{TxID: p.TxID, Address: testutil.HostAddress, Amount: 999, TxTime: time.Now()}
	created, err = r.CreateAdsPayment(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	assert.EqualValues(t, 1, testutil.CountRows(t, db, &domain.AdsPayment{}))
	got, err := r.GetAdsPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Amount)
}

func TestUpdateAdsPaymentStatus_Guarded(t *testing.T) {
	db, r := testutil.NewDB(t)
	ctx := context.Background()
	p := testutil.CreatePayment(t, db, testutil.HostAddress, 10, domain.PaymentStatusNew, time.Now())

	require.NoError(t, r.UpdateAdsPaymentStatus(ctx, p.ID, domain.PaymentStatusNew, domain.PaymentStatusEventPaymentCandidate))
	err := r.UpdateAdsPaymentStatus(ctx, p.ID, domain.PaymentStatusNew, domain.PaymentStatusInvalid)
	assert.ErrorIs(t, err, domain.ErrStatusChanged)

	got, err := r.GetAdsPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusEventPaymentCandidate, got.Status)

	_, err = r.GetAdsPayment(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReserveStaleCandidates(t *testing.T) {
	db, r := testutil.NewDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := testutil.CreatePayment(t, db, testutil.HostAddress, 10, domain.PaymentStatusEventPaymentCandidate, now.Add(-48*time.Hour))
	staleInProgress := testutil.CreatePayment(t, db, testutil.HostAddress, 10, domain.PaymentStatusEventPaymentCandidate, now.Add(-48*time.Hour))
	fresh := testutil.CreatePayment(t, db, testutil.HostAddress, 10, domain.PaymentStatusEventPaymentCandidate, now)
	deposit := testutil.CreatePayment(t, db, testutil.HostAddress, 10, domain.PaymentStatusUserDeposit, now.Add(-48*time.Hour))

	untried := testutil.CreatePayment(t, db, testutil.HostAddress, 10, domain.PaymentStatusEventPaymentCandidate, now.Add(-48*time.Hour))

	require.NoError(t, r.SaveMeta(ctx, &domain.AdsPaymentMeta{AdsPaymentID: staleInProgress.ID, DetailsFetched: true}))
	for _, id := range []int64{stale.ID, staleInProgress.ID, fresh.ID, deposit.ID} {
		require.NoError(t, r.MarkAdsPaymentFailed(ctx, id, now))
	}

	n, err := r.ReserveStaleCandidates(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	tests := []struct {
		id   int64
		want domain.PaymentStatus
	}{
		{stale.ID, domain.PaymentStatusReserved},
		{staleInProgress.ID, domain.PaymentStatusEventPaymentCandidate},
		{fresh.ID, domain.PaymentStatusEventPaymentCandidate},
		{deposit.ID, domain.PaymentStatusUserDeposit},
		{untried.ID, domain.PaymentStatusEventPaymentCandidate},
	}
	for _, tt := range tests {
		got, err := r.GetAdsPayment(ctx, tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Status, "payment %d", tt.id)
	}
}

func TestFindAdsPaymentsByStatus_FailedGoLast(t *testing.T) {
	db, r := testutil.NewDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, testutil.CreatePayment(t, db, testutil.HostAddress, 10, domain.PaymentStatusNew, now).ID)
	}
	// 0 失败得晚，1 失败得早，2 3 没失败过
	require.NoError(t, r.MarkAdsPaymentFailed(ctx, ids[0], now))
	require.NoError(t, r.MarkAdsPaymentFailed(ctx, ids[1], now.Add(-time.Minute)))

	tests := []struct {
		limit int
		want  []int64
	}{
		{1, []int64{ids[2]}},
		{3, []int64{ids[2], ids[3], ids[1]}},
		{0, []int64{ids[2], ids[3], ids[1], ids[0]}},
	}
	for _, tt := range tests {
		got, err := r.FindAdsPaymentsByStatus(ctx, domain.PaymentStatusNew, tt.limit)
		require.NoError(t, err)
		gotIDs := make([]int64, 0, len(got))
		for _, p := range got {
			gotIDs = append(gotIDs, p.ID)
		}
		assert.Equal(t, tt.want, gotIDs, "limit %d", tt.limit)
	}

	// 换状态时清掉失败时间
	require.NoError(t, r.UpdateAdsPaymentStatus(ctx, ids[0], domain.PaymentStatusNew, domain.PaymentStatusEventPaymentCandidate))
	p, err := r.GetAdsPayment(ctx, ids[0])
	require.NoError(t, err)
	assert.Nil(t, p.LastFailedAt)
	assert.Equal(t, domain.PaymentStatusEventPaymentCandidate, p.Status)
}

func TestMeta_DefaultAndSave(t *testing.T) {
	_, r := testutil.NewDB(t)
	ctx := context.Background()

	m, err := r.GetMeta(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, m.AdsPaymentID)
	assert.False(t, m.Progressed())

	m.DetailsFetched = true
	m.EventsOffset = 500
	m.LicenseCoef = decimal.RequireFromString("0.01")
	require.NoError(t, r.SaveMeta(ctx, m))

	got, err := r.GetMeta(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.Progressed())
	assert.Equal(t, 500, got.EventsOffset)
	assert.True(t, got.LicenseCoef.Equal(decimal.RequireFromString("0.01")))
}

func TestCasePayment_PaidOnce(t *testing.T) {
	db, r := testutil.NewDB(t)
	ctx := context.Background()
	ids := testutil.CreateCases(t, db, 1, "camp-1", 1)

	cases, err := r.FindCasesByCaseIDs(ctx, append(ids, "missing"))
	require.NoError(t, err)
	require.Len(t, cases, 1)

	c := cases[ids[0]]
	ok, err := r.CreateCasePayment(ctx, &domain.NetworkCasePayment{AdsPaymentID: 1, NetworkCaseID: c.ID, EventValue: 10, PaidAmount: 10})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.CreateCasePayment(ctx, &domain.NetworkCasePayment{AdsPaymentID: 2, NetworkCaseID: c.ID, EventValue: 10, PaidAmount: 10})
	require.NoError(t, err)
	assert.False(t, ok)

	payouts, err := r.SumCasePaymentsByPublisher(ctx, 1)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, domain.PublisherPayout{PublisherID: 1, EventValue: 10, PaidAmount: 10}, payouts[0])

	totals, err := r.SumBoostPayments(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.BoostTotals{}, totals)
}

func TestCursor_Upsert(t *testing.T) {
	_, r := testutil.NewDB(t)
	ctx := context.Background()

	v, err := r.GetCursor(ctx, "ads:last_log_time")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, r.SaveCursor(ctx, "ads:last_log_time", "100"))
	require.NoError(t, r.SaveCursor(ctx, "ads:last_log_time", "200"))

	v, err = r.GetCursor(ctx, "ads:last_log_time")
	require.NoError(t, err)
	assert.Equal(t, "200", v)
}

func TestOutboundPayment_SentRowsAreImmutable(t *testing.T) {
	_, r := testutil.NewDB(t)
	ctx := context.Background()

	p := domain.OutboundPayment{ReportID: 3600, AccountAddress: "0001-00000002-BB2D", TotalAmount: 100, ExchangeRate: decimal.NewFromInt(1)}
	require.NoError(t, r.UpsertOutboundPayment(ctx, &p))
	n, err := r.MarkOutboundPaymentsSent(ctx, []int64{p.ID}, "0001:00000001:0001")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	// 已经有 tx_id 的行认领不到
	n, err = r.MarkOutboundPaymentsSent(ctx, []int64{p.ID}, "pending:x")
	require.NoError(t, err)
	assert.Zero(t, n)

	again := domain.OutboundPayment{ReportID: 3600, AccountAddress: "0001-00000002-BB2D", TotalAmount: 999, ExchangeRate: decimal.NewFromInt(2)}
	require.NoError(t, r.UpsertOutboundPayment(ctx, &again))
	assert.EqualValues(t, 100, again.TotalAmount)

	unsent, err := r.FindUnsentOutboundPayments(ctx, 3600)
	require.NoError(t, err)
	assert.Empty(t, unsent)
}
