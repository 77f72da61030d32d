package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/ledger"
	"adserver.com/internal/payments/testutil"
)

func TestStore_CreditAndDebit(t *testing.T) {
	db, r := testutil.NewDB(t)
	s := ledger.NewStore(r, r, nil, time.Minute)
	ctx := context.Background()
	const userID = 1

	e, err := s.Credit(ctx, userID, 100*testutil.Clicks, domain.LedgerTypeDeposit,
		ledger.WithTxID("0001:00000001:0001"), ledger.WithAddresses("0001-00000009-AAAA", ""))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, domain.LedgerStatusAccepted, e.Status)
	require.NotNil(t, e.TxID)

	bal, err := s.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 100*testutil.Clicks, bal)

	_, err = s.Debit(ctx, userID, 101*testutil.Clicks, domain.LedgerTypeAdExpense)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = s.Debit(ctx, userID, 40*testutil.Clicks, domain.LedgerTypeAdExpense)
	require.NoError(t, err)

	_, err = s.Debit(ctx, userID, 10*testutil.Clicks, domain.LedgerTypeWithdrawal, ledger.WithStatus(domain.LedgerStatusPending))
	require.NoError(t, err)

	b, err := s.Balances(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Balances{Total: 50 * testutil.Clicks, Wallet: 50 * testutil.Clicks, Withdrawable: 50 * testutil.Clicks}, b)

	n, err := r.CountLedgerEntries(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.EqualValues(t, 1, testutil.CountRows(t, db, &domain.LedgerAccount{}))
}

func TestStore_RejectsBadEntries(t *testing.T) {
	_, r := testutil.NewDB(t)
	s := ledger.NewStore(r, r, nil, time.Minute)
	ctx := context.Background()

	e, err := s.Credit(ctx, 1, 0, domain.LedgerTypeAdIncome)
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = s.Credit(ctx, 1, 10, domain.LedgerTypeWithdrawal)
	assert.Error(t, err)
	_, err = s.Credit(ctx, 1, -10, domain.LedgerTypeDeposit)
	assert.Error(t, err)
	_, err = s.Debit(ctx, 1, 10, domain.LedgerTypeDeposit)
	assert.Error(t, err)

	n, err := r.CountLedgerEntries(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_WithdrawalChecksWithdrawable(t *testing.T) {
	_, r := testutil.NewDB(t)
	s := ledger.NewStore(r, r, nil, time.Minute)
	ctx := context.Background()

	_, err := s.Credit(ctx, 2, 100, domain.LedgerTypeNonWithdrawableDeposit)
	require.NoError(t, err)
	_, err = s.Credit(ctx, 2, 30, domain.LedgerTypeAdIncome)
	require.NoError(t, err)

	_, err = s.Debit(ctx, 2, 31, domain.LedgerTypeWithdrawal)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	_, err = s.Debit(ctx, 2, 30, domain.LedgerTypeWithdrawal)
	require.NoError(t, err)

	// 不可提现的部分还能用来投广告
	_, err = s.Debit(ctx, 2, 100, domain.LedgerTypeAdExpense)
	require.NoError(t, err)

	w, err := s.WalletBalance(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, w)
}

func TestStore_EntryRolledBackWithOuterTransaction(t *testing.T) {
	_, r := testutil.NewDB(t)
	s := ledger.NewStore(r, r, nil, time.Minute)
	ctx := context.Background()

	err := r.Transaction(ctx, func(txCtx context.Context) error {
		_, err := s.Credit(txCtx, 3, 500, domain.LedgerTypeAdIncome)
		require.NoError(t, err)
		return domain.ErrStatusChanged
	})
	assert.ErrorIs(t, err, domain.ErrStatusChanged)

	bal, err := s.Balance(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestStore_BalanceCache(t *testing.T) {
	_, r := testutil.NewDB(t)
	rdb, mock := redismock.NewClientMock()
	s := ledger.NewStore(r, r, ledger.NewRedisCache(rdb, 0), time.Minute)
	ctx := context.Background()
	const key = "ledger:bal:7"

	// credit 提交后删缓存
	mock.ExpectDel(key).SetVal(0)
	_, err := s.Credit(ctx, 7, 250, domain.LedgerTypeDeposit)
	require.NoError(t, err)

	want := ledger.Balances{Total: 250, Wallet: 250, Withdrawable: 250}
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	// 未命中：查库并回填
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, raw, time.Minute).SetVal("OK")
	b, err := s.Balances(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, want, b)

	// 命中：直接返回缓存值
	cached := ledger.Balances{Total: 1, Wallet: 1}
	rawCached, err := json.Marshal(cached)
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal(string(rawCached))
	b, err = s.Balances(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, cached, b)

	require.NoError(t, mock.ExpectationsWereMet())
}
