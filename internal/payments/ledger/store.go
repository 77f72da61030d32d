package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"adserver.com/internal/payments/domain"
	"adserver.com/pkg/logger"
)

// Store 用户余额只通过追加流水改变，同一用户的变更靠 ledger_accounts 行锁串行
type Store struct {
	tx    domain.Transactor
	repo  domain.LedgerRepo
	cache Cache
	ttl   time.Duration
	sf    singleflight.Group
}

// NewStore cache 可以为 nil
func NewStore(tx domain.Transactor, repo domain.LedgerRepo, cache Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Store{tx: tx, repo: repo, cache: cache, ttl: ttl}
}

type Option func(e *domain.UserLedgerEntry)

func WithStatus(s domain.LedgerStatus) Option {
	return func(e *domain.UserLedgerEntry) { e.Status = s }
}

func WithAddresses(from, to string) Option {
	return func(e *domain.UserLedgerEntry) {
		if from != "" {
			e.AddressFrom = &from
		}
		if to != "" {
			e.AddressTo = &to
		}
	}
}

func WithTxID(txID string) Option {
	return func(e *domain.UserLedgerEntry) { e.TxID = &txID }
}

func WithPayment(paymentID int64) Option {
	return func(e *domain.UserLedgerEntry) { e.RefAdsPaymentID = &paymentID }
}

// Credit amount 为 0 时不记流水，返回 nil
func (s *Store) Credit(ctx context.Context, userID, amount int64, typ domain.LedgerType, opts ...Option) (*domain.UserLedgerEntry, error) {
	if amount < 0 || typ.IsDebit() {
		return nil, fmt.Errorf("ledger: invalid credit %s %d", typ, amount)
	}
	if amount == 0 {
		return nil, nil
	}
	return s.append(ctx, userID, amount, typ, opts, nil)
}

// Debit 余额不足返回 domain.ErrInsufficientBalance
func (s *Store) Debit(ctx context.Context, userID, amount int64, typ domain.LedgerType, opts ...Option) (*domain.UserLedgerEntry, error) {
	if amount < 0 || !typ.IsDebit() {
		return nil, fmt.Errorf("ledger: invalid debit %s %d", typ, amount)
	}
	if amount == 0 {
		return nil, nil
	}
	check := func(txCtx context.Context) error {
		sums, err := s.repo.SumLedger(txCtx, userID)
		if err != nil {
			return err
		}
		if avail := Summarize(sums).available(typ); avail < amount {
			return fmt.Errorf("%w: user %d has %d, need %d", domain.ErrInsufficientBalance, userID, avail, amount)
		}
		return nil
	}
	return s.append(ctx, userID, -amount, typ, opts, check)
}

func (s *Store) append(ctx context.Context, userID, amount int64, typ domain.LedgerType, opts []Option, check func(context.Context) error) (*domain.UserLedgerEntry, error) {
	e := &domain.UserLedgerEntry{
		UserID: userID,
		Amount: amount,
		Type:   typ,
		Status: domain.LedgerStatusAccepted,
	}
	for _, o := range opts {
		o(e)
	}

	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.LockLedgerAccount(txCtx, userID); err != nil {
			return err
		}
		if check != nil {
			if err := check(txCtx); err != nil {
				return err
			}
		}
		if err := s.repo.AppendLedgerEntry(txCtx, e); err != nil {
			return err
		}
		s.tx.AfterCommit(txCtx, func() { s.invalidate(ctx, userID) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, userID); err != nil {
		logger.Warn(ctx, "余额缓存失效失败", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Balances 先读缓存，未命中时同一用户的并发请求只查一次库
func (s *Store) Balances(ctx context.Context, userID int64) (Balances, error) {
	if s.cache != nil {
		b, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			logger.Warn(ctx, "读余额缓存失败", zap.Int64("user_id", userID), zap.Error(err))
		}
		if ok {
			return b, nil
		}
	}

	v, err, _ := s.sf.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		sums, err := s.repo.SumLedger(ctx, userID)
		if err != nil {
			return Balances{}, err
		}
		b := Summarize(sums)
		if s.cache != nil {
			if err := s.cache.Set(ctx, userID, b, s.ttl); err != nil {
				logger.Warn(ctx, "写余额缓存失败", zap.Int64("user_id", userID), zap.Error(err))
			}
		}
		return b, nil
	})
	if err != nil {
		return Balances{}, err
	}
	return v.(Balances), nil
}

func (s *Store) Balance(ctx context.Context, userID int64) (int64, error) {
	b, err := s.Balances(ctx, userID)
	return b.Total, err
}

func (s *Store) WalletBalance(ctx context.Context, userID int64) (int64, error) {
	b, err := s.Balances(ctx, userID)
	return b.Wallet, err
}

func (s *Store) BonusBalance(ctx context.Context, userID int64) (int64, error) {
	b, err := s.Balances(ctx, userID)
	return b.Bonus, err
}

func (s *Store) WithdrawableBalance(ctx context.Context, userID int64) (int64, error) {
	b, err := s.Balances(ctx, userID)
	return b.Withdrawable, err
}
