package boost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/fee"
	"adserver.com/internal/payments/turnover"
	"adserver.com/pkg/logger"
)

var ErrInvalidAmount = errors.New("boost: amount must not be negative")

// Allocator 管理发布方锁定的 boost，按创建顺序先进先出消耗
type Allocator struct {
	tx       domain.Transactor
	repo     domain.BoostRepo
	turnover *turnover.Recorder
}

func NewAllocator(tx domain.Transactor, repo domain.BoostRepo, rec *turnover.Recorder) *Allocator {
	return &Allocator{tx: tx, repo: repo, turnover: rec}
}

// Lock 新增一条锁定记录，amount_left 从 amount 开始
func (a *Allocator) Lock(ctx context.Context, userID int64, adsAddress string, amount, paymentID int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	return a.repo.CreateBoostEntry(ctx, &domain.PublisherBoostLedgerEntry{
		UserID:       userID,
		AdsAddress:   adsAddress,
		Amount:       amount,
		AmountLeft:   amount,
		AdsPaymentID: paymentID,
	})
}

// Consume 最多消耗 amount，余额不够时返回实际消耗量，不会透支
func (a *Allocator) Consume(ctx context.Context, userID int64, adsAddress string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	if amount == 0 {
		return 0, nil
	}

	var consumed int64
	err := a.tx.Transaction(ctx, func(txCtx context.Context) error {
		consumed = 0
		entries, err := a.repo.LockBoostEntries(txCtx, userID, adsAddress)
		if err != nil {
			return err
		}
		for _, e := range entries {
			need := amount - consumed
			if need == 0 {
				break
			}
			take := min(e.AmountLeft, need)
			if err := a.repo.UpdateBoostAmountLeft(txCtx, e.ID, e.AmountLeft, e.AmountLeft-take); err != nil {
				return fmt.Errorf("consume boost entry %d: %w", e.ID, err)
			}
			consumed += take
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return consumed, nil
}

func (a *Allocator) Balance(ctx context.Context, userID int64, adsAddress string) (int64, error) {
	return a.repo.SumBoostLeft(ctx, userID, adsAddress)
}

// Release 一次消耗的拆分
type Release struct {
	Consumed  int64
	Operator  int64
	Publisher int64
}

// Release 消耗 boost 并记营业额：运营方留 floor(consumed * operatorCoef)，其余给发布方
func (a *Allocator) Release(ctx context.Context, userID int64, adsAddress string, amount int64, operatorCoef decimal.Decimal, hour time.Time, paymentID int64) (Release, error) {
	var rel Release
	err := a.tx.Transaction(ctx, func(txCtx context.Context) error {
		consumed, err := a.Consume(txCtx, userID, adsAddress, amount)
		if err != nil {
			return err
		}
		operator := fee.FloorMul(consumed, operatorCoef)
		rel = Release{Consumed: consumed, Operator: operator, Publisher: consumed - operator}

		return a.turnover.RecordAll(txCtx,
			turnover.Entry{Type: domain.TurnoverSspBoostOperatorIncome, Amount: rel.Operator, AdsAddress: adsAddress, Hour: hour, PaymentID: paymentID},
			turnover.Entry{Type: domain.TurnoverSspBoostPublishersIncome, Amount: rel.Publisher, AdsAddress: adsAddress, Hour: hour, PaymentID: paymentID},
		)
	})
	if err != nil {
		return Release{}, err
	}
	if rel.Consumed > 0 {
		logger.Debug(ctx, "boost released",
			zap.Int64("user_id", userID),
			zap.String("ads_address", adsAddress),
			zap.Int64("consumed", rel.Consumed),
			zap.Int64("operator", rel.Operator))
	}
	return rel, nil
}
