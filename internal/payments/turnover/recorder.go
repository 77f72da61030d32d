package turnover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adserver.com/internal/payments/domain"
)

var ErrNegativeAmount = errors.New("turnover: negative amount outside refund")

type Recorder struct {
	repo domain.TurnoverRepo
}

func NewRecorder(repo domain.TurnoverRepo) *Recorder {
	return &Recorder{repo: repo}
}

type Entry struct {
	Type       domain.TurnoverType
	Amount     int64
	AdsAddress string // 空串表示没有地址
	Hour       time.Time
	PaymentID  int64 // 0 表示不关联入账
}

// Record 金额为 0 的不落库
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.Amount == 0 {
		return nil
	}
	if e.Amount < 0 && e.Type != domain.TurnoverRefund {
		return fmt.Errorf("%w: %s %d", ErrNegativeAmount, e.Type, e.Amount)
	}

	row := domain.TurnoverEntry{
		Amount:        e.Amount,
		Type:          e.Type,
		HourTimestamp: domain.HourOf(e.Hour),
	}
	if e.AdsAddress != "" {
		addr := e.AdsAddress
		row.AdsAddress = &addr
	}
	if e.PaymentID != 0 {
		id := e.PaymentID
		row.AdsPaymentID = &id
	}
	return r.repo.AppendTurnover(ctx, &row)
}

// RecordAll 任意一条失败就返回，调用方在事务里整体回滚
func (r *Recorder) RecordAll(ctx context.Context, entries ...Entry) error {
	for _, e := range entries {
		if err := r.Record(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Compensate 追加一条反向的 Refund，不改历史
func (r *Recorder) Compensate(ctx context.Context, orig domain.TurnoverEntry, at time.Time) error {
	e := Entry{
		Type:   domain.TurnoverRefund,
		Amount: -orig.Amount,
		Hour:   at,
	}
	if orig.AdsAddress != nil {
		e.AdsAddress = *orig.AdsAddress
	}
	if orig.AdsPaymentID != nil {
		e.PaymentID = *orig.AdsPaymentID
	}
	return r.Record(ctx, e)
}

func (r *Recorder) SumByType(ctx context.Context, paymentID int64) (map[domain.TurnoverType]int64, error) {
	return r.repo.SumTurnoverByType(ctx, paymentID)
}
