package repo

import (
	"context"

	"adserver.com/internal/payments/domain"
)

func (r *Repo) AppendTurnover(ctx context.Context, e *domain.TurnoverEntry) error {
	return dbErr(r.getDb(ctx).Create(e).Error, "append turnover entry")
}

func (r *Repo) SumTurnoverByType(ctx context.Context, paymentID int64) (map[domain.TurnoverType]int64, error) {
	type row struct {
		Type   domain.TurnoverType
		Amount int64
	}
	var rows []row
	err := r.getDb(ctx).Model(&domain.TurnoverEntry{}).
		Select("type, SUM(amount) AS amount").
		Where("ads_payment_id = ?", paymentID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, dbErr(err, "sum turnover")
	}
	out := make(map[domain.TurnoverType]int64, len(rows))
	for _, rw := range rows {
		out[rw.Type] = rw.Amount
	}
	return out, nil
}
