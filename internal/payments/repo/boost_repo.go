package repo

import (
	"context"

	"gorm.io/gorm/clause"

	"adserver.com/internal/payments/domain"
)

func (r *Repo) CreateBoostEntry(ctx context.Context, e *domain.PublisherBoostLedgerEntry) error {
	return dbErr(r.getDb(ctx).Create(e).Error, "create boost entry")
}

func (r *Repo) LockBoostEntries(ctx context.Context, userID int64, address string) ([]domain.PublisherBoostLedgerEntry, error) {
	var out []domain.PublisherBoostLedgerEntry
	err := r.getDb(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND ads_address = ? AND amount_left > 0", userID, address).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, dbErr(err, "lock boost entries")
}

func (r *Repo) UpdateBoostAmountLeft(ctx context.Context, id, from, to int64) error {
	res := r.getDb(ctx).Model(&domain.PublisherBoostLedgerEntry{}).
		Where("id = ? AND amount_left = ?", id, from).
		Update("amount_left", to)
	if res.Error != nil {
		return dbErr(res.Error, "update boost entry")
	}
	if res.RowsAffected == 0 {
		return domain.ErrStatusChanged
	}
	return nil
}

func (r *Repo) SumBoostLeft(ctx context.Context, userID int64, address string) (int64, error) {
	var sum int64
	err := r.getDb(ctx).Model(&domain.PublisherBoostLedgerEntry{}).
		Select("COALESCE(SUM(amount_left), 0)").
		Where("user_id = ? AND ads_address = ?", userID, address).
		Scan(&sum).Error
	return sum, dbErr(err, "sum boost left")
}
