package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adserver.com/internal/payments/domain"
)

// LockLedgerAccount 账户行不存在先插入，再 FOR UPDATE 锁住，同一用户的余额变更串行
func (r *Repo) LockLedgerAccount(ctx context.Context, userID int64) error {
	db := r.getDb(ctx)
	acc := domain.LedgerAccount{UserID: userID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&acc).Error; err != nil {
		return dbErr(err, "create ledger account")
	}
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&acc).Error; err != nil {
		return dbErr(err, "lock ledger account")
	}
	err := db.Model(&domain.LedgerAccount{}).
		Where("user_id = ?", userID).
		Update("version", gorm.Expr("version + 1")).Error
	return dbErr(err, "bump ledger account")
}

func (r *Repo) AppendLedgerEntry(ctx context.Context, e *domain.UserLedgerEntry) error {
	return dbErr(r.getDb(ctx).Create(e).Error, "append ledger entry")
}

func (r *Repo) SumLedger(ctx context.Context, userID int64) ([]domain.LedgerSum, error) {
	var out []domain.LedgerSum
	err := r.getDb(ctx).Model(&domain.UserLedgerEntry{}).
		Select("type, status, " +
			"COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS credits, " +
			"COALESCE(SUM(CASE WHEN amount < 0 THEN amount ELSE 0 END), 0) AS debits").
		Where("user_id = ?", userID).
		Group("type, status").
		Scan(&out).Error
	return out, dbErr(err, "sum ledger")
}

func (r *Repo) CountLedgerEntries(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.getDb(ctx).Model(&domain.UserLedgerEntry{}).Where("user_id = ?", userID).Count(&n).Error
	return n, dbErr(err, "count ledger entries")
}
