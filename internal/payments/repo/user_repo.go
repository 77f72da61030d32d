package repo

import (
	"context"

	"gorm.io/gorm/clause"

	"adserver.com/internal/payments/domain"
)

func (r *Repo) FindUserByDepositAddress(ctx context.Context, address string) (*domain.User, error) {
	var u domain.User
	if err := r.getDb(ctx).Where("deposit_address = ?", address).First(&u).Error; err != nil {
		return nil, dbErr(err, "find user by deposit address")
	}
	return &u, nil
}

// GetCursor 第一次运行时返回空串
func (r *Repo) GetCursor(ctx context.Context, name string) (string, error) {
	var c domain.ScanCursor
	err := r.getDb(ctx).Where("name = ?", name).Limit(1).Find(&c).Error
	if err != nil {
		return "", dbErr(err, "get cursor")
	}
	return c.Value, nil
}

// SaveCursor Upsert：不存在则插入，存在则更新
func (r *Repo) SaveCursor(ctx context.Context, name, value string) error {
	c := domain.ScanCursor{Name: name, Value: value}
	err := r.getDb(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&c).Error
	return dbErr(err, "save cursor")
}
