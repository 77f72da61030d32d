package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adserver.com/internal/payments/domain"
	"adserver.com/pkg/orm"
)

func (r *Repo) CreateAdsPayment(ctx context.Context, p *domain.AdsPayment) (bool, error) {
	res := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return false, dbErr(res.Error, "create ads payment")
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) FindAdsPaymentsByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]domain.AdsPayment, error) {
	var out []domain.AdsPayment
	db := r.getDb(ctx).Where("status = ?", status).
		Order("last_failed_at IS NOT NULL").
		Order("last_failed_at ASC")
	err := orm.ApplyChunk(db, limit).Find(&out).Error
	return out, dbErr(err, "find ads payments")
}

func (r *Repo) GetAdsPayment(ctx context.Context, id int64) (*domain.AdsPayment, error) {
	var p domain.AdsPayment
	if err := r.getDb(ctx).First(&p, id).Error; err != nil {
		return nil, dbErr(err, "get ads payment")
	}
	return &p, nil
}

func (r *Repo) LockAdsPayment(ctx context.Context, id int64) (*domain.AdsPayment, error) {
	var p domain.AdsPayment
	err := r.getDb(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, id).Error
	if err != nil {
		return nil, dbErr(err, "lock ads payment")
	}
	return &p, nil
}

func (r *Repo) UpdateAdsPaymentStatus(ctx context.Context, id int64, from, to domain.PaymentStatus) error {
	res := r.getDb(ctx).Model(&domain.AdsPayment{}).
		Where("id = ? AND status = ?", id, from). // 🔒 乐观锁
		Updates(map[string]interface{}{"status": to, "last_failed_at": nil})
	if res.Error != nil {
		return dbErr(res.Error, "update ads payment status")
	}
	if res.RowsAffected == 0 {
		return domain.ErrStatusChanged
	}
	return nil
}

// MarkAdsPaymentFailed 不改 updated_at
func (r *Repo) MarkAdsPaymentFailed(ctx context.Context, id int64, at time.Time) error {
	err := r.getDb(ctx).Model(&domain.AdsPayment{}).
		Where("id = ?", id).
		UpdateColumn("last_failed_at", at).Error
	return dbErr(err, "mark ads payment failed")
}

// ReserveStaleCandidates 超过安全窗口、试过但还没开始拉明细的候选付款转 RESERVED
func (r *Repo) ReserveStaleCandidates(ctx context.Context, before time.Time) (int64, error) {
	progressed := r.getDb(ctx).Model(&domain.AdsPaymentMeta{}).
		Select("ads_payment_id").
		Where("details_fetched = ? OR events_offset > 0 OR boost_offset > 0", true)

	res := r.getDb(ctx).Model(&domain.AdsPayment{}).
		Where("status = ? AND tx_time < ?", domain.PaymentStatusEventPaymentCandidate, before).
		Where("last_failed_at IS NOT NULL").
		Where("id NOT IN (?)", progressed).
		Update("status", domain.PaymentStatusReserved)
	if res.Error != nil {
		return 0, dbErr(res.Error, "reserve stale candidates")
	}
	return res.RowsAffected, nil
}

func (r *Repo) GetMeta(ctx context.Context, paymentID int64) (*domain.AdsPaymentMeta, error) {
	var m domain.AdsPaymentMeta
	err := r.getDb(ctx).Where("ads_payment_id = ?", paymentID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.AdsPaymentMeta{AdsPaymentID: paymentID}, nil
	}
	if err != nil {
		return nil, dbErr(err, "get payment meta")
	}
	return &m, nil
}

func (r *Repo) SaveMeta(ctx context.Context, meta *domain.AdsPaymentMeta) error {
	return dbErr(r.getDb(ctx).Save(meta).Error, "save payment meta")
}
