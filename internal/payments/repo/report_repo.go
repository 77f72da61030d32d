package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adserver.com/internal/payments/domain"
)

func (r *Repo) CreateReport(ctx context.Context, id int64) (bool, error) {
	rep := domain.PaymentReport{ID: id, Status: domain.ReportStatusNew}
	res := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rep)
	if res.Error != nil {
		return false, dbErr(res.Error, "create payment report")
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) FindReports(ctx context.Context, ids []int64) ([]domain.PaymentReport, error) {
	var out []domain.PaymentReport
	if len(ids) == 0 {
		return out, nil
	}
	err := r.getDb(ctx).Where("id IN ?", ids).Order("id ASC").Find(&out).Error
	return out, dbErr(err, "find payment reports")
}

// FindUnfinishedReports id 就是整点的 unix 秒，since 之前的不取
func (r *Repo) FindUnfinishedReports(ctx context.Context, since int64, limit int) ([]domain.PaymentReport, error) {
	var out []domain.PaymentReport
	q := r.getDb(ctx).
		Where("status <> ? AND id >= ?", domain.ReportStatusDone, since).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, dbErr(q.Find(&out).Error, "find unfinished reports")
}

func (r *Repo) UpdateReportStatus(ctx context.Context, id int64, status domain.ReportStatus) error {
	res := r.getDb(ctx).Model(&domain.PaymentReport{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return dbErr(res.Error, "update report status")
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) FindOutboundItems(ctx context.Context, reportID int64) ([]domain.OutboundPaymentItem, error) {
	var out []domain.OutboundPaymentItem
	err := r.getDb(ctx).Where("report_id = ?", reportID).Order("id ASC").Find(&out).Error
	return out, dbErr(err, "find outbound items")
}

func (r *Repo) UpsertOutboundPayment(ctx context.Context, p *domain.OutboundPayment) error {
	db := r.getDb(ctx)
	var cur domain.OutboundPayment
	err := db.Where("report_id = ? AND account_address = ?", p.ReportID, p.AccountAddress).First(&cur).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return dbErr(db.Create(p).Error, "create outbound payment")
	case err != nil:
		return dbErr(err, "find outbound payment")
	case cur.TxID != nil:
		// 已经发出去的不能改
		*p = cur
		return nil
	}
	p.ID = cur.ID
	err = db.Model(&cur).Updates(map[string]interface{}{
		"total_amount":  p.TotalAmount,
		"exchange_rate": p.ExchangeRate,
	}).Error
	return dbErr(err, "update outbound payment")
}

func (r *Repo) FindUnsentOutboundPayments(ctx context.Context, reportID int64) ([]domain.OutboundPayment, error) {
	var out []domain.OutboundPayment
	err := r.getDb(ctx).
		Where("report_id = ? AND tx_id IS NULL AND total_amount > 0", reportID).
		Order("id ASC").
		Find(&out).Error
	return out, dbErr(err, "find unsent outbound payments")
}

// MarkOutboundPaymentsSent 返回实际认领到的行数，已有 tx_id 的行不动
func (r *Repo) MarkOutboundPaymentsSent(ctx context.Context, ids []int64, txID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.getDb(ctx).Model(&domain.OutboundPayment{}).
		Where("id IN ? AND tx_id IS NULL", ids).
		Update("tx_id", txID)
	if res.Error != nil {
		return 0, dbErr(res.Error, "mark outbound payments sent")
	}
	return res.RowsAffected, nil
}

func (r *Repo) ReplaceOutboundTxID(ctx context.Context, ids []int64, from string, to *string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.getDb(ctx).Model(&domain.OutboundPayment{}).
		Where("id IN ? AND tx_id = ?", ids, from).
		Update("tx_id", to).Error
	return dbErr(err, "replace outbound tx id")
}
