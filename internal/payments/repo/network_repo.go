package repo

import (
	"context"

	"gorm.io/gorm/clause"

	"adserver.com/internal/payments/domain"
)

func (r *Repo) FindHostByAddress(ctx context.Context, address string) (*domain.NetworkHost, error) {
	var h domain.NetworkHost
	if err := r.getDb(ctx).Where("address = ?", address).First(&h).Error; err != nil {
		return nil, dbErr(err, "find network host")
	}
	return &h, nil
}

func (r *Repo) FindCasesByCaseIDs(ctx context.Context, caseIDs []string) (map[string]domain.NetworkCase, error) {
	out := make(map[string]domain.NetworkCase, len(caseIDs))
	if len(caseIDs) == 0 {
		return out, nil
	}
	var cases []domain.NetworkCase
	if err := r.getDb(ctx).Where("case_id IN ?", caseIDs).Find(&cases).Error; err != nil {
		return nil, dbErr(err, "find network cases")
	}
	for _, c := range cases {
		out[c.CaseID] = c
	}
	return out, nil
}

func (r *Repo) CountCasesByPublisher(ctx context.Context, campaignID string) ([]domain.PublisherCaseCount, error) {
	var out []domain.PublisherCaseCount
	err := r.getDb(ctx).Model(&domain.NetworkCase{}).
		Select("publisher_id, COUNT(*) AS cases").
		Where("campaign_id = ?", campaignID).
		Group("publisher_id").
		Order("publisher_id").
		Scan(&out).Error
	return out, dbErr(err, "count cases by publisher")
}

func (r *Repo) CreateCasePayment(ctx context.Context, p *domain.NetworkCasePayment) (bool, error) {
	res := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return false, dbErr(res.Error, "create case payment")
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) CreateBoostPayment(ctx context.Context, p *domain.NetworkBoostPayment) (bool, error) {
	res := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return false, dbErr(res.Error, "create boost payment")
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) SumCasePaymentsByPublisher(ctx context.Context, paymentID int64) ([]domain.PublisherPayout, error) {
	var out []domain.PublisherPayout
	err := r.getDb(ctx).Table("network_case_payments AS p").
		Select("c.publisher_id AS publisher_id, " +
			"SUM(p.event_value) AS event_value, " +
			"SUM(p.license_fee) AS license_fee, " +
			"SUM(p.operator_fee) AS operator_fee, " +
			"SUM(p.paid_amount) AS paid_amount").
		Joins("JOIN network_cases c ON c.id = p.network_case_id").
		Where("p.ads_payment_id = ?", paymentID).
		Group("c.publisher_id").
		Order("c.publisher_id").
		Scan(&out).Error
	return out, dbErr(err, "sum case payments")
}

func (r *Repo) SumBoostPayments(ctx context.Context, paymentID int64) (domain.BoostTotals, error) {
	var t domain.BoostTotals
	err := r.getDb(ctx).Model(&domain.NetworkBoostPayment{}).
		Select("COALESCE(SUM(total_amount), 0) AS total_amount, " +
			"COALESCE(SUM(license_fee), 0) AS license_fee, " +
			"COALESCE(SUM(operator_fee), 0) AS operator_fee").
		Where("ads_payment_id = ?", paymentID).
		Scan(&t).Error
	if err != nil {
		return t, dbErr(err, "sum boost payments")
	}

	err = r.getDb(ctx).Model(&domain.PublisherBoostLedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("ads_payment_id = ?", paymentID).
		Scan(&t.Locked).Error
	return t, dbErr(err, "sum locked boost")
}
