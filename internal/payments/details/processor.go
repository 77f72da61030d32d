package details

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"adserver.com/internal/payments/boost"
	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/fee"
	"adserver.com/internal/payments/ledger"
	"adserver.com/internal/payments/turnover"
	"adserver.com/pkg/logger"
)

// Processor 把需求方明细对到本地 case/campaign 上，结算时再统一记账
type Processor struct {
	tx       domain.Transactor
	network  domain.NetworkRepo
	boost    *boost.Allocator
	ledger   *ledger.Store
	turnover *turnover.Recorder
	now      func() time.Time
}

func NewProcessor(tx domain.Transactor, network domain.NetworkRepo, b *boost.Allocator, l *ledger.Store, rec *turnover.Recorder) *Processor {
	return &Processor{tx: tx, network: network, boost: b, ledger: l, turnover: rec, now: time.Now}
}

type PageResult struct {
	Applied int
	Skipped int
	Split   fee.Split
}

// ProcessEventsPage 未匹配或已经支付过的 case 跳过计数，不让整页失败
func (p *Processor) ProcessEventsPage(ctx context.Context, payment *domain.AdsPayment, page []domain.EventDetail, coefs fee.Coefficients) (PageResult, error) {
	var res PageResult
	if len(page) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(page))
	for _, d := range page {
		ids = append(ids, d.CaseID)
	}
	cases, err := p.network.FindCasesByCaseIDs(ctx, ids)
	if err != nil {
		return res, err
	}

	payTime := p.now().UTC()
	for _, d := range page {
		c, ok := cases[d.CaseID]
		if !ok || d.EventValue < 0 {
			res.Skipped++
			continue
		}
		split, err := fee.Compute(d.EventValue, coefs.License, coefs.Operator)
		if err != nil {
			return res, err
		}
		created, err := p.network.CreateCasePayment(ctx, &domain.NetworkCasePayment{
			AdsPaymentID:  payment.ID,
			NetworkCaseID: c.ID,
			EventValue:    split.Gross,
			LicenseFee:    split.License,
			OperatorFee:   split.Operator,
			PaidAmount:    split.Publishers,
			PayTime:       payTime,
		})
		if err != nil {
			return res, err
		}
		if !created {
			res.Skipped++
			continue
		}
		res.Applied++
		res.Split = res.Split.Add(split)
	}
	return res, nil
}

// ProcessBoostPage 每个 campaign 扣费后，发布方收入按 case 数量锁进各自的 boost 账户
func (p *Processor) ProcessBoostPage(ctx context.Context, payment *domain.AdsPayment, page []domain.BoostDetail, coefs fee.Coefficients) (PageResult, error) {
	var res PageResult
	payTime := p.now().UTC()

	for _, d := range page {
		if d.Value < 0 {
			res.Skipped++
			continue
		}
		counts, err := p.network.CountCasesByPublisher(ctx, d.CampaignID)
		if err != nil {
			return res, err
		}
		if len(counts) == 0 {
			logger.Warn(ctx, "boost campaign 没有找到发布方",
				zap.Int64("ads_payment_id", payment.ID),
				zap.String("campaign_id", d.CampaignID))
			res.Skipped++
			continue
		}

		split, err := fee.Compute(d.Value, coefs.License, coefs.Operator)
		if err != nil {
			return res, err
		}
		created, err := p.network.CreateBoostPayment(ctx, &domain.NetworkBoostPayment{
			AdsPaymentID: payment.ID,
			CampaignID:   d.CampaignID,
			TotalAmount:  split.Gross,
			LicenseFee:   split.License,
			OperatorFee:  split.Operator,
			PayTime:      payTime,
		})
		if err != nil {
			return res, err
		}
		if !created {
			res.Skipped++
			continue
		}

		for _, s := range boost.Distribute(split.Publishers, counts) {
			if err := p.boost.Lock(ctx, s.PublisherID, payment.Address, s.Amount, payment.ID); err != nil {
				return res, err
			}
		}
		res.Applied++
		res.Split = res.Split.Add(split)
	}
	return res, nil
}

// Settlement 一笔付款结算后的汇总，LicenseFee + OperatorFee + PublishersIncome + BoostLocked == Gross
type Settlement struct {
	Gross            int64
	LicenseFee       int64
	OperatorFee      int64
	PublishersIncome int64
	BoostLocked      int64
	Unattributed     int64
	BoostReleased    int64
	Publishers       int
}

// Finalize 汇总已经落库的 case/boost 支付，给发布方记账并写营业额。
// 没对上的部分（未匹配事件、allocation、取整）先扣 license，剩下归运营方
func (p *Processor) Finalize(ctx context.Context, payment *domain.AdsPayment, coefs fee.Coefficients) (Settlement, error) {
	var st Settlement
	err := p.tx.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		st, err = p.finalize(txCtx, payment, coefs)
		return err
	})
	return st, err
}

func (p *Processor) finalize(ctx context.Context, payment *domain.AdsPayment, coefs fee.Coefficients) (Settlement, error) {
	st := Settlement{Gross: payment.Amount}

	payouts, err := p.network.SumCasePaymentsByPublisher(ctx, payment.ID)
	if err != nil {
		return st, err
	}
	boosts, err := p.network.SumBoostPayments(ctx, payment.ID)
	if err != nil {
		return st, err
	}

	var caseTotal int64
	for _, po := range payouts {
		st.LicenseFee += po.LicenseFee
		st.OperatorFee += po.OperatorFee
		st.PublishersIncome += po.PaidAmount
		caseTotal += po.EventValue
	}
	st.LicenseFee += boosts.LicenseFee
	st.OperatorFee += boosts.OperatorFee
	st.BoostLocked = boosts.Locked

	st.Unattributed = payment.Amount - st.LicenseFee - st.OperatorFee - st.PublishersIncome - st.BoostLocked
	if st.Unattributed < 0 {
		return st, fmt.Errorf("%w: payment %d amount %d, matched %d, boost %d",
			domain.ErrDetailsExceedAmount, payment.ID, payment.Amount, caseTotal, boosts.TotalAmount)
	}
	restLicense := fee.FloorMul(st.Unattributed, coefs.License)
	st.LicenseFee += restLicense
	st.OperatorFee += st.Unattributed - restLicense

	hour := domain.HourOf(payment.TxTime)
	for _, po := range payouts {
		if po.PaidAmount <= 0 {
			continue
		}
		st.Publishers++
		if _, err := p.ledger.Credit(ctx, po.PublisherID, po.PaidAmount, domain.LedgerTypeAdIncome,
			ledger.WithPayment(payment.ID), ledger.WithAddresses(payment.Address, "")); err != nil {
			return st, err
		}

		rel, err := p.boost.Release(ctx, po.PublisherID, payment.Address, po.PaidAmount, coefs.Operator, hour, payment.ID)
		if err != nil {
			return st, err
		}
		st.BoostReleased += rel.Consumed
		if _, err := p.ledger.Credit(ctx, po.PublisherID, rel.Publisher, domain.LedgerTypeBoostIncome,
			ledger.WithPayment(payment.ID), ledger.WithAddresses(payment.Address, "")); err != nil {
			return st, err
		}
	}

	err = p.turnover.RecordAll(ctx,
		turnover.Entry{Type: domain.TurnoverSspIncome, Amount: st.Gross, AdsAddress: payment.Address, Hour: hour, PaymentID: payment.ID},
		turnover.Entry{Type: domain.TurnoverSspLicenseFee, Amount: st.LicenseFee, AdsAddress: coefs.LicenseAddress, Hour: hour, PaymentID: payment.ID},
		turnover.Entry{Type: domain.TurnoverSspOperatorFee, Amount: st.OperatorFee, Hour: hour, PaymentID: payment.ID},
		turnover.Entry{Type: domain.TurnoverSspPublishersIncome, Amount: st.PublishersIncome, Hour: hour, PaymentID: payment.ID},
		turnover.Entry{Type: domain.TurnoverSspBoostLocked, Amount: st.BoostLocked, AdsAddress: payment.Address, Hour: hour, PaymentID: payment.ID},
	)
	return st, err
}
