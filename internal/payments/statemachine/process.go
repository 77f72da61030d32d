package statemachine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"adserver.com/internal/payments/details"
	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/fee"
	"adserver.com/pkg/logger"
	"adserver.com/pkg/metrics"
	"adserver.com/pkg/trace"
	"adserver.com/pkg/xerr"
)

// ProcessCandidates 对账一批候选付款，返回本次转成 EVENT_PAYMENT 的数量。
// chunk <= 0 时用配置的批次大小。每次调用都发一条 PaymentsProcessed 事件，数量为 0 也发
func (m *Machine) ProcessCandidates(ctx context.Context, chunk int) (int, error) {
	ctx, span := trace.Start(ctx, "payments.process_candidates")
	defer span.End()

	if chunk <= 0 {
		chunk = m.cfg.ChunkSize
	}
	payments, err := m.Repo.FindAdsPaymentsByStatus(ctx, domain.PaymentStatusEventPaymentCandidate, chunk)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range payments {
		p := &payments[i]
		done, err := m.processOne(ctx, p)
		if err != nil {
			logFailure(ctx, "process ads payment failed", p, err)
			m.markFailed(ctx, p)
			continue
		}
		if done {
			processed++
		}
	}

	span.SetAttributes(attribute.Int("payments.processed", processed))
	logger.Info(ctx, "ads payments processed", zap.Int("count", processed), zap.Int("candidates", len(payments)))
	if m.Notifier != nil {
		m.Notifier.PaymentsProcessed(ctx, processed)
	}
	return processed, nil
}

func (m *Machine) processOne(ctx context.Context, p *domain.AdsPayment) (bool, error) {
	ctx, span := trace.Start(ctx, "payments.process_one")
	defer span.End()
	span.SetAttributes(attribute.Int64("ads_payment.id", p.ID))

	host, err := m.Repo.FindHostByAddress(ctx, p.Address)
	if errors.Is(err, domain.ErrNotFound) {
		return false, xerr.Wrap(err, xerr.DataInconsistency, "network host "+p.Address)
	}
	if err != nil {
		return false, err
	}

	meta, err := m.Repo.GetMeta(ctx, p.ID)
	if err != nil {
		return false, err
	}
	if !meta.DetailsFetched {
		if meta, err = m.fetchMeta(ctx, p, host); err != nil {
			return false, err
		}
	}
	coefs := coefficients(meta)

	for !meta.EventsDone {
		page, err := m.Demand.FetchPaymentDetails(ctx, host.Host, p.TxID, m.cfg.PageLimit, meta.EventsOffset)
		if err != nil {
			return false, err
		}
		meta, err = m.applyPage(ctx, p, meta.EventsOffset, len(page), func(txCtx context.Context, cur *domain.AdsPaymentMeta) error {
			res, err := m.Details.ProcessEventsPage(txCtx, p, page, coefs)
			if err != nil {
				return err
			}
			cur.EventsOffset += len(page)
			cur.SkippedEvents += res.Skipped
			cur.EventsDone = len(page) < m.cfg.PageLimit
			m.countSkipped(txCtx, "events", res.Skipped)
			return nil
		}, func(cur *domain.AdsPaymentMeta) int { return cur.EventsOffset })
		if err != nil {
			return false, err
		}
	}

	for !meta.BoostDone {
		page, err := m.Demand.FetchBoostDetails(ctx, host.Host, p.TxID, m.cfg.PageLimit, meta.BoostOffset)
		if err != nil {
			return false, err
		}
		meta, err = m.applyPage(ctx, p, meta.BoostOffset, len(page), func(txCtx context.Context, cur *domain.AdsPaymentMeta) error {
			res, err := m.Details.ProcessBoostPage(txCtx, p, page, coefs)
			if err != nil {
				return err
			}
			cur.BoostOffset += len(page)
			cur.SkippedBoost += res.Skipped
			cur.BoostDone = len(page) < m.cfg.PageLimit
			m.countSkipped(txCtx, "boost", res.Skipped)
			return nil
		}, func(cur *domain.AdsPaymentMeta) int { return cur.BoostOffset })
		if err != nil {
			return false, err
		}
	}

	if err := m.finalize(ctx, p, coefs); err != nil {
		return false, err
	}
	return true, nil
}

// fetchMeta 第一次拉取时把费率固定进 meta
func (m *Machine) fetchMeta(ctx context.Context, p *domain.AdsPayment, host *domain.NetworkHost) (*domain.AdsPaymentMeta, error) {
	dm, err := m.Demand.FetchPaymentDetailsMeta(ctx, host.Host, p.TxID)
	if err != nil {
		return nil, err
	}

	if dm.Total() > p.Amount {
		logger.Warn(ctx, "payment details exceed amount, reserving",
			zap.Int64("ads_payment_id", p.ID), zap.Int64("amount", p.Amount), zap.Int64("details_total", dm.Total()))
		if err := m.transition(ctx, p.ID, domain.PaymentStatusEventPaymentCandidate, domain.PaymentStatusReserved); err != nil {
			return nil, err
		}
		return nil, xerr.Wrap(domain.ErrDetailsExceedAmount, xerr.DataInconsistency, "payment details meta")
	}

	coefs := fee.Resolve(ctx, m.License, m.cfg.OperatorCoef)

	var meta *domain.AdsPaymentMeta
	err = m.Repo.Transaction(ctx, func(txCtx context.Context) error {
		if err := m.lockCandidate(txCtx, p.ID); err != nil {
			return err
		}
		cur, err := m.Repo.GetMeta(txCtx, p.ID)
		if err != nil {
			return err
		}
		if !cur.DetailsFetched {
			cur.DetailsFetched = true
			cur.EventsCount = dm.Events.Count
			cur.EventsSum = dm.Events.Sum
			cur.BoostSum = dm.Boost
			cur.AllocationSum = dm.Allocation
			cur.LicenseCoef = coefs.License
			cur.OperatorCoef = coefs.Operator
			if coefs.LicenseAddress != "" {
				addr := coefs.LicenseAddress
				cur.LicenseAddress = &addr
			}
			// 远端说没有明细就不用再翻页
			cur.EventsDone = dm.Events.Count == 0 && dm.Events.Sum == 0
			cur.BoostDone = dm.Boost == 0
			if err := m.Repo.SaveMeta(txCtx, cur); err != nil {
				return err
			}
		}
		meta = cur
		return nil
	})
	return meta, err
}

// applyPage 一页一个事务：锁付款行，确认游标没被别人推进，再落库并推进游标
func (m *Machine) applyPage(
	ctx context.Context,
	p *domain.AdsPayment,
	offset, size int,
	apply func(txCtx context.Context, cur *domain.AdsPaymentMeta) error,
	cursor func(cur *domain.AdsPaymentMeta) int,
) (*domain.AdsPaymentMeta, error) {
	var meta *domain.AdsPaymentMeta
	err := m.Repo.Transaction(ctx, func(txCtx context.Context) error {
		if err := m.lockCandidate(txCtx, p.ID); err != nil {
			return err
		}
		cur, err := m.Repo.GetMeta(txCtx, p.ID)
		if err != nil {
			return err
		}
		if got := cursor(cur); got != offset {
			return fmt.Errorf("%w: cursor moved from %d to %d", domain.ErrStatusChanged, offset, got)
		}
		if err := apply(txCtx, cur); err != nil {
			return err
		}
		if err := m.Repo.SaveMeta(txCtx, cur); err != nil {
			return err
		}
		meta = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "payment details page applied",
		zap.Int64("ads_payment_id", p.ID), zap.Int("offset", offset), zap.Int("size", size))
	return meta, nil
}

func (m *Machine) finalize(ctx context.Context, p *domain.AdsPayment, coefs fee.Coefficients) error {
	var st details.Settlement
	err := m.Repo.Transaction(ctx, func(txCtx context.Context) error {
		if err := m.lockCandidate(txCtx, p.ID); err != nil {
			return err
		}
		var err error
		if st, err = m.Details.Finalize(txCtx, p, coefs); err != nil {
			return err
		}
		return m.transition(txCtx, p.ID, domain.PaymentStatusEventPaymentCandidate, domain.PaymentStatusEventPayment)
	})

	if errors.Is(err, domain.ErrDetailsExceedAmount) {
		if rerr := m.transition(ctx, p.ID, domain.PaymentStatusEventPaymentCandidate, domain.PaymentStatusReserved); rerr != nil {
			return rerr
		}
		return xerr.Wrap(err, xerr.DataInconsistency, "finalize payment")
	}
	if err != nil {
		return err
	}

	logger.Info(ctx, "ads payment settled",
		zap.Int64("ads_payment_id", p.ID),
		zap.Int64("gross", st.Gross),
		zap.Int64("license_fee", st.LicenseFee),
		zap.Int64("operator_fee", st.OperatorFee),
		zap.Int64("publishers_income", st.PublishersIncome),
		zap.Int64("boost_locked", st.BoostLocked),
		zap.Int("publishers", st.Publishers))
	return nil
}

func (m *Machine) lockCandidate(ctx context.Context, id int64) error {
	locked, err := m.Repo.LockAdsPayment(ctx, id)
	if err != nil {
		return err
	}
	if locked.Status != domain.PaymentStatusEventPaymentCandidate {
		return fmt.Errorf("%w: payment %d is %s", domain.ErrStatusChanged, id, locked.Status)
	}
	return nil
}

func coefficients(meta *domain.AdsPaymentMeta) fee.Coefficients {
	c := fee.Coefficients{License: meta.LicenseCoef, Operator: meta.OperatorCoef}
	if meta.LicenseAddress != nil {
		c.LicenseAddress = *meta.LicenseAddress
	}
	return c
}

func (m *Machine) countSkipped(ctx context.Context, kind string, n int) {
	if n == 0 {
		return
	}
	m.Repo.AfterCommit(ctx, func() {
		metrics.DetailsSkippedTotal.WithLabelValues(kind).Add(float64(n))
	})
}
