package statemachine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"adserver.com/internal/payments/blockchain"
	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/ledger"
	"adserver.com/internal/payments/turnover"
	"adserver.com/pkg/logger"
	"adserver.com/pkg/metrics"
	"adserver.com/pkg/trace"
	"adserver.com/pkg/xerr"
)

type ClassifyResult struct {
	Deposits   int
	Candidates int
	Invalid    int
	Failed     int
}

// Classify 处理一批 NEW 付款。单笔失败只记日志，留在 NEW 等下次
func (m *Machine) Classify(ctx context.Context, chunk int) (ClassifyResult, error) {
	ctx, span := trace.Start(ctx, "payments.classify")
	defer span.End()

	var res ClassifyResult
	payments, err := m.Repo.FindAdsPaymentsByStatus(ctx, domain.PaymentStatusNew, chunk)
	if err != nil {
		return res, err
	}

	for i := range payments {
		p := &payments[i]
		to, err := m.classifyOne(ctx, p)
		if err != nil {
			res.Failed++
			logFailure(ctx, "classify ads payment failed", p, err)
			m.markFailed(ctx, p)
			continue
		}
		switch to {
		case domain.PaymentStatusUserDeposit:
			res.Deposits++
		case domain.PaymentStatusInvalid:
			res.Invalid++
		case domain.PaymentStatusEventPaymentCandidate:
			res.Candidates++
		}
	}
	return res, nil
}

func (m *Machine) classifyOne(ctx context.Context, p *domain.AdsPayment) (domain.PaymentStatus, error) {
	tx, err := m.Chain.GetTransaction(ctx, p.TxID)
	if err != nil {
		return p.Status, err
	}

	if tx.Type != blockchain.TxTypeSendOne && tx.Type != blockchain.TxTypeSendMany {
		logger.Info(ctx, "unsupported transaction type",
			zap.Int64("ads_payment_id", p.ID), zap.String("tx_type", tx.Type))
		return domain.PaymentStatusInvalid, m.transition(ctx, p.ID, domain.PaymentStatusNew, domain.PaymentStatusInvalid)
	}

	user, err := m.Repo.FindUserByDepositAddress(ctx, p.Address)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.PaymentStatusEventPaymentCandidate,
			m.transition(ctx, p.ID, domain.PaymentStatusNew, domain.PaymentStatusEventPaymentCandidate)
	case err != nil:
		return p.Status, err
	}

	return domain.PaymentStatusUserDeposit, m.Repo.Transaction(ctx, func(txCtx context.Context) error {
		if err := m.transition(txCtx, p.ID, domain.PaymentStatusNew, domain.PaymentStatusUserDeposit); err != nil {
			return err
		}
		if _, err := m.Ledger.Credit(txCtx, user.ID, p.Amount, domain.LedgerTypeDeposit,
			ledger.WithTxID(p.TxID), ledger.WithAddresses(p.Address, tx.TargetAddress), ledger.WithPayment(p.ID)); err != nil {
			return err
		}
		return m.Turnover.Record(txCtx, turnover.Entry{
			Type:       domain.TurnoverDepositIncome,
			Amount:     p.Amount,
			AdsAddress: p.Address,
			Hour:       domain.HourOf(p.TxTime),
			PaymentID:  p.ID,
		})
	})
}

// ReserveStale 超过窗口、试过但还没开始对账的候选付款留给人工处理
func (m *Machine) ReserveStale(ctx context.Context) (int64, error) {
	n, err := m.Repo.ReserveStaleCandidates(ctx, m.now().UTC().Add(-m.cfg.ReserveWindow))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Warn(ctx, "stale candidates reserved", zap.Int64("count", n))
		metrics.PaymentsTransitionTotal.WithLabelValues(domain.PaymentStatusReserved.String()).Add(float64(n))
	}
	return n, nil
}

// markFailed 失败的付款挪到批次末尾，后面的付款下次能轮到
func (m *Machine) markFailed(ctx context.Context, p *domain.AdsPayment) {
	if err := m.Repo.MarkAdsPaymentFailed(ctx, p.ID, m.now().UTC()); err != nil {
		logger.Error(ctx, "mark ads payment failed", zap.Int64("ads_payment_id", p.ID), zap.Error(err))
	}
}

func logFailure(ctx context.Context, msg string, p *domain.AdsPayment, err error) {
	fields := []zap.Field{
		zap.Int64("ads_payment_id", p.ID),
		zap.String("tx_id", p.TxID),
		zap.Int("code", xerr.CodeOf(err)),
		zap.Error(err),
	}
	switch {
	case xerr.IsTransient(err):
		logger.Warn(ctx, msg+", retry next run", fields...)
	case xerr.CodeOf(err) == xerr.DataInconsistency:
		logger.Warn(ctx, msg+", skipped", fields...)
	default:
		logger.Error(ctx, msg, fields...)
	}
}
