package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"adserver.com/internal/payments/blockchain"
	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/events"
	"adserver.com/internal/payments/exchange"
	"adserver.com/internal/payments/turnover"
	"adserver.com/pkg/logger"
	"adserver.com/pkg/xerr"
)

// 1 ADS = 10^11 clicks
var clicksPerUnit = decimal.New(1, 11)

type exportRequest struct {
	ReportID int64     `json:"report_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

type exportReply struct {
	Items int `json:"items"`
}

// BrokerExporter 通过 request-reply 让导出服务写入该小时的 outbound_payment_items
type BrokerExporter struct {
	broker  events.Broker
	timeout time.Duration
}

func NewBrokerExporter(b events.Broker, timeout time.Duration) *BrokerExporter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrokerExporter{broker: b, timeout: timeout}
}

func (e *BrokerExporter) Export(ctx context.Context, r domain.PaymentReport) error {
	req, err := json.Marshal(exportRequest{ReportID: r.ID, From: r.Hour(), To: r.Hour().Add(time.Hour)})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	raw, err := e.broker.Request(ctx, events.TopicReportExport, req)
	if err != nil {
		return xerr.Wrap(err, xerr.Transient, "export payment report")
	}

	var reply exportReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return xerr.Wrap(err, xerr.DataInconsistency, "decode export reply")
	}
	logger.Info(ctx, "payment report exported", zap.Int64("report_id", r.ID), zap.Int("items", reply.Items))
	return nil
}

type RateReader interface {
	FetchExchangeRate(ctx context.Context, asOf time.Time) (exchange.Rate, error)
}

type PrepareRepo interface {
	domain.Transactor
	FindOutboundItems(ctx context.Context, reportID int64) ([]domain.OutboundPaymentItem, error)
	UpsertOutboundPayment(ctx context.Context, p *domain.OutboundPayment) error
}

// DBPreparer 汇率取不到直接失败，不用默认值
type DBPreparer struct {
	repo  PrepareRepo
	rates RateReader
}

func NewPreparer(repo PrepareRepo, rates RateReader) *DBPreparer {
	return &DBPreparer{repo: repo, rates: rates}
}

func (p *DBPreparer) Prepare(ctx context.Context, r domain.PaymentReport) error {
	items, err := p.repo.FindOutboundItems(ctx, r.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	rate, err := p.rates.FetchExchangeRate(ctx, r.Hour())
	if err != nil {
		return err
	}

	totals := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		totals[it.AccountAddress] = totals[it.AccountAddress].Add(it.ValueCurrency)
	}
	addrs := make([]string, 0, len(totals))
	for a := range totals {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	return p.repo.Transaction(ctx, func(txCtx context.Context) error {
		for _, a := range addrs {
			clicks := ToClicks(totals[a], rate.Value)
			if err := p.repo.UpsertOutboundPayment(txCtx, &domain.OutboundPayment{
				ReportID:       r.ID,
				AccountAddress: a,
				TotalAmount:    clicks,
				ExchangeRate:   rate.Value,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ToClicks 法币金额按汇率换成 clicks，向下取整
func ToClicks(value, rate decimal.Decimal) int64 {
	if !rate.IsPositive() || !value.IsPositive() {
		return 0
	}
	return value.Mul(clicksPerUnit).Div(rate).Floor().IntPart()
}

type Wallet interface {
	SendMany(ctx context.Context, wires []blockchain.Wire) (string, error)
}

type SendRepo interface {
	domain.Transactor
	FindUnsentOutboundPayments(ctx context.Context, reportID int64) ([]domain.OutboundPayment, error)
	MarkOutboundPaymentsSent(ctx context.Context, ids []int64, txID string) (int64, error)
	ReplaceOutboundTxID(ctx context.Context, ids []int64, from string, to *string) error
}

// ChainSender 只发 tx_id 为空的行，重算的报表不会重复发款。
// 发送前先用占位 tx_id 认领，发送结果不确定时占位保留，等人工核对
type ChainSender struct {
	repo     SendRepo
	wallet   Wallet
	turnover *turnover.Recorder
}

func NewSender(repo SendRepo, w Wallet, rec *turnover.Recorder) *ChainSender {
	return &ChainSender{repo: repo, wallet: w, turnover: rec}
}

func pendingToken() string {
	return pendingPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

const pendingPrefix = "pending:"

func (s *ChainSender) Send(ctx context.Context, r domain.PaymentReport) error {
	unsent, err := s.repo.FindUnsentOutboundPayments(ctx, r.ID)
	if err != nil {
		return err
	}
	if len(unsent) == 0 {
		return nil
	}

	wires := make([]blockchain.Wire, 0, len(unsent))
	ids := make([]int64, 0, len(unsent))
	for _, p := range unsent {
		wires = append(wires, blockchain.Wire{TargetAddress: p.AccountAddress, Amount: p.TotalAmount})
		ids = append(ids, p.ID)
	}

	token := pendingToken()
	err = s.repo.Transaction(ctx, func(txCtx context.Context) error {
		n, err := s.repo.MarkOutboundPaymentsSent(txCtx, ids, token)
		if err != nil {
			return err
		}
		// 有行被别的发送方认领了，整批放弃，回滚自己的认领
		if n != int64(len(ids)) {
			return xerr.Wrap(fmt.Errorf("%w: claimed %d of %d outbound payments", domain.ErrStatusChanged, n, len(ids)),
				xerr.DataInconsistency, "claim outbound payments")
		}
		return nil
	})
	if err != nil {
		return err
	}

	txID, err := s.wallet.SendMany(ctx, wires)
	if err != nil {
		var cerr *blockchain.CommandError
		if errors.As(err, &cerr) {
			// 节点明确拒绝，放回去下次再发
			if rerr := s.repo.ReplaceOutboundTxID(ctx, ids, token, nil); rerr != nil {
				logger.Error(ctx, "release outbound payments failed",
					zap.Int64("report_id", r.ID), zap.String("token", token), zap.Error(rerr))
			}
			return err
		}
		logger.Error(ctx, "outbound send result unknown, left pending",
			zap.Int64("report_id", r.ID), zap.String("token", token), zap.Int64s("ids", ids), zap.Error(err))
		return err
	}

	err = s.repo.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.ReplaceOutboundTxID(txCtx, ids, token, &txID); err != nil {
			return err
		}
		for _, p := range unsent {
			if err := s.turnover.Record(txCtx, turnover.Entry{
				Type:       domain.TurnoverDspExpense,
				Amount:     p.TotalAmount,
				AdsAddress: p.AccountAddress,
				Hour:       r.Hour(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "outbound payments sent but not confirmed",
			zap.Int64("report_id", r.ID), zap.String("tx_id", txID), zap.String("token", token), zap.Error(err))
		return fmt.Errorf("confirm report %d sent by %s: %w", r.ID, txID, err)
	}
	logger.Info(ctx, "outbound payments sent",
		zap.Int64("report_id", r.ID), zap.String("tx_id", txID), zap.Int("count", len(ids)))
	return nil
}
