package statemachine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"adserver.com/internal/payments/blockchain"
	"adserver.com/internal/payments/details"
	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/fee"
	"adserver.com/internal/payments/ledger"
	"adserver.com/internal/payments/turnover"
	"adserver.com/pkg/metrics"
)

type Chain interface {
	GetTransaction(ctx context.Context, txID string) (*blockchain.Transaction, error)
}

type Demand interface {
	FetchPaymentDetailsMeta(ctx context.Context, host, txID string) (domain.DetailsMeta, error)
	FetchPaymentDetails(ctx context.Context, host, txID string, limit, offset int) ([]domain.EventDetail, error)
	FetchBoostDetails(ctx context.Context, host, txID string, limit, offset int) ([]domain.BoostDetail, error)
}

type Notifier interface {
	PaymentsProcessed(ctx context.Context, count int)
}

type Repo interface {
	domain.Transactor
	domain.AdsPaymentRepo
	domain.NetworkRepo
	domain.UserRepo
}

type Config struct {
	ChunkSize     int
	PageLimit     int
	ReserveWindow time.Duration
	OperatorCoef  decimal.Decimal
}

type Deps struct {
	Repo     Repo
	Chain    Chain
	Demand   Demand
	License  fee.LicenseReader
	Details  *details.Processor
	Ledger   *ledger.Store
	Turnover *turnover.Recorder
	Notifier Notifier
}

// Machine 驱动 AdsPayment 状态流转，每次调用处理一批
type Machine struct {
	cfg Config
	Deps
	now func() time.Time
}

func New(cfg Config, deps Deps) *Machine {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 500
	}
	if cfg.ReserveWindow <= 0 {
		cfg.ReserveWindow = 24 * time.Hour
	}
	return &Machine{cfg: cfg, Deps: deps, now: time.Now}
}

// transition 只在当前状态是 from 时生效
func (m *Machine) transition(ctx context.Context, id int64, from, to domain.PaymentStatus) error {
	if err := m.Repo.UpdateAdsPaymentStatus(ctx, id, from, to); err != nil {
		return err
	}
	m.Repo.AfterCommit(ctx, func() {
		metrics.PaymentsTransitionTotal.WithLabelValues(to.String()).Inc()
	})
	return nil
}
