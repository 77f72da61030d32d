package report

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"adserver.com/internal/payments/domain"
	"adserver.com/pkg/logger"
	"adserver.com/pkg/metrics"
	"adserver.com/pkg/trace"
	"adserver.com/pkg/xerr"
)

// Exporter NEW -> UPDATED，让导出方写 outbound_payment_items
type Exporter interface {
	Export(ctx context.Context, r domain.PaymentReport) error
}

// Preparer UPDATED -> PREPARED，按地址汇总并换算成 clicks
type Preparer interface {
	Prepare(ctx context.Context, r domain.PaymentReport) error
}

// Sender PREPARED -> DONE，链上发款
type Sender interface {
	Send(ctx context.Context, r domain.PaymentReport) error
}

type Repo interface {
	domain.Transactor
	domain.ReportRepo
}

type Config struct {
	MaxAgeDays int
	BatchSize  int
}

type Aggregator struct {
	cfg      Config
	repo     Repo
	exporter Exporter
	preparer Preparer
	sender   Sender
	now      func() time.Time
}

func NewAggregator(cfg Config, repo Repo, e Exporter, p Preparer, s Sender) *Aggregator {
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 7
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 48
	}
	return &Aggregator{cfg: cfg, repo: repo, exporter: e, preparer: p, sender: s, now: time.Now}
}

// Register 同一小时重复注册不会产生第二条
func (a *Aggregator) Register(ctx context.Context, hour time.Time) (bool, error) {
	id := domain.HourOf(hour).Unix()
	created, err := a.repo.CreateReport(ctx, id)
	if err != nil {
		return false, err
	}
	if created {
		logger.Info(ctx, "payment report registered", zap.Int64("report_id", id))
	}
	return created, nil
}

type Result struct {
	Done    int
	Skipped int
	Failed  int
}

// Process ids 为空时处理所有未完成的报表。
// 只有 force 才会重算 DONE；不存在的 id 是参数错误
func (a *Aggregator) Process(ctx context.Context, ids []int64, force bool) (Result, error) {
	ctx, span := trace.Start(ctx, "payments.reports")
	defer span.End()

	var res Result
	cutoff := a.now().UTC().AddDate(0, 0, -a.cfg.MaxAgeDays)
	reports, err := a.load(ctx, ids, cutoff)
	if err != nil {
		return res, err
	}

	for _, r := range reports {
		switch {
		case r.Status == domain.ReportStatusDone && !force:
			res.Skipped++
			continue
		case r.Status != domain.ReportStatusDone && r.Hour().Before(cutoff):
			logger.Warn(ctx, "payment report too old, skipped",
				zap.Int64("report_id", r.ID), zap.String("status", string(r.Status)))
			res.Skipped++
			continue
		}

		if err := a.run(ctx, r); err != nil {
			res.Failed++
			logger.Error(ctx, "payment report failed",
				zap.Int64("report_id", r.ID), zap.Int("code", xerr.CodeOf(err)), zap.Error(err))
			if serr := a.setStatus(ctx, r.ID, domain.ReportStatusError); serr != nil {
				return res, serr
			}
			continue
		}
		res.Done++
	}
	return res, nil
}

// load 不指定 id 时只取 cutoff 之后的，积压的旧报表不占批次
func (a *Aggregator) load(ctx context.Context, ids []int64, cutoff time.Time) ([]domain.PaymentReport, error) {
	if len(ids) == 0 {
		return a.repo.FindUnfinishedReports(ctx, cutoff.Unix(), a.cfg.BatchSize)
	}

	reports, err := a.repo.FindReports(ctx, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[int64]struct{}, len(reports))
	for _, r := range reports {
		found[r.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("payment report %d does not exist", id))
		}
	}
	return reports, nil
}

// run DONE 和 ERROR 都从 NEW 重新走一遍，已经发过的款不会重发
func (a *Aggregator) run(ctx context.Context, r domain.PaymentReport) error {
	if r.Status == domain.ReportStatusDone || r.Status == domain.ReportStatusError {
		if err := a.setStatus(ctx, r.ID, domain.ReportStatusNew); err != nil {
			return err
		}
		r.Status = domain.ReportStatusNew
	}

	for r.Status != domain.ReportStatusDone {
		var (
			next domain.ReportStatus
			err  error
		)
		switch r.Status {
		case domain.ReportStatusNew:
			next, err = domain.ReportStatusUpdated, a.exporter.Export(ctx, r)
		case domain.ReportStatusUpdated:
			next, err = domain.ReportStatusPrepared, a.preparer.Prepare(ctx, r)
		case domain.ReportStatusPrepared:
			next, err = domain.ReportStatusDone, a.sender.Send(ctx, r)
		default:
			return fmt.Errorf("report %d: unexpected status %s", r.ID, r.Status)
		}
		if err != nil {
			return fmt.Errorf("report %d %s: %w", r.ID, r.Status, err)
		}
		if err := a.setStatus(ctx, r.ID, next); err != nil {
			return err
		}
		r.Status = next
	}
	return nil
}

func (a *Aggregator) setStatus(ctx context.Context, id int64, s domain.ReportStatus) error {
	if err := a.repo.UpdateReportStatus(ctx, id, s); err != nil {
		return err
	}
	metrics.ReportsTransitionTotal.WithLabelValues(string(s)).Inc()
	return nil
}
