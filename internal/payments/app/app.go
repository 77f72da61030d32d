package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"adserver.com/internal/payments/blockchain"
	"adserver.com/internal/payments/boost"
	"adserver.com/internal/payments/config"
	"adserver.com/internal/payments/demand"
	"adserver.com/internal/payments/details"
	"adserver.com/internal/payments/domain"
	"adserver.com/internal/payments/events"
	"adserver.com/internal/payments/exchange"
	"adserver.com/internal/payments/fee"
	"adserver.com/internal/payments/job"
	"adserver.com/internal/payments/ledger"
	"adserver.com/internal/payments/license"
	"adserver.com/internal/payments/repo"
	"adserver.com/internal/payments/report"
	"adserver.com/internal/payments/scan"
	"adserver.com/internal/payments/statemachine"
	"adserver.com/internal/payments/turnover"
	"adserver.com/pkg/logger"
	"adserver.com/pkg/metrics"
	"adserver.com/pkg/orm"
	"adserver.com/pkg/safe"
	"adserver.com/pkg/trace"
	"adserver.com/pkg/xerr"
	"adserver.com/pkg/xredis"
)

// Job 签名，也是分布式锁的名字
const (
	JobScan    = "ads:get-tx-in"
	JobProcess = "ads:process-tx"
	JobSupply  = "supply:payments:process"
	JobReport  = "ops:payments:report"
)

// App 一次进程里所有组件，子命令和 daemon 共用
type App struct {
	Cfg *config.Config

	DB     *gorm.DB
	Redis  *redis.Client
	Broker events.Broker
	Repo   *repo.Repo

	Chain   *blockchain.Client
	Demand  *demand.Client
	Scanner *scan.Scanner
	Machine *statemachine.Machine
	Reports *report.Aggregator
	Jobs    *job.Runner

	closers []func(ctx context.Context) error
}

// New 按配置建好依赖，失败时已建好的部分会被关闭
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Cfg

	shutdown, err := trace.InitTrace(ctx, cfg.Name, cfg.Trace)
	if err != nil {
		return xerr.Wrap(err, xerr.Config, "init trace")
	}
	a.closers = append(a.closers, shutdown)

	a.DB, err = orm.NewMySQL(cfg.ORM())
	if err != nil {
		return xerr.Wrap(err, xerr.Transient, "connect mysql")
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return sqlDB.Close() })

	a.Redis, err = xredis.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		return xerr.Wrap(err, xerr.Transient, "connect redis")
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })

	a.Broker, err = newBroker(cfg.Broker)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Broker.Close() })

	lic, err := newLicense(cfg)
	if err != nil {
		return err
	}

	a.Repo = repo.New(a.DB)
	a.Chain = blockchain.NewClient(cfg.Blockchain)
	a.Demand = demand.NewClient(cfg.Demand)

	rec := turnover.NewRecorder(a.Repo)
	store := ledger.NewStore(a.Repo, a.Repo, ledger.NewRedisCache(a.Redis, 10*time.Second), time.Minute)
	alloc := boost.NewAllocator(a.Repo, a.Repo, rec)

	a.Scanner = scan.NewScanner(a.Chain, a.Repo)
	a.Machine = statemachine.New(cfg.Machine(), statemachine.Deps{
		Repo:     a.Repo,
		Chain:    a.Chain,
		Demand:   a.Demand,
		License:  lic,
		Details:  details.NewProcessor(a.Repo, a.Repo, alloc, store, rec),
		Ledger:   store,
		Turnover: rec,
		Notifier: events.NewPublisher(a.Broker),
	})
	a.Reports = report.NewAggregator(cfg.Report(), a.Repo,
		report.NewBrokerExporter(a.Broker, cfg.Reports.ExportTimeout),
		report.NewPreparer(a.Repo, exchange.NewReader(cfg.Exchange)),
		report.NewSender(a.Repo, a.Chain, rec),
	)
	a.Jobs = job.NewRunner(a.Redis, cfg.Jobs.LockTTL)
	return nil
}

func newBroker(c config.Broker) (events.Broker, error) {
	if c.Kind == "memory" {
		return events.NewMemBroker(), nil
	}
	b, err := events.NewNatsBroker(c.URL)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.Transient, "connect nats")
	}
	return b, nil
}

func newLicense(cfg *config.Config) (fee.LicenseReader, error) {
	if cfg.License.Source == "vault" {
		r, err := license.NewVaultReader(cfg.License.Vault)
		if err != nil {
			return nil, xerr.Wrap(err, xerr.Config, "init vault")
		}
		return r, nil
	}
	l, err := cfg.StaticLicense()
	if err != nil {
		return nil, err
	}
	return license.StaticReader{License: l}, nil
}

// Migrate 本地和测试环境建表用，线上走 DBA 发布
func (a *App) Migrate(ctx context.Context) error {
	return a.Repo.AutoMigrate(ctx)
}

// Daemon 周期执行四个任务并暴露 /metrics，ctx 取消后等任务退出
func (a *App) Daemon(ctx context.Context) error {
	// 连接池 gauge 走 promauto，已经在默认 registry 里
	metrics.MustRegister(prometheus.DefaultRegisterer)

	if sqlDB, err := a.DB.DB(); err == nil {
		metrics.ObservePools(ctx, sqlDB, a.Redis, 15*time.Second)
	}
	a.Demand.Limiter().StartJanitor(ctx, time.Minute)

	srv := a.serveMetrics()

	s := job.NewScheduler(a.Jobs)
	s.Add(JobScan, a.Cfg.Jobs.ScanEvery, func(ctx context.Context) error {
		_, err := a.Scanner.Run(ctx)
		return err
	})
	s.Add(JobProcess, a.Cfg.Jobs.ProcessEvery, a.ProcessTx)
	s.Add(JobSupply, a.Cfg.Jobs.ProcessEvery, func(ctx context.Context) error {
		_, err := a.Machine.ProcessCandidates(ctx, a.Cfg.Payments.ChunkSize)
		return err
	})
	s.Add(JobReport, a.Cfg.Jobs.ReportEvery, a.ReportLastHour)
	s.Start(ctx)

	logger.Info(ctx, "daemon started", zap.String("metrics_addr", a.Cfg.MetricsAddr))
	<-ctx.Done()
	s.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func (a *App) serveMetrics() *http.Server {
	if a.Cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: a.Cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	safe.Go(func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "metrics server stopped", zap.Error(err))
		}
	})
	return srv
}

// ProcessTx 分类 NEW 并把超时的候选转成 RESERVED
func (a *App) ProcessTx(ctx context.Context) error {
	res, err := a.Machine.Classify(ctx, a.Cfg.Payments.ChunkSize)
	if err != nil {
		return err
	}
	reserved, err := a.Machine.ReserveStale(ctx)
	if err != nil {
		return err
	}
	logger.Info(ctx, "payments classified",
		zap.Int("deposits", res.Deposits),
		zap.Int("candidates", res.Candidates),
		zap.Int("invalid", res.Invalid),
		zap.Int("failed", res.Failed),
		zap.Int64("reserved", reserved))
	return nil
}

// ReportLastHour 登记上一个整点，再推进所有未完成的报表
func (a *App) ReportLastHour(ctx context.Context) error {
	hour := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)
	if _, err := a.Reports.Register(ctx, hour); err != nil {
		return err
	}
	return a.ProcessReports(ctx, nil, false)
}

// RegisterReports 登记给定的小时，返回对应的报表 id
func (a *App) RegisterReports(ctx context.Context, hours []time.Time) ([]int64, error) {
	ids := make([]int64, 0, len(hours))
	for _, h := range hours {
		if _, err := a.Reports.Register(ctx, h); err != nil {
			return nil, err
		}
		ids = append(ids, domain.HourOf(h).Unix())
	}
	return ids, nil
}

func (a *App) ProcessReports(ctx context.Context, ids []int64, force bool) error {
	res, err := a.Reports.Process(ctx, ids, force)
	if err != nil {
		return err
	}
	logger.Info(ctx, "reports processed",
		zap.Int("done", res.Done), zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	return nil
}

// Close 逆序关闭
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
