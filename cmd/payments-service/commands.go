package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"adserver.com/internal/payments/app"
	"adserver.com/internal/payments/report"
	"adserver.com/pkg/logger"
	"adserver.com/pkg/xerr"
)

// action 在 App 建好之后执行；daemon 不走 job 锁，其余命令按名字加锁
type action struct {
	locked bool
	run    func(ctx context.Context, a *app.App) error
}

type commandFn func(args []string, out io.Writer) (action, error)

var commands = map[string]commandFn{
	app.JobScan:    scanCommand,
	app.JobProcess: processTxCommand,
	app.JobSupply:  supplyCommand,
	app.JobReport:  reportCommand,
	"daemon":       daemonCommand,
	"db:migrate":   migrateCommand,
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return xerr.Wrap(err, xerr.RequestParamsError, fs.Name())
	}
	if fs.NArg() > 0 {
		return xerr.New(xerr.RequestParamsError, fmt.Sprintf("%s: unexpected arguments %v", fs.Name(), fs.Args()))
	}
	return nil
}

func scanCommand(args []string, out io.Writer) (action, error) {
	if err := parseFlags(newFlagSet(app.JobScan, out), args); err != nil {
		return action{}, err
	}
	return action{locked: true, run: func(ctx context.Context, a *app.App) error {
		res, err := a.Scanner.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info(ctx, "blockchain scanned",
			zap.Int("blocks", res.Blocks), zap.Int("created", res.Created), zap.Int("duplicates", res.Duplicates))
		return nil
	}}, nil
}

func processTxCommand(args []string, out io.Writer) (action, error) {
	if err := parseFlags(newFlagSet(app.JobProcess, out), args); err != nil {
		return action{}, err
	}
	return action{locked: true, run: func(ctx context.Context, a *app.App) error {
		return a.ProcessTx(ctx)
	}}, nil
}

func supplyCommand(args []string, out io.Writer) (action, error) {
	fs := newFlagSet(app.JobSupply, out)
	chunk := fs.Int("chunkSize", 0, "payments per run, 0 uses payments.chunk_size from config")
	if err := parseFlags(fs, args); err != nil {
		return action{}, err
	}
	if *chunk < 0 {
		return action{}, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid chunkSize %d", *chunk))
	}
	return action{locked: true, run: func(ctx context.Context, a *app.App) error {
		n := *chunk
		if n == 0 {
			n = a.Cfg.Payments.ChunkSize
		}
		done, err := a.Machine.ProcessCandidates(ctx, n)
		if err != nil {
			return err
		}
		logger.Info(ctx, "candidates processed", zap.Int("settled", done))
		return nil
	}}, nil
}

// reportArgs --ids 与 --hour/--from/--to 互斥，都不给时处理上一个整点
type reportArgs struct {
	hours []time.Time
	ids   []int64
	force bool
}

func parseReportArgs(args []string, out io.Writer) (reportArgs, error) {
	fs := newFlagSet(app.JobReport, out)
	hour := fs.String("hour", "", "single hour, e.g. 2024-05-01T13")
	from := fs.String("from", "", "first hour of an inclusive range")
	to := fs.String("to", "", "last hour of an inclusive range")
	ids := fs.String("ids", "", "comma separated report ids")
	force := fs.Bool("force", false, "recompute reports already DONE")
	if err := parseFlags(fs, args); err != nil {
		return reportArgs{}, err
	}

	r := reportArgs{force: *force}
	set := 0
	for _, v := range []string{*hour, *from + *to, *ids} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return r, xerr.New(xerr.RequestParamsError, "use only one of --hour, --from/--to, --ids")
	}

	var err error
	switch {
	case *hour != "":
		var h time.Time
		h, err = report.ParseHour(*hour)
		r.hours = []time.Time{h}
	case *from != "" || *to != "":
		if *from == "" || *to == "" {
			return r, xerr.New(xerr.RequestParamsError, "--from and --to go together")
		}
		r.hours, err = report.ParseHourRange(*from, *to)
	case *ids != "":
		r.ids, err = report.ParseIDs(*ids)
	}
	return r, err
}

func reportCommand(args []string, out io.Writer) (action, error) {
	r, err := parseReportArgs(args, out)
	if err != nil {
		return action{}, err
	}
	return action{locked: true, run: func(ctx context.Context, a *app.App) error {
		switch {
		case len(r.ids) > 0:
			return a.ProcessReports(ctx, r.ids, r.force)
		case len(r.hours) > 0:
			ids, err := a.RegisterReports(ctx, r.hours)
			if err != nil {
				return err
			}
			return a.ProcessReports(ctx, ids, r.force)
		default:
			return a.ReportLastHour(ctx)
		}
	}}, nil
}

func daemonCommand(args []string, out io.Writer) (action, error) {
	if err := parseFlags(newFlagSet("daemon", out), args); err != nil {
		return action{}, err
	}
	return action{run: func(ctx context.Context, a *app.App) error {
		return a.Daemon(ctx)
	}}, nil
}

func migrateCommand(args []string, out io.Writer) (action, error) {
	if err := parseFlags(newFlagSet("db:migrate", out), args); err != nil {
		return action{}, err
	}
	return action{run: func(ctx context.Context, a *app.App) error {
		if err := a.Migrate(ctx); err != nil {
			return xerr.Wrap(err, xerr.Config, "migrate")
		}
		return nil
	}}, nil
}
