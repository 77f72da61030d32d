package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"adserver.com/internal/payments/app"
	"adserver.com/internal/payments/config"
	pkgconfig "adserver.com/pkg/config"
	"adserver.com/pkg/logger"
	"adserver.com/pkg/xerr"
)

var configDir = flag.String("c", "", "directory holding payments-service.yaml")

// 退出码：只有配置或参数错误返回非 0，其余错误记日志后由下一次调度重试
func main() {
	flag.Usage = usage
	flag.Parse()
	os.Exit(run(flag.Args(), os.Stderr))
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(flag.CommandLine.Output(), "usage: payments-service [-c dir] <command> [flags]\ncommands:\n")
	for _, n := range names {
		fmt.Fprintf(flag.CommandLine.Output(), "  %s\n", n)
	}
}

func run(args []string, out io.Writer) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(out, "unknown command %q\n", name)
		usage()
		return 2
	}
	act, err := cmd(args[1:], out)
	if err != nil {
		fmt.Fprintln(out, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg, v, err := config.Load(paths...)
	if err != nil {
		fmt.Fprintln(out, err)
		return 1
	}
	if cfg.Log.File != "" {
		logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	} else {
		logger.Init(cfg.Name, cfg.Log.Level)
	}
	defer logger.Sync()
	if name == "daemon" {
		pkgconfig.Watch(v, config.ServiceName)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "init failed", zap.String("command", name), zap.Error(err))
		return 1
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "close failed", zap.Error(err))
		}
	}()

	if act.locked {
		err = a.Jobs.Run(ctx, name, func(ctx context.Context) error { return act.run(ctx, a) })
	} else {
		err = act.run(ctx, a)
	}
	return exitCode(ctx, name, err)
}

func exitCode(ctx context.Context, name string, err error) int {
	if err == nil {
		return 0
	}
	if xerr.IsConfig(err) {
		logger.Error(ctx, "command failed", zap.String("command", name), zap.Int("code", xerr.CodeOf(err)), zap.Error(err))
		return 1
	}
	logger.Warn(ctx, "command finished with errors", zap.String("command", name), zap.Error(err))
	return 0
}
