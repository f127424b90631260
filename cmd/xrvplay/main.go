package main

import (
	"context"
	"os"

	"github.com/facebookincubator/go-belt"
	xruntime "github.com/facebookincubator/go-belt/pkg/runtime"
	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	prometheusadapter "github.com/facebookincubator/go-belt/tool/experimental/metrics/implementation/prometheus"
	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/sirupsen/logrus"
	"github.com/xaionaro-go/xrvideo/cmd/xrvplay/commands"
	"github.com/xaionaro-go/xrvideo/pkg/buildvars"
	"github.com/xaionaro-go/xrvideo/pkg/observability"
)

func main() {
	xruntime.DefaultCallerPCFilter = observability.CallerPCFilter(xruntime.DefaultCallerPCFilter)
	observability.LogLevelFilter.SetLevel(logger.LevelWarning)

	ll := xlogrus.DefaultLogrusLogger()
	ll.SetOutput(os.Stderr)
	if f, ok := ll.Formatter.(*logrus.TextFormatter); ok {
		f.FullTimestamp = true
	}
	logrus.SetLevel(logrus.TraceLevel)
	l := xlogrus.New(ll).WithLevel(logger.LevelTrace).WithPreHooks(&observability.LogLevelFilter)

	ctx := context.Background()
	ctx = metrics.CtxWithMetrics(ctx, prometheusadapter.Default())
	ctx = logger.CtxWithLogger(ctx, l)
	ctx = belt.WithField(ctx, "program", "xrvplay")
	ctx = belt.WithField(ctx, "build", buildvars.Short())
	if hostname, err := os.Hostname(); err == nil {
		ctx = belt.WithField(ctx, "hostname", hostname)
	}
	ctx = belt.WithField(ctx, "pid", os.Getpid())
	logger.Default = func() logger.Logger {
		return logger.FromCtx(ctx)
	}
	defer belt.Flush(ctx)

	if err := commands.Root.ExecuteContext(ctx); err != nil {
		logger.Fatal(ctx, err)
	}
}
