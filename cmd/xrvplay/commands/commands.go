package commands

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	errmonsentry "github.com/facebookincubator/go-belt/tool/experimental/errmon/implementation/sentry"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xrvideo/pkg/config"
	"github.com/xaionaro-go/xrvideo/pkg/logwriter"
	xobservability "github.com/xaionaro-go/xrvideo/pkg/observability"
)

var (
	// Access these variables only from a main package:

	Root = &cobra.Command{
		Use:              "xrvplay",
		Short:            "headless player and inspector of volumetric videos",
		SilenceUsage:     true,
		PersistentPreRun: persistentPreRun,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Debug(cmd.Context(), "end")
		},
	}

	Play = &cobra.Command{
		Use:   "play [file...]",
		Short: "play the files in a loop without a display, switching between them",
		Run:   play,
	}

	Inspect = &cobra.Command{
		Use:   "inspect file...",
		Short: "print the frame index summary of the files",
		Args:  cobra.MinimumNArgs(1),
		Run:   inspect,
	}

	Version = &cobra.Command{
		Use:  "version",
		Args: cobra.ExactArgs(0),
		Run:  version,
	}

	LoggerLevel = logger.LevelWarning

	// Config is filled by the root command before any subcommand runs.
	Config config.Config
)

func init() {
	Root.AddCommand(Play)
	Root.AddCommand(Inspect)
	Root.AddCommand(Version)

	Root.PersistentFlags().Var(&LoggerLevel, "log-level", "")
	Root.PersistentFlags().String("config-path", "", "the path to the config file")
	Root.PersistentFlags().String("metrics-listen-addr", "", "address to serve prometheus metrics at")
	Root.PersistentFlags().String("sentry-dsn", "", "report errors to this Sentry DSN")

	Play.Flags().Var(&Config.PlaybackMode, "mode", "playback mode: single-shot, loop or back-and-forth")
	Play.Flags().Duration("switch-interval", 0, "load the next file after this long; the config value is used if zero")
	Play.Flags().Duration("duration", 0, "stop after this long; zero plays until interrupted")
	Play.Flags().Float64("frame-rate", 0, "rate of the update/render loop; the config value is used if zero")
	Play.Flags().Int("cached-decoded-frames", -1, "decoded frame cache size, 0 caches the whole video; the config value is used if negative")
	Play.Flags().Bool("surface-normal-shading", false, "render with the surface normal shading programs")

	Inspect.Flags().Bool("decode", false, "decode every frame and report the decoding time")
	Inspect.Flags().Bool("json", false, "use JSON output format")
	Inspect.Flags().Bool("dump", false, "dump the frame table of every file")
}

func persistentPreRun(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	mode := Config.PlaybackMode
	modeChanged := flagsChanged(cmd.Flags(), "mode")
	Config = config.DefaultConfig(ctx)
	cfgPath, err := cmd.Flags().GetString("config-path")
	assertNoError(ctx, err)
	if cfgPath != "" {
		assertNoError(ctx, config.ReadConfigFromPath(ctx, cfgPath, &Config))
	}
	if modeChanged {
		Config.PlaybackMode = mode
	}

	level := LoggerLevel
	if !flagsChanged(cmd.Flags(), "log-level") {
		level, err = Config.Level()
		assertNoError(ctx, err)
	}
	xobservability.LogLevelFilter.SetLevel(level)
	logger.Debugf(ctx, "log-level: %v", level)

	if dsn := stringFlagOr(cmd, "sentry-dsn", Config.SentryDSN); dsn != "" {
		ctx = withSentry(ctx, dsn)
	}

	if addr := stringFlagOr(cmd, "metrics-listen-addr", Config.MetricsListenAddr); addr != "" {
		serveMetrics(ctx, addr)
	}

	cmd.SetContext(ctx)
}

func stringFlagOr(cmd *cobra.Command, name string, fallback string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		logger.Errorf(cmd.Context(), "unable to get the value of the flag '%s': %v", name, err)
		return fallback
	}
	if v == "" {
		return fallback
	}
	return v
}

func withSentry(ctx context.Context, dsn string) context.Context {
	logger.Infof(ctx, "setting up Sentry at DSN '%s'", dsn)
	sentryClient, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Debug:       xobservability.LogLevelFilter.GetLevel() >= logger.LevelDebug,
		DebugWriter: logwriter.New(ctx, logger.LevelDebug),
	})
	assertNoError(ctx, err)
	sentryErrorMonitor := errmonsentry.New(sentryClient)
	ctx = errmon.CtxWithErrorMonitor(ctx, sentryErrorMonitor)
	l := logger.FromCtx(ctx).WithPreHooks(xobservability.NewErrorMonitorLoggerHook(ctx, sentryErrorMonitor))
	return logger.CtxWithLogger(ctx, l)
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(logwriter.New(ctx, logger.LevelError), "", 0),
	}
	observability.Go(ctx, func(ctx context.Context) {
		logger.Infof(ctx, "serving metrics at '%s'", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf(ctx, "unable to serve metrics at '%s': %v", addr, err)
		}
	})
	observability.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		srv.Close()
	})
}

func assertNoError(ctx context.Context, err error) {
	if err != nil {
		logger.Fatal(ctx, err)
	}
}

func readFile(ctx context.Context, p string) []byte {
	b, err := os.ReadFile(p)
	assertNoError(ctx, err)
	return b
}
