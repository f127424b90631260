package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/shirou/gopsutil/process"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xrvideo/pkg/commonresources"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo"
	"github.com/xaionaro-go/xrvideo/pkg/xrvplayer"
)

var identityMatrix = []float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

type playStats struct {
	Updates         int
	RenderedFrames  int
	SkippedFrames   int
	Loads           int
	DeferredLoads   int
	BufferingFrames int
}

func play(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	paths := args
	if len(paths) == 0 {
		var err error
		paths, err = Config.PlaylistPaths()
		assertNoError(ctx, err)
	}
	if len(paths) == 0 {
		logger.Fatalf(ctx, "nothing to play: pass files as arguments or set 'playlist' in the config")
	}

	switchInterval, err := cmd.Flags().GetDuration("switch-interval")
	assertNoError(ctx, err)
	if switchInterval == 0 {
		switchInterval = Config.SwitchInterval
	}
	duration, err := cmd.Flags().GetDuration("duration")
	assertNoError(ctx, err)
	frameRate, err := cmd.Flags().GetFloat64("frame-rate")
	assertNoError(ctx, err)
	if frameRate <= 0 {
		frameRate = Config.FrameRate
	}
	if frameRate <= 0 {
		logger.Fatalf(ctx, "invalid frame rate %f", frameRate)
	}
	cacheSize, err := cmd.Flags().GetInt("cached-decoded-frames")
	assertNoError(ctx, err)
	if cacheSize >= 0 {
		Config.Video.CachedDecodedFrameCount = cacheSize
	}
	shading, err := cmd.Flags().GetBool("surface-normal-shading")
	assertNoError(ctx, err)

	files := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b := readFile(ctx, p)
		logger.Infof(ctx, "read '%s': %s", p, humanize.Bytes(uint64(len(b))))
		files = append(files, b)
	}

	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	handleInterrupt(ctx, cancelFn)
	if duration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, duration)
		defer timeoutCancel()
	}

	bus := newEventBus()
	events := logEvents(ctx, bus)

	p := xrvplayer.New()
	backend := commonresources.NewNullBackend()
	resources := p.NewCommonResources(ctx, backend)
	if !p.CommonResourcesInitialized(ctx, resources) {
		logger.Fatalf(ctx, "unable to initialize the common resources")
	}
	opts := append(Config.Video.Options(), xrvideo.OptionEventBus{EventBus: bus})
	video, err := p.NewVideo(ctx, resources, Config.Video.CachedDecodedFrameCount, opts...)
	assertNoError(ctx, err)

	stats := runPlayLoop(ctx, p, video, files, playLoopParams{
		FrameInterval:        time.Duration(float64(time.Second) / frameRate),
		SwitchInterval:       switchInterval,
		Mode:                 int(Config.PlaybackMode),
		SurfaceNormalShading: shading,
	})

	closeCtx := context.WithoutCancel(ctx)
	if err := p.Close(closeCtx); err != nil {
		logger.Errorf(closeCtx, "unable to close the player: %v", err)
	}
	bus.WaitAsync()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "updates: %d\n", stats.Updates)
	fmt.Fprintf(w, "rendered frames: %d (skipped: %d, while buffering: %d)\n", stats.RenderedFrames, stats.SkippedFrames, stats.BufferingFrames)
	fmt.Fprintf(w, "loads: %d (deferred attempts: %d)\n", stats.Loads, stats.DeferredLoads)
	fmt.Fprintf(w, "buffering episodes: %d\n", events.BufferingEpisodes)
	fmt.Fprintf(w, "playbacks ended: %d\n", events.PlaybacksEnded)
	fmt.Fprintf(w, "sessions released: %d\n", events.SessionsReleased)
	for kind, count := range backend.Draws(closeCtx) {
		fmt.Fprintf(w, "draws with %s: %d\n", kind, count)
	}
	printProcessUsage(closeCtx, w)
}

func printProcessUsage(ctx context.Context, w io.Writer) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warnf(ctx, "unable to get the process info: %v", err)
		return
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		fmt.Fprintf(w, "resident memory: %s\n", humanize.Bytes(mem.RSS))
	} else {
		logger.Warnf(ctx, "unable to get the memory usage: %v", err)
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		fmt.Fprintf(w, "cpu: %.1f%%\n", cpu)
	} else {
		logger.Warnf(ctx, "unable to get the CPU usage: %v", err)
	}
}

type playLoopParams struct {
	FrameInterval        time.Duration
	SwitchInterval       time.Duration
	Mode                 int
	SurfaceNormalShading bool
}

// runPlayLoop emulates the update and render callbacks of a display until
// ctx is done. A file switch that is deferred is retried every frame.
func runPlayLoop(
	ctx context.Context,
	p *xrvplayer.Player,
	video xrvplayer.VideoHandle,
	files [][]byte,
	params playLoopParams,
) playStats {
	logger.Debugf(ctx, "runPlayLoop")
	defer logger.Debugf(ctx, "/runPlayLoop")

	var stats playStats
	ticker := time.NewTicker(params.FrameInterval)
	defer ticker.Stop()

	next := 0
	pending := true
	lastSwitch := time.Now()
	lastTick := lastSwitch
	for {
		select {
		case <-ctx.Done():
			return stats
		case now := <-ticker.C:
			if params.SwitchInterval > 0 && len(files) > 1 && now.Sub(lastSwitch) >= params.SwitchInterval {
				pending = true
			}
			if pending {
				result, err := p.Load(ctx, video, files[next], params.Mode)
				assertNoError(ctx, err)
				switch result {
				case xrvideo.LoadStarted:
					stats.Loads++
					next = (next + 1) % len(files)
					pending = false
					lastSwitch = now
				case xrvideo.LoadDeferred:
					stats.DeferredLoads++
				}
			}

			ts, err := p.Update(ctx, video, now.Sub(lastTick).Seconds())
			assertNoError(ctx, err)
			lastTick = now
			stats.Updates++
			logger.Tracef(ctx, "timestamp: %.3fs", ts)

			renderFrame(ctx, p, video, params.SurfaceNormalShading, &stats)
		}
	}
}

func renderFrame(
	ctx context.Context,
	p *xrvplayer.Player,
	video xrvplayer.VideoHandle,
	shading bool,
	stats *playStats,
) {
	lock, err := p.PrepareRenderLock(ctx, video)
	assertNoError(ctx, err)
	if lock == 0 {
		stats.SkippedFrames++
		return
	}
	defer func() {
		assertNoError(ctx, p.DestroyRenderLock(ctx, video, lock))
	}()

	buffering, err := p.IsBuffering(ctx, video)
	assertNoError(ctx, err)
	if buffering {
		stats.BufferingFrames++
		progress, err := p.BufferingProgressPercent(ctx, video)
		assertNoError(ctx, err)
		logger.Tracef(ctx, "buffering: %.0f%%", progress)
	}

	if err := p.Render(ctx, video, identityMatrix, identityMatrix, shading, lock); err != nil {
		logger.Errorf(ctx, "unable to render: %v", err)
		return
	}
	stats.RenderedFrames++
}

func handleInterrupt(
	ctx context.Context,
	cancelFn context.CancelFunc,
) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	observability.Go(ctx, func(ctx context.Context) {
		defer signal.Stop(c)
		select {
		case <-ctx.Done():
		case <-c:
			logger.Infof(ctx, "interrupted")
			cancelFn()
		}
	})
}
