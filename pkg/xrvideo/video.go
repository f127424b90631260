// Package xrvideo is the playback engine of volumetric videos: it loads
// containers, decodes frames in the background, runs the playback clock
// and hands consistent frames to the renderer.
package xrvideo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xrvideo/pkg/commonresources"
	"github.com/xaionaro-go/xrvideo/pkg/framecache"
	"github.com/xaionaro-go/xrvideo/pkg/observability"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo/types"
	"github.com/xaionaro-go/xsync"
)

type Video struct {
	locker    xsync.Mutex
	config    Config
	resources *commonresources.CommonResources
	cache     *framecache.Cache
	initErr   error
	closed    bool

	current        *session
	superseded     []*session
	lastGeneration framecache.Generation

	clock             playback.Clock
	speed             float64
	bufferingSince    time.Time
	bufferingProgress float64
	showIndicator     bool

	pendingEvents []types.Event

	workersCancel context.CancelFunc
	workersWG     sync.WaitGroup
}

// New creates a video bound to the common resources. It never fails hard:
// check IsInitialized before use.
func New(
	ctx context.Context,
	resources *commonresources.CommonResources,
	opts ...Option,
) *Video {
	logger.Debugf(ctx, "New")
	defer logger.Debugf(ctx, "/New")

	v := &Video{
		config:    Options(opts).Config(),
		resources: resources,
		cache:     framecache.New(),
		speed:     1,
	}
	if v.config.CachedDecodedFrameCount != 0 && v.config.CachedDecodedFrameCount < MinimumCachedDecodedFrameCount {
		logger.Warnf(ctx, "the decoded frame cache of %d frames is too small, using %d", v.config.CachedDecodedFrameCount, MinimumCachedDecodedFrameCount)
		v.config.CachedDecodedFrameCount = MinimumCachedDecodedFrameCount
	}
	if v.config.DecodeWorkers < 1 {
		v.config.DecodeWorkers = 1
	}
	if v.config.MinimumReadyFrames < 1 {
		v.config.MinimumReadyFrames = 1
	}

	if resources == nil {
		v.initErr = fmt.Errorf("%w: no common resources", ErrNotInitialized)
		return v
	}
	if err := resources.Acquire(ctx); err != nil {
		v.initErr = fmt.Errorf("%w: %w", ErrNotInitialized, err)
		logger.Warnf(ctx, "unable to initialize the video: %v", err)
		return v
	}

	workersCtx, cancelFn := context.WithCancel(xcontext.DetachDone(ctx))
	v.workersCancel = cancelFn
	for workerID := 0; workerID < v.config.DecodeWorkers; workerID++ {
		observability.GoSafeWG(workersCtx, &v.workersWG, func(ctx context.Context) {
			v.decodeLoop(ctx, workerID)
		})
	}
	return v
}

func (v *Video) IsInitialized() bool {
	return v != nil && v.initErr == nil
}

// InitError explains why the video is not initialized.
func (v *Video) InitError() error {
	return v.initErr
}

func (v *Video) Config() Config {
	return v.config
}

// Close stops the decode workers and detaches the video from the common
// resources. Outstanding render locks are reported as an error.
func (v *Video) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	defer logger.Debugf(ctx, "/Close")

	var result *multierror.Error
	alreadyClosed := xsync.DoR1(ctx, &v.locker, func() bool {
		if v.closed {
			return true
		}
		v.closed = true
		for _, s := range append([]*session{v.current}, v.superseded...) {
			if s != nil && s.renderLock != nil {
				result = multierror.Append(result, fmt.Errorf("%w: session %s", ErrRenderLocksOutstanding, s.id))
			}
		}
		return false
	})
	if alreadyClosed {
		return ErrClosed
	}
	if v.initErr != nil {
		return result.ErrorOrNil()
	}

	v.workersCancel()
	v.workersWG.Wait()
	v.cache.Reset(ctx, 0, nil, 0)
	v.resources.Release(ctx)
	return result.ErrorOrNil()
}

// AsyncLoadState reports the state of parsing the most recently loaded
// container; Loading if nothing was loaded.
func (v *Video) AsyncLoadState(ctx context.Context) AsyncLoadState {
	return xsync.DoR1(ctx, &v.locker, func() AsyncLoadState {
		if v.current == nil {
			return AsyncLoadStateLoading
		}
		return v.current.state
	})
}

// LoadError is the reason of AsyncLoadStateError.
func (v *Video) LoadError(ctx context.Context) error {
	return xsync.DoR1(ctx, &v.locker, func() error {
		if v.current == nil {
			return nil
		}
		return v.current.err
	})
}

// Metadata returns the optional metadata chunk of the current video.
func (v *Video) Metadata(ctx context.Context) *xrvfile.Metadata {
	return xsync.DoR1(ctx, &v.locker, func() *xrvfile.Metadata {
		if !v.current.isReady() {
			return nil
		}
		return v.current.index.Metadata
	})
}

func (v *Video) FrameCount(ctx context.Context) int {
	return xsync.DoR1(ctx, &v.locker, func() int {
		if !v.current.isReady() {
			return 0
		}
		return v.current.index.FrameCount()
	})
}

func (v *Video) PlaybackState(ctx context.Context) playback.State {
	return xsync.DoR1(ctx, &v.locker, func() playback.State {
		if v.current == nil || v.current.state == AsyncLoadStateLoading {
			return playback.StateBuffering
		}
		if !v.current.isReady() {
			return playback.StateStoppedAtStart
		}
		return v.clock.State()
	})
}

// OutstandingRenderLocks counts the render locks prepared and not
// destroyed yet, over the current and the superseded videos.
func (v *Video) OutstandingRenderLocks(ctx context.Context) int {
	return xsync.DoR1(ctx, &v.locker, func() int {
		count := 0
		for _, s := range append([]*session{v.current}, v.superseded...) {
			if s != nil && s.renderLock != nil {
				count++
			}
		}
		return count
	})
}

func (v *Video) reportContractViolation(ctx context.Context, err error) {
	if err == nil {
		return
	}
	logger.Errorf(ctx, "%v", err)
	errmon.ObserveErrorCtx(ctx, err)
	if v.config.Debug {
		panic(err)
	}
}

func (v *Video) queueEventLocked(event types.Event) {
	metricEvents.WithLabelValues(eventMetricLabel(event)).Inc()
	if v.config.EventBus == nil {
		return
	}
	v.pendingEvents = append(v.pendingEvents, event)
}

// publishEvents is called after unlocking, so subscribers may call back
// into the video.
func (v *Video) publishEvents(ctx context.Context) {
	if v.config.EventBus == nil {
		return
	}
	events := xsync.DoR1(ctx, &v.locker, func() []types.Event {
		events := v.pendingEvents
		v.pendingEvents = nil
		return events
	})
	for _, event := range events {
		logger.Tracef(ctx, "publishing %s: %#+v", types.EventTopic(event), event)
		v.config.EventBus.Publish(types.EventTopic(event), event)
	}
}
