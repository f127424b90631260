package xrvideo

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xrvideo/pkg/frameindex"
	"github.com/xaionaro-go/xrvideo/pkg/observability"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo/types"
	"github.com/xaionaro-go/xsync"
)

// Load starts switching to the container in buf. The buffer is copied, so
// the caller may reuse it right away. If the previous switch is not
// complete yet (see SwitchedToMostRecentVideo), the call has no effect and
// returns LoadDeferred.
func (v *Video) Load(
	ctx context.Context,
	buf []byte,
	mode playback.Mode,
) (_ret LoadResult, _err error) {
	logger.Debugf(ctx, "Load(ctx, <%s>, %s)", humanize.Bytes(uint64(len(buf))), mode)
	defer func() {
		logger.Debugf(ctx, "/Load(ctx, <%s>, %s): %s %v", humanize.Bytes(uint64(len(buf))), mode, _ret, _err)
	}()
	if !v.IsInitialized() {
		return LoadDeferred, v.initErr
	}
	if !mode.IsValid() {
		return LoadDeferred, fmt.Errorf("%w: %d", ErrInvalidPlaybackMode, int(mode))
	}
	defer v.publishEvents(ctx)

	return xsync.DoR2(ctx, &v.locker, func() (LoadResult, error) {
		if v.closed {
			return LoadDeferred, ErrClosed
		}
		if v.current != nil && !v.switchCompletedLocked(ctx) {
			logger.Debugf(ctx, "the previous switch is not complete, deferring the load")
			metricLoads.WithLabelValues(LoadDeferred.String()).Inc()
			v.queueEventLocked(types.EventLoadDeferred{Size: len(buf)})
			return LoadDeferred, nil
		}
		v.startLoadLocked(ctx, buf, mode)
		return LoadStarted, nil
	})
}

func (v *Video) startLoadLocked(
	ctx context.Context,
	buf []byte,
	mode playback.Mode,
) {
	if prev := v.current; prev != nil {
		prev.superseded = true
		v.superseded = append(v.superseded, prev)
	}
	v.lastGeneration++
	s := newSession(v.lastGeneration, buf, mode)
	v.current = s
	logger.Debugf(ctx, "started session %s (generation %d)", s.id, s.generation)

	v.cache.Reset(ctx, s.generation, nil, 0)
	v.clock = playback.Clock{}
	v.bufferingSince = v.config.Clock.Now()
	v.bufferingProgress = 0
	v.showIndicator = false
	v.releaseSupersededLocked(ctx)

	metricLoads.WithLabelValues(LoadStarted.String()).Inc()
	v.queueEventLocked(types.EventLoadStarted{SessionID: s.id, Size: len(buf)})

	v.acquireLocked(s)
	parseCtx := belt.WithField(xcontext.DetachDone(ctx), "session", s.id.String())
	observability.GoSafe(parseCtx, func(ctx context.Context) {
		v.parse(ctx, s)
	})
}

func (v *Video) parse(
	ctx context.Context,
	s *session,
) {
	logger.Debugf(ctx, "parse")
	defer logger.Debugf(ctx, "/parse")
	defer v.publishEvents(ctx)

	// s.buffer is not released while the parse holds a reference
	idx, err := frameindex.Parse(ctx, s.buffer)
	if err != nil {
		logger.Errorf(ctx, "unable to parse the container: %v", err)
		errmon.ObserveErrorCtx(ctx, err)
	}

	v.locker.Do(ctx, func() {
		defer v.releaseLocked(ctx, s)
		if s.state != AsyncLoadStateLoading {
			logger.Errorf(ctx, "internal error: session %s is already in state %s", s.id, s.state)
			return
		}
		if err != nil {
			s.state, s.err = AsyncLoadStateError, err
		} else {
			s.state, s.index = AsyncLoadStateReady, idx
		}
		v.queueEventLocked(types.EventLoadStateChanged{SessionID: s.id, State: s.state, Error: s.err})
		if s.superseded || v.closed || s.state != AsyncLoadStateReady {
			return
		}
		v.activateLocked(ctx, s)
	})
}

// activateLocked points the clock and the cache at the freshly parsed
// current session.
func (v *Video) activateLocked(
	ctx context.Context,
	s *session,
) {
	capacity := s.index.FrameCount()
	if v.config.CachedDecodedFrameCount > 0 && v.config.CachedDecodedFrameCount < capacity {
		capacity = v.config.CachedDecodedFrameCount
	}
	logger.Debugf(ctx, "session %s: %d frames over [%v, %v], cache capacity %d", s.id, s.index.FrameCount(), s.index.StartTimestamp(), s.index.EndTimestamp(), capacity)

	v.clock = playback.NewClock(s.index.StartTimestamp(), s.index.EndTimestamp(), s.mode)
	v.clock.SetSpeed(v.speed)
	v.cache.Reset(ctx, s.generation, s.index, capacity)
	v.requestWindowLocked(ctx)
	v.startBufferingLocked(ctx, "the video is loaded")
}

// SwitchedToMostRecentVideo reports whether the last Load has completed:
// every previous video is released and the current one either failed to
// load or has the frames for the current timestamp decoded. Only then is
// the next Load accepted. It also releases the previous videos nothing
// refers to anymore.
func (v *Video) SwitchedToMostRecentVideo(ctx context.Context) bool {
	defer v.publishEvents(ctx)
	return xsync.DoR1(ctx, &v.locker, func() bool {
		return v.switchCompletedLocked(ctx)
	})
}

func (v *Video) switchCompletedLocked(ctx context.Context) bool {
	if v.releaseSupersededLocked(ctx) {
		return false
	}
	s := v.current
	if s == nil {
		return true
	}
	switch s.state {
	case AsyncLoadStateLoading:
		return false
	case AsyncLoadStateError:
		return true
	}
	seq := s.index.FindFrameForTimestamp(v.clock.Timestamp())
	return v.cache.IsRenderable(ctx, seq) || v.cache.IsFailed(ctx, seq)
}

// IsCurrentFrameDisplayReady reports whether the switch is complete and
// the frame at the playback timestamp can be rendered right now.
func (v *Video) IsCurrentFrameDisplayReady(ctx context.Context) bool {
	defer v.publishEvents(ctx)
	return xsync.DoR1(ctx, &v.locker, func() bool {
		if !v.switchCompletedLocked(ctx) || !v.current.isReady() {
			return false
		}
		return v.cache.IsRenderable(ctx, v.currentFrameLocked())
	})
}

func (v *Video) currentFrameLocked() int {
	return v.current.index.FindFrameForTimestamp(v.clock.Timestamp())
}
