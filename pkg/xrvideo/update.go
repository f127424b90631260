package xrvideo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xrvideo/pkg/framecache"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo/types"
	"github.com/xaionaro-go/xsync"
)

// Update advances the playback by elapsed, unless buffering, and returns
// the playback timestamp. It never waits for decoding. Before the video is
// loaded it does nothing and returns zero.
func (v *Video) Update(
	ctx context.Context,
	elapsed time.Duration,
) time.Duration {
	logger.Tracef(ctx, "Update(ctx, %v)", elapsed)
	defer logger.Tracef(ctx, "/Update(ctx, %v)", elapsed)
	defer v.publishEvents(ctx)
	return xsync.DoR1(ctx, &v.locker, func() time.Duration {
		return v.updateLocked(ctx, elapsed)
	})
}

func (v *Video) updateLocked(
	ctx context.Context,
	elapsed time.Duration,
) time.Duration {
	v.releaseSupersededLocked(ctx)
	s := v.current
	if !s.isReady() || v.closed {
		if s != nil && s.state == AsyncLoadStateLoading {
			v.updateIndicatorLocked(framecache.Progress{})
		}
		return 0
	}

	if v.clock.Buffering() && !v.shouldBufferLocked(ctx) {
		v.stopBufferingLocked(ctx)
	}

	if !v.clock.Buffering() && elapsed > 0 {
		v.clock.Advance(elapsed)
	}
	ts := v.clock.Timestamp()
	seq := s.index.FindFrameForTimestamp(ts)
	if seq < 0 {
		logger.Errorf(ctx, "internal error: the playback timestamp %v did not yield a frame", ts)
		return ts
	}
	v.requestWindowLocked(ctx)
	v.cache.EvictOutsideWindow(ctx)

	if !v.clock.Buffering() && !v.cache.IsRenderable(ctx, seq) {
		v.startBufferingLocked(ctx, fmt.Sprintf("frame %d is not decoded", seq))
	}
	switch v.clock.State() {
	case playback.StateEnded:
		if !s.ended {
			s.ended = true
			logger.Debugf(ctx, "the playback of session %s ended", s.id)
			v.queueEventLocked(types.EventPlaybackEnded{SessionID: s.id})
		}
	case playback.StateBuffering:
	default:
		s.ended = false
	}
	return ts
}

func (v *Video) requestWindowLocked(ctx context.Context) {
	v.cache.RequestWindow(ctx, framecache.Window{
		Center:  v.currentFrameLocked(),
		Forward: v.clock.Forward(),
		Mode:    v.clock.Mode(),
	})
}

func (v *Video) startBufferingLocked(ctx context.Context, reason string) {
	logger.Debugf(ctx, "starting buffering at %v: %s", v.clock.Timestamp(), reason)
	v.clock.SetBuffering(true)
	v.bufferingSince = v.config.Clock.Now()
	v.bufferingProgress = 0
	v.showIndicator = false
	metricBufferingEpisodes.Inc()
	v.queueEventLocked(types.EventBufferingStarted{
		SessionID: v.current.id,
		Timestamp: v.clock.Timestamp(),
	})
}

func (v *Video) stopBufferingLocked(ctx context.Context) {
	duration := v.config.Clock.Since(v.bufferingSince)
	logger.Debugf(ctx, "stopping buffering at %v after %v", v.clock.Timestamp(), duration)
	v.clock.SetBuffering(false)
	v.bufferingProgress = 1
	v.showIndicator = false
	v.queueEventLocked(types.EventBufferingFinished{
		SessionID: v.current.id,
		Timestamp: v.clock.Timestamp(),
		Duration:  duration,
	})
}

// shouldBufferLocked decides whether enough frames ahead of the playback
// head are decoded to play, and updates the buffering progress estimate.
//
// Playing may start once MinimumReadyFrames frames ahead are ready and
// either decoding keeps up with the playback, nothing is left to decode,
// or the cache is full.
func (v *Video) shouldBufferLocked(ctx context.Context) bool {
	idx := v.current.index
	p := v.cache.Progress(ctx)

	remaining := math.MaxInt
	if v.clock.Mode() == playback.ModeSingleShot {
		seq := v.currentFrameLocked()
		if v.clock.Forward() {
			remaining = idx.FrameCount() - seq
		} else {
			remaining = seq + 1
		}
	}
	// The dependencies of the frames ahead take cache slots as well, so a
	// small cache may never fit MinimumReadyFrames frames: whatever fits
	// is enough then.
	minReady := max(1, min(v.config.MinimumReadyFrames, p.LookAhead, remaining))

	remainingToDecode := max(0, remaining-p.Ready)
	if p.Capacity >= idx.FrameCount() {
		remainingToDecode = min(remainingToDecode, idx.FrameCount()-p.Ready)
	}
	realTime := v.isRealTimeLocked(ctx)

	target := p.LookAhead
	if realTime {
		target = minReady
	}
	target = min(target, p.Ready+remainingToDecode)
	target = max(target, minReady, 1)
	v.bufferingProgress = math.Min(1, float64(p.Ready)/float64(target))

	logger.Tracef(ctx, "shouldBuffer: %#+v, minReady:%d, remainingToDecode:%d, realTime:%t", p, minReady, remainingToDecode, realTime)
	if p.Ready >= minReady && (realTime || remainingToDecode == 0 || p.Ready >= p.LookAhead) {
		return false
	}
	v.updateIndicatorLocked(p)
	return true
}

// isRealTimeLocked reports whether the workers decode frames faster than
// they are played, with RealTimeHeadroom to spare.
func (v *Video) isRealTimeLocked(ctx context.Context) bool {
	avgDecode := v.cache.AverageDecodeTime()
	if avgDecode <= 0 {
		return false
	}
	speed := v.clock.Speed()
	if speed <= 0 {
		return true
	}
	perFrame := float64(avgDecode) / float64(v.config.DecodeWorkers)
	frameDuration := float64(v.current.index.AverageFrameDuration()) / speed
	return perFrame <= v.config.RealTimeHeadroom*frameDuration
}

func (v *Video) updateIndicatorLocked(p framecache.Progress) {
	if v.showIndicator {
		return
	}
	if v.config.Clock.Since(v.bufferingSince) >= v.config.BufferingIndicatorDelay {
		v.showIndicator = true
		return
	}
	// no need to wait if decoding is known to be too slow
	if v.current.isReady() && p.Ready >= 2 && v.cache.AverageDecodeTime() > 0 && !v.isRealTimeLocked(context.Background()) {
		v.showIndicator = true
	}
}

// IsBuffering reports whether the playback waits for the container to be
// parsed or for frames to be decoded.
func (v *Video) IsBuffering(ctx context.Context) bool {
	return xsync.DoR1(ctx, &v.locker, func() bool {
		s := v.current
		if s == nil {
			return false
		}
		switch s.state {
		case AsyncLoadStateLoading:
			return true
		case AsyncLoadStateError:
			return false
		}
		return v.clock.Buffering()
	})
}

// BufferingProgressPercent is a rough estimate in [0, 100] of how close
// the buffering is to its end: the ready frames ahead of the playback head
// relative to the frames required to stop buffering.
func (v *Video) BufferingProgressPercent(ctx context.Context) float64 {
	return xsync.DoR1(ctx, &v.locker, func() float64 {
		s := v.current
		if s == nil || s.state != AsyncLoadStateReady {
			return 0
		}
		if !v.clock.Buffering() {
			return 100
		}
		return math.Max(0, math.Min(100, 100*v.bufferingProgress))
	})
}

// BufferingIndicatorShouldBeShown is true when the buffering lasts longer
// than BufferingIndicatorDelay, or is expected to.
func (v *Video) BufferingIndicatorShouldBeShown(ctx context.Context) bool {
	return xsync.DoR1(ctx, &v.locker, func() bool {
		s := v.current
		if s == nil || s.state == AsyncLoadStateError {
			return false
		}
		if s.state == AsyncLoadStateReady && !v.clock.Buffering() {
			return false
		}
		return v.showIndicator
	})
}

// Seek moves the playback to ts (clamped to the video range) in the given
// direction and starts buffering if too few frames are decoded there.
func (v *Video) Seek(
	ctx context.Context,
	ts time.Duration,
	forward bool,
) error {
	logger.Debugf(ctx, "Seek(ctx, %v, %t)", ts, forward)
	defer logger.Debugf(ctx, "/Seek(ctx, %v, %t)", ts, forward)
	defer v.publishEvents(ctx)
	return xsync.DoR1(ctx, &v.locker, func() error {
		if !v.current.isReady() {
			return ErrNotReady
		}
		v.clock.Seek(ts, forward)
		v.requestWindowLocked(ctx)
		v.cache.EvictOutsideWindow(ctx)
		if !v.clock.Buffering() && v.shouldBufferLocked(ctx) {
			v.startBufferingLocked(ctx, "too few frames are decoded after seeking")
		}
		return nil
	})
}

// SetPlaybackMode does not change the timestamp or the direction; after
// leaving BackAndForth while playing backwards, Seek to play forward.
func (v *Video) SetPlaybackMode(
	ctx context.Context,
	mode playback.Mode,
) error {
	logger.Debugf(ctx, "SetPlaybackMode(ctx, %s)", mode)
	defer logger.Debugf(ctx, "/SetPlaybackMode(ctx, %s)", mode)
	if !mode.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidPlaybackMode, int(mode))
	}
	return xsync.DoR1(ctx, &v.locker, func() error {
		if !v.current.isReady() {
			return ErrNotReady
		}
		v.clock.SetMode(mode)
		v.requestWindowLocked(ctx)
		return nil
	})
}

// SetPlaybackSpeed sets the speed multiplier, kept across loads. A
// negative or non-finite speed pauses the playback.
func (v *Video) SetPlaybackSpeed(
	ctx context.Context,
	speed float64,
) {
	logger.Debugf(ctx, "SetPlaybackSpeed(ctx, %f)", speed)
	defer logger.Debugf(ctx, "/SetPlaybackSpeed(ctx, %f)", speed)
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		logger.Errorf(ctx, "invalid playback speed %f, pausing", speed)
		speed = 0
	}
	v.locker.Do(ctx, func() {
		v.speed = math.Max(0, speed)
		v.clock.SetSpeed(v.speed)
	})
}

func (v *Video) StartTimestamp(ctx context.Context) time.Duration {
	return v.readyTimestamp(ctx, "StartTimestamp", func() time.Duration { return v.clock.Start() })
}

func (v *Video) EndTimestamp(ctx context.Context) time.Duration {
	return v.readyTimestamp(ctx, "EndTimestamp", func() time.Duration { return v.clock.End() })
}

func (v *Video) PlaybackTimestamp(ctx context.Context) time.Duration {
	return v.readyTimestamp(ctx, "PlaybackTimestamp", func() time.Duration { return v.clock.Timestamp() })
}

// readyTimestamp returns zero and reports the contract violation if the
// video is not loaded yet.
func (v *Video) readyTimestamp(
	ctx context.Context,
	name string,
	fn func() time.Duration,
) time.Duration {
	var violation error
	ts := xsync.DoR1(ctx, &v.locker, func() time.Duration {
		if !v.current.isReady() {
			violation = fmt.Errorf("%w: %s is called before the video is loaded", ErrContractViolation, name)
			return 0
		}
		return fn()
	})
	v.reportContractViolation(ctx, violation)
	return ts
}
