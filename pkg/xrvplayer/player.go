// Package xrvplayer is the flat binding surface of the engine: objects are
// addressed by handles, times are in seconds and matrices are 16-element
// column-major slices.
package xrvplayer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/xrvideo/pkg/commonresources"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo"
)

var (
	ErrInvalidHandle = errors.New("invalid handle")
	ErrInvalidMatrix = errors.New("a matrix must have 16 elements")
	ErrInvalidTime   = errors.New("invalid time value")
)

type CommonResourcesHandle uint64
type VideoHandle uint64
type RenderLockHandle uint64

type renderLockEntry struct {
	video VideoHandle
	lock  *xrvideo.RenderLock
}

type Player struct {
	resources   *handleTable[CommonResourcesHandle, *commonresources.CommonResources]
	videos      *handleTable[VideoHandle, *xrvideo.Video]
	renderLocks *handleTable[RenderLockHandle, renderLockEntry]
}

func New() *Player {
	return &Player{
		resources:   newHandleTable[CommonResourcesHandle, *commonresources.CommonResources](),
		videos:      newHandleTable[VideoHandle, *xrvideo.Video](),
		renderLocks: newHandleTable[RenderLockHandle, renderLockEntry](),
	}
}

// NewCommonResources always returns a handle; check it with
// CommonResourcesInitialized.
func (p *Player) NewCommonResources(
	ctx context.Context,
	backend commonresources.Backend,
) CommonResourcesHandle {
	return p.resources.register(ctx, commonresources.New(ctx, backend))
}

func (p *Player) CommonResourcesInitialized(
	ctx context.Context,
	h CommonResourcesHandle,
) bool {
	r, err := p.resources.lookup(ctx, h)
	if err != nil {
		return false
	}
	return r.IsInitialized()
}

// DestroyCommonResources fails while videos created with the resources are
// alive; the handle stays valid then.
func (p *Player) DestroyCommonResources(
	ctx context.Context,
	h CommonResourcesHandle,
) error {
	r, err := p.resources.lookup(ctx, h)
	if err != nil {
		return err
	}
	if err := r.Destroy(ctx); err != nil && !errors.Is(err, commonresources.ErrDestroyed) {
		return err
	}
	_, err = p.resources.unregister(ctx, h)
	return err
}

// NewVideo creates a video; a zero cachedDecodedFrameCount caches every
// frame.
func (p *Player) NewVideo(
	ctx context.Context,
	resources CommonResourcesHandle,
	cachedDecodedFrameCount int,
	opts ...xrvideo.Option,
) (VideoHandle, error) {
	r, err := p.resources.lookup(ctx, resources)
	if err != nil {
		return 0, err
	}
	opts = append([]xrvideo.Option{xrvideo.OptionCachedDecodedFrameCount(cachedDecodedFrameCount)}, opts...)
	v := xrvideo.New(ctx, r, opts...)
	if !v.IsInitialized() {
		return 0, v.InitError()
	}
	return p.videos.register(ctx, v), nil
}

// DestroyVideo closes the video. Render locks of the video that were not
// destroyed are dropped and reported.
func (p *Player) DestroyVideo(
	ctx context.Context,
	h VideoHandle,
) error {
	v, err := p.videos.unregister(ctx, h)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, entry := range p.renderLocks.unregisterIf(ctx, func(e renderLockEntry) bool { return e.video == h }) {
		if err := v.DestroyRenderLock(ctx, entry.lock); err != nil {
			result = multierror.Append(result, err)
		}
		result = multierror.Append(result, fmt.Errorf("the render lock of frame %d was not destroyed before the video", entry.lock.Frame.Seq))
	}
	if err := v.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to close the video: %w", err))
	}
	return result.ErrorOrNil()
}

func (p *Player) Load(
	ctx context.Context,
	h VideoHandle,
	buf []byte,
	mode int,
) (xrvideo.LoadResult, error) {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return xrvideo.LoadDeferred, err
	}
	return v.Load(ctx, buf, playback.Mode(mode))
}

func (p *Player) AsyncLoadState(
	ctx context.Context,
	h VideoHandle,
) (xrvideo.AsyncLoadState, error) {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return xrvideo.AsyncLoadStateError, err
	}
	return v.AsyncLoadState(ctx), nil
}

func (p *Player) SwitchedToMostRecentVideo(
	ctx context.Context,
	h VideoHandle,
) (bool, error) {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return false, err
	}
	return v.SwitchedToMostRecentVideo(ctx), nil
}

// Update advances the video by elapsedSeconds and returns the playback
// timestamp in seconds.
func (p *Player) Update(
	ctx context.Context,
	h VideoHandle,
	elapsedSeconds float64,
) (float64, error) {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return 0, err
	}
	elapsed, err := secondsToDuration(elapsedSeconds)
	if err != nil {
		return 0, err
	}
	return v.Update(ctx, elapsed).Seconds(), nil
}

// PrepareRenderLock returns zero if there is no frame to render.
func (p *Player) PrepareRenderLock(
	ctx context.Context,
	h VideoHandle,
) (RenderLockHandle, error) {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return 0, err
	}
	lock := v.PrepareRenderLock(ctx)
	if lock == nil {
		return 0, nil
	}
	return p.renderLocks.register(ctx, renderLockEntry{video: h, lock: lock}), nil
}

func (p *Player) Render(
	ctx context.Context,
	h VideoHandle,
	modelView []float32,
	modelViewProjection []float32,
	surfaceNormalShading bool,
	lockHandle RenderLockHandle,
) error {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return err
	}
	entry, err := p.renderLocks.lookup(ctx, lockHandle)
	if err != nil {
		return err
	}
	mv, err := toMatrix(modelView)
	if err != nil {
		return fmt.Errorf("model-view: %w", err)
	}
	mvp, err := toMatrix(modelViewProjection)
	if err != nil {
		return fmt.Errorf("model-view-projection: %w", err)
	}
	return v.Render(ctx, mv, mvp, surfaceNormalShading, entry.lock)
}

func (p *Player) DestroyRenderLock(
	ctx context.Context,
	h VideoHandle,
	lockHandle RenderLockHandle,
) error {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return err
	}
	entry, err := p.renderLocks.lookup(ctx, lockHandle)
	if err != nil {
		return err
	}
	if entry.video != h {
		return fmt.Errorf("%w: the render lock belongs to video %d", ErrInvalidHandle, entry.video)
	}
	if _, err := p.renderLocks.unregister(ctx, lockHandle); err != nil {
		return err
	}
	return v.DestroyRenderLock(ctx, entry.lock)
}

func (p *Player) SetPlaybackMode(
	ctx context.Context,
	h VideoHandle,
	mode int,
) error {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return err
	}
	return v.SetPlaybackMode(ctx, playback.Mode(mode))
}

func (p *Player) StartTimestamp(ctx context.Context, h VideoHandle) (float64, error) {
	return p.timestamp(ctx, h, (*xrvideo.Video).StartTimestamp)
}

func (p *Player) EndTimestamp(ctx context.Context, h VideoHandle) (float64, error) {
	return p.timestamp(ctx, h, (*xrvideo.Video).EndTimestamp)
}

func (p *Player) PlaybackTimestamp(ctx context.Context, h VideoHandle) (float64, error) {
	return p.timestamp(ctx, h, (*xrvideo.Video).PlaybackTimestamp)
}

func (p *Player) timestamp(
	ctx context.Context,
	h VideoHandle,
	fn func(*xrvideo.Video, context.Context) time.Duration,
) (float64, error) {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return 0, err
	}
	return fn(v, ctx).Seconds(), nil
}

func (p *Player) Seek(
	ctx context.Context,
	h VideoHandle,
	timestampSeconds float64,
	forward bool,
) error {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return err
	}
	ts, err := secondsToDuration(timestampSeconds)
	if err != nil {
		return err
	}
	return v.Seek(ctx, ts, forward)
}

func (p *Player) IsBuffering(
	ctx context.Context,
	h VideoHandle,
) (bool, error) {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return false, err
	}
	return v.IsBuffering(ctx), nil
}

func (p *Player) BufferingProgressPercent(
	ctx context.Context,
	h VideoHandle,
) (float64, error) {
	v, err := p.videos.lookup(ctx, h)
	if err != nil {
		return 0, err
	}
	return v.BufferingProgressPercent(ctx), nil
}

// Close destroys everything that is still alive: render locks, videos and
// then the common resources.
func (p *Player) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	defer logger.Debugf(ctx, "/Close")

	var result *multierror.Error
	for _, entry := range p.renderLocks.unregisterIf(ctx, func(renderLockEntry) bool { return true }) {
		v, err := p.videos.lookup(ctx, entry.video)
		if err != nil {
			continue
		}
		if err := v.DestroyRenderLock(ctx, entry.lock); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, v := range p.videos.unregisterIf(ctx, func(*xrvideo.Video) bool { return true }) {
		if err := v.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, r := range p.resources.unregisterIf(ctx, func(*commonresources.CommonResources) bool { return true }) {
		if err := r.Destroy(ctx); err != nil && !errors.Is(err, commonresources.ErrDestroyed) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// maxSeconds keeps the conversion within the range of time.Duration.
var maxSeconds = math.Floor(float64(math.MaxInt64) / float64(time.Second))

func secondsToDuration(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || math.Abs(seconds) > maxSeconds {
		return 0, fmt.Errorf("%w: %v seconds", ErrInvalidTime, seconds)
	}
	return time.Duration(math.Round(seconds * float64(time.Second))), nil
}

func toMatrix(m []float32) ([16]float32, error) {
	var result [16]float32
	if len(m) != len(result) {
		return result, fmt.Errorf("%w, got %d", ErrInvalidMatrix, len(m))
	}
	copy(result[:], m)
	return result, nil
}
