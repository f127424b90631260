package xrvideo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/xrvideo/pkg/clock"
	"github.com/xaionaro-go/xrvideo/pkg/commonresources"
	"github.com/xaionaro-go/xrvideo/pkg/frameindex"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/xrvdecode"
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile/xrvfiletest"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo/types"
	"github.com/xaionaro-go/xsync"
)

const waitTimeout = 10 * time.Second

type eventRecorder struct {
	locker xsync.Mutex
	topics []string
}

func (r *eventRecorder) Publish(topic string, args ...any) {
	r.locker.Do(context.Background(), func() {
		r.topics = append(r.topics, topic)
	})
}

func (r *eventRecorder) count(topic string) int {
	return xsync.DoR1(context.Background(), &r.locker, func() int {
		count := 0
		for _, t := range r.topics {
			if t == topic {
				count++
			}
		}
		return count
	})
}

// blockingDecoder decodes only after unblock is closed.
type blockingDecoder struct {
	unblock chan struct{}
}

func (d *blockingDecoder) Decode(ctx context.Context, payload []byte) (*xrvdecode.Frame, error) {
	select {
	case <-d.unblock:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return xrvdecode.Decode(ctx, payload)
}

// gatedDecoder decodes right away while its gate is open and waits while
// it is shut.
type gatedDecoder struct {
	locker xsync.Mutex
	gate   chan struct{}
}

func newGatedDecoder(t *testing.T) *gatedDecoder {
	d := &gatedDecoder{}
	t.Cleanup(d.open)
	return d
}

func (d *gatedDecoder) shut() {
	d.locker.Do(context.Background(), func() {
		if d.gate == nil {
			d.gate = make(chan struct{})
		}
	})
}

func (d *gatedDecoder) open() {
	d.locker.Do(context.Background(), func() {
		if d.gate != nil {
			close(d.gate)
			d.gate = nil
		}
	})
}

func (d *gatedDecoder) Decode(ctx context.Context, payload []byte) (*xrvdecode.Frame, error) {
	gate := xsync.DoR1(ctx, &d.locker, func() chan struct{} {
		return d.gate
	})
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return xrvdecode.Decode(ctx, payload)
}

type failingDecoder struct{}

var errBrokenFrame = errors.New("broken frame")

func (failingDecoder) Decode(context.Context, []byte) (*xrvdecode.Frame, error) {
	return nil, errBrokenFrame
}

func newTestVideo(
	t *testing.T,
	opts ...Option,
) (*Video, *commonresources.NullBackend) {
	ctx := context.Background()
	backend := commonresources.NewNullBackend()
	resources := commonresources.New(ctx, backend)
	require.True(t, resources.IsInitialized())

	v := New(ctx, resources, opts...)
	require.True(t, v.IsInitialized())
	t.Cleanup(func() {
		assert.NoError(t, v.Close(ctx))
		assert.NoError(t, resources.Destroy(ctx))
	})
	return v, backend
}

func newBlockingDecoder(t *testing.T) *blockingDecoder {
	d := &blockingDecoder{unblock: make(chan struct{})}
	// cleanups run in reverse order, so this one runs before Close
	t.Cleanup(func() {
		select {
		case <-d.unblock:
		default:
			close(d.unblock)
		}
	})
	return d
}

func load(t *testing.T, v *Video, buf []byte, mode playback.Mode) {
	result, err := v.Load(context.Background(), buf, mode)
	require.NoError(t, err)
	require.Equal(t, LoadStarted, result)
}

func waitReady(t *testing.T, v *Video) {
	ctx := context.Background()
	require.Eventually(t, func() bool {
		return v.AsyncLoadState(ctx) == AsyncLoadStateReady
	}, waitTimeout, time.Millisecond)
}

func waitPlaying(t *testing.T, v *Video) {
	ctx := context.Background()
	require.Eventually(t, func() bool {
		v.Update(ctx, 0)
		return v.AsyncLoadState(ctx) == AsyncLoadStateReady && !v.IsBuffering(ctx)
	}, waitTimeout, time.Millisecond)
}

func TestLoadStates(t *testing.T) {
	ctx := context.Background()

	t.Run("ready", func(t *testing.T) {
		v, _ := newTestVideo(t)
		assert.Equal(t, AsyncLoadStateLoading, v.AsyncLoadState(ctx))
		load(t, v, xrvfiletest.New(2*time.Second, 30).MustBuild(), playback.ModeSingleShot)

		var states []AsyncLoadState
		require.Eventually(t, func() bool {
			state := v.AsyncLoadState(ctx)
			if len(states) == 0 || states[len(states)-1] != state {
				states = append(states, state)
			}
			return state != AsyncLoadStateLoading
		}, waitTimeout, time.Millisecond)
		for range 10 {
			assert.Equal(t, AsyncLoadStateReady, v.AsyncLoadState(ctx))
		}
		assert.LessOrEqual(t, len(states), 2)
		assert.Equal(t, AsyncLoadStateReady, states[len(states)-1])
		assert.LessOrEqual(t, v.StartTimestamp(ctx), v.EndTimestamp(ctx))
		assert.Equal(t, 60, v.FrameCount(ctx))
	})

	t.Run("error", func(t *testing.T) {
		v, _ := newTestVideo(t)
		load(t, v, []byte{1, 2, 3, 4, 5, 6, 7}, playback.ModeLoop)
		require.Eventually(t, func() bool {
			return v.AsyncLoadState(ctx) == AsyncLoadStateError
		}, waitTimeout, time.Millisecond)
		require.ErrorIs(t, v.LoadError(ctx), frameindex.ErrMalformed)
		assert.False(t, v.IsBuffering(ctx))
		assert.True(t, v.SwitchedToMostRecentVideo(ctx))
		assert.Nil(t, v.PrepareRenderLock(ctx))
		assert.Equal(t, time.Duration(0), v.Update(ctx, time.Second))
		require.ErrorIs(t, v.Seek(ctx, 0, true), ErrNotReady)
		require.ErrorIs(t, v.SetPlaybackMode(ctx, playback.ModeLoop), ErrNotReady)
	})

	t.Run("invalid_mode", func(t *testing.T) {
		v, _ := newTestVideo(t)
		_, err := v.Load(ctx, xrvfiletest.New(time.Second, 30).MustBuild(), playback.Mode(7))
		require.ErrorIs(t, err, ErrInvalidPlaybackMode)
	})
}

func TestBufferingBeforeFirstFrame(t *testing.T) {
	ctx := context.Background()
	decoder := newBlockingDecoder(t)
	v, _ := newTestVideo(t, OptionCachedDecodedFrameCount(30), OptionDecoder{Decoder: decoder})

	load(t, v, xrvfiletest.New(5*time.Second, 60).MustBuild(), playback.ModeSingleShot)
	assert.True(t, v.IsBuffering(ctx))
	assert.Nil(t, v.PrepareRenderLock(ctx))
	assert.Equal(t, float64(0), v.BufferingProgressPercent(ctx))

	waitReady(t, v)
	for range 5 {
		v.Update(ctx, 100*time.Millisecond)
		assert.True(t, v.IsBuffering(ctx))
		assert.Nil(t, v.PrepareRenderLock(ctx))
		assert.Equal(t, float64(0), v.BufferingProgressPercent(ctx))
	}

	close(decoder.unblock)
	waitPlaying(t, v)
	assert.Equal(t, float64(100), v.BufferingProgressPercent(ctx))

	lock := v.PrepareRenderLock(ctx)
	require.NotNil(t, lock)
	assert.Equal(t, 0, lock.Frame.Seq)
	assert.Same(t, lock.Frame, lock.Keyframe)
	assert.Nil(t, lock.Predecessor)
	require.NoError(t, v.DestroyRenderLock(ctx, lock))

	assert.Equal(t, 30, v.cache.Capacity(ctx))
}

func TestUpdateIsIgnoredWhileBuffering(t *testing.T) {
	ctx := context.Background()
	decoder := newBlockingDecoder(t)
	v, _ := newTestVideo(t, OptionDecoder{Decoder: decoder})

	load(t, v, xrvfiletest.New(5*time.Second, 60).MustBuild(), playback.ModeLoop)
	waitReady(t, v)
	start := v.StartTimestamp(ctx)
	for range 20 {
		assert.Equal(t, start, v.Update(ctx, 100*time.Millisecond))
		assert.True(t, v.IsBuffering(ctx))
		assert.Equal(t, start, v.PlaybackTimestamp(ctx))
		assert.Equal(t, playback.StateBuffering, v.PlaybackState(ctx))
	}

	close(decoder.unblock)
	waitPlaying(t, v)
	assert.Equal(t, start+100*time.Millisecond, v.Update(ctx, 100*time.Millisecond))
}

func TestSeekAndPlayToTheEnd(t *testing.T) {
	ctx := context.Background()
	events := &eventRecorder{}
	v, _ := newTestVideo(t, OptionCachedDecodedFrameCount(30), OptionEventBus{EventBus: events})

	b := xrvfiletest.New(5*time.Second, 60)
	load(t, v, b.MustBuild(), playback.ModeSingleShot)
	waitPlaying(t, v)

	require.NoError(t, v.Seek(ctx, 4900*time.Millisecond, true))
	// frames 294..299 are left to play
	require.Eventually(t, func() bool {
		return v.cache.Progress(ctx).Ready == 6
	}, waitTimeout, time.Millisecond)
	waitPlaying(t, v)

	assert.Equal(t, b.EndTimestamp(), v.Update(ctx, time.Second))
	assert.Equal(t, b.EndTimestamp(), v.PlaybackTimestamp(ctx))
	assert.Equal(t, playback.StateEnded, v.PlaybackState(ctx))
	assert.Equal(t, 1, events.count(types.EventTopic(types.EventPlaybackEnded{})))

	for range 3 {
		lock := v.PrepareRenderLock(ctx)
		require.NotNil(t, lock)
		assert.Equal(t, 299, lock.Frame.Seq)
		assert.Equal(t, float32(1), lock.IntraFrameTime)
		require.NoError(t, v.DestroyRenderLock(ctx, lock))

		assert.Equal(t, b.EndTimestamp(), v.Update(ctx, time.Second))
		assert.False(t, v.IsBuffering(ctx))
	}
	assert.Equal(t, 1, events.count(types.EventTopic(types.EventPlaybackEnded{})))
}

func TestSeekIntoUndecodedFramesBuffers(t *testing.T) {
	ctx := context.Background()
	decoder := newGatedDecoder(t)
	v, _ := newTestVideo(t, OptionCachedDecodedFrameCount(30), OptionDecoder{Decoder: decoder})

	load(t, v, xrvfiletest.New(5*time.Second, 60).MustBuild(), playback.ModeSingleShot)
	waitPlaying(t, v)

	decoder.shut()
	require.NoError(t, v.Seek(ctx, 4*time.Second, true))
	require.True(t, v.IsBuffering(ctx))
	assert.False(t, v.cache.IsRenderable(ctx, 240))
	assert.Equal(t, playback.StateBuffering, v.PlaybackState(ctx))
	assert.Nil(t, v.PrepareRenderLock(ctx))

	decoder.open()
	waitPlaying(t, v)
	assert.Equal(t, 4*time.Second, v.PlaybackTimestamp(ctx))
	assert.True(t, v.cache.IsRenderable(ctx, 240))
}

func TestSmallCacheEndsBuffering(t *testing.T) {
	ctx := context.Background()
	buf := xrvfiletest.New(2*time.Second, 30).MustBuild()

	for _, cacheSize := range []int{MinimumCachedDecodedFrameCount, 4, 5, 6} {
		t.Run(fmt.Sprintf("cache=%d", cacheSize), func(t *testing.T) {
			v, _ := newTestVideo(t, OptionCachedDecodedFrameCount(cacheSize))
			load(t, v, buf, playback.ModeLoop)
			waitPlaying(t, v)

			// frame 15 depends on keyframe 0 and on frame 14
			require.NoError(t, v.Seek(ctx, 500*time.Millisecond, true))
			waitPlaying(t, v)
			lock := v.PrepareRenderLock(ctx)
			require.NotNil(t, lock)
			assert.Equal(t, 15, lock.Frame.Seq)
			require.NoError(t, v.DestroyRenderLock(ctx, lock))

			// every next frame needs its own dependencies decoded again
			require.Eventually(t, func() bool {
				v.Update(ctx, 10*time.Millisecond)
				return v.PlaybackTimestamp(ctx) >= 700*time.Millisecond
			}, waitTimeout, time.Millisecond)
			waitPlaying(t, v)
		})
	}
}

func TestLoopAndBackAndForth(t *testing.T) {
	ctx := context.Background()
	b := xrvfiletest.New(time.Second, 30)
	buf := b.MustBuild()
	end := b.EndTimestamp()

	for _, tc := range []struct {
		mode          playback.Mode
		expectedTS    time.Duration
		expectedState playback.State
	}{
		{
			mode:          playback.ModeLoop,
			expectedTS:    1100*time.Millisecond - end,
			expectedState: playback.StatePlayingForward,
		},
		{
			mode:          playback.ModeBackAndForth,
			expectedTS:    2*end - 1100*time.Millisecond,
			expectedState: playback.StatePlayingBackward,
		},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			v, _ := newTestVideo(t, OptionCachedDecodedFrameCount(0))
			load(t, v, buf, tc.mode)
			waitReady(t, v)
			require.Eventually(t, func() bool {
				return v.cache.Progress(ctx).Ready == 30
			}, waitTimeout, time.Millisecond)
			waitPlaying(t, v)

			assert.Equal(t, 900*time.Millisecond, v.Update(ctx, 900*time.Millisecond))
			assert.Equal(t, tc.expectedTS, v.Update(ctx, 200*time.Millisecond))
			assert.Equal(t, tc.expectedState, v.PlaybackState(ctx))
			assert.False(t, v.IsBuffering(ctx))
		})
	}
}

func TestLoadIsDeferredUntilSwitchCompletes(t *testing.T) {
	ctx := context.Background()
	decoder := newBlockingDecoder(t)
	events := &eventRecorder{}
	v, _ := newTestVideo(t, OptionDecoder{Decoder: decoder}, OptionEventBus{EventBus: events})

	first := xrvfiletest.New(2*time.Second, 30).MustBuild()
	second := xrvfiletest.New(3*time.Second, 30).MustBuild()

	load(t, v, first, playback.ModeSingleShot)
	result, err := v.Load(ctx, second, playback.ModeSingleShot)
	require.NoError(t, err)
	require.Equal(t, LoadDeferred, result)
	assert.Equal(t, 1, events.count(types.EventTopic(types.EventLoadDeferred{})))

	waitReady(t, v)
	assert.Equal(t, 60, v.FrameCount(ctx))
	assert.False(t, v.SwitchedToMostRecentVideo(ctx))
	result, err = v.Load(ctx, second, playback.ModeSingleShot)
	require.NoError(t, err)
	require.Equal(t, LoadDeferred, result)
	assert.Equal(t, 60, v.FrameCount(ctx))

	close(decoder.unblock)
	require.Eventually(t, func() bool {
		return v.SwitchedToMostRecentVideo(ctx)
	}, waitTimeout, time.Millisecond)

	load(t, v, second, playback.ModeSingleShot)
	waitReady(t, v)
	assert.Equal(t, 90, v.FrameCount(ctx))
}

func TestSwitchReleasesPreviousVideoAfterRenderLock(t *testing.T) {
	ctx := context.Background()
	events := &eventRecorder{}
	v, backend := newTestVideo(t, OptionEventBus{EventBus: events})
	releasedTopic := types.EventTopic(types.EventSessionReleased{})

	load(t, v, xrvfiletest.New(2*time.Second, 30).MustBuild(), playback.ModeSingleShot)
	waitPlaying(t, v)
	require.True(t, v.SwitchedToMostRecentVideo(ctx))

	lock := v.PrepareRenderLock(ctx)
	require.NotNil(t, lock)

	load(t, v, xrvfiletest.New(3*time.Second, 30).MustBuild(), playback.ModeSingleShot)
	waitPlaying(t, v)

	// the previous video is pinned by the render lock
	for range 10 {
		assert.False(t, v.SwitchedToMostRecentVideo(ctx))
	}
	assert.Equal(t, 0, events.count(releasedTopic))
	result, err := v.Load(ctx, xrvfiletest.New(time.Second, 30).MustBuild(), playback.ModeSingleShot)
	require.NoError(t, err)
	assert.Equal(t, LoadDeferred, result)

	require.ErrorIs(t, v.Render(ctx, [16]float32{}, [16]float32{}, false, lock), ErrStaleRenderLock)
	assert.Empty(t, backend.Draws(ctx))

	require.NoError(t, v.DestroyRenderLock(ctx, lock))
	require.Eventually(t, func() bool {
		return v.SwitchedToMostRecentVideo(ctx)
	}, waitTimeout, time.Millisecond)
	assert.Equal(t, 1, events.count(releasedTopic))
	assert.Equal(t, 90, v.FrameCount(ctx))
}

func TestRenderLockContract(t *testing.T) {
	ctx := context.Background()

	t.Run("release", func(t *testing.T) {
		v, backend := newTestVideo(t)
		load(t, v, xrvfiletest.New(2*time.Second, 30).MustBuild(), playback.ModeLoop)
		waitPlaying(t, v)
		v.Update(ctx, 50*time.Millisecond)
		require.Eventually(t, func() bool {
			v.Update(ctx, 0)
			return v.IsCurrentFrameDisplayReady(ctx)
		}, waitTimeout, time.Millisecond)

		lock := v.PrepareRenderLock(ctx)
		require.NotNil(t, lock)
		assert.Equal(t, 1, lock.Frame.Seq)
		assert.Equal(t, 0, lock.Keyframe.Seq)
		assert.Equal(t, 0, lock.Predecessor.Seq)
		assert.InDelta(t, 0.5, lock.IntraFrameTime, 0.01)
		assert.Equal(t, 1, v.OutstandingRenderLocks(ctx))

		assert.Nil(t, v.PrepareRenderLock(ctx))
		assert.Equal(t, 1, v.OutstandingRenderLocks(ctx))

		mv := [16]float32{0: 1, 5: 1, 10: 1, 15: 1}
		require.NoError(t, v.Render(ctx, mv, mv, true, lock))
		assert.Equal(t, map[commonresources.ProgramKind]int{commonresources.ProgramKindShaded: 1}, backend.Draws(ctx))
		cmd := backend.LastCommand(ctx)
		require.NotNil(t, cmd)
		assert.Equal(t, mv, cmd.ModelView)
		assert.Same(t, lock.Frame.Frame, cmd.Frame)
		assert.Same(t, lock.Keyframe.Frame, cmd.Keyframe)

		require.NoError(t, v.DestroyRenderLock(ctx, lock))
		assert.Equal(t, 0, v.OutstandingRenderLocks(ctx))
		require.ErrorIs(t, v.DestroyRenderLock(ctx, lock), ErrRenderLockAlreadyDestroyed)
		require.ErrorIs(t, v.Render(ctx, mv, mv, true, lock), ErrRenderLockAlreadyDestroyed)
		require.ErrorIs(t, v.DestroyRenderLock(ctx, nil), ErrNilRenderLock)

		lock = v.PrepareRenderLock(ctx)
		require.NotNil(t, lock)
		require.NoError(t, v.DestroyRenderLock(ctx, lock))
	})

	t.Run("debug", func(t *testing.T) {
		v, _ := newTestVideo(t, OptionDebug(true))
		assert.Panics(t, func() { v.PlaybackTimestamp(ctx) })

		load(t, v, xrvfiletest.New(2*time.Second, 30).MustBuild(), playback.ModeLoop)
		waitPlaying(t, v)

		lock := v.PrepareRenderLock(ctx)
		require.NotNil(t, lock)
		assert.Panics(t, func() { v.PrepareRenderLock(ctx) })
		require.NoError(t, v.DestroyRenderLock(ctx, lock))
	})

	t.Run("foreign", func(t *testing.T) {
		v0, _ := newTestVideo(t)
		v1, _ := newTestVideo(t)
		load(t, v0, xrvfiletest.New(time.Second, 30).MustBuild(), playback.ModeLoop)
		waitPlaying(t, v0)

		lock := v0.PrepareRenderLock(ctx)
		require.NotNil(t, lock)
		require.ErrorIs(t, v1.DestroyRenderLock(ctx, lock), ErrForeignRenderLock)
		require.NoError(t, v0.DestroyRenderLock(ctx, lock))
	})
}

func TestDecodeFailureDoesNotBlockSwitching(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVideo(t, OptionDecoder{Decoder: failingDecoder{}})

	load(t, v, xrvfiletest.New(time.Second, 30).MustBuild(), playback.ModeSingleShot)
	require.Eventually(t, func() bool {
		return v.SwitchedToMostRecentVideo(ctx)
	}, waitTimeout, time.Millisecond)
	assert.True(t, v.IsBuffering(ctx))
	assert.Nil(t, v.PrepareRenderLock(ctx))
	require.ErrorIs(t, v.cache.FailedFrames(ctx)[0], errBrokenFrame)

	load(t, v, xrvfiletest.New(time.Second, 30).MustBuild(), playback.ModeSingleShot)
}

func TestBufferingIndicator(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	decoder := newBlockingDecoder(t)
	v, _ := newTestVideo(t,
		OptionDecoder{Decoder: decoder},
		OptionClock{Clock: clk},
		OptionBufferingIndicatorDelay(100*time.Millisecond),
	)

	load(t, v, xrvfiletest.New(time.Second, 30).MustBuild(), playback.ModeSingleShot)
	waitReady(t, v)
	v.Update(ctx, 0)
	assert.False(t, v.BufferingIndicatorShouldBeShown(ctx))

	clk.Add(50 * time.Millisecond)
	v.Update(ctx, 0)
	assert.False(t, v.BufferingIndicatorShouldBeShown(ctx))

	clk.Add(100 * time.Millisecond)
	v.Update(ctx, 0)
	assert.True(t, v.BufferingIndicatorShouldBeShown(ctx))

	close(decoder.unblock)
	waitPlaying(t, v)
	assert.False(t, v.BufferingIndicatorShouldBeShown(ctx))
}

func TestNotInitialized(t *testing.T) {
	ctx := context.Background()
	backend := commonresources.NewNullBackend()
	backend.FailCompiling(commonresources.ProgramKindVertexAlpha, errors.New("unsupported"))
	resources := commonresources.New(ctx, backend)
	require.False(t, resources.IsInitialized())

	v := New(ctx, resources)
	require.False(t, v.IsInitialized())
	require.ErrorIs(t, v.InitError(), ErrNotInitialized)
	_, err := v.Load(ctx, xrvfiletest.New(time.Second, 30).MustBuild(), playback.ModeLoop)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.NoError(t, v.Close(ctx))
}

func TestPlaybackSpeed(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVideo(t, OptionCachedDecodedFrameCount(0))
	v.SetPlaybackSpeed(ctx, 2)

	load(t, v, xrvfiletest.New(2*time.Second, 30).MustBuild(), playback.ModeSingleShot)
	waitReady(t, v)
	require.Eventually(t, func() bool {
		return v.cache.Progress(ctx).Ready == 60
	}, waitTimeout, time.Millisecond)
	waitPlaying(t, v)

	assert.Equal(t, 200*time.Millisecond, v.Update(ctx, 100*time.Millisecond))
	require.NoError(t, v.SetPlaybackMode(ctx, playback.ModeLoop))
	assert.Equal(t, 200*time.Millisecond, v.PlaybackTimestamp(ctx))
}
