package framecache

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/xrvdecode"
)

type dummyIndex struct {
	frameCount       int
	keyframeInterval int
}

func (idx dummyIndex) FrameCount() int {
	return idx.frameCount
}

func (idx dummyIndex) DependencyFrames(seq int) (int, int) {
	if idx.keyframeInterval <= 1 || seq%idx.keyframeInterval == 0 {
		return -1, -1
	}
	return seq - seq%idx.keyframeInterval, seq - 1
}

func seqs(locks []*WriteLock) []int {
	var result []int
	for _, l := range locks {
		result = append(result, l.Seq)
	}
	sort.Ints(result)
	return result
}

func publish(ctx context.Context, t *testing.T, locks []*WriteLock) {
	for _, l := range locks {
		require.True(t, l.Publish(ctx, &xrvdecode.Frame{}, time.Duration(l.Seq), time.Duration(l.Seq+1), time.Millisecond))
	}
}

func newCache(ctx context.Context, index Index, capacity int, center int) *Cache {
	c := New()
	c.Reset(ctx, 1, index, capacity)
	c.RequestWindow(ctx, Window{Center: center, Forward: true, Mode: playback.ModeSingleShot})
	return c
}

func TestDecodeOrderFollowsWindow(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 10, keyframeInterval: 1}, 5, 0)

	for expected := 0; expected < 5; expected++ {
		locks, wait := c.LockForDecoding(ctx)
		require.Nil(t, wait)
		require.Equal(t, []int{expected}, seqs(locks))
		assert.Equal(t, -1, locks[0].EvictedSeq)
		assert.False(t, c.IsResident(ctx, expected))
	}
	locks, wait := c.LockForDecoding(ctx)
	require.Empty(t, locks)
	require.NotNil(t, wait)

	p := c.Progress(ctx)
	assert.Equal(t, Progress{Capacity: 5, LookAhead: 5, Ready: 0, Decoding: 5}, p)
}

func TestSlidingWindowEviction(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 10, keyframeInterval: 1}, 5, 0)

	for i := 0; i < 5; i++ {
		locks, _ := c.LockForDecoding(ctx)
		publish(ctx, t, locks)
	}
	for i := 0; i < 5; i++ {
		assert.True(t, c.IsResident(ctx, i))
		assert.NotNil(t, c.Get(ctx, i))
	}
	assert.Equal(t, Progress{Capacity: 5, LookAhead: 5, Ready: 5}, c.Progress(ctx))

	c.RequestWindow(ctx, Window{Center: 2, Forward: true, Mode: playback.ModeSingleShot})
	locks, _ := c.LockForDecoding(ctx)
	require.Equal(t, []int{5}, seqs(locks))
	// frames behind the head go first
	assert.Contains(t, []int{0, 1}, locks[0].EvictedSeq)
	publish(ctx, t, locks)

	locks, _ = c.LockForDecoding(ctx)
	require.Equal(t, []int{6}, seqs(locks))
	publish(ctx, t, locks)
	assert.False(t, c.IsResident(ctx, 0))
	assert.False(t, c.IsResident(ctx, 1))
	assert.Nil(t, c.Get(ctx, 0))
}

func TestDependenciesAreDecodedTogether(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 20, keyframeInterval: 4}, 6, 6)

	locks, _ := c.LockForDecoding(ctx)
	require.Equal(t, []int{4, 5, 6}, seqs(locks))
	publish(ctx, t, locks)
	assert.True(t, c.IsRenderable(ctx, 6))
	assert.False(t, c.IsRenderable(ctx, 7))

	locks, _ = c.LockForDecoding(ctx)
	require.Equal(t, []int{7}, seqs(locks))
	publish(ctx, t, locks)
	assert.True(t, c.IsRenderable(ctx, 7))

	// frame 8 is a keyframe, frame 9 needs 8 too
	locks, _ = c.LockForDecoding(ctx)
	require.Equal(t, []int{8}, seqs(locks))
}

func TestReadLockPreventsEviction(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 10, keyframeInterval: 1}, 3, 0)
	for i := 0; i < 3; i++ {
		locks, _ := c.LockForDecoding(ctx)
		publish(ctx, t, locks)
	}

	readLock := c.LockForReading(ctx, 0, 0)
	require.NotNil(t, readLock)
	require.Len(t, readLock.Frames, 1)
	require.NotNil(t, readLock.Frame(0))
	assert.Nil(t, readLock.Frame(1))

	c.RequestWindow(ctx, Window{Center: 1, Forward: true, Mode: playback.ModeSingleShot})
	assert.Equal(t, 0, c.EvictOutsideWindow(ctx))
	locks, wait := c.LockForDecoding(ctx)
	require.Empty(t, locks)

	require.NoError(t, readLock.Release(ctx))
	require.Error(t, readLock.Release(ctx))
	select {
	case <-wait:
	default:
		t.Fatal("releasing a read lock must wake up the decoders")
	}

	locks, _ = c.LockForDecoding(ctx)
	require.Equal(t, []int{3}, seqs(locks))
	assert.Equal(t, 0, locks[0].EvictedSeq)
}

func TestLockForReadingNeedsAllFrames(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 10, keyframeInterval: 1}, 3, 0)
	locks, _ := c.LockForDecoding(ctx)
	publish(ctx, t, locks)
	locks, _ = c.LockForDecoding(ctx)

	assert.Nil(t, c.LockForReading(ctx, 0, 1))
	assert.NotNil(t, c.LockForReading(ctx, 0))
	publish(ctx, t, locks)
	assert.NotNil(t, c.LockForReading(ctx, 0, 1))
}

func TestStaleGenerationIsDiscarded(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 10, keyframeInterval: 1}, 3, 0)
	locks, _ := c.LockForDecoding(ctx)
	require.Len(t, locks, 1)

	c.Reset(ctx, 2, dummyIndex{frameCount: 10, keyframeInterval: 1}, 3)
	assert.Equal(t, Generation(2), c.Generation(ctx))
	assert.False(t, locks[0].Publish(ctx, &xrvdecode.Frame{}, 0, 1, time.Millisecond))
	assert.False(t, c.IsResident(ctx, 0))
	assert.Nil(t, c.Get(ctx, 0))

	// a double unlock is harmless
	assert.False(t, locks[0].Publish(ctx, &xrvdecode.Frame{}, 0, 1, time.Millisecond))
	locks[0].Cancel(ctx)

	// nothing is decoded before a window is requested
	locks, wait := c.LockForDecoding(ctx)
	require.Empty(t, locks)
	c.RequestWindow(ctx, Window{Center: 0, Forward: true, Mode: playback.ModeSingleShot})
	<-wait
	locks, _ = c.LockForDecoding(ctx)
	require.Equal(t, []int{0}, seqs(locks))
	assert.Equal(t, Generation(2), locks[0].Generation)
}

func TestFailedFramesAreNotRetried(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 10, keyframeInterval: 1}, 5, 0)

	locks, _ := c.LockForDecoding(ctx)
	publish(ctx, t, locks)
	locks, _ = c.LockForDecoding(ctx)
	require.Equal(t, []int{1}, seqs(locks))
	decodeErr := errors.New("broken frame")
	locks[0].Fail(ctx, decodeErr)

	locks, _ = c.LockForDecoding(ctx)
	require.Empty(t, locks)
	assert.Equal(t, map[int]error{1: decodeErr}, c.FailedFrames(ctx))
	assert.Equal(t, Progress{Capacity: 5, LookAhead: 1, Ready: 1}, c.Progress(ctx))

	// a cancelled frame is scheduled again
	c.Reset(ctx, 2, dummyIndex{frameCount: 10, keyframeInterval: 1}, 5)
	c.RequestWindow(ctx, Window{Center: 0, Forward: true, Mode: playback.ModeSingleShot})
	locks, _ = c.LockForDecoding(ctx)
	locks[0].Cancel(ctx)
	locks, _ = c.LockForDecoding(ctx)
	require.Equal(t, []int{0}, seqs(locks))
}

func TestEvictOutsideWindow(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 10, keyframeInterval: 1}, 4, 0)
	for i := 0; i < 4; i++ {
		locks, _ := c.LockForDecoding(ctx)
		publish(ctx, t, locks)
	}
	c.RequestWindow(ctx, Window{Center: 2, Forward: true, Mode: playback.ModeSingleShot})
	assert.Equal(t, 2, c.EvictOutsideWindow(ctx))
	assert.False(t, c.IsResident(ctx, 0))
	assert.False(t, c.IsResident(ctx, 1))
	assert.True(t, c.IsResident(ctx, 2))
	assert.True(t, c.IsResident(ctx, 3))
}

func TestFullCachingRetainsEverything(t *testing.T) {
	ctx := context.Background()
	c := newCache(ctx, dummyIndex{frameCount: 6, keyframeInterval: 3}, 6, 0)
	for {
		locks, _ := c.LockForDecoding(ctx)
		if len(locks) == 0 {
			break
		}
		publish(ctx, t, locks)
	}
	c.RequestWindow(ctx, Window{Center: 5, Forward: true, Mode: playback.ModeSingleShot})
	assert.Equal(t, 0, c.EvictOutsideWindow(ctx))
	for i := 0; i < 6; i++ {
		assert.True(t, c.IsResident(ctx, i), i)
	}
	locks, _ := c.LockForDecoding(ctx)
	assert.Empty(t, locks)
	assert.Equal(t, time.Millisecond, c.AverageDecodeTime())
}

func TestLoopWindowWraps(t *testing.T) {
	ctx := context.Background()
	c := New()
	c.Reset(ctx, 1, dummyIndex{frameCount: 10, keyframeInterval: 1}, 4)
	c.RequestWindow(ctx, Window{Center: 8, Forward: true, Mode: playback.ModeLoop})

	var decoded []int
	for {
		locks, _ := c.LockForDecoding(ctx)
		if len(locks) == 0 {
			break
		}
		decoded = append(decoded, seqs(locks)...)
		publish(ctx, t, locks)
	}
	assert.Equal(t, []int{8, 9, 0, 1}, decoded)

	c.RequestWindow(ctx, Window{Center: 8, Forward: true, Mode: playback.ModeLoop, Count: 2})
	p := c.Progress(ctx)
	assert.Equal(t, 2, p.LookAhead)
	assert.Equal(t, 2, p.Ready)
}
