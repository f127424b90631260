// Package framecache keeps decoded frames around the playback head and
// coordinates the decode workers writing them with the render thread
// reading them.
package framecache

import (
	"context"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/ringbuffer"
	"github.com/xaionaro-go/xrvideo/pkg/xrvdecode"
	"github.com/xaionaro-go/xsync"
)

const decodeTimeSamples = 60

// Generation identifies the loaded video the cached frames belong to.
type Generation uint64

// Index is the part of the frame table the cache needs.
type Index interface {
	FrameCount() int
	DependencyFrames(seq int) (keyframe int, predecessor int)
}

type DecodedFrame struct {
	Seq            int
	Generation     Generation
	StartTimestamp time.Duration
	EndTimestamp   time.Duration
	Frame          *xrvdecode.Frame
}

// Window describes where the playback head is and where it is going.
type Window struct {
	Center  int
	Forward bool
	Mode    playback.Mode

	// Count limits the number of frames ahead to keep; zero means as many
	// as fit into the cache.
	Count int
}

type slot struct {
	seq         int
	generation  Generation
	frame       *DecodedFrame
	writeLocked bool
	readers     int
}

func (s *slot) isValid() bool {
	return s.seq >= 0
}

func (s *slot) isResident() bool {
	return s.seq >= 0 && !s.writeLocked && s.frame != nil
}

func (s *slot) isLocked() bool {
	return s.writeLocked || s.readers > 0
}

func (s *slot) invalidate() {
	s.seq = -1
	s.frame = nil
}

type Cache struct {
	locker      xsync.Mutex
	generation  Generation
	index       Index
	slots       []*slot
	bySeq       map[int]*slot
	window      Window
	hasWindow   bool
	failed      map[int]error
	decodeTimes *ringbuffer.RingBuffer[time.Duration]
	changed     chan struct{}
}

func New() *Cache {
	return &Cache{
		bySeq:       map[int]*slot{},
		failed:      map[int]error{},
		decodeTimes: ringbuffer.New[time.Duration](decodeTimeSamples),
		changed:     make(chan struct{}),
	}
}

// Reset drops every frame and switches the cache to the given generation.
// Frames still locked by readers or writers stay valid for them, but are
// no longer reachable through the cache. A nil index disables decoding
// until the next Reset.
func (c *Cache) Reset(
	ctx context.Context,
	generation Generation,
	index Index,
	capacity int,
) {
	logger.Debugf(ctx, "Reset(ctx, %d, capacity:%d)", generation, capacity)
	defer logger.Debugf(ctx, "/Reset(ctx, %d, capacity:%d)", generation, capacity)
	c.locker.Do(ctx, func() {
		if index == nil {
			capacity = 0
		}
		c.generation = generation
		c.index = index
		c.slots = make([]*slot, capacity)
		for idx := range c.slots {
			c.slots[idx] = &slot{seq: -1}
		}
		c.bySeq = make(map[int]*slot, capacity)
		c.failed = map[int]error{}
		c.hasWindow = false
		c.decodeTimes.Reset()
		c.notifyLocked()
	})
}

func (c *Cache) Generation(ctx context.Context) Generation {
	return xsync.DoR1(ctx, &c.locker, func() Generation {
		return c.generation
	})
}

func (c *Cache) Capacity(ctx context.Context) int {
	return xsync.DoR1(ctx, &c.locker, func() int {
		return len(c.slots)
	})
}

// RequestWindow tells the cache where the playback head is, which defines
// what gets decoded next and what may be evicted.
func (c *Cache) RequestWindow(
	ctx context.Context,
	w Window,
) {
	c.locker.Do(ctx, func() {
		if c.hasWindow && c.window == w {
			return
		}
		logger.Tracef(ctx, "RequestWindow: %#+v", w)
		c.window = w
		c.hasWindow = true
		c.notifyLocked()
	})
}

func (c *Cache) IsResident(ctx context.Context, seq int) bool {
	return xsync.DoR1(ctx, &c.locker, func() bool {
		return c.isResidentLocked(seq)
	})
}

func (c *Cache) isResidentLocked(seq int) bool {
	s := c.bySeq[seq]
	return s != nil && s.isResident() && s.generation == c.generation
}

// IsRenderable reports whether the frame and all the frames it depends on
// are resident.
func (c *Cache) IsRenderable(ctx context.Context, seq int) bool {
	return xsync.DoR1(ctx, &c.locker, func() bool {
		if c.index == nil || seq < 0 || seq >= c.index.FrameCount() {
			return false
		}
		for _, n := range c.neededFramesLocked(seq) {
			if !c.isResidentLocked(n) {
				return false
			}
		}
		return true
	})
}

// IsFailed reports whether the frame or one of the frames it depends on
// could not be decoded, so it will never become renderable in the current
// generation.
func (c *Cache) IsFailed(ctx context.Context, seq int) bool {
	return xsync.DoR1(ctx, &c.locker, func() bool {
		if c.index == nil || seq < 0 || seq >= c.index.FrameCount() {
			return false
		}
		for _, n := range c.neededFramesLocked(seq) {
			if _, ok := c.failed[n]; ok {
				return true
			}
		}
		return false
	})
}

// Get returns the resident frame, or nil.
func (c *Cache) Get(ctx context.Context, seq int) *DecodedFrame {
	return xsync.DoR1(ctx, &c.locker, func() *DecodedFrame {
		if !c.isResidentLocked(seq) {
			return nil
		}
		return c.bySeq[seq].frame
	})
}

// FailedFrames returns the frames that could not be decoded in the current
// generation.
func (c *Cache) FailedFrames(ctx context.Context) map[int]error {
	return xsync.DoR1(ctx, &c.locker, func() map[int]error {
		result := make(map[int]error, len(c.failed))
		for seq, err := range c.failed {
			result[seq] = err
		}
		return result
	})
}

// EvictOutsideWindow drops resident frames that the current window does
// not need. Locked frames are kept. It does nothing when the whole video
// fits into the cache.
func (c *Cache) EvictOutsideWindow(ctx context.Context) int {
	return xsync.DoR1(ctx, &c.locker, func() int {
		if c.index == nil || !c.hasWindow || len(c.slots) >= c.index.FrameCount() {
			return 0
		}
		required := c.walkWindowLocked(func(int, []int) bool { return true })
		evicted := 0
		for _, s := range c.slots {
			if !s.isValid() || s.isLocked() {
				continue
			}
			if _, ok := required[s.seq]; ok {
				continue
			}
			delete(c.bySeq, s.seq)
			s.invalidate()
			evicted++
		}
		if evicted > 0 {
			logger.Tracef(ctx, "evicted %d frames outside of the window", evicted)
			c.notifyLocked()
		}
		return evicted
	})
}

// AverageDecodeTime is the mean decode time of the recently decoded
// frames; zero if nothing was decoded yet.
func (c *Cache) AverageDecodeTime() time.Duration {
	samples := c.decodeTimes.Items()
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return sum / time.Duration(len(samples))
}

func (c *Cache) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// neededFramesLocked returns the frame with its dependencies, dependencies
// first, without duplicates.
func (c *Cache) neededFramesLocked(seq int) []int {
	keyframe, predecessor := c.index.DependencyFrames(seq)
	result := make([]int, 0, 3)
	if keyframe >= 0 {
		result = append(result, keyframe)
	}
	if predecessor >= 0 && predecessor != keyframe {
		result = append(result, predecessor)
	}
	return append(result, seq)
}

func (c *Cache) iteratorLocked() *playback.FramesIterator {
	return playback.NewFramesIterator(c.window.Center, c.window.Forward, c.window.Mode, c.index.FrameCount())
}

// walkWindowLocked visits the frames of the window in playback order while
// the frames required so far fit into the cache, and stops at the first
// frame that failed to decode. The needed frames are added to the returned
// set before fn is called.
func (c *Cache) walkWindowLocked(
	fn func(seq int, needed []int) bool,
) map[int]struct{} {
	required := map[int]struct{}{}
	if c.index == nil || !c.hasWindow {
		return required
	}

	frameCount := c.index.FrameCount()
	it := c.iteratorLocked()
	for steps := 0; steps < 2*frameCount && !it.AtEnd(); steps++ {
		if c.window.Count > 0 && steps >= c.window.Count {
			break
		}
		seq := it.Frame()
		needed := c.neededFramesLocked(seq)

		newCount := 0
		for _, n := range needed {
			if _, failed := c.failed[n]; failed {
				return required
			}
			if _, ok := required[n]; !ok {
				newCount++
			}
		}
		if len(required)+newCount > len(c.slots) {
			break
		}
		for _, n := range needed {
			required[n] = struct{}{}
		}
		if !fn(seq, needed) {
			break
		}
		if len(required) >= frameCount {
			break
		}
		it.Next()
	}
	return required
}
