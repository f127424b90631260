package framecache

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xrvideo/pkg/xrvdecode"
	"github.com/xaionaro-go/xsync"
)

// WriteLock is the exclusive right to decode a frame into a cache slot.
// Exactly one of Publish, Fail or Cancel must be called.
type WriteLock struct {
	cache *Cache
	slot  *slot
	done  bool

	Seq        int
	Generation Generation

	// EvictedSeq is the frame that was dropped to make room, or -1.
	EvictedSeq int
}

// LockForDecoding finds the next frame to decode, following the window,
// and locks slots for it and its missing dependencies. If there is nothing
// to do it returns a channel that is closed when that may have changed.
func (c *Cache) LockForDecoding(
	ctx context.Context,
) ([]*WriteLock, <-chan struct{}) {
	return xsync.DoR2(ctx, &c.locker, func() ([]*WriteLock, <-chan struct{}) {
		locks := c.lockForDecodingLocked()
		if len(locks) == 0 {
			return nil, c.changed
		}
		return locks, nil
	})
}

func (c *Cache) lockForDecodingLocked() []*WriteLock {
	if c.index == nil || !c.hasWindow || len(c.slots) == 0 {
		return nil
	}

	var result []*WriteLock
	c.walkWindowLocked(func(seq int, needed []int) bool {
		var missing []int
		for _, n := range needed {
			if c.bySeq[n] == nil {
				missing = append(missing, n)
			}
		}
		if len(missing) == 0 {
			return true
		}
		result = c.allocateLocked(missing)
		return false
	})
	return result
}

func (c *Cache) allocateLocked(missing []int) []*WriteLock {
	// slots holding anything the whole window needs are not evicted
	needed := map[*slot]struct{}{}
	walked := c.walkWindowLocked(func(int, []int) bool { return true })
	for seq := range walked {
		if s := c.bySeq[seq]; s != nil {
			needed[s] = struct{}{}
		}
	}

	it := c.iteratorLocked()
	type candidate struct {
		slot  *slot
		steps int
	}
	var candidates []candidate
	for _, s := range c.slots {
		if s.isLocked() {
			continue
		}
		if _, ok := needed[s]; ok {
			continue
		}
		steps := math.MaxInt
		if s.isValid() {
			steps = it.StepsToFrame(s.seq)
		}
		candidates = append(candidates, candidate{slot: s, steps: steps})
	}
	if len(candidates) < len(missing) {
		return nil
	}
	// free slots first, then the frames the playback head reaches last
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.slot.isValid() != b.slot.isValid() {
			return !a.slot.isValid()
		}
		return a.steps > b.steps
	})

	locks := make([]*WriteLock, 0, len(missing))
	for idx, seq := range missing {
		s := candidates[idx].slot
		evicted := -1
		if s.isValid() {
			evicted = s.seq
			delete(c.bySeq, s.seq)
		}
		s.seq = seq
		s.generation = c.generation
		s.frame = nil
		s.writeLocked = true
		c.bySeq[seq] = s
		locks = append(locks, &WriteLock{
			cache:      c,
			slot:       s,
			Seq:        seq,
			Generation: c.generation,
			EvictedSeq: evicted,
		})
	}
	return locks
}

// Publish makes the decoded frame visible. It returns false if the frame
// was discarded because the cache has moved to another generation.
func (l *WriteLock) Publish(
	ctx context.Context,
	frame *xrvdecode.Frame,
	startTS, endTS time.Duration,
	decodeDuration time.Duration,
) bool {
	c := l.cache
	return xsync.DoR1(ctx, &c.locker, func() bool {
		if l.done {
			logger.Errorf(ctx, "frame %d of generation %d is already unlocked", l.Seq, l.Generation)
			return false
		}
		l.done = true
		if !c.ownsLocked(l) {
			logger.Tracef(ctx, "discarding frame %d of the stale generation %d", l.Seq, l.Generation)
			return false
		}
		l.slot.frame = &DecodedFrame{
			Seq:            l.Seq,
			Generation:     l.Generation,
			StartTimestamp: startTS,
			EndTimestamp:   endTS,
			Frame:          frame,
		}
		l.slot.writeLocked = false
		c.decodeTimes.Add(decodeDuration)
		c.notifyLocked()
		return true
	})
}

// Fail releases the slot and remembers the frame as undecodable for the
// current generation, so it is not scheduled again.
func (l *WriteLock) Fail(ctx context.Context, err error) {
	l.release(ctx, err)
}

// Cancel releases the slot without marking the frame as failed.
func (l *WriteLock) Cancel(ctx context.Context) {
	l.release(ctx, nil)
}

func (l *WriteLock) release(ctx context.Context, err error) {
	c := l.cache
	c.locker.Do(ctx, func() {
		if l.done {
			return
		}
		l.done = true
		if !c.ownsLocked(l) {
			return
		}
		delete(c.bySeq, l.Seq)
		l.slot.invalidate()
		l.slot.writeLocked = false
		if err != nil {
			c.failed[l.Seq] = err
		}
		c.notifyLocked()
	})
}

func (c *Cache) ownsLocked(l *WriteLock) bool {
	return l.Generation == c.generation && c.bySeq[l.Seq] == l.slot
}

// ReadLock pins resident frames: they are neither evicted nor overwritten
// until Release.
type ReadLock struct {
	cache    *Cache
	slots    []*slot
	released bool

	Frames []*DecodedFrame
}

// LockForReading pins the given frames if all of them are resident;
// otherwise it returns nil.
func (c *Cache) LockForReading(
	ctx context.Context,
	seqs ...int,
) *ReadLock {
	return xsync.DoR1(ctx, &c.locker, func() *ReadLock {
		l := &ReadLock{cache: c}
		seen := map[int]struct{}{}
		for _, seq := range seqs {
			if _, ok := seen[seq]; ok {
				continue
			}
			seen[seq] = struct{}{}
			if !c.isResidentLocked(seq) {
				return nil
			}
			s := c.bySeq[seq]
			l.slots = append(l.slots, s)
			l.Frames = append(l.Frames, s.frame)
		}
		for _, s := range l.slots {
			s.readers++
		}
		return l
	})
}

// Frame returns the pinned frame with the given sequence number, or nil.
func (l *ReadLock) Frame(seq int) *DecodedFrame {
	for _, f := range l.Frames {
		if f.Seq == seq {
			return f
		}
	}
	return nil
}

func (l *ReadLock) Release(ctx context.Context) error {
	c := l.cache
	return xsync.DoR1(ctx, &c.locker, func() error {
		if l.released {
			return fmt.Errorf("the read lock is already released")
		}
		l.released = true
		for _, s := range l.slots {
			s.readers--
		}
		c.notifyLocked()
		return nil
	})
}
