package playback

import (
	"math"
)

// FramesIterator walks the frames in the order in which playback will
// display them, starting with the current one.
type FramesIterator struct {
	frame      int
	frameCount int
	forward    bool
	mode       Mode
	atEnd      bool
}

func NewFramesIterator(
	frame int,
	forward bool,
	mode Mode,
	frameCount int,
) *FramesIterator {
	return &FramesIterator{
		frame:      frame,
		frameCount: frameCount,
		forward:    forward,
		mode:       mode,
		atEnd:      frame < 0 || frame >= frameCount,
	}
}

func (it *FramesIterator) Frame() int    { return it.frame }
func (it *FramesIterator) Forward() bool { return it.forward }
func (it *FramesIterator) AtEnd() bool   { return it.atEnd }

func (it *FramesIterator) Next() {
	if it.atEnd {
		return
	}
	if it.forward {
		it.frame++
	} else {
		it.frame--
	}
	if it.frame >= 0 && it.frame < it.frameCount {
		return
	}

	switch it.mode {
	case ModeLoop:
		if it.frame < 0 {
			it.frame = it.frameCount - 1
		} else {
			it.frame = 0
		}
	case ModeBackAndForth:
		if it.frameCount == 1 {
			it.frame = 0
			return
		}
		if it.frame < 0 {
			it.frame = 1
			it.forward = true
		} else {
			it.frame = it.frameCount - 2
			it.forward = false
		}
	default:
		it.atEnd = true
		if it.frame < 0 {
			it.frame = 0
		} else {
			it.frame = it.frameCount - 1
		}
	}
}

// StepsToFrame returns how many Next calls it takes to reach the given
// frame, or math.MaxInt if it will not be reached.
func (it *FramesIterator) StepsToFrame(frame int) int {
	if frame < 0 || frame >= it.frameCount || it.frame < 0 || it.frame >= it.frameCount {
		return math.MaxInt
	}
	cur := it.frame
	n := it.frameCount
	switch it.mode {
	case ModeLoop:
		if it.forward {
			return mod(frame-cur, n)
		}
		return mod(cur-frame, n)
	case ModeBackAndForth:
		if n == 1 {
			return 0
		}
		if it.forward {
			if frame >= cur {
				return frame - cur
			}
			return (n - 1 - cur) + (n - 1 - frame)
		}
		if frame <= cur {
			return cur - frame
		}
		return cur + frame
	default:
		if it.atEnd {
			if frame == cur {
				return 0
			}
			return math.MaxInt
		}
		if it.forward {
			if frame >= cur {
				return frame - cur
			}
			return math.MaxInt
		}
		if frame <= cur {
			return cur - frame
		}
		return math.MaxInt
	}
}
