package playback

import (
	"math"
	"time"
)

// Clock is the playback position state machine of a single video.
//
// Clock is a value type and is not safe for concurrent use; the owner
// serializes access (and may copy it to try an advance speculatively).
type Clock struct {
	start     time.Duration
	end       time.Duration
	current   time.Duration
	forward   bool
	mode      Mode
	speed     float64
	buffering bool
	moved     bool
}

func NewClock(start, end time.Duration, mode Mode) Clock {
	return Clock{
		start:   start,
		end:     end,
		current: start,
		forward: true,
		mode:    mode,
		speed:   1,
	}
}

func (c *Clock) Start() time.Duration     { return c.start }
func (c *Clock) End() time.Duration       { return c.end }
func (c *Clock) Timestamp() time.Duration { return c.current }
func (c *Clock) Forward() bool            { return c.forward }
func (c *Clock) Mode() Mode               { return c.mode }
func (c *Clock) Speed() float64           { return c.speed }
func (c *Clock) Buffering() bool          { return c.buffering }

func (c *Clock) SetBuffering(buffering bool) {
	c.buffering = buffering
}

// SetMode does not touch the timestamp or the direction; switching away
// from BackAndForth while going backwards keeps going backwards.
func (c *Clock) SetMode(mode Mode) {
	c.mode = mode
}

// SetSpeed sets the playback speed multiplier; negative values are
// treated as zero.
func (c *Clock) SetSpeed(speed float64) {
	c.speed = math.Max(0, speed)
}

func (c *Clock) State() State {
	switch {
	case c.buffering:
		return StateBuffering
	case c.mode == ModeSingleShot && c.forward && c.current >= c.end && c.moved:
		return StateEnded
	case !c.moved:
		return StateStoppedAtStart
	case c.mode == ModeSingleShot && !c.forward && c.current <= c.start:
		return StateStoppedAtStart
	case c.forward:
		return StatePlayingForward
	default:
		return StatePlayingBackward
	}
}

// Seek clamps the timestamp into [Start, End] and sets the direction.
func (c *Clock) Seek(ts time.Duration, forward bool) time.Duration {
	c.current = clamp(ts, c.start, c.end)
	c.forward = forward
	c.moved = true
	return c.current
}

// Advance moves the timestamp by the elapsed time scaled by the speed,
// following the mode at the boundaries. It is a no-op while buffering.
func (c *Clock) Advance(elapsed time.Duration) time.Duration {
	if c.buffering {
		return c.current
	}
	step := time.Duration(math.Round(float64(elapsed) * c.speed))
	if step <= 0 {
		return c.current
	}
	c.moved = true

	length := c.end - c.start
	if length <= 0 {
		c.current = c.start
		return c.current
	}

	switch c.mode {
	case ModeLoop:
		pos := c.current - c.start
		if c.forward {
			pos += step
		} else {
			pos -= step
		}
		c.current = c.start + mod(pos, length)
	case ModeBackAndForth:
		// phase runs over [0, 2*length): the first half forward, the second
		// half backward
		phase := c.current - c.start
		if !c.forward {
			phase = 2*length - phase
		}
		phase = mod(phase+mod(step, 2*length), 2*length)
		if phase <= length {
			c.forward = true
			c.current = c.start + phase
		} else {
			c.forward = false
			c.current = c.start + 2*length - phase
		}
	default:
		if c.forward {
			c.current = clamp(c.current+step, c.start, c.end)
		} else {
			c.current = clamp(c.current-step, c.start, c.end)
		}
	}
	return c.current
}

func clamp(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mod[T ~int | ~int64](v, m T) T {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}
