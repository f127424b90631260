package framecache

import (
	"context"

	"github.com/xaionaro-go/xsync"
)

type Progress struct {
	// Capacity is the number of cache slots.
	Capacity int

	// LookAhead is the number of frames of the window that fit into the
	// cache together with their dependencies.
	LookAhead int

	// Ready is the number of renderable frames in a row starting at the
	// playback head.
	Ready int

	// Decoding is the number of frames being decoded right now.
	Decoding int
}

// Progress reports how far decoding got ahead of the playback head.
func (c *Cache) Progress(ctx context.Context) Progress {
	return xsync.DoR1(ctx, &c.locker, func() Progress {
		p := Progress{Capacity: len(c.slots)}
		for _, s := range c.slots {
			if s.writeLocked {
				p.Decoding++
			}
		}

		readyRun := true
		c.walkWindowLocked(func(seq int, needed []int) bool {
			p.LookAhead++
			if !readyRun {
				return true
			}
			for _, n := range needed {
				if !c.isResidentLocked(n) {
					readyRun = false
					return true
				}
			}
			p.Ready++
			return true
		})
		return p
	})
}
