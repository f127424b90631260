package xrvideo

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/xaionaro-go/xrvideo/pkg/frameindex"
	"github.com/xaionaro-go/xrvideo/pkg/framecache"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo/types"
)

// session is a single loaded video. All the fields are guarded by
// Video.locker; buffer and index are immutable once set, so whoever holds
// a reference may read them without the lock.
type session struct {
	id         uuid.UUID
	generation framecache.Generation
	buffer     []byte
	mode       playback.Mode
	state      AsyncLoadState
	err        error
	index      *frameindex.Index
	renderLock *RenderLock

	// ended is set once the end of a single-shot playback is reported, and
	// cleared when the playback leaves the end.
	ended bool

	// refs counts the in-flight parse, the in-flight decode tasks and the
	// outstanding render lock.
	refs       int
	superseded bool
	released   bool
}

func newSession(
	generation framecache.Generation,
	buf []byte,
	mode playback.Mode,
) *session {
	return &session{
		id:         uuid.New(),
		generation: generation,
		buffer:     append([]byte(nil), buf...),
		mode:       mode,
		state:      AsyncLoadStateLoading,
	}
}

func (s *session) isReady() bool {
	return s != nil && s.state == AsyncLoadStateReady && !s.released
}

func (v *Video) acquireLocked(s *session) {
	s.refs++
}

// releaseLocked drops a reference; the last reference of a superseded
// session releases its buffer.
func (v *Video) releaseLocked(ctx context.Context, s *session) {
	if s.refs <= 0 {
		logger.Errorf(ctx, "internal error: session %s is released more times than acquired", s.id)
		return
	}
	s.refs--
	if s.superseded && s.refs == 0 {
		v.freeSessionLocked(ctx, s)
	}
}

// releaseSupersededLocked frees every superseded session nothing refers to
// anymore and reports whether some are still alive.
func (v *Video) releaseSupersededLocked(ctx context.Context) bool {
	alive := v.superseded[:0]
	for _, s := range v.superseded {
		if s.refs == 0 {
			v.freeSessionLocked(ctx, s)
		}
		if !s.released {
			alive = append(alive, s)
		}
	}
	for idx := len(alive); idx < len(v.superseded); idx++ {
		v.superseded[idx] = nil
	}
	v.superseded = alive
	return len(v.superseded) > 0
}

func (v *Video) freeSessionLocked(ctx context.Context, s *session) {
	if s.released {
		return
	}
	logger.Debugf(ctx, "releasing the superseded session %s (%s)", s.id, humanize.Bytes(uint64(len(s.buffer))))
	s.released = true
	s.buffer = nil
	s.index = nil
	metricReleasedSessions.Inc()
	v.queueEventLocked(types.EventSessionReleased{SessionID: s.id})
}
