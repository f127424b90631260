package xrvideo

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xrvideo/pkg/framecache"
	"github.com/xaionaro-go/xsync"
)

func (v *Video) decodeLoop(
	ctx context.Context,
	workerID int,
) {
	ctx = belt.WithField(ctx, "decode_worker", workerID)
	logger.Debugf(ctx, "decodeLoop")
	defer logger.Debugf(ctx, "/decodeLoop")

	for {
		locks, changed := v.cache.LockForDecoding(ctx)
		if len(locks) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
			continue
		}
		v.decodeFrames(ctx, locks)
		if ctx.Err() != nil {
			return
		}
	}
}

// decodeFrames decodes the frames the write locks were taken for.
func (v *Video) decodeFrames(
	ctx context.Context,
	locks []*framecache.WriteLock,
) {
	s := v.acquireGeneration(ctx, locks[0].Generation)
	if s == nil {
		logger.Tracef(ctx, "generation %d is gone, dropping %d write locks", locks[0].Generation, len(locks))
		for _, l := range locks {
			l.Cancel(ctx)
		}
		return
	}
	defer v.publishEvents(ctx)
	defer v.locker.Do(ctx, func() {
		v.releaseLocked(ctx, s)
	})

	for _, l := range locks {
		if ctx.Err() != nil {
			l.Cancel(ctx)
			continue
		}
		v.decodeFrame(ctx, s, l)
	}
}

// acquireGeneration takes a reference to the current session if it is
// still the given generation.
func (v *Video) acquireGeneration(
	ctx context.Context,
	generation framecache.Generation,
) *session {
	return xsync.DoR1(ctx, &v.locker, func() *session {
		s := v.current
		if !s.isReady() || s.generation != generation {
			return nil
		}
		v.acquireLocked(s)
		return s
	})
}

func (v *Video) decodeFrame(
	ctx context.Context,
	s *session,
	l *framecache.WriteLock,
) {
	entry := s.index.Entry(l.Seq)
	begin, end := entry.PayloadRange()

	startedAt := time.Now()
	frame, err := v.config.Decoder.Decode(ctx, s.buffer[begin:end])
	decodeDuration := time.Since(startedAt)
	if err != nil {
		err = fmt.Errorf("unable to decode frame %d of session %s: %w", l.Seq, s.id, err)
		logger.Errorf(ctx, "%v", err)
		errmon.ObserveErrorCtx(ctx, err)
		metricDecodeFailures.Inc()
		l.Fail(ctx, err)
		return
	}
	metricDecodeDuration.Observe(decodeDuration.Seconds())

	if !l.Publish(ctx, frame, entry.StartTimestamp, s.index.FrameEndTimestamp(l.Seq), decodeDuration) {
		metricDiscardedFrames.Inc()
		return
	}
	metricDecodedFrames.Inc()
	logger.Tracef(ctx, "decoded frame %d in %v (evicted %d)", l.Seq, decodeDuration, l.EvictedSeq)
}
