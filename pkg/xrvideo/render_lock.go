package xrvideo

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xrvideo/pkg/commonresources"
	"github.com/xaionaro-go/xrvideo/pkg/framecache"
	"github.com/xaionaro-go/xsync"
)

// RenderLock pins the decoded frames needed to render the playback
// timestamp it was prepared at. Each lock must be passed to
// DestroyRenderLock exactly once.
type RenderLock struct {
	video     *Video
	session   *session
	readLock  *framecache.ReadLock
	destroyed bool

	Timestamp time.Duration

	// Frame is the frame displayed at Timestamp; Keyframe holds the mesh it
	// deforms and Predecessor the deformation state it interpolates from.
	// For keyframes Keyframe is Frame and Predecessor is nil.
	Frame       *framecache.DecodedFrame
	Keyframe    *framecache.DecodedFrame
	Predecessor *framecache.DecodedFrame

	// IntraFrameTime is the position of Timestamp within Frame, in [0, 1].
	IntraFrameTime float32
}

// PrepareRenderLock returns a lock on the frames for the current playback
// timestamp, or nil if they are not decoded yet. It never waits for
// decoding. Preparing a second lock before destroying the previous one is
// a contract violation and returns nil.
func (v *Video) PrepareRenderLock(ctx context.Context) *RenderLock {
	var violation error
	lock := xsync.DoR1(ctx, &v.locker, func() *RenderLock {
		s := v.current
		if !s.isReady() || v.closed {
			return nil
		}
		if s.renderLock != nil {
			violation = fmt.Errorf("%w: a render lock is prepared while the previous one is not destroyed", ErrContractViolation)
			return nil
		}
		return v.prepareRenderLockLocked(ctx, s)
	})
	v.reportContractViolation(ctx, violation)
	return lock
}

func (v *Video) prepareRenderLockLocked(
	ctx context.Context,
	s *session,
) *RenderLock {
	ts := v.clock.Timestamp()
	seq := s.index.FindFrameForTimestamp(ts)
	if seq < 0 {
		return nil
	}
	keyframe, predecessor := s.index.DependencyFrames(seq)
	seqs := []int{seq}
	if keyframe >= 0 {
		seqs = append(seqs, keyframe, predecessor)
	}
	readLock := v.cache.LockForReading(ctx, seqs...)
	if readLock == nil {
		logger.Tracef(ctx, "frame %d is not ready for rendering", seq)
		return nil
	}

	lock := &RenderLock{
		video:     v,
		session:   s,
		readLock:  readLock,
		Timestamp: ts,
		Frame:     readLock.Frame(seq),
	}
	if keyframe < 0 {
		lock.Keyframe = lock.Frame
	} else {
		lock.Keyframe = readLock.Frame(keyframe)
		lock.Predecessor = readLock.Frame(predecessor)
	}
	start, end := lock.Frame.StartTimestamp, lock.Frame.EndTimestamp
	if end > start {
		lock.IntraFrameTime = float32(min(1, max(0, float64(ts-start)/float64(end-start))))
	}

	s.renderLock = lock
	v.acquireLocked(s)
	metricOutstandingRenderLocks.Inc()
	return lock
}

// Render draws the frame pinned by the lock with the given column-major
// transforms.
func (v *Video) Render(
	ctx context.Context,
	modelView [16]float32,
	modelViewProjection [16]float32,
	surfaceNormalShading bool,
	lock *RenderLock,
) error {
	if err := xsync.DoR1(ctx, &v.locker, func() error {
		return v.checkRenderLockLocked(lock)
	}); err != nil {
		return err
	}

	cmd := &commonresources.RenderCommand{
		ModelView:            modelView,
		ModelViewProjection:  modelViewProjection,
		SurfaceNormalShading: surfaceNormalShading,
		Keyframe:             lock.Keyframe.Frame,
		Frame:                lock.Frame.Frame,
		IntraFrameTime:       lock.IntraFrameTime,
	}
	if lock.Predecessor != nil {
		cmd.Predecessor = lock.Predecessor.Frame
	}
	if err := v.resources.Render(ctx, cmd); err != nil {
		return fmt.Errorf("unable to render frame %d: %w", lock.Frame.Seq, err)
	}
	return nil
}

func (v *Video) checkRenderLockLocked(lock *RenderLock) error {
	switch {
	case lock == nil:
		return ErrNilRenderLock
	case lock.video != v:
		return ErrForeignRenderLock
	case lock.destroyed:
		return ErrRenderLockAlreadyDestroyed
	case lock.session != v.current:
		return ErrStaleRenderLock
	}
	return nil
}

// DestroyRenderLock unpins the frames of the lock.
func (v *Video) DestroyRenderLock(
	ctx context.Context,
	lock *RenderLock,
) error {
	defer v.publishEvents(ctx)
	return xsync.DoR1(ctx, &v.locker, func() error {
		switch {
		case lock == nil:
			return ErrNilRenderLock
		case lock.video != v:
			return ErrForeignRenderLock
		case lock.destroyed:
			return ErrRenderLockAlreadyDestroyed
		}
		lock.destroyed = true
		if lock.session.renderLock == lock {
			lock.session.renderLock = nil
		}
		metricOutstandingRenderLocks.Dec()
		err := lock.readLock.Release(ctx)
		v.releaseLocked(ctx, lock.session)
		if err != nil {
			return fmt.Errorf("unable to release the frames: %w", err)
		}
		return nil
	})
}
