// Package commonresources holds the rendering resources shared by every
// video: the shader programs and the backend issuing the draw calls.
package commonresources

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/xrvideo/pkg/xrvdecode"
	"github.com/xaionaro-go/xsync"
)

var (
	ErrNotInitialized = errors.New("the common resources are not initialized")
	ErrDestroyed      = errors.New("the common resources are destroyed")
	ErrVideosAlive    = errors.New("videos using the common resources are still alive; destroy the videos first")
)

type ProgramKind int

const (
	ProgramKindStandard = ProgramKind(iota)
	ProgramKindVertexAlpha
	ProgramKindShaded
	ProgramKindShadedVertexAlpha
	endOfProgramKind
)

func (k ProgramKind) String() string {
	switch k {
	case ProgramKindStandard:
		return "standard"
	case ProgramKindVertexAlpha:
		return "vertex-alpha"
	case ProgramKindShaded:
		return "shaded"
	case ProgramKindShadedVertexAlpha:
		return "shaded-vertex-alpha"
	default:
		return fmt.Sprintf("unknown_program_kind_%d", int(k))
	}
}

func programKindFor(surfaceNormalShading, vertexAlpha bool) ProgramKind {
	switch {
	case surfaceNormalShading && vertexAlpha:
		return ProgramKindShadedVertexAlpha
	case surfaceNormalShading:
		return ProgramKindShaded
	case vertexAlpha:
		return ProgramKindVertexAlpha
	default:
		return ProgramKindStandard
	}
}

type Program interface {
	Release(ctx context.Context) error
}

// RenderCommand is everything needed to draw one frame of a video.
type RenderCommand struct {
	ModelView            [16]float32
	ModelViewProjection  [16]float32
	SurfaceNormalShading bool

	// Keyframe carries the mesh; Predecessor and Frame carry the two
	// deformation states to interpolate between.
	Keyframe       *xrvdecode.Frame
	Predecessor    *xrvdecode.Frame
	Frame          *xrvdecode.Frame
	IntraFrameTime float32
}

// Backend is the GPU side supplied by the host.
type Backend interface {
	CompileProgram(ctx context.Context, kind ProgramKind) (Program, error)
	Draw(ctx context.Context, program Program, cmd *RenderCommand) error
}

type CommonResources struct {
	locker    xsync.Mutex
	backend   Backend
	programs  map[ProgramKind]Program
	initErr   error
	destroyed bool
	users     int
}

// New compiles the programs. It never fails hard: if the backend cannot
// compile the programs, the result reports IsInitialized() == false.
func New(
	ctx context.Context,
	backend Backend,
) *CommonResources {
	logger.Debugf(ctx, "New")
	defer logger.Debugf(ctx, "/New")

	r := &CommonResources{
		backend:  backend,
		programs: map[ProgramKind]Program{},
	}
	if backend == nil {
		r.initErr = fmt.Errorf("no rendering backend")
		return r
	}
	for kind := ProgramKind(0); kind < endOfProgramKind; kind++ {
		program, err := backend.CompileProgram(ctx, kind)
		if err != nil {
			r.initErr = fmt.Errorf("unable to compile the %s program: %w", kind, err)
			break
		}
		r.programs[kind] = program
	}
	if r.initErr != nil {
		logger.Warnf(ctx, "unable to initialize the common resources: %v", r.initErr)
		if err := r.releasePrograms(ctx); err != nil {
			logger.Errorf(ctx, "unable to release the programs: %v", err)
		}
	}
	return r
}

func (r *CommonResources) IsInitialized() bool {
	if r == nil {
		return false
	}
	return xsync.DoR1(context.TODO(), &r.locker, func() bool {
		return r.initErr == nil && !r.destroyed
	})
}

// InitError explains why the resources are not initialized.
func (r *CommonResources) InitError() error {
	return xsync.DoR1(context.TODO(), &r.locker, func() error {
		return r.initErr
	})
}

// Acquire registers a video using the resources.
func (r *CommonResources) Acquire(ctx context.Context) error {
	return xsync.DoR1(ctx, &r.locker, func() error {
		switch {
		case r.destroyed:
			return ErrDestroyed
		case r.initErr != nil:
			return fmt.Errorf("%w: %w", ErrNotInitialized, r.initErr)
		}
		r.users++
		return nil
	})
}

func (r *CommonResources) Release(ctx context.Context) {
	r.locker.Do(ctx, func() {
		if r.users <= 0 {
			logger.Errorf(ctx, "the common resources are released more times than acquired")
			return
		}
		r.users--
	})
}

func (r *CommonResources) Users(ctx context.Context) int {
	return xsync.DoR1(ctx, &r.locker, func() int {
		return r.users
	})
}

func (r *CommonResources) Render(
	ctx context.Context,
	cmd *RenderCommand,
) error {
	program, err := xsync.DoR2(ctx, &r.locker, func() (Program, error) {
		if r.destroyed {
			return nil, ErrDestroyed
		}
		if r.initErr != nil {
			return nil, ErrNotInitialized
		}
		vertexAlpha := cmd.Frame != nil && cmd.Frame.VertexAlpha != nil
		return r.programs[programKindFor(cmd.SurfaceNormalShading, vertexAlpha)], nil
	})
	if err != nil {
		return err
	}
	if err := r.backend.Draw(ctx, program, cmd); err != nil {
		return fmt.Errorf("unable to draw: %w", err)
	}
	return nil
}

// Destroy releases the programs. All the videos must be destroyed before.
func (r *CommonResources) Destroy(ctx context.Context) error {
	logger.Debugf(ctx, "Destroy")
	defer logger.Debugf(ctx, "/Destroy")
	return xsync.DoR1(ctx, &r.locker, func() error {
		if r.destroyed {
			return ErrDestroyed
		}
		if r.users > 0 {
			return fmt.Errorf("%w: %d videos", ErrVideosAlive, r.users)
		}
		r.destroyed = true
		return r.releasePrograms(ctx)
	})
}

func (r *CommonResources) releasePrograms(ctx context.Context) error {
	var result *multierror.Error
	for kind, program := range r.programs {
		if err := program.Release(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to release the %s program: %w", kind, err))
		}
		delete(r.programs, kind)
	}
	return result.ErrorOrNil()
}
