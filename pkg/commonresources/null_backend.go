package commonresources

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/xsync"
)

// NullBackend draws nothing; it only counts the draw calls. It serves
// headless playback and tests.
type NullBackend struct {
	locker       xsync.Mutex
	compileError map[ProgramKind]error
	draws        map[ProgramKind]int
	lastCommand  *RenderCommand
	released     int
}

var _ Backend = (*NullBackend)(nil)

func NewNullBackend() *NullBackend {
	return &NullBackend{
		compileError: map[ProgramKind]error{},
		draws:        map[ProgramKind]int{},
	}
}

// FailCompiling makes CompileProgram of the given kind fail, emulating
// hardware without the required shader support.
func (b *NullBackend) FailCompiling(kind ProgramKind, err error) {
	b.locker.Do(context.TODO(), func() {
		b.compileError[kind] = err
	})
}

type nullProgram struct {
	backend *NullBackend
	kind    ProgramKind
}

func (p *nullProgram) Release(ctx context.Context) error {
	p.backend.locker.Do(ctx, func() {
		p.backend.released++
	})
	return nil
}

func (b *NullBackend) CompileProgram(
	ctx context.Context,
	kind ProgramKind,
) (Program, error) {
	return xsync.DoR2(ctx, &b.locker, func() (Program, error) {
		if err := b.compileError[kind]; err != nil {
			return nil, err
		}
		return &nullProgram{backend: b, kind: kind}, nil
	})
}

func (b *NullBackend) Draw(
	ctx context.Context,
	program Program,
	cmd *RenderCommand,
) error {
	p, ok := program.(*nullProgram)
	if !ok || p.backend != b {
		return fmt.Errorf("the program %T was not compiled by this backend", program)
	}
	if cmd.Frame == nil || cmd.Keyframe == nil {
		return fmt.Errorf("nothing to draw")
	}
	b.locker.Do(ctx, func() {
		b.draws[p.kind]++
		b.lastCommand = cmd
	})
	return nil
}

// Draws returns the number of draw calls per program.
func (b *NullBackend) Draws(ctx context.Context) map[ProgramKind]int {
	return xsync.DoR1(ctx, &b.locker, func() map[ProgramKind]int {
		result := make(map[ProgramKind]int, len(b.draws))
		for kind, count := range b.draws {
			result[kind] = count
		}
		return result
	})
}

func (b *NullBackend) LastCommand(ctx context.Context) *RenderCommand {
	return xsync.DoR1(ctx, &b.locker, func() *RenderCommand {
		return b.lastCommand
	})
}

func (b *NullBackend) ReleasedPrograms(ctx context.Context) int {
	return xsync.DoR1(ctx, &b.locker, func() int {
		return b.released
	})
}
