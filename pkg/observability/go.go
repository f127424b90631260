package observability

import (
	"context"
	"sync"
)

// CallSafe runs fn and reports (but swallows) its panic.
func CallSafe(ctx context.Context, fn func(ctx context.Context)) {
	defer func() { ReportPanicIfNotNil(ctx, recover()) }()
	fn(ctx)
}

// GoSafe is CallSafe in a new goroutine. A crashed decode worker or
// flusher must not take the host application down.
func GoSafe(ctx context.Context, fn func(ctx context.Context)) {
	go CallSafe(ctx, fn)
}

// GoSafeWG is GoSafe tracked by the given wait group.
func GoSafeWG(ctx context.Context, wg *sync.WaitGroup, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		CallSafe(ctx, fn)
	}()
}
