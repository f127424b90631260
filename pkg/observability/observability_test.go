package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	logger "github.com/facebookincubator/go-belt/tool/logger/types"
	"github.com/stretchr/testify/require"
)

func TestLogLevelFilter(t *testing.T) {
	var f LogLevelFilterT
	f.SetLevel(logger.LevelInfo)
	require.Equal(t, logger.LevelInfo, f.GetLevel())

	require.False(t, f.ProcessInput(nil, logger.LevelError).Skip)
	require.False(t, f.ProcessInputf(nil, logger.LevelInfo, "").Skip)
	require.True(t, f.ProcessInputFields(nil, logger.LevelDebug, "", nil).Skip)

	f.SetLevel(logger.LevelTrace)
	require.False(t, f.ProcessInput(nil, logger.LevelDebug).Skip)
}

func TestGoSafeWG(t *testing.T) {
	ctx := context.Background()

	var wg sync.WaitGroup
	var calls atomic.Int32
	for range 3 {
		GoSafeWG(ctx, &wg, func(ctx context.Context) {
			calls.Add(1)
			panic("boom")
		})
	}
	wg.Wait()
	require.Equal(t, int32(3), calls.Load())
}

func TestReportPanicIfNotNil(t *testing.T) {
	ctx := context.Background()
	require.False(t, ReportPanicIfNotNil(ctx, nil))
	require.True(t, ReportPanicIfNotNil(ctx, "oops"))
}

func TestCallerPCFilter(t *testing.T) {
	filter := CallerPCFilter(func(uintptr) bool { return true })
	require.True(t, filter(0))

	rejectAll := CallerPCFilter(func(uintptr) bool { return false })
	require.False(t, rejectAll(0))
}
