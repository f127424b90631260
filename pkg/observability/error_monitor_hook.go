package observability

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"github.com/DataDog/gostackparse"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/pkg/field"
	xruntime "github.com/facebookincubator/go-belt/pkg/runtime"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	errmontypes "github.com/facebookincubator/go-belt/tool/experimental/errmon/types"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/adapter"
	loggertypes "github.com/facebookincubator/go-belt/tool/logger/types"
)

const maxStackBufferSize = 10 * 1024 * 1024

func goroutines() ([]errmontypes.Goroutine, int) {
	size := 65536 * runtime.NumGoroutine()
	if size > maxStackBufferSize {
		size = maxStackBufferSize
	}
	buf := make([]byte, size)

	all, _ := gostackparse.Parse(bytes.NewReader(buf[:runtime.Stack(buf, true)]))
	result := make([]errmontypes.Goroutine, 0, len(all))
	for _, g := range all {
		result = append(result, *g)
	}

	var currentID int
	current, _ := gostackparse.Parse(bytes.NewReader(buf[:runtime.Stack(buf, false)]))
	if len(current) == 1 {
		currentID = current[0].ID
	}
	return result, currentID
}

// ErrorMonitorLoggerHook forwards every log entry of level Warning or more
// severe to the error monitor. Entries are sent asynchronously; when the
// queue is full they are dropped.
type ErrorMonitorLoggerHook struct {
	ErrorMonitor errmontypes.ErrorMonitor
	SendChan     chan ErrorMonitorMessage
}

type ErrorMonitorMessage struct {
	Entry              *loggertypes.Entry
	Goroutines         []errmontypes.Goroutine
	CurrentGoroutineID int
	StackTrace         xruntime.PCs
}

var _ loggertypes.PreHook = (*ErrorMonitorLoggerHook)(nil)

// NewErrorMonitorLoggerHook starts the sender; it stops when ctx is done.
func NewErrorMonitorLoggerHook(
	ctx context.Context,
	errorMonitor errmon.ErrorMonitor,
) *ErrorMonitorLoggerHook {
	h := &ErrorMonitorLoggerHook{
		ErrorMonitor: errorMonitor,
		SendChan:     make(chan ErrorMonitorMessage, 10),
	}
	GoSafe(ctx, h.senderLoop)
	return h
}

func (h *ErrorMonitorLoggerHook) ProcessInput(
	_ belt.TraceIDs,
	level loggertypes.Level,
	args ...any,
) loggertypes.PreHookResult {
	if level <= loggertypes.LevelWarning {
		h.capture(level, func(l logger.Logger) { l.Log(level, args...) })
	}
	return loggertypes.PreHookResult{}
}

func (h *ErrorMonitorLoggerHook) ProcessInputf(
	_ belt.TraceIDs,
	level loggertypes.Level,
	format string,
	args ...any,
) loggertypes.PreHookResult {
	if level <= loggertypes.LevelWarning {
		h.capture(level, func(l logger.Logger) { l.Logf(level, format, args...) })
	}
	return loggertypes.PreHookResult{}
}

func (h *ErrorMonitorLoggerHook) ProcessInputFields(
	_ belt.TraceIDs,
	level loggertypes.Level,
	message string,
	fields field.AbstractFields,
) loggertypes.PreHookResult {
	if level <= loggertypes.LevelWarning {
		h.capture(level, func(l logger.Logger) { l.LogFields(level, message, fields) })
	}
	return loggertypes.PreHookResult{}
}

func (h *ErrorMonitorLoggerHook) capture(
	level loggertypes.Level,
	logFn func(logger.Logger),
) {
	c := &entryCapturer{}
	logFn(adapter.LoggerFromEmitter(c).WithLevel(logger.LevelWarning))
	if c.LastEntry == nil {
		logger.Default().Errorf("the %s entry was not captured", level)
		return
	}
	h.send(copyEntry(c.LastEntry))
}

func copyEntry(entry *loggertypes.Entry) *loggertypes.Entry {
	dup := *entry
	if entry.Fields != nil {
		fields := make(field.Fields, 0, entry.Fields.Len())
		entry.Fields.ForEachField(func(f *field.Field) bool {
			fields = append(fields, *f)
			return true
		})
		dup.Fields = fields
	}
	return &dup
}

func (h *ErrorMonitorLoggerHook) send(entry *loggertypes.Entry) {
	all, currentID := goroutines()
	select {
	case h.SendChan <- ErrorMonitorMessage{
		Entry:              entry,
		Goroutines:         all,
		CurrentGoroutineID: currentID,
		StackTrace:         xruntime.CallerStackTrace(nil),
	}:
	default:
		logger.Default().Errorf("unable to send an error to the error monitor, the queue is full")
	}
}

func (h *ErrorMonitorLoggerHook) senderLoop(ctx context.Context) {
	for {
		var message ErrorMonitorMessage
		select {
		case <-ctx.Done():
			return
		case message = <-h.SendChan:
		}
		h.ErrorMonitor.Emitter().Emit(&errmontypes.Event{
			Entry:       *message.Entry,
			ExternalIDs: []any{},
			Exception: errmontypes.Exception{
				IsPanic:    message.Entry.Level <= loggertypes.LevelPanic,
				Error:      fmt.Errorf("[%s] %s", message.Entry.Level, message.Entry.Message),
				StackTrace: message.StackTrace,
			},
			CurrentGoroutineID: message.CurrentGoroutineID,
			Goroutines:         message.Goroutines,
		})
	}
}
