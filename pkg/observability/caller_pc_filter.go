package observability

import (
	"runtime"
	"strings"
)

// CallerPCFilter skips the frames of lock helpers and logging plumbing so
// that log entries point to the code that actually logged.
func CallerPCFilter(
	originalPCFilter func(uintptr) bool,
) func(uintptr) bool {
	return func(pc uintptr) bool {
		if !originalPCFilter(pc) {
			return false
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			return true
		}
		if strings.Contains(fn.Name(), "xaionaro-go/xsync") {
			return false
		}
		file, _ := fn.FileLine(pc)
		switch {
		case strings.HasSuffix(file, "pkg/observability/go.go"):
			return false
		case strings.HasSuffix(file, "pkg/observability/observe_panic.go"):
			return false
		}
		return true
	}
}
