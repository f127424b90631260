package observability

import logger "github.com/facebookincubator/go-belt/tool/logger/types"

// entryCapturer keeps the last emitted entry instead of writing it.
type entryCapturer struct {
	LastEntry *logger.Entry
}

var _ logger.Emitter = (*entryCapturer)(nil)

func (e *entryCapturer) Emit(entry *logger.Entry) {
	e.LastEntry = entry
}

func (e *entryCapturer) Flush() {}
