package types

import (
	"fmt"
)

type AsyncLoadState int

const (
	AsyncLoadStateLoading = AsyncLoadState(iota)
	AsyncLoadStateError
	AsyncLoadStateReady
)

func (s AsyncLoadState) String() string {
	switch s {
	case AsyncLoadStateLoading:
		return "loading"
	case AsyncLoadStateError:
		return "error"
	case AsyncLoadStateReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown_load_state_%d", int(s))
	}
}

// LoadResult tells whether Load has started loading the new video.
type LoadResult int

const (
	LoadStarted = LoadResult(iota)

	// LoadDeferred means the previous switch is not complete yet, so the
	// call had no effect.
	LoadDeferred
)

func (r LoadResult) String() string {
	switch r {
	case LoadStarted:
		return "started"
	case LoadDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("unknown_load_result_%d", int(r))
	}
}
