package xrvideo

import (
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo/types"
)

type Config = types.Config
type Option = types.Option
type Options = types.Options
type EventBus = types.EventBus
type AsyncLoadState = types.AsyncLoadState
type LoadResult = types.LoadResult

type OptionCachedDecodedFrameCount = types.OptionCachedDecodedFrameCount
type OptionDecodeWorkers = types.OptionDecodeWorkers
type OptionMinimumReadyFrames = types.OptionMinimumReadyFrames
type OptionRealTimeHeadroom = types.OptionRealTimeHeadroom
type OptionBufferingIndicatorDelay = types.OptionBufferingIndicatorDelay
type OptionDebug = types.OptionDebug
type OptionEventBus = types.OptionEventBus
type OptionDecoder = types.OptionDecoder
type OptionClock = types.OptionClock

const (
	AsyncLoadStateLoading = types.AsyncLoadStateLoading
	AsyncLoadStateError   = types.AsyncLoadStateError
	AsyncLoadStateReady   = types.AsyncLoadStateReady

	LoadStarted  = types.LoadStarted
	LoadDeferred = types.LoadDeferred

	MinimumCachedDecodedFrameCount = types.MinimumCachedDecodedFrameCount
)

var DefaultConfig = types.DefaultConfig
