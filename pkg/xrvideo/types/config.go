package types

import (
	"context"
	"time"

	"github.com/xaionaro-go/xrvideo/pkg/clock"
	"github.com/xaionaro-go/xrvideo/pkg/xrvdecode"
)

// MinimumCachedDecodedFrameCount fits a frame together with its keyframe
// and its predecessor.
const MinimumCachedDecodedFrameCount = 3

type Config struct {
	// CachedDecodedFrameCount is the size of the decoded frame cache; zero
	// caches every frame of the video.
	CachedDecodedFrameCount int `yaml:"cached_decoded_frame_count"`

	DecodeWorkers int `yaml:"decode_workers"`

	// MinimumReadyFrames is how many frames ahead must be decoded before
	// buffering may end.
	MinimumReadyFrames int `yaml:"minimum_ready_frames"`

	// RealTimeHeadroom is the share of the playback time decoding may take
	// while still being considered faster than real time.
	RealTimeHeadroom float64 `yaml:"real_time_headroom"`

	// BufferingIndicatorDelay suppresses the buffering indicator for short
	// buffering episodes.
	BufferingIndicatorDelay time.Duration `yaml:"buffering_indicator_delay"`

	// Debug turns caller contract violations into panics.
	Debug bool `yaml:"debug"`

	EventBus EventBus          `yaml:"-"`
	Decoder  xrvdecode.Decoder `yaml:"-"`
	Clock    clock.Clock       `yaml:"-"`
}

func (cfg Config) Options() Options {
	return Options{
		OptionCachedDecodedFrameCount(cfg.CachedDecodedFrameCount),
		OptionDecodeWorkers(cfg.DecodeWorkers),
		OptionMinimumReadyFrames(cfg.MinimumReadyFrames),
		OptionRealTimeHeadroom(cfg.RealTimeHeadroom),
		OptionBufferingIndicatorDelay(cfg.BufferingIndicatorDelay),
		OptionDebug(cfg.Debug),
		OptionEventBus{EventBus: cfg.EventBus},
		OptionDecoder{Decoder: cfg.Decoder},
		OptionClock{Clock: cfg.Clock},
	}
}

type Option interface {
	Apply(cfg *Config)
}

type Options []Option

func (s Options) Config() Config {
	cfg := DefaultConfig(context.Background())
	s.apply(&cfg)
	return cfg
}

func (s Options) apply(cfg *Config) {
	for _, opt := range s {
		opt.Apply(cfg)
	}
}

var DefaultConfig = func(ctx context.Context) Config {
	return Config{
		CachedDecodedFrameCount: 30,
		DecodeWorkers:           2,
		MinimumReadyFrames:      5,
		RealTimeHeadroom:        0.85,
		BufferingIndicatorDelay: 100 * time.Millisecond,
		Decoder:                 xrvdecode.ZstdDecoder{},
		Clock:                   clock.Get(),
	}
}

type OptionCachedDecodedFrameCount int

func (s OptionCachedDecodedFrameCount) Apply(cfg *Config) {
	cfg.CachedDecodedFrameCount = int(s)
}

type OptionDecodeWorkers int

func (s OptionDecodeWorkers) Apply(cfg *Config) {
	cfg.DecodeWorkers = int(s)
}

type OptionMinimumReadyFrames int

func (s OptionMinimumReadyFrames) Apply(cfg *Config) {
	cfg.MinimumReadyFrames = int(s)
}

type OptionRealTimeHeadroom float64

func (s OptionRealTimeHeadroom) Apply(cfg *Config) {
	cfg.RealTimeHeadroom = float64(s)
}

type OptionBufferingIndicatorDelay time.Duration

func (s OptionBufferingIndicatorDelay) Apply(cfg *Config) {
	cfg.BufferingIndicatorDelay = time.Duration(s)
}

type OptionDebug bool

func (s OptionDebug) Apply(cfg *Config) {
	cfg.Debug = bool(s)
}

type OptionEventBus struct {
	EventBus EventBus
}

func (s OptionEventBus) Apply(cfg *Config) {
	cfg.EventBus = s.EventBus
}

type OptionDecoder struct {
	Decoder xrvdecode.Decoder
}

func (s OptionDecoder) Apply(cfg *Config) {
	if s.Decoder == nil {
		return
	}
	cfg.Decoder = s.Decoder
}

type OptionClock struct {
	Clock clock.Clock
}

func (s OptionClock) Apply(cfg *Config) {
	if s.Clock == nil {
		return
	}
	cfg.Clock = s.Clock
}
