// Package config is the configuration file of the xrvplay tool.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
	"github.com/xaionaro-go/xrvideo/pkg/xpath"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo"
)

type Config struct {
	Video xrvideo.Config `yaml:"video"`

	// Playlist is the list of files to play; paths are expanded with
	// xpath.Expand.
	Playlist     []string      `yaml:"playlist"`
	PlaybackMode playback.Mode `yaml:"playback_mode"`

	// SwitchInterval is how long each playlist entry plays before the next
	// one is loaded; zero never switches.
	SwitchInterval time.Duration `yaml:"switch_interval"`

	// FrameRate is the rate of the headless update/render loop.
	FrameRate float64 `yaml:"frame_rate"`

	LogLevel          string `yaml:"log_level"`
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
	SentryDSN         string `yaml:"sentry_dsn"`
}

func DefaultConfig(ctx context.Context) Config {
	return Config{
		Video:          xrvideo.DefaultConfig(ctx),
		PlaybackMode:   playback.ModeLoop,
		SwitchInterval: 10 * time.Second,
		FrameRate:      72,
		LogLevel:       logger.LevelWarning.String(),
	}
}

// Level parses LogLevel.
func (cfg Config) Level() (logger.Level, error) {
	var level logger.Level
	if cfg.LogLevel == "" {
		return logger.LevelWarning, nil
	}
	if err := level.Set(cfg.LogLevel); err != nil {
		return level, fmt.Errorf("unable to parse log level '%s': %w", cfg.LogLevel, err)
	}
	return level, nil
}

// PlaylistPaths returns the playlist with every path expanded.
func (cfg Config) PlaylistPaths() ([]string, error) {
	result := make([]string, 0, len(cfg.Playlist))
	for _, raw := range cfg.Playlist {
		p, err := xpath.Expand(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to expand path '%s': %w", raw, err)
		}
		result = append(result, p)
	}
	return result, nil
}

// ReadConfigFromPath reads the config over cfg, so values missing in the
// file keep what cfg had.
func ReadConfigFromPath(
	ctx context.Context,
	cfgPath string,
	cfg *Config,
) error {
	p, err := xpath.Expand(cfgPath)
	if err != nil {
		return fmt.Errorf("unable to expand path '%s': %w", cfgPath, err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("unable to read file '%s': %w", p, err)
	}
	logger.Debugf(ctx, "read %d bytes from '%s'", len(b), p)
	_, err = cfg.Read(b)
	return err
}

func WriteConfigToPath(
	ctx context.Context,
	cfgPath string,
	cfg Config,
) error {
	p, err := xpath.Expand(cfgPath)
	if err != nil {
		return fmt.Errorf("unable to expand path '%s': %w", cfgPath, err)
	}
	pathNew := p + ".new"
	f, err := os.OpenFile(pathNew, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0640)
	if err != nil {
		return fmt.Errorf("unable to open the config file '%s': %w", pathNew, err)
	}
	_, err = cfg.WriteTo(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("unable to write data to file '%s': %w", pathNew, err)
	}
	if err := os.Rename(pathNew, p); err != nil {
		return fmt.Errorf("cannot move '%s' to '%s': %w", pathNew, p, err)
	}
	logger.Infof(ctx, "wrote the config to '%s'", p)
	return nil
}
