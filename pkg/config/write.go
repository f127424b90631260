package config

import (
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

var _ io.WriterTo = Config{}

func (cfg Config) Bytes() ([]byte, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize the config: %w", err)
	}
	return b, nil
}

func (cfg Config) WriteTo(
	w io.Writer,
) (int64, error) {
	b, err := cfg.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	if err != nil {
		return int64(n), fmt.Errorf("unable to write the config: %w", err)
	}
	return int64(n), nil
}
