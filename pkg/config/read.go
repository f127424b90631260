package config

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

var _ io.ReaderFrom = (*Config)(nil)

func (cfg *Config) Read(
	b []byte,
) (int, error) {
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return len(b), fmt.Errorf("unable to unserialize the config: %w", err)
	}
	return len(b), nil
}

func (cfg *Config) ReadFrom(
	r io.Reader,
) (int64, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(r)
	if err != nil {
		return n, fmt.Errorf("unable to read: %w", err)
	}
	if _, err := cfg.Read(buf.Bytes()); err != nil {
		return n, err
	}
	return n, nil
}
