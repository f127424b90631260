package xpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Expand resolves a leading "~/" to the home directory and environment
// variables in the form of $VAR or ${VAR}.
func Expand(rawPath string) (string, error) {
	p := os.ExpandEnv(rawPath)
	switch {
	case p == "~":
		return homeDir()
	case strings.HasPrefix(p, "~/"):
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to get user home dir: %w", err)
	}
	return home, nil
}
