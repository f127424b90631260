package commands

import (
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/xrvideo/pkg/playback"
)

var (
	_ pflag.Value = (*logger.Level)(nil)
	_ pflag.Value = (*playback.Mode)(nil)
)

// flagsChanged reports whether any of the given flags was set on the
// command line.
func flagsChanged(flags *pflag.FlagSet, names ...string) bool {
	for _, name := range names {
		if flags.Changed(name) {
			return true
		}
	}
	return false
}
