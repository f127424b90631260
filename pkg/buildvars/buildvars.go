package buildvars

import (
	"fmt"
	"strconv"
	"time"
)

// Set with -ldflags "-X github.com/xaionaro-go/xrvideo/pkg/buildvars.Version=...".
var (
	GitCommit       string
	Version         string
	BuildDateString string
	BuildDate       *time.Time
)

func init() {
	BuildDate = parseBuildDate(BuildDateString)
}

func parseBuildDate(s string) *time.Time {
	unixTS, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	ts := time.Unix(unixTS, 0).UTC()
	return &ts
}

// Short is a one line description of the build, e.g. "v0.3.1-4bf1a2c".
func Short() string {
	version := Version
	if version == "" {
		version = "devel"
	}
	if GitCommit == "" {
		return version
	}
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s-%s", version, commit)
}
