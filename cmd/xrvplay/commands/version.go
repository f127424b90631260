package commands

import (
	"encoding/json"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaionaro-go/xrvideo/pkg/buildvars"
)

type buildVars struct {
	Short     string `json:",omitempty"`
	Version   string `json:",omitempty"`
	GitCommit string `json:",omitempty"`
	BuildDate string `json:",omitempty"`
}

type buildInfo struct {
	BuildInfo *debug.BuildInfo `json:",omitempty"`
	BuildVars *buildVars       `json:",omitempty"`
}

func getBuildInfo() buildInfo {
	result := buildInfo{
		BuildVars: &buildVars{
			Short:     buildvars.Short(),
			Version:   buildvars.Version,
			GitCommit: buildvars.GitCommit,
		},
	}
	if buildvars.BuildDate != nil {
		result.BuildVars.BuildDate = buildvars.BuildDate.Format(time.RFC3339)
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		result.BuildInfo = bi
	}
	return result
}

func version(cmd *cobra.Command, args []string) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", " ")
	assertNoError(cmd.Context(), enc.Encode(getBuildInfo()))
}
