package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/xrvideo/pkg/clock"
	"github.com/xaionaro-go/xrvideo/pkg/frameindex"
	"github.com/xaionaro-go/xrvideo/pkg/xrvdecode"
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile"
)

type inspectResult struct {
	Path                 string            `json:"path"`
	Size                 int               `json:"size"`
	Frames               int               `json:"frames"`
	Keyframes            int               `json:"keyframes"`
	StartTimestamp       time.Duration     `json:"start_timestamp"`
	EndTimestamp         time.Duration     `json:"end_timestamp"`
	AverageFrameDuration time.Duration     `json:"average_frame_duration"`
	HasIndexChunk        bool              `json:"has_index_chunk"`
	Metadata             *xrvfile.Metadata `json:"metadata,omitempty"`
	Decode               *decodeResult     `json:"decode,omitempty"`
}

type decodeResult struct {
	DecodedSize     int           `json:"decoded_size"`
	Failures        int           `json:"failures"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
}

func inspect(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	decode, err := cmd.Flags().GetBool("decode")
	assertNoError(ctx, err)
	isJSON, err := cmd.Flags().GetBool("json")
	assertNoError(ctx, err)
	dump, err := cmd.Flags().GetBool("dump")
	assertNoError(ctx, err)

	w := cmd.OutOrStdout()
	results := make([]inspectResult, 0, len(args))
	for _, p := range args {
		buf := readFile(ctx, p)
		result, err := inspectFile(ctx, p, buf, decode)
		assertNoError(ctx, err)
		results = append(results, result)
		if dump {
			dumpIndex(ctx, w, p, buf)
		}
	}

	if isJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", " ")
		assertNoError(ctx, enc.Encode(results))
		return
	}
	for _, r := range results {
		printInspectResult(w, r)
	}
}

func inspectFile(
	ctx context.Context,
	p string,
	buf []byte,
	decode bool,
) (inspectResult, error) {
	logger.Debugf(ctx, "inspectFile(ctx, '%s', %t)", p, decode)
	defer logger.Debugf(ctx, "/inspectFile(ctx, '%s', %t)", p, decode)

	idx, err := frameindex.Parse(ctx, buf)
	if err != nil {
		return inspectResult{}, fmt.Errorf("unable to parse '%s': %w", p, err)
	}

	result := inspectResult{
		Path:                 p,
		Size:                 len(buf),
		Frames:               idx.FrameCount(),
		StartTimestamp:       idx.StartTimestamp(),
		EndTimestamp:         idx.EndTimestamp(),
		AverageFrameDuration: idx.AverageFrameDuration(),
		HasIndexChunk:        idx.HasIndexChunk,
		Metadata:             idx.Metadata,
	}
	for _, e := range idx.Entries {
		if e.IsKeyframe {
			result.Keyframes++
		}
	}
	if decode {
		result.Decode = decodeAll(ctx, idx, buf)
	}
	return result, nil
}

func decodeAll(
	ctx context.Context,
	idx *frameindex.Index,
	buf []byte,
) *decodeResult {
	var decoder xrvdecode.ZstdDecoder
	result := &decodeResult{}
	sw := clock.StartStopwatch(nil)
	for _, e := range idx.Entries {
		begin, end := e.PayloadRange()
		sw.Lap()
		frame, err := decoder.Decode(ctx, buf[begin:end])
		elapsed := sw.Lap()
		result.TotalDuration += elapsed
		if elapsed > result.MaxDuration {
			result.MaxDuration = elapsed
		}
		if err != nil {
			logger.Warnf(ctx, "unable to decode frame %d: %v", e.Seq, err)
			result.Failures++
			continue
		}
		result.DecodedSize += frame.Size()
	}
	if len(idx.Entries) > 0 {
		result.AverageDuration = result.TotalDuration / time.Duration(len(idx.Entries))
	}
	return result
}

func printInspectResult(w io.Writer, r inspectResult) {
	fmt.Fprintf(w, "%s:\n", r.Path)
	fmt.Fprintf(w, "  size: %s\n", humanize.Bytes(uint64(r.Size)))
	fmt.Fprintf(w, "  frames: %d (keyframes: %d)\n", r.Frames, r.Keyframes)
	fmt.Fprintf(w, "  timestamps: %v .. %v\n", r.StartTimestamp, r.EndTimestamp)
	fmt.Fprintf(w, "  average frame duration: %v\n", r.AverageFrameDuration)
	fmt.Fprintf(w, "  index chunk: %t\n", r.HasIndexChunk)
	if m := r.Metadata; m != nil {
		fmt.Fprintf(w, "  look at: %v, radius: %g, yaw: %g, pitch: %g\n", m.LookAt, m.Radius, m.Yaw, m.Pitch)
	}
	if d := r.Decode; d != nil {
		fmt.Fprintf(w, "  decoded: %s, failures: %d\n", humanize.Bytes(uint64(d.DecodedSize)), d.Failures)
		fmt.Fprintf(w, "  decode time: %v total, %v average, %v max\n", d.TotalDuration, d.AverageDuration, d.MaxDuration)
	}
}

// dumpIndex prints the whole frame table.
func dumpIndex(
	ctx context.Context,
	w io.Writer,
	p string,
	buf []byte,
) {
	idx, err := frameindex.Parse(ctx, buf)
	assertNoError(ctx, err)
	fmt.Fprintf(w, "%s frame table:\n", p)
	spew.Fdump(w, idx.Entries)
}
