package frameindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile"
)

var ErrMalformed = errors.New("malformed container")

// Entry is the immutable record of a single frame.
type Entry struct {
	Seq            int
	StartTimestamp time.Duration

	// Offset is the position of the frame chunk header; Length includes it.
	Offset     int
	Length     int
	IsKeyframe bool
}

// PayloadRange returns the bounds of the frame chunk payload.
func (e Entry) PayloadRange() (int, int) {
	return e.Offset + xrvfile.ChunkHeaderSize, e.Offset + e.Length
}

// Index is the read-only frame table of a container.
type Index struct {
	Entries       []Entry
	endTimestamp  time.Duration
	Metadata      *xrvfile.Metadata
	HasIndexChunk bool
}

func Parse(
	ctx context.Context,
	buf []byte,
) (_ret *Index, _err error) {
	logger.Debugf(ctx, "Parse(ctx, <%s>)", humanize.Bytes(uint64(len(buf))))
	defer func() { logger.Debugf(ctx, "/Parse(ctx, <%s>): %v", humanize.Bytes(uint64(len(buf))), _err) }()

	idx, err := parse(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := idx.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return idx, nil
}

func parse(
	ctx context.Context,
	buf []byte,
) (*Index, error) {
	result := &Index{}
	var indexChunk *xrvfile.IndexChunk

	offset := 0
	for {
		if offset >= len(buf) {
			return nil, fmt.Errorf("the container has no frames")
		}
		chunk, err := xrvfile.ReadChunk(buf, offset)
		if err != nil {
			return nil, err
		}
		if chunk.Type == xrvfile.ChunkTypeFrame {
			break
		}
		switch chunk.Type {
		case xrvfile.ChunkTypeMetadata:
			meta, err := xrvfile.ParseMetadata(chunk.Payload)
			if err != nil {
				return nil, fmt.Errorf("unable to parse the metadata chunk: %w", err)
			}
			result.Metadata = &meta
		case xrvfile.ChunkTypeIndex:
			indexChunk, err = xrvfile.ParseIndexChunk(chunk.Payload, xrvfile.MaxFrameCount(len(buf)))
			if err != nil {
				return nil, fmt.Errorf("unable to parse the index chunk: %w", err)
			}
		}
		offset += chunk.TotalSize()
	}

	if indexChunk != nil {
		logger.Tracef(ctx, "using the index chunk with %d items", len(indexChunk.Items))
		result.HasIndexChunk = true
		result.endTimestamp = indexChunk.EndTimestamp
		result.Entries = make([]Entry, 0, len(indexChunk.Items))
		for seq, item := range indexChunk.Items {
			chunk, err := xrvfile.ReadChunk(buf, offset)
			if err != nil {
				return nil, fmt.Errorf("index item %d: %w", seq, err)
			}
			if chunk.Type != xrvfile.ChunkTypeFrame || chunk.Size != item.Size {
				return nil, fmt.Errorf("%w: index item %d expects a frame chunk of %d bytes at offset %d, but found a %s chunk of %d bytes", xrvfile.ErrInconsistentOffsets, seq, item.Size, offset, chunk.Type, chunk.Size)
			}
			h, err := xrvfile.ParseFrameHeader(chunk.Payload)
			if err != nil {
				return nil, fmt.Errorf("unable to parse the header of frame %d: %w", seq, err)
			}
			if h.IsKeyframe() != item.IsKeyframe || h.StartTimestamp != item.StartTimestamp {
				return nil, fmt.Errorf("%w: index item %d (keyframe:%t, start:%v) disagrees with the frame header (keyframe:%t, start:%v)", xrvfile.ErrIndexMismatch, seq, item.IsKeyframe, item.StartTimestamp, h.IsKeyframe(), h.StartTimestamp)
			}
			result.Entries = append(result.Entries, Entry{
				Seq:            seq,
				StartTimestamp: item.StartTimestamp,
				Offset:         offset,
				Length:         chunk.TotalSize(),
				IsKeyframe:     item.IsKeyframe,
			})
			offset += chunk.TotalSize()
		}
		if offset != len(buf) {
			return nil, fmt.Errorf("%w: %d bytes after the last indexed frame", xrvfile.ErrInconsistentOffsets, len(buf)-offset)
		}
		return result, nil
	}

	logger.Tracef(ctx, "no index chunk, scanning the frames")
	for offset < len(buf) {
		chunk, err := xrvfile.ReadChunk(buf, offset)
		if err != nil {
			return nil, err
		}
		if chunk.Type != xrvfile.ChunkTypeFrame {
			return nil, fmt.Errorf("a %s chunk at offset %d follows frame chunks", chunk.Type, offset)
		}
		h, err := xrvfile.ParseFrameHeader(chunk.Payload)
		if err != nil {
			return nil, fmt.Errorf("unable to parse the header of frame %d: %w", len(result.Entries), err)
		}
		result.Entries = append(result.Entries, Entry{
			Seq:            len(result.Entries),
			StartTimestamp: h.StartTimestamp,
			Offset:         offset,
			Length:         chunk.TotalSize(),
			IsKeyframe:     h.IsKeyframe(),
		})
		if h.EndTimestamp > result.endTimestamp {
			result.endTimestamp = h.EndTimestamp
		}
		offset += chunk.TotalSize()
	}
	return result, nil
}

func (idx *Index) validate() error {
	if len(idx.Entries) == 0 {
		return fmt.Errorf("the container has no frames")
	}
	if !idx.Entries[0].IsKeyframe {
		return fmt.Errorf("the first frame is not a keyframe")
	}
	for i := 1; i < len(idx.Entries); i++ {
		prev, cur := idx.Entries[i-1], idx.Entries[i]
		if cur.StartTimestamp <= prev.StartTimestamp {
			return fmt.Errorf("frame %d starts at %v which is not after frame %d (%v)", i, cur.StartTimestamp, i-1, prev.StartTimestamp)
		}
	}
	last := idx.Entries[len(idx.Entries)-1]
	if idx.endTimestamp < last.StartTimestamp {
		return fmt.Errorf("the end timestamp %v precedes the start of the last frame %v", idx.endTimestamp, last.StartTimestamp)
	}
	return nil
}

func (idx *Index) FrameCount() int {
	return len(idx.Entries)
}

func (idx *Index) Entry(seq int) Entry {
	return idx.Entries[seq]
}

func (idx *Index) StartTimestamp() time.Duration {
	return idx.Entries[0].StartTimestamp
}

// EndTimestamp is the end of the last frame.
func (idx *Index) EndTimestamp() time.Duration {
	return idx.endTimestamp
}

// FrameEndTimestamp is the start of the next frame, or the video end for
// the last frame.
func (idx *Index) FrameEndTimestamp(seq int) time.Duration {
	if seq+1 < len(idx.Entries) {
		return idx.Entries[seq+1].StartTimestamp
	}
	return idx.endTimestamp
}

// AverageFrameDuration is the length of the video divided by the frame count.
func (idx *Index) AverageFrameDuration() time.Duration {
	return (idx.endTimestamp - idx.StartTimestamp()) / time.Duration(len(idx.Entries))
}

// FindFrameForTimestamp returns the frame displayed at ts, or -1 if ts
// is outside of [StartTimestamp, EndTimestamp].
func (idx *Index) FindFrameForTimestamp(ts time.Duration) int {
	if ts < idx.StartTimestamp() || ts > idx.endTimestamp {
		return -1
	}
	// the first frame starting after ts, minus one
	return sort.Search(len(idx.Entries), func(i int) bool {
		return idx.Entries[i].StartTimestamp > ts
	}) - 1
}

// DependencyFrames returns the frames that have to be decoded to render
// the given frame: its base keyframe and its predecessor. Both are -1 for
// keyframes.
func (idx *Index) DependencyFrames(seq int) (keyframe int, predecessor int) {
	if idx.Entries[seq].IsKeyframe {
		return -1, -1
	}
	keyframe = seq - 1
	for keyframe > 0 && !idx.Entries[keyframe].IsKeyframe {
		keyframe--
	}
	return keyframe, seq - 1
}
