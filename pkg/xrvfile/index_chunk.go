package xrvfile

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	IndexVersion      = 0
	IndexHeaderSize   = 1 + 4
	IndexItemSize     = 4 + 8
	indexKeyframeFlag = uint32(1) << 31
)

type IndexItem struct {
	// Size is the frame chunk payload size (without the chunk header).
	Size           uint32
	IsKeyframe     bool
	StartTimestamp time.Duration
}

type IndexChunk struct {
	Items        []IndexItem
	EndTimestamp time.Duration
}

// MaxFrameCount is how many frame chunks fit into a container of the
// given size.
func MaxFrameCount(containerSize int) int {
	return containerSize / (ChunkHeaderSize + FrameHeaderSize)
}

// ParseIndexChunk parses the index of at most maxFrames frames.
func ParseIndexChunk(payload []byte, maxFrames int) (*IndexChunk, error) {
	if len(payload) < IndexHeaderSize {
		return nil, fmt.Errorf("%w: index chunk needs at least %d bytes, have %d", ErrTruncated, IndexHeaderSize, len(payload))
	}
	if payload[0] != IndexVersion {
		return nil, fmt.Errorf("%w: index version %d", ErrUnsupportedVersion, payload[0])
	}
	compressedSize := binary.LittleEndian.Uint32(payload[1:5])
	if uint64(compressedSize) > uint64(len(payload)-IndexHeaderSize) {
		return nil, fmt.Errorf("%w: index claims %d compressed bytes, have %d", ErrTruncated, compressedSize, len(payload)-IndexHeaderSize)
	}

	maxSize := min(maxFrames*IndexItemSize+8, MaxDecompressedSize)
	raw, err := DecompressAtMost(payload[IndexHeaderSize:IndexHeaderSize+int(compressedSize)], maxSize)
	if err != nil {
		return nil, fmt.Errorf("unable to decompress the index: %w", err)
	}
	if len(raw) < 8 || (len(raw)-8)%IndexItemSize != 0 {
		return nil, fmt.Errorf("%w: decompressed index has unexpected size %d", ErrInconsistentOffsets, len(raw))
	}

	count := (len(raw) - 8) / IndexItemSize
	result := &IndexChunk{
		Items: make([]IndexItem, 0, count),
	}
	for idx := 0; idx < count; idx++ {
		item := raw[idx*IndexItemSize : (idx+1)*IndexItemSize]
		sizeAndFlag := binary.LittleEndian.Uint32(item[0:4])
		result.Items = append(result.Items, IndexItem{
			Size:           sizeAndFlag &^ indexKeyframeFlag,
			IsKeyframe:     sizeAndFlag&indexKeyframeFlag != 0,
			StartTimestamp: time.Duration(int64(binary.LittleEndian.Uint64(item[4:12]))),
		})
	}
	result.EndTimestamp = time.Duration(int64(binary.LittleEndian.Uint64(raw[len(raw)-8:])))
	return result, nil
}

// EncodeIndexItem is the inverse of the per-item decoding in ParseIndexChunk.
func EncodeIndexItem(dst []byte, item IndexItem) []byte {
	sizeAndFlag := item.Size &^ indexKeyframeFlag
	if item.IsKeyframe {
		sizeAndFlag |= indexKeyframeFlag
	}
	dst = binary.LittleEndian.AppendUint32(dst, sizeAndFlag)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(item.StartTimestamp.Nanoseconds()))
	return dst
}
