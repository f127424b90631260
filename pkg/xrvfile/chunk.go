package xrvfile

import (
	"encoding/binary"
	"fmt"
)

const ChunkHeaderSize = 5

type ChunkType uint8

const (
	ChunkTypeFrame    = ChunkType(0)
	ChunkTypeMetadata = ChunkType(1)
	ChunkTypeIndex    = ChunkType(2)
)

func (t ChunkType) String() string {
	switch t {
	case ChunkTypeFrame:
		return "frame"
	case ChunkTypeMetadata:
		return "metadata"
	case ChunkTypeIndex:
		return "index"
	default:
		return fmt.Sprintf("unknown_chunk_type_%d", uint8(t))
	}
}

func (t ChunkType) IsValid() bool {
	return t <= ChunkTypeIndex
}

// ChunkHeader precedes every chunk; Size does not include the header itself.
type ChunkHeader struct {
	Size uint32
	Type ChunkType
}

type Chunk struct {
	ChunkHeader

	// Offset is the position of the chunk header within the container.
	Offset  int
	Payload []byte
}

// TotalSize is the size of the chunk including its header.
func (c Chunk) TotalSize() int {
	return ChunkHeaderSize + int(c.Size)
}

func ParseChunkHeader(b []byte) (ChunkHeader, error) {
	if len(b) < ChunkHeaderSize {
		return ChunkHeader{}, fmt.Errorf("%w: chunk header needs %d bytes, have %d", ErrTruncated, ChunkHeaderSize, len(b))
	}
	h := ChunkHeader{
		Size: binary.LittleEndian.Uint32(b[0:4]),
		Type: ChunkType(b[4]),
	}
	if !h.Type.IsValid() {
		return ChunkHeader{}, fmt.Errorf("%w: %s", ErrUnknownChunkType, h.Type)
	}
	return h, nil
}

// ReadChunk reads the chunk starting at the given offset of buf.
func ReadChunk(buf []byte, offset int) (Chunk, error) {
	if offset < 0 || offset > len(buf) {
		return Chunk{}, fmt.Errorf("%w: offset %d is outside of the buffer of size %d", ErrInconsistentOffsets, offset, len(buf))
	}
	h, err := ParseChunkHeader(buf[offset:])
	if err != nil {
		return Chunk{}, fmt.Errorf("unable to parse the chunk header at offset %d: %w", offset, err)
	}
	payloadStart := offset + ChunkHeaderSize
	payloadEnd := payloadStart + int(h.Size)
	if payloadEnd > len(buf) || payloadEnd < payloadStart {
		return Chunk{}, fmt.Errorf("%w: %s chunk at offset %d claims %d bytes, but only %d are left", ErrTruncated, h.Type, offset, h.Size, len(buf)-payloadStart)
	}
	return Chunk{
		ChunkHeader: h,
		Offset:      offset,
		Payload:     buf[payloadStart:payloadEnd:payloadEnd],
	}, nil
}
