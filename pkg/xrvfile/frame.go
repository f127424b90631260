package xrvfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	FrameVersion       = 0
	FrameHeaderSize    = 36
	KeyframeHeaderSize = 40
)

type FrameFlags uint8

const (
	FrameFlagKeyframe       = FrameFlags(1)
	FrameFlagVertexAlpha    = FrameFlags(2)
	FrameFlagZstdRGBTexture = FrameFlags(4)
)

func (f FrameFlags) Has(flag FrameFlags) bool {
	return f&flag == flag
}

type FrameHeader struct {
	Version                        uint8
	Flags                          FrameFlags
	DeformationNodeCount           uint16
	StartTimestamp                 time.Duration
	EndTimestamp                   time.Duration
	TextureWidth                   uint32
	TextureHeight                  uint32
	CompressedDeformationStateSize uint32
	CompressedRGBSize              uint32
}

func (h FrameHeader) IsKeyframe() bool {
	return h.Flags.Has(FrameFlagKeyframe)
}

func (h FrameHeader) HasVertexAlpha() bool {
	return h.Flags.Has(FrameFlagVertexAlpha)
}

func (h FrameHeader) HasZstdRGBTexture() bool {
	return h.Flags.Has(FrameFlagZstdRGBTexture)
}

func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("%w: frame header needs %d bytes, have %d", ErrTruncated, FrameHeaderSize, len(b))
	}
	h := FrameHeader{
		Version:                        b[0],
		Flags:                          FrameFlags(b[1]),
		DeformationNodeCount:           binary.LittleEndian.Uint16(b[2:4]),
		StartTimestamp:                 time.Duration(int64(binary.LittleEndian.Uint64(b[4:12]))),
		EndTimestamp:                   time.Duration(int64(binary.LittleEndian.Uint64(b[12:20]))),
		TextureWidth:                   binary.LittleEndian.Uint32(b[20:24]),
		TextureHeight:                  binary.LittleEndian.Uint32(b[24:28]),
		CompressedDeformationStateSize: binary.LittleEndian.Uint32(b[28:32]),
		CompressedRGBSize:              binary.LittleEndian.Uint32(b[32:36]),
	}
	if h.Version != FrameVersion {
		return FrameHeader{}, fmt.Errorf("%w: frame version %d", ErrUnsupportedVersion, h.Version)
	}
	if h.EndTimestamp < h.StartTimestamp {
		return FrameHeader{}, fmt.Errorf("%w: frame ends (%v) before it starts (%v)", ErrInvalidFrame, h.EndTimestamp, h.StartTimestamp)
	}
	return h, nil
}

func (h FrameHeader) Encode(dst []byte) []byte {
	dst = append(dst, h.Version, uint8(h.Flags))
	dst = binary.LittleEndian.AppendUint16(dst, h.DeformationNodeCount)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.StartTimestamp.Nanoseconds()))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.EndTimestamp.Nanoseconds()))
	dst = binary.LittleEndian.AppendUint32(dst, h.TextureWidth)
	dst = binary.LittleEndian.AppendUint32(dst, h.TextureHeight)
	dst = binary.LittleEndian.AppendUint32(dst, h.CompressedDeformationStateSize)
	dst = binary.LittleEndian.AppendUint32(dst, h.CompressedRGBSize)
	return dst
}

type KeyframeHeader struct {
	UniqueVertexCount        uint16
	VertexCount              uint16
	TriangleCount            uint32
	BBoxMin                  [3]float32
	BBoxMax                  [3]float32
	CompressedMeshSize       uint32
	EncodedVertexWeightsSize uint32
}

func ParseKeyframeHeader(b []byte) (KeyframeHeader, error) {
	if len(b) < KeyframeHeaderSize {
		return KeyframeHeader{}, fmt.Errorf("%w: keyframe header needs %d bytes, have %d", ErrTruncated, KeyframeHeaderSize, len(b))
	}
	h := KeyframeHeader{
		UniqueVertexCount: binary.LittleEndian.Uint16(b[0:2]),
		VertexCount:       binary.LittleEndian.Uint16(b[2:4]),
		TriangleCount:     binary.LittleEndian.Uint32(b[4:8]),
	}
	for idx := 0; idx < 3; idx++ {
		h.BBoxMin[idx] = math.Float32frombits(binary.LittleEndian.Uint32(b[8+idx*4:]))
		h.BBoxMax[idx] = math.Float32frombits(binary.LittleEndian.Uint32(b[20+idx*4:]))
	}
	h.CompressedMeshSize = binary.LittleEndian.Uint32(b[32:36])
	h.EncodedVertexWeightsSize = binary.LittleEndian.Uint32(b[36:40])
	if h.UniqueVertexCount > h.VertexCount {
		return KeyframeHeader{}, fmt.Errorf("%w: unique vertex count %d exceeds the vertex count %d", ErrInvalidFrame, h.UniqueVertexCount, h.VertexCount)
	}
	return h, nil
}

func (h KeyframeHeader) Encode(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, h.UniqueVertexCount)
	dst = binary.LittleEndian.AppendUint16(dst, h.VertexCount)
	dst = binary.LittleEndian.AppendUint32(dst, h.TriangleCount)
	for _, v := range h.BBoxMin {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	for _, v := range h.BBoxMax {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	dst = binary.LittleEndian.AppendUint32(dst, h.CompressedMeshSize)
	dst = binary.LittleEndian.AppendUint32(dst, h.EncodedVertexWeightsSize)
	return dst
}

// MeshDataSize is the size of the decompressed keyframe mesh blob.
func (h KeyframeHeader) MeshDataSize() int {
	unique := int(h.UniqueVertexCount)
	vertices := int(h.VertexCount)
	return unique*3*2 +
		(vertices-unique)*2 +
		vertices*2*2 +
		int(h.TriangleCount)*3*2 +
		int(h.EncodedVertexWeightsSize)
}

// Frame is a frame chunk split into its sections. The sections are still
// compressed and alias the container buffer.
type Frame struct {
	Header           FrameHeader
	Keyframe         *KeyframeHeader
	Mesh             []byte
	DeformationState []byte
	Texture          []byte
	VertexAlpha      []byte
}

func ParseFrame(payload []byte) (*Frame, error) {
	h, err := ParseFrameHeader(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to parse the frame header: %w", err)
	}
	f := &Frame{Header: h}
	rest := payload[FrameHeaderSize:]

	take := func(what string, size uint32) ([]byte, error) {
		if uint64(size) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncated, what, size, len(rest))
		}
		b := rest[:size:size]
		rest = rest[size:]
		return b, nil
	}

	if h.IsKeyframe() {
		kh, err := ParseKeyframeHeader(rest)
		if err != nil {
			return nil, fmt.Errorf("unable to parse the keyframe header: %w", err)
		}
		f.Keyframe = &kh
		rest = rest[KeyframeHeaderSize:]
		if f.Mesh, err = take("mesh", kh.CompressedMeshSize); err != nil {
			return nil, err
		}
	}
	if f.DeformationState, err = take("deformation state", h.CompressedDeformationStateSize); err != nil {
		return nil, err
	}
	if f.Texture, err = take("texture", h.CompressedRGBSize); err != nil {
		return nil, err
	}
	if h.HasVertexAlpha() {
		f.VertexAlpha = rest
	} else if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidFrame, len(rest))
	}
	return f, nil
}
