// Package xrvfiletest builds synthetic containers for tests.
package xrvfiletest

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile"
)

type Builder struct {
	FrameCount        int
	FrameDuration     time.Duration
	KeyframeInterval  int
	WithIndexChunk    bool
	WithMetadata      *xrvfile.Metadata
	WithVertexAlpha   bool
	WithZstdTexture   bool
	UniqueVertexCount uint16
	VertexCount       uint16
	TriangleCount     uint32
	NodeCount         uint16
	TextureWidth      uint32
	TextureHeight     uint32
}

// New returns a builder for a video of the given length at the given
// frame rate, keyframe every 30 frames, with an index chunk.
func New(length time.Duration, fps int) *Builder {
	frameDuration := time.Second / time.Duration(fps)
	return &Builder{
		FrameCount:        int(length / frameDuration),
		FrameDuration:     frameDuration,
		KeyframeInterval:  30,
		WithIndexChunk:    true,
		WithZstdTexture:   true,
		UniqueVertexCount: 3,
		VertexCount:       4,
		TriangleCount:     2,
		NodeCount:         2,
		TextureWidth:      2,
		TextureHeight:     2,
	}
}

func (b *Builder) MustBuild() []byte {
	out, err := b.Build()
	if err != nil {
		panic(err)
	}
	return out
}

func (b *Builder) Build() ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the zstd encoder: %w", err)
	}
	defer enc.Close()

	var out []byte
	if b.WithMetadata != nil {
		payload := []byte{xrvfile.MetadataVersion}
		for _, v := range []float32{
			b.WithMetadata.LookAt[0], b.WithMetadata.LookAt[1], b.WithMetadata.LookAt[2],
			b.WithMetadata.Radius, b.WithMetadata.Yaw, b.WithMetadata.Pitch,
		} {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(v))
		}
		out = appendChunk(out, xrvfile.ChunkTypeMetadata, payload)
	}

	frames := make([][]byte, 0, b.FrameCount)
	var items []byte
	for idx := 0; idx < b.FrameCount; idx++ {
		isKeyframe := b.KeyframeInterval <= 1 || idx%b.KeyframeInterval == 0
		frame := b.buildFrame(enc, idx, isKeyframe)
		frames = append(frames, frame)
		items = xrvfile.EncodeIndexItem(items, xrvfile.IndexItem{
			Size:           uint32(len(frame)),
			IsKeyframe:     isKeyframe,
			StartTimestamp: time.Duration(idx) * b.FrameDuration,
		})
	}
	items = binary.LittleEndian.AppendUint64(items, uint64(b.EndTimestamp().Nanoseconds()))

	if b.WithIndexChunk {
		compressed := enc.EncodeAll(items, nil)
		payload := []byte{xrvfile.IndexVersion}
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(compressed)))
		payload = append(payload, compressed...)
		out = appendChunk(out, xrvfile.ChunkTypeIndex, payload)
	}
	for _, frame := range frames {
		out = appendChunk(out, xrvfile.ChunkTypeFrame, frame)
	}
	return out, nil
}

// EndTimestamp is the end of the last frame.
func (b *Builder) EndTimestamp() time.Duration {
	return time.Duration(b.FrameCount) * b.FrameDuration
}

func (b *Builder) buildFrame(
	enc *zstd.Encoder,
	idx int,
	isKeyframe bool,
) []byte {
	h := xrvfile.FrameHeader{
		Version:              xrvfile.FrameVersion,
		DeformationNodeCount: b.NodeCount,
		StartTimestamp:       time.Duration(idx) * b.FrameDuration,
		EndTimestamp:         time.Duration(idx+1) * b.FrameDuration,
		TextureWidth:         b.TextureWidth,
		TextureHeight:        b.TextureHeight,
	}
	if isKeyframe {
		h.Flags |= xrvfile.FrameFlagKeyframe
	}
	if b.WithVertexAlpha {
		h.Flags |= xrvfile.FrameFlagVertexAlpha
	}

	var mesh []byte
	var kh xrvfile.KeyframeHeader
	if isKeyframe {
		kh = xrvfile.KeyframeHeader{
			UniqueVertexCount: b.UniqueVertexCount,
			VertexCount:       b.VertexCount,
			TriangleCount:     b.TriangleCount,
			BBoxMin:           [3]float32{-1, -1, -1},
			BBoxMax:           [3]float32{1, 1, 1},
		}
		mesh = enc.EncodeAll(b.meshData(idx), nil)
		kh.CompressedMeshSize = uint32(len(mesh))
	}

	deformation := make([]byte, 0, int(b.NodeCount)*12*2)
	for node := 0; node < int(b.NodeCount); node++ {
		for coeff := 0; coeff < 12; coeff++ {
			v := float16.Fromfloat32(float32(idx%10) / 100)
			deformation = binary.LittleEndian.AppendUint16(deformation, v.Bits())
		}
	}
	deformationCompressed := enc.EncodeAll(deformation, nil)
	h.CompressedDeformationStateSize = uint32(len(deformationCompressed))

	var texture []byte
	if b.WithZstdTexture {
		h.Flags |= xrvfile.FrameFlagZstdRGBTexture
		rgb := make([]byte, int(b.TextureWidth*b.TextureHeight)*3)
		for i := range rgb {
			rgb[i] = byte(idx + i)
		}
		texture = enc.EncodeAll(rgb, nil)
	} else {
		// opaque stand-in for an AV1 bitstream
		texture = []byte{0x12, 0x00, 0x0a, byte(idx)}
	}
	h.CompressedRGBSize = uint32(len(texture))

	frame := h.Encode(nil)
	if isKeyframe {
		frame = kh.Encode(frame)
		frame = append(frame, mesh...)
	}
	frame = append(frame, deformationCompressed...)
	frame = append(frame, texture...)
	if b.WithVertexAlpha {
		alpha := make([]byte, b.VertexCount)
		for i := range alpha {
			alpha[i] = 0xff
		}
		frame = append(frame, enc.EncodeAll(alpha, nil)...)
	}
	return frame
}

func (b *Builder) meshData(idx int) []byte {
	unique := int(b.UniqueVertexCount)
	vertices := int(b.VertexCount)

	var out []byte
	for v := 0; v < unique; v++ {
		for axis := 0; axis < 3; axis++ {
			out = binary.LittleEndian.AppendUint16(out, uint16(idx+v*3+axis))
		}
	}
	for v := unique; v < vertices; v++ {
		out = binary.LittleEndian.AppendUint16(out, uint16(v%unique))
	}
	for v := 0; v < vertices; v++ {
		out = binary.LittleEndian.AppendUint16(out, uint16(v*100))
		out = binary.LittleEndian.AppendUint16(out, uint16(v*200))
	}
	for tri := 0; tri < int(b.TriangleCount); tri++ {
		for corner := 0; corner < 3; corner++ {
			out = binary.LittleEndian.AppendUint16(out, uint16((tri+corner)%vertices))
		}
	}
	return out
}

func appendChunk(dst []byte, t xrvfile.ChunkType, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, uint8(t))
	return append(dst, payload...)
}
