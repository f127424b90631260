// Package xrvdecode turns frame chunks into render-ready frame data.
package xrvdecode

import (
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile"
)

// DeformationCoefficientsPerNode is the size of a node's affine transform:
// a 3x3 linear part followed by the translation.
const DeformationCoefficientsPerNode = 12

type TextureFormat int

const (
	TextureFormatUndefined = TextureFormat(iota)
	TextureFormatRGB
	TextureFormatAV1
)

func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGB:
		return "rgb"
	case TextureFormatAV1:
		return "av1"
	default:
		return "undefined"
	}
}

type Texture struct {
	Width  uint32
	Height uint32
	Format TextureFormat

	// Data is either RGB8 pixels or an AV1 bitstream to be decoded by the
	// renderer.
	Data []byte
}

type Vertex struct {
	Position [3]uint16
	TexCoord [2]uint16
}

type Mesh struct {
	BBoxMin  [3]float32
	BBoxMax  [3]float32
	Vertices []Vertex
	Indices  []uint16

	// UniqueVertexCount is the number of vertices with their own position;
	// the rest duplicate a unique vertex with different texture coordinates.
	UniqueVertexCount int

	// EncodedVertexWeights are passed to the renderer as is.
	EncodedVertexWeights []byte
}

// Frame is a fully decoded frame. Mesh is only set on keyframes.
type Frame struct {
	Header           xrvfile.FrameHeader
	Mesh             *Mesh
	DeformationState []float32
	Texture          Texture
	VertexAlpha      []byte
}

func (f *Frame) IsKeyframe() bool {
	return f.Header.IsKeyframe()
}

// Size is the approximate amount of memory held by the frame.
func (f *Frame) Size() int {
	size := len(f.DeformationState)*4 + len(f.Texture.Data) + len(f.VertexAlpha)
	if f.Mesh != nil {
		size += len(f.Mesh.Vertices)*10 + len(f.Mesh.Indices)*2 + len(f.Mesh.EncodedVertexWeights)
	}
	return size
}
