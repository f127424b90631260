package xrvdecode

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/x448/float16"
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile"
)

// Decoder decodes the payload of a frame chunk.
type Decoder interface {
	Decode(ctx context.Context, payload []byte) (*Frame, error)
}

type ZstdDecoder struct{}

var _ Decoder = ZstdDecoder{}

func (ZstdDecoder) Decode(
	ctx context.Context,
	payload []byte,
) (*Frame, error) {
	return Decode(ctx, payload)
}

func Decode(
	ctx context.Context,
	payload []byte,
) (*Frame, error) {
	raw, err := xrvfile.ParseFrame(payload)
	if err != nil {
		return nil, err
	}
	logger.Tracef(ctx, "Decode: frame at %v, flags %08b", raw.Header.StartTimestamp, raw.Header.Flags)

	f := &Frame{Header: raw.Header}
	if raw.Keyframe != nil {
		f.Mesh, err = decodeMesh(*raw.Keyframe, raw.Mesh)
		if err != nil {
			return nil, fmt.Errorf("unable to decode the mesh: %w", err)
		}
	}

	f.DeformationState, err = decodeDeformationState(int(raw.Header.DeformationNodeCount), raw.DeformationState)
	if err != nil {
		return nil, fmt.Errorf("unable to decode the deformation state: %w", err)
	}

	f.Texture = Texture{
		Width:  raw.Header.TextureWidth,
		Height: raw.Header.TextureHeight,
	}
	if raw.Header.HasZstdRGBTexture() {
		f.Texture.Format = TextureFormatRGB
		textureSize := uint64(raw.Header.TextureWidth) * uint64(raw.Header.TextureHeight) * 3
		if textureSize > xrvfile.MaxDecompressedSize {
			return nil, fmt.Errorf("%w: a %dx%d texture is too large", xrvfile.ErrInvalidFrame, raw.Header.TextureWidth, raw.Header.TextureHeight)
		}
		f.Texture.Data, err = xrvfile.Decompress(raw.Texture, int(textureSize))
		if err != nil {
			return nil, fmt.Errorf("unable to decompress the RGB texture: %w", err)
		}
	} else {
		f.Texture.Format = TextureFormatAV1
		f.Texture.Data = raw.Texture
	}

	if raw.Header.HasVertexAlpha() {
		f.VertexAlpha, err = xrvfile.Decompress(raw.VertexAlpha, -1)
		if err != nil {
			return nil, fmt.Errorf("unable to decompress the vertex alpha: %w", err)
		}
	}
	return f, nil
}

func decodeMesh(
	h xrvfile.KeyframeHeader,
	compressed []byte,
) (*Mesh, error) {
	data, err := xrvfile.Decompress(compressed, h.MeshDataSize())
	if err != nil {
		return nil, err
	}

	unique := int(h.UniqueVertexCount)
	vertexCount := int(h.VertexCount)
	indexCount := int(h.TriangleCount) * 3

	pos := 0
	next := func() uint16 {
		v := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		return v
	}

	m := &Mesh{
		BBoxMin:           h.BBoxMin,
		BBoxMax:           h.BBoxMax,
		Vertices:          make([]Vertex, vertexCount),
		Indices:           make([]uint16, indexCount),
		UniqueVertexCount: unique,
	}
	for i := 0; i < unique; i++ {
		m.Vertices[i].Position = [3]uint16{next(), next(), next()}
	}
	for i := unique; i < vertexCount; i++ {
		src := int(next())
		if src >= unique {
			return nil, fmt.Errorf("%w: vertex %d duplicates vertex %d which is not unique (%d unique vertices)", xrvfile.ErrInvalidFrame, i, src, unique)
		}
		m.Vertices[i].Position = m.Vertices[src].Position
	}
	for i := 0; i < vertexCount; i++ {
		m.Vertices[i].TexCoord = [2]uint16{next(), next()}
	}
	for i := 0; i < indexCount; i++ {
		idx := next()
		if int(idx) >= vertexCount {
			return nil, fmt.Errorf("%w: index %d refers to vertex %d of %d", xrvfile.ErrInvalidFrame, i, idx, vertexCount)
		}
		m.Indices[i] = idx
	}
	m.EncodedVertexWeights = data[pos:]
	return m, nil
}

// decodeDeformationState converts the half-float deltas to per-node affine
// transforms; the deltas are stored relative to the identity.
func decodeDeformationState(
	nodeCount int,
	compressed []byte,
) ([]float32, error) {
	valueCount := nodeCount * DeformationCoefficientsPerNode
	data, err := xrvfile.Decompress(compressed, valueCount*2)
	if err != nil {
		return nil, err
	}

	result := make([]float32, valueCount)
	for i := range result {
		result[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
		switch i % DeformationCoefficientsPerNode {
		case 0, 4, 8:
			result[i]++
		}
	}
	return result, nil
}
