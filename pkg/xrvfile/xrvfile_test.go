package xrvfile_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile"
	"github.com/xaionaro-go/xrvideo/pkg/xrvfile/xrvfiletest"
)

func TestReadChunk(t *testing.T) {
	b := xrvfiletest.New(time.Second, 10)
	b.WithMetadata = &xrvfile.Metadata{LookAt: [3]float32{1, 2, 3}, Radius: 4, Yaw: 5, Pitch: 6}
	buf := b.MustBuild()

	chunk, err := xrvfile.ReadChunk(buf, 0)
	require.NoError(t, err)
	require.Equal(t, xrvfile.ChunkTypeMetadata, chunk.Type)
	meta, err := xrvfile.ParseMetadata(chunk.Payload)
	require.NoError(t, err)
	assert.Equal(t, *b.WithMetadata, meta)

	chunk, err = xrvfile.ReadChunk(buf, chunk.Offset+chunk.TotalSize())
	require.NoError(t, err)
	require.Equal(t, xrvfile.ChunkTypeIndex, chunk.Type)
	index, err := xrvfile.ParseIndexChunk(chunk.Payload, xrvfile.MaxFrameCount(len(buf)))
	require.NoError(t, err)
	require.Len(t, index.Items, 10)
	assert.True(t, index.Items[0].IsKeyframe)
	assert.False(t, index.Items[1].IsKeyframe)
	assert.Equal(t, 300*time.Millisecond, index.Items[3].StartTimestamp)
	assert.Equal(t, time.Second, index.EndTimestamp)

	chunk, err = xrvfile.ReadChunk(buf, chunk.Offset+chunk.TotalSize())
	require.NoError(t, err)
	require.Equal(t, xrvfile.ChunkTypeFrame, chunk.Type)
	assert.Equal(t, index.Items[0].Size, chunk.Size)
}

func TestReadChunkErrors(t *testing.T) {
	t.Run("truncated_header", func(t *testing.T) {
		_, err := xrvfile.ReadChunk([]byte{1, 0}, 0)
		require.ErrorIs(t, err, xrvfile.ErrTruncated)
	})
	t.Run("truncated_payload", func(t *testing.T) {
		buf := binary.LittleEndian.AppendUint32(nil, 100)
		buf = append(buf, uint8(xrvfile.ChunkTypeFrame), 1, 2, 3)
		_, err := xrvfile.ReadChunk(buf, 0)
		require.ErrorIs(t, err, xrvfile.ErrTruncated)
	})
	t.Run("unknown_type", func(t *testing.T) {
		buf := binary.LittleEndian.AppendUint32(nil, 0)
		buf = append(buf, 42)
		_, err := xrvfile.ReadChunk(buf, 0)
		require.ErrorIs(t, err, xrvfile.ErrUnknownChunkType)
	})
	t.Run("bad_offset", func(t *testing.T) {
		_, err := xrvfile.ReadChunk([]byte{0, 0, 0, 0, 0}, 6)
		require.ErrorIs(t, err, xrvfile.ErrInconsistentOffsets)
	})
}

func TestParseFrame(t *testing.T) {
	b := xrvfiletest.New(time.Second, 10)
	b.WithIndexChunk = false
	b.WithVertexAlpha = true
	b.KeyframeInterval = 5
	buf := b.MustBuild()

	offset := 0
	for idx := 0; idx < b.FrameCount; idx++ {
		chunk, err := xrvfile.ReadChunk(buf, offset)
		require.NoError(t, err)
		offset += chunk.TotalSize()

		frame, err := xrvfile.ParseFrame(chunk.Payload)
		require.NoError(t, err)
		assert.Equal(t, idx%5 == 0, frame.Header.IsKeyframe())
		assert.Equal(t, time.Duration(idx)*100*time.Millisecond, frame.Header.StartTimestamp)
		assert.True(t, frame.Header.HasVertexAlpha())
		assert.NotEmpty(t, frame.VertexAlpha)
		if frame.Header.IsKeyframe() {
			require.NotNil(t, frame.Keyframe)
			assert.Equal(t, b.VertexCount, frame.Keyframe.VertexCount)
			assert.NotEmpty(t, frame.Mesh)
		} else {
			assert.Nil(t, frame.Keyframe)
			assert.Empty(t, frame.Mesh)
		}
	}
	assert.Equal(t, len(buf), offset)
}

func TestParseFrameErrors(t *testing.T) {
	h := xrvfile.FrameHeader{
		Version:                        xrvfile.FrameVersion,
		StartTimestamp:                 time.Second,
		EndTimestamp:                   2 * time.Second,
		CompressedDeformationStateSize: 10,
	}

	t.Run("truncated_section", func(t *testing.T) {
		_, err := xrvfile.ParseFrame(h.Encode(nil))
		require.ErrorIs(t, err, xrvfile.ErrTruncated)
	})
	t.Run("trailing_bytes", func(t *testing.T) {
		payload := h.Encode(nil)
		payload = append(payload, make([]byte, 11)...)
		_, err := xrvfile.ParseFrame(payload)
		require.ErrorIs(t, err, xrvfile.ErrInvalidFrame)
	})
	t.Run("bad_version", func(t *testing.T) {
		h := h
		h.Version = 7
		_, err := xrvfile.ParseFrame(h.Encode(nil))
		require.ErrorIs(t, err, xrvfile.ErrUnsupportedVersion)
	})
	t.Run("reversed_timestamps", func(t *testing.T) {
		h := h
		h.EndTimestamp = 0
		_, err := xrvfile.ParseFrame(h.Encode(nil))
		require.ErrorIs(t, err, xrvfile.ErrInvalidFrame)
	})
	t.Run("too_many_unique_vertices", func(t *testing.T) {
		h := h
		h.Flags = xrvfile.FrameFlagKeyframe
		payload := h.Encode(nil)
		payload = xrvfile.KeyframeHeader{UniqueVertexCount: 5, VertexCount: 4}.Encode(payload)
		_, err := xrvfile.ParseFrame(payload)
		require.ErrorIs(t, err, xrvfile.ErrInvalidFrame)
	})
}

func TestMeshDataSize(t *testing.T) {
	h := xrvfile.KeyframeHeader{
		UniqueVertexCount:        3,
		VertexCount:              4,
		TriangleCount:            2,
		EncodedVertexWeightsSize: 7,
	}
	assert.Equal(t, 3*6+1*2+4*4+6*2+7, h.MeshDataSize())
}

func TestDecompressSizeMismatch(t *testing.T) {
	b := xrvfiletest.New(time.Second, 10)
	buf := b.MustBuild()
	chunk, err := xrvfile.ReadChunk(buf, 0)
	require.NoError(t, err)
	require.Equal(t, xrvfile.ChunkTypeIndex, chunk.Type)

	_, err = xrvfile.Decompress(chunk.Payload[xrvfile.IndexHeaderSize:], 1)
	require.ErrorIs(t, err, xrvfile.ErrDecompression)
	_, err = xrvfile.Decompress([]byte("not zstd"), -1)
	require.ErrorIs(t, err, xrvfile.ErrDecompression)
}

func TestDecompressionLimits(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	bomb := enc.EncodeAll(make([]byte, 1<<20), nil)

	out, err := xrvfile.DecompressAtMost(bomb, 1<<20)
	require.NoError(t, err)
	assert.Len(t, out, 1<<20)

	_, err = xrvfile.DecompressAtMost(bomb, 1<<20-1)
	require.ErrorIs(t, err, xrvfile.ErrDecompression)
	_, err = xrvfile.Decompress(bomb, 1024)
	require.ErrorIs(t, err, xrvfile.ErrDecompression)
	_, err = xrvfile.Decompress(bomb, xrvfile.MaxDecompressedSize+1)
	require.ErrorIs(t, err, xrvfile.ErrDecompression)

	// an index claiming far more frames than the container can hold
	payload := []byte{xrvfile.IndexVersion}
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(bomb)))
	payload = append(payload, bomb...)
	_, err = xrvfile.ParseIndexChunk(payload, 10)
	require.ErrorIs(t, err, xrvfile.ErrDecompression)
}
