package xrvfile

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// MaxDecompressedSize bounds every single zstd block of a container.
const MaxDecompressedSize = 256 << 20

// DecodeAll on a nil-reader decoder is safe for concurrent use.
var zstdDecoder = func() *zstd.Decoder {
	d, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(MaxDecompressedSize),
	)
	if err != nil {
		panic(fmt.Errorf("unable to initialize the zstd decoder: %w", err))
	}
	return d
}()

// Decompress decompresses a zstd frame. If expectedSize is non-negative,
// the result is required to be exactly that long; otherwise it may be up
// to MaxDecompressedSize long.
func Decompress(src []byte, expectedSize int) ([]byte, error) {
	if expectedSize < 0 {
		return DecompressAtMost(src, MaxDecompressedSize)
	}
	out, err := DecompressAtMost(src, expectedSize)
	if err != nil {
		return nil, err
	}
	if len(out) != expectedSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrDecompression, expectedSize, len(out))
	}
	return out, nil
}

// DecompressAtMost decompresses a zstd frame that is not allowed to grow
// beyond maxSize bytes. A frame declaring a larger content size is
// rejected before anything is allocated.
func DecompressAtMost(src []byte, maxSize int) ([]byte, error) {
	if maxSize > MaxDecompressedSize {
		return nil, fmt.Errorf("%w: %d bytes exceed the limit of %d", ErrDecompression, maxSize, MaxDecompressedSize)
	}

	var dst []byte
	var h zstd.Header
	if err := h.Decode(src); err == nil && h.HasFCS {
		if h.FrameContentSize > uint64(maxSize) {
			return nil, fmt.Errorf("%w: the data declares %d bytes, at most %d are allowed", ErrDecompression, h.FrameContentSize, maxSize)
		}
		dst = make([]byte, 0, h.FrameContentSize)
	}

	out, err := zstdDecoder.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	if len(out) > maxSize {
		return nil, fmt.Errorf("%w: got %d bytes, at most %d are allowed", ErrDecompression, len(out), maxSize)
	}
	return out, nil
}
