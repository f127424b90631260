package xrvfile

import (
	"errors"
)

var (
	ErrTruncated           = errors.New("truncated data")
	ErrUnknownChunkType    = errors.New("unknown chunk type")
	ErrUnsupportedVersion  = errors.New("unsupported version")
	ErrInconsistentOffsets = errors.New("inconsistent offsets")
	ErrInvalidFrame        = errors.New("invalid frame")
	ErrDecompression       = errors.New("decompression failed")
	ErrIndexMismatch       = errors.New("the index does not match the frames")
)
