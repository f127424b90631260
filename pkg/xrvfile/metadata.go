package xrvfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	MetadataVersion = 0
	MetadataSize    = 1 + 6*4
)

// Metadata describes the suggested initial camera placement.
type Metadata struct {
	LookAt [3]float32
	Radius float32
	Yaw    float32
	Pitch  float32
}

func ParseMetadata(payload []byte) (Metadata, error) {
	if len(payload) < MetadataSize {
		return Metadata{}, fmt.Errorf("%w: metadata chunk needs %d bytes, have %d", ErrTruncated, MetadataSize, len(payload))
	}
	if payload[0] != MetadataVersion {
		return Metadata{}, fmt.Errorf("%w: metadata version %d", ErrUnsupportedVersion, payload[0])
	}

	var values [6]float32
	for idx := range values {
		pos := 1 + idx*4
		values[idx] = math.Float32frombits(binary.LittleEndian.Uint32(payload[pos : pos+4]))
	}
	return Metadata{
		LookAt: [3]float32{values[0], values[1], values[2]},
		Radius: values[3],
		Yaw:    values[4],
		Pitch:  values[5],
	}, nil
}
