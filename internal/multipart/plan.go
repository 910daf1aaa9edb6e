package multipart

import (
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Plan splits size bytes into contiguous parts numbered from 1.
//
// The part size is the desired size clamped to the limits and raised so the
// file fits in MaxParts parts. The last part may be smaller than the others but
// never smaller than MinPartSize unless it is the only part.
func Plan(size, desired int64, limits uploadtypes.ChunkLimits) ([]uploadtypes.Part, error) {
	limits = withDefaultLimits(limits)

	if size <= 0 {
		return nil, errors.Invalid("plan", "size must be positive, got %d", size)
	}

	partSize := desired
	if partSize < limits.MinPartSize {
		partSize = limits.MinPartSize
	}
	if partSize > limits.MaxPartSize {
		partSize = limits.MaxPartSize
	}
	if minForCount := ceilDiv(size, int64(limits.MaxParts)); partSize < minForCount {
		partSize = minForCount
	}
	if partSize > limits.MaxPartSize {
		return nil, errors.Invalid("plan", "size %d exceeds %d parts of at most %d bytes",
			size, limits.MaxParts, limits.MaxPartSize)
	}

	count := ceilDiv(size, partSize)
	parts := make([]uploadtypes.Part, 0, count)
	for offset := int64(0); offset < size; offset += partSize {
		parts = append(parts, uploadtypes.Part{
			Number: int32(len(parts) + 1),
			Offset: offset,
			Size:   min(partSize, size-offset),
		})
	}

	n := len(parts)
	if n > 1 && parts[n-1].Size < limits.MinPartSize {
		prev, tail := &parts[n-2], &parts[n-1]
		if prev.Size+tail.Size <= limits.MaxPartSize {
			prev.Size += tail.Size
			parts = parts[:n-1]
		} else {
			// move bytes from the previous part so the tail reaches the minimum
			shift := limits.MinPartSize - tail.Size
			prev.Size -= shift
			tail.Offset -= shift
			tail.Size += shift
		}
	}

	return parts, nil
}

func withDefaultLimits(l uploadtypes.ChunkLimits) uploadtypes.ChunkLimits {
	def := uploadtypes.DefaultChunkLimits()
	if l.MinPartSize <= 0 {
		l.MinPartSize = def.MinPartSize
	}
	if l.MaxPartSize <= 0 {
		l.MaxPartSize = def.MaxPartSize
	}
	if l.MaxParts <= 0 {
		l.MaxParts = def.MaxParts
	}
	if l.MaxPartSize < l.MinPartSize {
		l.MaxPartSize = l.MinPartSize
	}
	return l
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
