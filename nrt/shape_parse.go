package nrt

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseShape parses a comma-separated shape string (for example: "1,128").
func ParseShape(raw string) ([]uint32, error) {
	parts := strings.Split(raw, ",")
	shape := make([]uint32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty dimension")
		}

		dim, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dimension %q: %w", part, err)
		}
		if dim < 0 {
			return nil, fmt.Errorf("negative dimension %d", dim)
		}
		if dim > 1<<32-1 {
			return nil, fmt.Errorf("dimension %d overflows uint32", dim)
		}
		shape = append(shape, uint32(dim))
	}

	return shape, nil
}

// FormatShape renders shape as a comma-separated string, the inverse of ParseShape.
func FormatShape(shape []uint32) string {
	parts := make([]string, len(shape))
	for i, dim := range shape {
		parts[i] = strconv.FormatUint(uint64(dim), 10)
	}
	return strings.Join(parts, ",")
}
