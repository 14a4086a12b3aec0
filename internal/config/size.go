package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	kibibyte = 1 << 10
	mebibyte = 1 << 20
)

// sizeUnits maps suffixes to multipliers. IEC suffixes come first so that
// "KiB" is not read as a number ending in "B". Matching is case-insensitive.
var sizeUnits = []struct {
	suffix string
	mult   float64
}{
	{"TIB", 1 << 40}, {"GIB", 1 << 30}, {"MIB", mebibyte}, {"KIB", kibibyte},
	{"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
	{"B", 1},
}

// ParseSize converts "8MiB", "1.5GB" or a bare byte count to bytes.
// Empty string and "0" return 0.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	num, mult := s, 1.0

	upper := strings.ToUpper(s)
	for _, u := range sizeUnits {
		if strings.HasSuffix(upper, u.suffix) {
			num, mult = strings.TrimSpace(s[:len(s)-len(u.suffix)]), u.mult
			break
		}
	}

	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	bytes := n * mult
	if bytes > math.MaxInt64 || math.IsInf(bytes, 0) || math.IsNaN(bytes) {
		return 0, fmt.Errorf("invalid size %q: out of range", s)
	}

	return int64(bytes), nil
}

// ParseRate parses a bandwidth limit such as "5MB/s" or "100KiB/s" into
// bytes per second. The "/s" suffix is optional. "0" means unlimited.
func ParseRate(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasSuffix(strings.ToLower(trimmed), "/s") {
		trimmed = trimmed[:len(trimmed)-2]
	}

	n, err := ParseSize(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth rate %q: %w", s, err)
	}

	return n, nil
}
