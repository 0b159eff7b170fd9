package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// sizeRe matches spec.md §6: ^([0-9]+)(k|kb|m|mb|g|gb|t|tb)?$, case
// insensitive.
var sizeRe = regexp.MustCompile(`(?i)^([0-9]+)(kb|k|mb|m|gb|g|tb|t)?$`)

// ParseSize parses a size string (e.g. "1G", "100M", "4k") to bytes,
// using binary multipliers (1 KiB = 1024 B), per spec.md §6 and
// original_source/src/config/cli_convert.rs.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("config: invalid size format %q", s)
	}
	num, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid size format %q: %w", s, err)
	}

	var multiplier uint64 = 1
	switch strings.ToLower(m[2]) {
	case "k", "kb":
		multiplier = 1024
	case "m", "mb":
		multiplier = 1024 * 1024
	case "g", "gb":
		multiplier = 1024 * 1024 * 1024
	case "t", "tb":
		multiplier = 1024 * 1024 * 1024 * 1024
	}
	return num * multiplier, nil
}

// durationRe matches spec.md §6:
// ^([0-9]+)(us|ms|s|m|sec|min|h|hr)?$, case insensitive. Ordering of
// alternatives matters: longer suffixes must be tried first so "ms"
// isn't swallowed by "m".
var durationRe = regexp.MustCompile(`(?i)^([0-9]+)(us|ms|sec|min|hr|s|m|h)?$`)

// ParseDuration parses a duration string (e.g. "60s", "5m", "1h") to
// whole seconds. An absent unit means seconds.
func ParseDuration(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("config: invalid duration format %q", s)
	}
	num, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration format %q: %w", s, err)
	}

	var multiplier uint64 = 1
	switch strings.ToLower(m[2]) {
	case "m", "min":
		multiplier = 60
	case "h", "hr":
		multiplier = 3600
	case "us", "ms":
		return 0, fmt.Errorf("config: duration %q has a sub-second unit, use ParseTimeMicros for think-time values", s)
	}
	return num * multiplier, nil
}

// ParseTimeMicros parses a time string (e.g. "100us", "1ms", "10s")
// to microseconds, used for think-time contexts where an absent unit
// means microseconds.
func ParseTimeMicros(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("config: invalid time format %q", s)
	}
	num, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid time format %q: %w", s, err)
	}

	var multiplier uint64 = 1
	switch strings.ToLower(m[2]) {
	case "ms":
		multiplier = 1000
	case "s", "sec":
		multiplier = 1_000_000
	case "m", "min":
		multiplier = 60 * 1_000_000
	case "h", "hr":
		multiplier = 3600 * 1_000_000
	}
	return num * multiplier, nil
}
